package backend

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lyhniupi1/flexgate"
	"github.com/lyhniupi1/flexgate/internal/dispatcher"
	"github.com/lyhniupi1/flexgate/protocol"
)

// MaxMessageBytes caps the size of a request body.
const MaxMessageBytes = 1 << 20

const codeSystemError = "SYSTEM_ERROR"

type processHandler struct {
	reg    *dispatcher.Registry
	routes *flexgate.RouteTable
}

// NewHandler serves POST|GET /<mount>/<process>.json. A process is only
// reachable under the mount the route table assigns to it.
func NewHandler(reg *dispatcher.Registry, routes *flexgate.RouteTable) http.Handler {
	if routes == nil {
		routes = flexgate.DefaultRoutes
	}
	h := &processHandler{reg: reg, routes: routes}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/{mount}/{process:[^/]+}.json", h.serveProcess).Methods(http.MethodPost, http.MethodGet)
	return r
}

func (h *processHandler) serveProcess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mount, process := vars["mount"], vars["process"]

	if h.routes.Mount(process) != mount {
		http.NotFound(w, r)
		return
	}
	if _, ok := h.reg.Lookup(process); !ok {
		http.NotFound(w, r)
		return
	}

	env, err := readEnvelope(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := h.reg.Dispatch(r.Context(), process, env)
	var be *protocol.BusinessError
	switch {
	case errors.As(err, &be):
		writeResponse(w, http.StatusOK, protocol.Failure(be.Code, be.Message))
	case err != nil:
		log.Printf("process %s error: %v", process, err)
		writeResponse(w, http.StatusInternalServerError, protocol.Failure(codeSystemError, err.Error()))
	default:
		writeResponse(w, http.StatusOK, protocol.Success(out))
	}
}

// readEnvelope takes REQ_MESSAGE from the POST body, or from the query
// string for GET. A GET without one gets an empty envelope.
func readEnvelope(w http.ResponseWriter, r *http.Request) (*protocol.RawEnvelope, error) {
	if r.Method == http.MethodGet {
		if !strings.HasPrefix(r.URL.RawQuery, protocol.MessageField+"=") {
			return &protocol.RawEnvelope{}, nil
		}
		return protocol.DecodeRequestBody(r.URL.RawQuery)
	}

	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageBytes))
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRequestBody(string(b))
}

func writeResponse(w http.ResponseWriter, status int, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	if err := protocol.WriteJSON(w, resp); err != nil {
		log.Printf("write response error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
