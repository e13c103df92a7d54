package flexgate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kinbiko/jsonassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyhniupi1/flexgate/protocol"
)

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   string
}

// recorder answers every request with status/body and keeps what it saw.
type recorder struct {
	mu     sync.Mutex
	seen   []capturedRequest
	status int
	body   string
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.seen = append(rec.seen, capturedRequest{
		method: r.Method,
		path:   r.URL.Path,
		header: r.Header.Clone(),
		body:   string(b),
	})
	status, body := rec.status, rec.body
	rec.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if body == "" {
		body = `{"ok":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (rec *recorder) last(t *testing.T) capturedRequest {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.seen, "no request reached the server")
	return rec.seen[len(rec.seen)-1]
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return c, srv
}

func TestDispatch_RoutesByAllowList(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)
	ctx := context.Background()

	for _, p := range []string{"queryCpayTotalErrorProcess", "handlerCpayErrorProcess"} {
		_, err := c.Dispatch(ctx, p, nil)
		require.NoError(t, err)
		assert.Equal(t, "/cpay/"+p+".json", rec.last(t).path)
	}

	for _, p := range []string{"queryEmailListProcess", "addTodoProcess", "queryCpayTotalError"} {
		_, err := c.Dispatch(ctx, p, nil)
		require.NoError(t, err)
		assert.Equal(t, "/epcc/"+p+".json", rec.last(t).path)
	}
}

func TestDispatch_BodyIsEscapedEnvelope(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "queryEmailListProcess", map[string]int{"a": 1})
	require.NoError(t, err)

	want := "REQ_MESSAGE=%7B%22REQ_HEAD%22:%7B%22TRAN_PROCESS%22:%22%22,%22TRAN_ID%22:%22%22%7D,%22REQ_BODY%22:%7B%22a%22:1%7D%7D"
	assert.Equal(t, want, rec.last(t).body)
}

func TestDispatch_BodyCarriesParamsVerbatim(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	params := map[string]any{
		"email":  "ops+alerts@example.com",
		"remark": "a & b = 100% <done>",
		"tags":   []string{"x", "邮件"},
	}
	_, err := c.Dispatch(context.Background(), "updateEmailProcess", params)
	require.NoError(t, err)

	got := rec.last(t).body
	require.True(t, strings.HasPrefix(got, "REQ_MESSAGE="), "body=%q", got)
	plain, err := protocol.UnescapeURI(strings.TrimPrefix(got, "REQ_MESSAGE="))
	require.NoError(t, err)
	jsonassert.New(t).Assertf(plain, `{
		"REQ_HEAD": {"TRAN_PROCESS": "", "TRAN_ID": ""},
		"REQ_BODY": {
			"email": "ops+alerts@example.com",
			"remark": "a & b = 100%% <done>",
			"tags": ["x", "邮件"]
		}
	}`)
}

func TestDispatch_DefaultRequestOptions(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.NoError(t, err)

	got := rec.last(t)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/x-www-form-urlencoded", got.header.Get("Content-Type"))
	assert.Equal(t, "no-cache", got.header.Get("Cache-Control"))
}

func TestDispatch_GetDropsBody(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "queryTodoListProcess", map[string]int{"a": 1}, WithMethod("GET"))
	require.NoError(t, err)

	got := rec.last(t)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Empty(t, got.body)

	req, err := c.NewRequest(context.Background(), "queryTodoListProcess", map[string]int{"a": 1}, WithMethod("get"))
	require.NoError(t, err)
	assert.Nil(t, req.Body)
	assert.Equal(t, int64(0), req.ContentLength)
}

func TestDispatch_CallerOptionsOverrideDefaults(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil,
		WithHeader("content-type", "text/plain"),
		WithHeader("X-Trace", "abc"),
		WithCache("no-store"),
	)
	require.NoError(t, err)

	got := rec.last(t)
	assert.Equal(t, []string{"text/plain"}, got.header.Values("Content-Type"))
	assert.Equal(t, "abc", got.header.Get("X-Trace"))
	assert.Equal(t, "no-store", got.header.Get("Cache-Control"))

	// Last write wins between overrides.
	_, err = c.Dispatch(context.Background(), "queryTodoListProcess", nil,
		WithHeaders(http.Header{"X-Trace": {"first"}}),
		WithHeader("X-Trace", "second"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, rec.last(t).header.Values("X-Trace"))
}

func TestDispatch_Status404Rejects(t *testing.T) {
	rec := &recorder{status: http.StatusNotFound, body: `{"detail":"ignored"}`}
	c, _ := newTestClient(t, rec)

	v, err := c.Dispatch(context.Background(), "missingProcess", nil)
	require.Error(t, err)
	assert.Nil(t, v)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.StatusCode)
	assert.Equal(t, "missingProcess", se.Process)
	assert.Contains(t, err.Error(), "404")
	assert.NotContains(t, err.Error(), "ignored")
}

func TestDispatch_Status200ResolvesParsedJSON(t *testing.T) {
	rec := &recorder{body: `{"ok":true}`}
	c, _ := newTestClient(t, rec)

	v, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)
}

func TestDispatch_ResponseIsNotUnwrapped(t *testing.T) {
	rec := &recorder{body: `{"RESP_HEAD":{"TRAN_SUCCESS":"0","ERROR_CODE":"E1","ERROR_MESSAGE":"bad"},"RESP_BODY":null}`}
	c, _ := newTestClient(t, rec)

	v, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "RESP_HEAD")
	assert.Contains(t, m, "RESP_BODY")
}

func TestDispatch_InvalidJSONRejects(t *testing.T) {
	rec := &recorder{body: `<html>oops</html>`}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecodeResponse))

	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestDispatch_NetworkFailureRejects(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.Error(t, err)

	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, ErrDecodeResponse))
}

func TestDispatch_EmptyProcess(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec)

	_, err := c.Dispatch(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyProcess)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.seen)
}

func TestDispatch_ConcurrentCallsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	mux := http.NewServeMux()
	mux.HandleFunc("/epcc/slowProcess.json", func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, `{"slow":true}`)
	})
	mux.HandleFunc("/epcc/failingProcess.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	slow := c.Go(ctx, "slowProcess", nil)
	failing := c.Go(ctx, "failingProcess", nil)

	_, err := failing.Wait(ctx)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)

	_, done, _ := slow.Result()
	assert.False(t, done, "slow dispatch must still be pending")

	unblock()
	v, err := slow.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"slow": true}, v)
}

func TestDispatch_IncludesCookies(t *testing.T) {
	var mu sync.Mutex
	var gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/epcc/loginProcess.json", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "s-1", Path: "/"})
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/epcc/queryTodoListProcess.json", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("JSESSIONID"); err == nil {
			mu.Lock()
			gotCookie = ck.Value
			mu.Unlock()
		}
		_, _ = io.WriteString(w, `{}`)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Dispatch(context.Background(), "loginProcess", nil)
	require.NoError(t, err)
	_, err = c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s-1", gotCookie)
}

func TestDispatch_WithTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c, _ := newTestClient(t, h, WithTimeout(50*time.Millisecond))

	_, err := c.Dispatch(context.Background(), "queryTodoListProcess", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err=%v", err)
}

func TestDispatch_WithRequestHead(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec, WithRequestHead(func(process string) protocol.RequestHead {
		return protocol.RequestHead{TranProcess: process, TranID: "tx-1"}
	}))

	_, err := c.Dispatch(context.Background(), "addTodoProcess", map[string]string{"title": "t"})
	require.NoError(t, err)

	env, err := protocol.DecodeRequestBody(rec.last(t).body)
	require.NoError(t, err)
	assert.Equal(t, protocol.RequestHead{TranProcess: "addTodoProcess", TranID: "tx-1"}, env.Head)
}

func TestDispatchInto_DecodesIntoStruct(t *testing.T) {
	rec := &recorder{body: `{"RESP_HEAD":{"TRAN_SUCCESS":"1"},"RESP_BODY":{"total":7}}`}
	c, _ := newTestClient(t, rec)

	var out struct {
		Head protocol.ResponseHead `json:"RESP_HEAD"`
		Body struct {
			Total int `json:"total"`
		} `json:"RESP_BODY"`
	}
	require.NoError(t, c.DispatchInto(context.Background(), "queryCpayTotalErrorProcess", nil, &out))
	assert.Equal(t, "1", out.Head.TranSuccess)
	assert.Equal(t, 7, out.Body.Total)
}

func TestNewClient_BaseURL(t *testing.T) {
	c, err := NewClient("http://backend.local/app")
	require.NoError(t, err)
	assert.Equal(t, "http://backend.local/app/", c.BaseURL())
	assert.Equal(t, "http://backend.local/app/cpay/handlerCpayErrorProcess.json", c.URL("handlerCpayErrorProcess"))
	assert.Equal(t, "http://backend.local/app/epcc/queryTodoListProcess.json", c.URL("queryTodoListProcess"))

	_, err = NewClient("backend.local/app")
	assert.Error(t, err)
}
