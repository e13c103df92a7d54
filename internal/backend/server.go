package backend

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/lyhniupi1/flexgate"
	"github.com/lyhniupi1/flexgate/internal/dispatcher"
)

// SetupFunc is an injection point for registering process handlers.
// It is called once before serving starts.
type SetupFunc func(reg *dispatcher.Registry) error

var ErrNoSetup = errors.New("flexgate backend: setup is required")

const defaultAddr = ":8080"

type serveOptions struct {
	addr         string
	routes       *flexgate.RouteTable
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	rateLimit    int
	rateBurst    int
	maxInflight  int64
}

type ServeOption func(*serveOptions)

func WithAddr(addr string) ServeOption {
	return func(o *serveOptions) { o.addr = addr }
}

func WithRoutes(t *flexgate.RouteTable) ServeOption {
	return func(o *serveOptions) { o.routes = t }
}

// WithReadTimeout bounds reading a request (0 to disable).
func WithReadTimeout(d time.Duration) ServeOption {
	return func(o *serveOptions) { o.readTimeout = d }
}

// WithWriteTimeout bounds writing a response (0 to disable).
func WithWriteTimeout(d time.Duration) ServeOption {
	return func(o *serveOptions) { o.writeTimeout = d }
}

// WithIdleTimeout bounds keep-alive idle time (0 to disable).
func WithIdleTimeout(d time.Duration) ServeOption {
	return func(o *serveOptions) { o.idleTimeout = d }
}

// WithRateLimit admits at most rate requests per second with bursts of
// up to burst. Excess requests get 429.
func WithRateLimit(rate, burst int) ServeOption {
	return func(o *serveOptions) {
		o.rateLimit = rate
		o.rateBurst = burst
	}
}

// WithMaxInflightBytes caps the request body bytes being handled at once.
// Excess requests get 503.
func WithMaxInflightBytes(n int64) ServeOption {
	return func(o *serveOptions) { o.maxInflight = n }
}

func newServeOptions(opts []ServeOption) serveOptions {
	o := serveOptions{
		routes:       flexgate.DefaultRoutes,
		readTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
		idleTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// normalizeAddr prefers the explicit addr, then WithAddr, then the default.
func normalizeAddr(addr string, opts []ServeOption) string {
	if addr != "" {
		return addr
	}
	if o := newServeOptions(opts); o.addr != "" {
		return o.addr
	}
	return defaultAddr
}

// ListenAndServe starts a TCP listener on addr and serves the backend until
// the process exits.
func ListenAndServe(addr string, setup SetupFunc, opts ...ServeOption) error {
	listener, err := net.Listen("tcp", normalizeAddr(addr, opts))
	if err != nil {
		return err
	}
	return ServeWithContext(context.Background(), listener, setup, opts...)
}

// ServeWithContext serves on listener until ctx is cancelled, then shuts
// down gracefully. A cancelled context is not an error.
func ServeWithContext(ctx context.Context, listener net.Listener, setup SetupFunc, opts ...ServeOption) error {
	if setup == nil {
		return ErrNoSetup
	}
	o := newServeOptions(opts)

	reg := dispatcher.NewRegistry()
	if err := setup(reg); err != nil {
		return err
	}
	log.Printf("registered processes: %v", reg.Processes())

	handler := NewHandler(reg, o.routes)
	if o.rateLimit > 0 || o.maxInflight > 0 {
		handler = newAdmission(o.rateLimit, o.rateBurst, o.maxInflight).middleware(handler)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  o.readTimeout,
		WriteTimeout: o.writeTimeout,
		IdleTimeout:  o.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
