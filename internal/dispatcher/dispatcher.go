package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lyhniupi1/flexgate/protocol"
)

// Handler serves one process. It returns the RESP_BODY value, or an error;
// a *protocol.BusinessError is reported inside a successful response.
type Handler func(ctx context.Context, env *protocol.RawEnvelope) (any, error)

var ErrUnknownProcess = errors.New("unknown process")

// Registry maps process names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(process string, h Handler) {
	if process == "" || h == nil {
		panic("dispatcher: Register needs a process name and a handler")
	}
	r.mu.Lock()
	r.handlers[process] = h
	r.mu.Unlock()
}

func (r *Registry) Lookup(process string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[process]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) Dispatch(ctx context.Context, process string, env *protocol.RawEnvelope) (any, error) {
	h, ok := r.Lookup(process)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, process)
	}
	return h(ctx, env)
}

// Processes returns the registered names in sorted order.
func (r *Registry) Processes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
