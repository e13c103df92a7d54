package flexgate

import (
	"context"
	"sync"
)

// Future holds the outcome of a dispatch started with Client.Go.
// It is completed exactly once.
type Future struct {
	done chan struct{}
	once sync.Once

	val any
	err error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete is a no-op after the first call.
func (f *Future) complete(v any, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the dispatch finishes or ctx is done. Giving up on ctx
// does not abort the request itself.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while pending.
func (f *Future) Result() (v any, ok bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		return nil, false, nil
	}
}
