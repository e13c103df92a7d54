package backend

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// admission gates requests with a token bucket and a budget of request
// body bytes being read at once. A zero rate or budget disables that check.
type admission struct {
	mu         sync.Mutex
	tokens     int64
	lastRefill int64
	rate       int64
	burst      int64

	bufferUsed int64
	maxBuffer  int64
}

func newAdmission(rate, burst int, maxBuffer int64) *admission {
	if burst < rate {
		burst = rate
	}
	return &admission{
		tokens:     int64(burst),
		lastRefill: time.Now().UnixNano(),
		rate:       int64(rate),
		burst:      int64(burst),
		maxBuffer:  maxBuffer,
	}
}

// reserve claims n body bytes. On failure the claim is already undone.
func (a *admission) reserve(n int64) bool {
	if a.maxBuffer <= 0 {
		return true
	}
	if atomic.AddInt64(&a.bufferUsed, n) <= a.maxBuffer {
		return true
	}
	atomic.AddInt64(&a.bufferUsed, -n)
	return false
}

func (a *admission) release(n int64) {
	if a.maxBuffer <= 0 {
		return
	}
	atomic.AddInt64(&a.bufferUsed, -n)
}

func (a *admission) allow() bool {
	if a.rate <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UnixNano()
	a.refill(now)

	if a.tokens <= 0 {
		return false
	}
	a.tokens--
	return true
}

// refill adds the tokens earned since lastRefill. Elapsed time is capped
// at what refills a full bucket so the product cannot overflow.
func (a *admission) refill(now int64) {
	elapsed := now - a.lastRefill
	if elapsed <= 0 {
		return
	}
	if full := a.burst * int64(time.Second) / a.rate; elapsed >= full {
		a.tokens = a.burst
		a.lastRefill = now
		return
	}
	if add := elapsed * a.rate / int64(time.Second); add > 0 {
		a.tokens = min(a.tokens+add, a.burst)
		a.lastRefill = now
	}
}

// middleware answers 429 when the bucket is empty and 503 when the body
// budget is exhausted. Bodies of unknown length are charged MaxMessageBytes.
func (a *admission) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		n := r.ContentLength
		if n < 0 || n > MaxMessageBytes {
			n = MaxMessageBytes
		}
		if !a.reserve(n) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		defer a.release(n)

		next.ServeHTTP(w, r)
	})
}
