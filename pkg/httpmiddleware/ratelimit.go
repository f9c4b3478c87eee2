package httpmiddleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// Decision is the outcome of one Limiter.Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// window holds the counts of the current and previous fixed windows of one
// client; the sliding estimate weights the previous window by its overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a per-client sliding window rate limiter.
type Limiter struct {
	max    int
	size   time.Duration
	keyFor func(*http.Request) string

	mu      sync.Mutex
	clients map[string]*window
}

// NewLimiter allows max requests per client within any window of length
// size. Clients are keyed by ClientIP.
func NewLimiter(max int, size time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		size:    size,
		keyFor:  ClientIP,
		clients: make(map[string]*window),
	}
}

// Allow records a request from key at now.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{start: now.Truncate(l.size)}
		l.clients[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.size {
		if elapsed >= 2*l.size {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.size)
	}

	overlap := 1 - now.Sub(w.start).Seconds()/l.size.Seconds()
	estimate := w.prev*max(overlap, 0) + w.curr
	d := Decision{ResetAt: w.start.Add(l.size)}
	if estimate >= float64(l.max) {
		return d
	}

	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-estimate-1), 0)
	return d
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Evict forgets clients idle for at least two windows.
func (l *Limiter) Evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.clients, key)
		}
	}
}

// Run evicts idle clients every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// Middleware rejects over-limit clients with 429 and reports the limit in
// X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(l.keyFor(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := math.Ceil(max(time.Until(d.ResetAt).Seconds(), 0))
			h.Set("Retry-After", strconv.Itoa(int(retry)))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}
