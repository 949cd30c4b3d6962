package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// Limiter allows limit requests per client within each fixed window.
type Limiter struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	sweep   time.Time
}

func NewLimiter(limit int, per time.Duration) *Limiter {
	return &Limiter{limit: limit, per: per, now: time.Now, windows: map[string]*window{}}
}

// Allow counts one request for key and reports the wait until the window
// resets when the limit is exhausted.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.After(l.sweep) {
		for k, w := range l.windows {
			if now.After(w.until) {
				delete(l.windows, k)
			}
		}
		l.sweep = now.Add(l.per)
	}
	w, ok := l.windows[key]
	if !ok || now.After(w.until) {
		w = &window{until: now.Add(l.per)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.until.Sub(now)
	}
	w.count++
	return true, 0
}

// RateLimit rejects clients over the limit with 429 and Retry-After. A
// non-positive limit disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := NewLimiter(limit, per)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(clientKey(r))
			if !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey uses the remote host. RealIP runs earlier and already applied
// trusted forwarding headers.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
