package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CounterStore is the swappable backing for the sliding-window limiter. The
// single-process map below can be replaced by a shared store without touching
// the middleware.
type CounterStore interface {
	// Increment counts a hit for key inside the current window, starting a
	// new window if the old one has elapsed. It returns the count including
	// this hit and the window's start time.
	Increment(key string, window time.Duration) (count int, windowStart time.Time)
}

type windowCounter struct {
	count    int
	start    time.Time
	lastSeen time.Time
}

type memCounters struct {
	mu      sync.Mutex
	entries map[string]*windowCounter
	ttl     time.Duration
	now     func() time.Time
}

func newMemCounters(ttl time.Duration) *memCounters {
	return &memCounters{
		entries: make(map[string]*windowCounter),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *memCounters) Increment(key string, window time.Duration) (int, time.Time) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.entries[key]
	if c == nil || now.Sub(c.start) >= window {
		c = &windowCounter{start: now}
		m.entries[key] = c
	}
	c.count++
	c.lastSeen = now

	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	return c.count, c.start
}

// rateLimiter applies one policy keyed by client IP. It is approximate and
// memory-resident: defense in depth in front of the lockout/token-version
// machinery, not the security boundary itself.
type rateLimiter struct {
	store  CounterStore
	limit  int
	window time.Duration
}

func newRateLimiter(store CounterStore, limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{store: store, limit: limit, window: window}
}

func (rl *rateLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, start := rl.store.Increment(getClientIP(r), rl.window)
		reset := start.Add(rl.window)

		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		// Headers go out on pass-through and rejection alike so clients can
		// observe their budget.
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > rl.limit {
			retryAfter := int(time.Until(reset).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONStatus(w, http.StatusTooManyRequests, errorBody{
				Error:      "rate_limited",
				Message:    "too many requests, slow down",
				RetryAfter: retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
