package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemCountersWindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newMemCounters(time.Hour)
	m.now = func() time.Time { return now }

	window := 5 * time.Minute
	for i := 1; i <= 3; i++ {
		count, start := m.Increment("1.2.3.4", window)
		if count != i {
			t.Fatalf("hit %d: count = %d", i, count)
		}
		if !start.Equal(now) {
			t.Fatalf("hit %d: windowStart = %v, want %v", i, start, now)
		}
	}

	// Another key counts independently.
	if count, _ := m.Increment("5.6.7.8", window); count != 1 {
		t.Fatalf("second key count = %d, want 1", count)
	}

	// Elapse the window; the counter restarts from 1 at the new start.
	began := now
	now = now.Add(window)
	count, start := m.Increment("1.2.3.4", window)
	if count != 1 {
		t.Fatalf("count after window elapsed = %d, want 1", count)
	}
	if !start.After(began) {
		t.Fatalf("windowStart not advanced: %v", start)
	}
}

func TestMemCountersEviction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newMemCounters(10 * time.Minute)
	m.now = func() time.Time { return now }

	m.Increment("stale", time.Minute)
	now = now.Add(11 * time.Minute)
	m.Increment("fresh", time.Minute)

	m.mu.Lock()
	_, staleAlive := m.entries["stale"]
	m.mu.Unlock()
	if staleAlive {
		t.Fatal("stale entry survived past its ttl")
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := newRateLimiter(newMemCounters(time.Hour), 3, time.Minute)
	handler := rl.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 3; i++ {
		rec := do()
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Fatalf("X-RateLimit-Limit = %q", got)
		}
	}

	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if got := rec.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("Retry-After = %q, want positive", got)
	}

	// A different client IP is unaffected.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.2:40000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "192.168.1.9:51234", "", "192.168.1.9"},
		{"forwarded single", "10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.7, 70.1.2.3", "203.0.113.7"},
		{"no port", "192.168.1.9", "", "192.168.1.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := getClientIP(req); got != tc.want {
				t.Fatalf("getClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
