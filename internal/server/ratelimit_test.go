package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func mustRateLimiter(t *testing.T, rps float64, burst, clients int) *rateLimiter {
	t.Helper()
	rl, err := newRateLimiter(rps, burst, clients)
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}
	return rl
}

// hit sends one request from addr and returns the recorder.
func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter_RejectsBadParams(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		rps            float64
		burst, clients int
	}{
		{0, 1, 10},
		{1, 0, 10},
		{1, 1, 0},
	} {
		if _, err := newRateLimiter(tc.rps, tc.burst, tc.clients); err == nil {
			t.Errorf("rps=%v burst=%d clients=%d: expected error", tc.rps, tc.burst, tc.clients)
		}
	}
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	t.Parallel()

	rec := &reasonRecorder{}
	h := mustRateLimiter(t, 0.001, 3, 16).middleware(rec.record, okHandler)

	for i := range 3 {
		if w := hit(h, "10.0.0.1:4000"); w.Code != http.StatusOK {
			t.Fatalf("request %d inside burst: got %d", i, w.Code)
		}
	}

	w := hit(h, "10.0.0.1:4001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1000" {
		t.Errorf("Retry-After: got %q, want 1000", got)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "rate limit exceeded" {
		t.Errorf("error: got %q", body.Error)
	}
	if len(rec.reasons) != 1 || rec.reasons[0] != reasonRateLimited {
		t.Errorf("reasons: got %v", rec.reasons)
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	t.Parallel()

	h := mustRateLimiter(t, 0.001, 1, 16).middleware(nil, okHandler)

	hit(h, "192.168.1.1:1111")
	if w := hit(h, "192.168.1.1:1111"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("first client: got %d, want 429", w.Code)
	}
	if w := hit(h, "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second client: got %d, want 200", w.Code)
	}
}

func TestRateLimiter_EvictsLeastRecentClient(t *testing.T) {
	t.Parallel()

	rl := mustRateLimiter(t, 0.001, 1, 2)
	h := rl.middleware(nil, okHandler)

	hit(h, "10.0.0.1:1")
	hit(h, "10.0.0.2:1")
	hit(h, "10.0.0.3:1") // pushes 10.0.0.1 out

	if rl.clients.Len() != 2 {
		t.Fatalf("tracked clients: got %d, want 2", rl.clients.Len())
	}
	// A forgotten client starts again with a full bucket.
	if w := hit(h, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Errorf("evicted client: got %d, want 200", w.Code)
	}
}

func TestRateLimiter_RetryAfterFloorsAtOneSecond(t *testing.T) {
	t.Parallel()

	if got := mustRateLimiter(t, 50, 1, 4).retryAfter(); got != "1" {
		t.Errorf("got %q, want 1", got)
	}
	if got := mustRateLimiter(t, 0.25, 1, 4).retryAfter(); got != "4" {
		t.Errorf("got %q, want 4", got)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:54321": "127.0.0.1",
		"[::1]:8080":      "::1",
		"noport":          "noport",
		"":                "",
	}
	for addr, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		if got := clientIP(req); got != want {
			t.Errorf("clientIP(%q) = %q, want %q", addr, got, want)
		}
	}
}
