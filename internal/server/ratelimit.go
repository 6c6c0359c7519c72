package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/54b3r/bookinsight/internal/logging"
)

const (
	defaultRateLimit = 10
	defaultRateBurst = 20

	// maxTrackedClients bounds the number of per-client buckets kept in
	// memory. The least recently seen client is dropped first.
	maxTrackedClients = 4096
)

// rejectFunc is told why a request was turned away.
type rejectFunc func(reason string)

// Rejection reasons recorded by the guard middlewares.
const (
	reasonRateLimited  = "rate_limited"
	reasonMissingToken = "missing_token"
	reasonInvalidToken = "invalid_token"
)

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	clients *lru.Cache[string, *rate.Limiter]
	rps     rate.Limit
	burst   int
}

func newRateLimiter(rps float64, burst, maxClients int) (*rateLimiter, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("server: rate limit needs positive rps and burst, got %v/%d", rps, burst)
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, fmt.Errorf("server: rate limiter cache: %w", err)
	}
	return &rateLimiter{clients: clients, rps: rate.Limit(rps), burst: burst}, nil
}

// bucket returns the client's limiter, creating it on first sight.
func (rl *rateLimiter) bucket(ip string) *rate.Limiter {
	if l, ok := rl.clients.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	if prev, found, _ := rl.clients.PeekOrAdd(ip, l); found {
		return prev
	}
	return l
}

// retryAfter is the whole number of seconds until one token is refilled.
func (rl *rateLimiter) retryAfter() string {
	secs := math.Ceil(1 / float64(rl.rps))
	if secs < 1 || math.IsInf(secs, 0) {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

// middleware answers 429 with a JSON error body once the client's bucket is
// empty. onReject may be nil.
func (rl *rateLimiter) middleware(onReject rejectFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.bucket(ip).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("request throttled",
			slog.String("client", ip),
			slog.String("path", r.URL.Path),
			slog.Int("tracked_clients", rl.clients.Len()),
		)
		if onReject != nil {
			onReject(reasonRateLimited)
		}
		w.Header().Set("Retry-After", rl.retryAfter())
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// clientIP is the host part of RemoteAddr. X-Forwarded-For is ignored: the
// server binds to loopback by default and is not meant to sit behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
