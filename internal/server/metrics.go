package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Outcome label values for chat and search metrics.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each /api/chat
	// request, agent run included.
	chatDurationSeconds *prometheus.HistogramVec

	// chatInFlight is the number of /api/chat agent runs currently executing.
	chatInFlight prometheus.Gauge

	// searchRequestsTotal counts completed /api/search requests by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records the latency of fused retrieval.
	searchDurationSeconds *prometheus.HistogramVec

	// searchResults records how many records each search returned.
	searchResults prometheus.Histogram

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rejectedTotal counts requests turned away before reaching a handler.
	rejectedTotal *prometheus.CounterVec

	// dependencyUp is 1 when the last readiness probe of a dependency passed.
	dependencyUp *prometheus.GaugeVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) keeps each registration in the
// provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat requests including the agent run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookinsight",
			Subsystem: "chat",
			Name:      "in_flight",
			Help:      "Number of /api/chat agent runs currently executing.",
		}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of /api/search requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of fused retrieval served by /api/search.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of records returned per /api/search request.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by authentication or rate limiting, by handler and reason.",
		}, []string{labelHandler, "reason"}),

		dependencyUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bookinsight",
			Name:      "dependency_up",
			Help:      "Result of the last readiness probe per dependency (1 up, 0 down).",
		}, []string{"dependency"}),
	}
}

// rejecter returns a rejectFunc that counts rejections for handler.
func (m *serverMetrics) rejecter(handler string) rejectFunc {
	return func(reason string) {
		m.rejectedTotal.WithLabelValues(handler, reason).Inc()
	}
}

// instrument wraps next so every request is counted and timed under the
// logical handler name.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}

// observeChat records one completed chat request.
func (m *serverMetrics) observeChat(outcome string, d time.Duration) {
	m.chatRequestsTotal.WithLabelValues(outcome).Inc()
	m.chatDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// observeSearch records one completed search request.
func (m *serverMetrics) observeSearch(outcome string, d time.Duration, results int) {
	m.searchRequestsTotal.WithLabelValues(outcome).Inc()
	m.searchDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == outcomeOK {
		m.searchResults.Observe(float64(results))
	}
}
