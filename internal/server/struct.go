package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/bookinsight/internal/index"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat agent run. Defaults to 2 minutes.
	ChatTimeout time.Duration
	// SearchTimeout bounds a single /api/search retrieval. Defaults to 30 seconds.
	SearchTimeout time.Duration
	// DefaultTopK is used by /api/search when the request omits top_k.
	DefaultTopK int
	// MaxTopK caps top_k on /api/search. Defaults to 50.
	MaxTopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to a fresh
	// registry owned by the server.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to MetricsRegistry when it
	// is a *prometheus.Registry.
	MetricsGatherer prometheus.Gatherer
}

// Querier is the interface handleChat calls to answer a question.
// *agent.BookAgent satisfies it; tests inject a fake.
type Querier interface {
	// Query answers question for userID, streaming partial output to w, and
	// returns the full answer.
	Query(ctx context.Context, userID, question string, w io.Writer) (string, error)
}

// Searcher is the interface handleSearch calls for fused retrieval.
// *smart.Retriever satisfies it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Record, error)
}

// Server is the HTTP server that exposes the BookInsight agent and the fused
// retriever.
type Server struct {
	// querier answers /api/chat requests.
	querier Querier
	// searcher answers /api/search requests.
	searcher Searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// UserID identifies the reader. Defaults to "default_user".
	UserID string `json:"user_id"`
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// chatResponse is the JSON body returned by POST /api/chat.
type chatResponse struct {
	// UserID echoes the resolved user id.
	UserID string `json:"user_id"`
	// Answer is the agent's final answer.
	Answer string `json:"answer"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the free-text search query.
	Query string `json:"query"`
	// TopK is the number of results wanted. Zero uses the server default.
	TopK int `json:"top_k"`
}

// searchResponse is the JSON body returned by POST /api/search.
type searchResponse struct {
	// Results are hydrated book records carrying fusion_score.
	Results []index.Record `json:"results"`
}

// errorResponse is the JSON body of every 4xx/5xx API response.
type errorResponse struct {
	// Error is a short, client-safe description.
	Error string `json:"error"`
}
