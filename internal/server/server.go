// Package server implements the HTTP API that exposes the BookInsight agent
// and the fused book retriever. The server is started by the
// `bookinsight serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/tools"
	"github.com/54b3r/bookinsight/internal/version"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// New constructs a Server answering /api/chat with q and /api/search with s.
func New(q Querier, s Searcher, cfg *Config) (*Server, error) {
	if q == nil {
		return nil, fmt.Errorf("server: querier must not be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	srv := &Server{
		querier:  q,
		searcher: s,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		srv.log.Warn("server: API key not set, authentication disabled")
	}

	rl, err := newRateLimiter(cfg.RateLimit, cfg.RateBurst, maxTrackedClients)
	if err != nil {
		return nil, err
	}

	m := srv.metrics
	// guarded routes check the token first so anonymous traffic cannot drain
	// a client's bucket.
	guarded := func(name string, h http.HandlerFunc) http.Handler {
		reject := m.rejecter(name)
		return m.instrument(name, authMiddleware(cfg.APIKey, reject, rl.middleware(reject, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", guarded("chat", srv.handleChat))
	mux.Handle("POST /api/search", guarded("search", srv.handleSearch))
	mux.Handle("GET /api/health", m.instrument("health", http.HandlerFunc(srv.handleHealth)))
	mux.Handle("GET /api/ready", m.instrument("ready", http.HandlerFunc(srv.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /{$}", m.instrument("welcome", http.HandlerFunc(srv.handleWelcome)))

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(srv.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// applyDefaults fills zero-valued fields of cfg.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Must outlive ChatTimeout so timeouts are reported, not truncated.
		cfg.WriteTimeout = cfg.ChatTimeout + 30*time.Second
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 50
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		if cfg.MetricsGatherer == nil {
			cfg.MetricsGatherer = reg
		}
	}
	if cfg.MetricsGatherer == nil {
		if g, ok := cfg.MetricsRegistry.(prometheus.Gatherer); ok {
			cfg.MetricsGatherer = g
		} else {
			cfg.MetricsGatherer = prometheus.DefaultGatherer
		}
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The answer is returned as JSON, or
// streamed as Server-Sent Events when the client sends
// Accept: text/event-stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.UserID = strings.TrimSpace(req.UserID); req.UserID == "" {
		req.UserID = tools.DefaultUserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatInFlight.Inc()
	defer s.metrics.chatInFlight.Dec()
	start := time.Now()

	if wantsEventStream(r) {
		s.streamChat(ctx, w, req, start)
		return
	}

	answer, err := s.querier.Query(ctx, req.UserID, req.Question, nil)
	if err != nil {
		outcome, status, msg := classify(ctx, err)
		s.metrics.observeChat(outcome, time.Since(start))
		log.Error("chat failed",
			slog.String("user_id", req.UserID),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		writeError(w, status, msg)
		return
	}

	s.metrics.observeChat(outcomeOK, time.Since(start))
	writeJSON(w, http.StatusOK, chatResponse{UserID: req.UserID, Answer: answer})
}

// streamChat answers req as Server-Sent Events so a UI can render tokens as
// they arrive. Errors are delivered in-band with a generic message.
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, req chatRequest, start time.Time) {
	log := logging.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &sseWriter{w: w, flusher: flusher}
	if _, err := s.querier.Query(ctx, req.UserID, req.Question, sw); err != nil {
		outcome, _, msg := classify(ctx, err)
		s.metrics.observeChat(outcome, time.Since(start))
		log.Error("chat stream failed",
			slog.String("user_id", req.UserID),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", msg)
		flusher.Flush()
		return
	}

	s.metrics.observeChat(outcomeOK, time.Since(start))
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// handleSearch handles POST /api/search with direct fused retrieval.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	topK = min(topK, s.cfg.MaxTopK)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.searcher.Retrieve(ctx, req.Query, topK)
	if err != nil {
		outcome, status, msg := classify(ctx, err)
		s.metrics.observeSearch(outcome, time.Since(start), 0)
		log.Error("search failed", slog.String("outcome", outcome), slog.Any("error", err))
		writeError(w, status, msg)
		return
	}
	if results == nil {
		results = []index.Record{}
	}

	s.metrics.observeSearch(outcomeOK, time.Since(start), len(results))
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWelcome handles GET / with a short service description.
func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the BookInsight API",
		"build":   version.Get(),
		"endpoints": []string{
			"POST /api/chat",
			"POST /api/search",
			"GET /api/health",
			"GET /api/ready",
			"GET /metrics",
		},
	})
}

// classify maps a handler error to a metrics outcome, HTTP status and a
// client-safe message. Internal error text is never returned to clients.
func classify(ctx context.Context, err error) (outcome string, status int, msg string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return outcomeTimeout, http.StatusGatewayTimeout, "request timed out"
	}
	return outcomeError, http.StatusInternalServerError, "internal error"
}

// wantsEventStream reports whether the client asked for SSE.
func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// decodeJSON decodes a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an errorResponse with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
