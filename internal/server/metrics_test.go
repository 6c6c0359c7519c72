package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T, s Searcher) (*Server, *prometheus.Registry) {
	t.Helper()
	srv := newChatTestServer(&fakeQuerier{response: "ok"}, s)
	reg := prometheus.NewRegistry()
	srv.cfg.MetricsRegistry = reg
	srv.cfg.MetricsGatherer = reg
	srv.metrics = newServerMetrics(reg)
	return srv, reg
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t, &fakeSearcher{})

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t, &fakeSearcher{})

	s.handleChat(httptest.NewRecorder(), postJSON("/api/chat", `{"question":"hi"}`))

	if got := testutil.ToFloat64(s.metrics.chatRequestsTotal.WithLabelValues(outcomeOK)); got != 1 {
		t.Errorf("want bookinsight_chat_requests_total{outcome=\"ok\"}=1, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.chatInFlight); got != 0 {
		t.Errorf("want in_flight back to 0 after the request, got %v", got)
	}
}

func Test_Metrics_SearchOutcomeAndResults(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t, &fakeSearcher{results: []index.Record{{"unique_id": "a"}, {"unique_id": "b"}}})

	s.handleSearch(httptest.NewRecorder(), postJSON("/api/search", `{"query":"q"}`))

	if got := testutil.ToFloat64(s.metrics.searchRequestsTotal.WithLabelValues(outcomeOK)); got != 1 {
		t.Errorf("want search ok counter=1, got %v", got)
	}
	n, err := testutil.GatherAndCount(reg, "bookinsight_search_results")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Errorf("want one results histogram series, got %d", n)
	}
}

func Test_Metrics_InstrumentCountsStatus(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t, &fakeSearcher{})

	h := s.metrics.instrument("health", http.HandlerFunc(s.handleHealth))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	got := testutil.ToFloat64(s.metrics.httpRequestsTotal.WithLabelValues(http.MethodGet, "health", "200"))
	if got != 1 {
		t.Errorf("want http requests_total=1 for health 200, got %v", got)
	}
}

func Test_Metrics_RejectionsCountedThroughNew(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	srv, err := New(&fakeQuerier{response: "ok"}, &fakeSearcher{}, &Config{
		APIKey:          "secret",
		RateLimit:       0.001,
		RateBurst:       1,
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h := srv.Handler()

	send := func(token string) int {
		req := postJSON("/api/search", `{"query":"q"}`)
		req.RemoteAddr = "10.1.1.1:5000"
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	// Unauthenticated traffic must not spend the client's only token.
	if code := send(""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous: got %d", code)
	}
	if code := send("nope"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", code)
	}
	if code := send("secret"); code != http.StatusOK {
		t.Fatalf("first authorised: got %d", code)
	}
	if code := send("secret"); code != http.StatusTooManyRequests {
		t.Fatalf("second authorised: got %d", code)
	}

	for reason, want := range map[string]float64{
		reasonMissingToken: 1,
		reasonInvalidToken: 1,
		reasonRateLimited:  1,
	} {
		if got := testutil.ToFloat64(srv.metrics.rejectedTotal.WithLabelValues("search", reason)); got != want {
			t.Errorf("rejected_total{reason=%q}: got %v, want %v", reason, got, want)
		}
	}
}
