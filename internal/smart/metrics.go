package smart

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/bookinsight/internal/index"
)

// Metrics holds the retrieval pipeline metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// unitFailures counts failed (variant, modality) searches by modality.
	unitFailures *prometheus.CounterVec
	// variants records how many query variants each retrieval searched.
	variants prometheus.Histogram
	// duration records end-to-end retrieval latency.
	duration prometheus.Histogram
}

// NewMetrics registers the retrieval metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		unitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Subsystem: "retrieval",
			Name:      "unit_failures_total",
			Help:      "Per-variant, per-modality searches that failed and were excluded from fusion.",
		}, []string{"modality"}),
		variants: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "retrieval",
			Name:      "query_variants",
			Help:      "Number of query variants searched per retrieval.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookinsight",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of fused retrieval, including expansion and hydration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) unitFailed(modality index.Modality) {
	if m == nil {
		return
	}
	m.unitFailures.WithLabelValues(string(modality)).Inc()
}

func (m *Metrics) observe(variants int, d time.Duration) {
	if m == nil {
		return
	}
	m.variants.Observe(float64(variants))
	m.duration.Observe(d.Seconds())
}
