package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCacheSize is the number of embeddings kept by a CachedEncoder
// built with size <= 0.
const DefaultCacheSize = 1000

// CacheMetrics counts cache lookups by result ("hit" or "miss") and encoder
// namespace.
type CacheMetrics struct {
	// Lookups is the encoder_cache_lookups_total counter.
	Lookups *prometheus.CounterVec
}

// NewCacheMetrics registers the cache counter with reg.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	f := promauto.With(reg)
	return &CacheMetrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinsight",
			Name:      "encoder_cache_lookups_total",
			Help:      "Query embedding cache lookups, by encoder namespace and result.",
		}, []string{"namespace", "result"}),
	}
}

// CachedEncoder wraps an Encoder with an LRU cache keyed by text. Repeated
// queries and query variants skip the backend round trip.
type CachedEncoder struct {
	// inner is the wrapped encoder.
	inner Encoder
	// namespace separates cache keys and metric labels of different
	// embedding spaces.
	namespace string
	// cache maps a text digest to its embedding.
	cache *lru.Cache[string, []float32]
	// metrics is optional.
	metrics *CacheMetrics
}

// NewCachedEncoder wraps inner. namespace should identify the model, e.g.
// "text:bge-m3". metrics may be nil.
func NewCachedEncoder(inner Encoder, namespace string, size int, metrics *CacheMetrics) (*CachedEncoder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("encoder: create cache: %w", err)
	}
	return &CachedEncoder{inner: inner, namespace: namespace, cache: cache, metrics: metrics}, nil
}

func (c *CachedEncoder) key(text string) string {
	sum := sha256.Sum256([]byte(c.namespace + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEncoder) observe(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Lookups.WithLabelValues(c.namespace, result).Inc()
}

// Encode returns cached vectors where available and encodes the rest in a
// single batch. Returned vectors are copies; callers may modify them.
func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			c.observe("hit")
			out[i] = append([]float32(nil), vec...)
			continue
		}
		c.observe("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("encoder: expected %d embeddings, got %d", len(missTexts), len(fresh))
	}
	for j, i := range missIdx {
		c.cache.Add(c.key(texts[i]), append([]float32(nil), fresh[j]...))
		out[i] = fresh[j]
	}
	return out, nil
}

// Len returns the number of cached embeddings.
func (c *CachedEncoder) Len() int { return c.cache.Len() }

// Inner returns the wrapped encoder.
func (c *CachedEncoder) Inner() Encoder { return c.inner }
