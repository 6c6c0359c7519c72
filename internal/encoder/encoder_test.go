package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// ---------------------------------------------------------------------------
// Normalize
// ---------------------------------------------------------------------------

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

// ---------------------------------------------------------------------------
// Ollama
// ---------------------------------------------------------------------------

func TestOllamaEncoder_Encode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)

		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{3, 4})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	enc := NewOllamaEncoder(&OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	vecs, err := enc.Encode(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-6)
}

func TestOllamaEncoder_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"bge-m3\" not found"}`)
	}))
	defer srv.Close()

	enc := NewOllamaEncoder(&OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	_, err := enc.Encode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaEncoder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"embeddings":[[1,0]]}`)
	}))
	defer srv.Close()

	enc := NewOllamaEncoder(&OllamaConfig{Host: srv.URL, Model: "m"})
	_, err := enc.Encode(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// OpenAI
// ---------------------------------------------------------------------------

func TestOpenAIEncoder_EncodeReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 2]},
				{"object": "embedding", "index": 0, "embedding": [2, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`)
	}))
	defer srv.Close()

	enc := NewOpenAIEncoder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	vecs, err := enc.Encode(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestOpenAIEncoder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	enc := NewOpenAIEncoder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "nope", Model: "m"})
	_, err := enc.Encode(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

// ---------------------------------------------------------------------------
// Static
// ---------------------------------------------------------------------------

func TestStaticEncoder_DeterministicAndNormalized(t *testing.T) {
	enc := NewStaticEncoder(128)
	a, err := enc.Encode(context.Background(), []string{"Dragons and wizards", "Dragons and wizards"})
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Len(t, a[0], 128)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 1.0, norm(a[0]), 1e-5)
}

func TestStaticEncoder_SimilarTextsScoreHigher(t *testing.T) {
	enc := NewStaticEncoder(0)
	vecs, err := enc.Encode(context.Background(), []string{
		"children's fantasy adventure with dragons",
		"fantasy adventure for children with a dragon",
		"quarterly tax accounting handbook",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestStaticEncoder_EmptyText(t *testing.T) {
	vecs, err := NewStaticEncoder(8).Encode(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

type countingEncoder struct {
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func (c *countingEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	c.texts.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestCachedEncoder_HitsSkipBackend(t *testing.T) {
	inner := &countingEncoder{}
	reg := prometheus.NewRegistry()
	metrics := NewCacheMetrics(reg)
	enc, err := NewCachedEncoder(inner, "text:test", 16, metrics)
	require.NoError(t, err)

	first, err := enc.Encode(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)
	second, err := enc.Encode(context.Background(), []string{"bbb", "c", "aa"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, 3, enc.Len())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Lookups.WithLabelValues("text:test", "hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Lookups.WithLabelValues("text:test", "miss")))
}

func TestCachedEncoder_ReturnsCopies(t *testing.T) {
	enc, err := NewCachedEncoder(&countingEncoder{}, "ns", 4, nil)
	require.NoError(t, err)

	v1, err := enc.Encode(context.Background(), []string{"x"})
	require.NoError(t, err)
	v1[0][0] = 99

	v2, err := enc.Encode(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), v2[0][0])
}

func TestCachedEncoder_ErrorNotCached(t *testing.T) {
	inner := &countingEncoder{err: errors.New("down")}
	enc, err := NewCachedEncoder(inner, "ns", 4, nil)
	require.NoError(t, err)

	_, err = enc.Encode(context.Background(), []string{"x"})
	assert.Error(t, err)
	assert.Equal(t, 0, enc.Len())
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestSettingsFromEnv_Cascade(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-chat")
	t.Setenv("TEXT_ENCODER_MODEL", "text-embedding-3-large")
	t.Setenv("TEXT_ENCODER_QUERY_PREFIX", "query: ")
	t.Setenv("IMAGE_ENCODER_PROVIDER", "static")
	t.Setenv("IMAGE_ENCODER_DIMENSIONS", "64")

	text := SettingsFromEnv(TextPrefix)
	assert.Equal(t, "openai", text.Provider)
	assert.Equal(t, "text-embedding-3-large", text.Model)
	assert.Equal(t, "sk-chat", text.APIKey)
	assert.Equal(t, "query: ", text.QueryPrefix)
	assert.Equal(t, "openai:text-embedding-3-large", text.Namespace())

	image := SettingsFromEnv(ImagePrefix)
	assert.Equal(t, "static", image.Provider)
	assert.Equal(t, 64, image.Dimensions)
	assert.Empty(t, image.QueryPrefix)
}

func TestSettingsFromEnv_OllamaDefaults(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("TEXT_ENCODER_PROVIDER", "")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")

	s := SettingsFromEnv(TextPrefix)
	assert.Equal(t, "ollama", s.Provider)
	assert.Equal(t, "http://ollama:11434", s.Endpoint)
	assert.Equal(t, defaultOllamaModel, s.Model)
}

func TestNew(t *testing.T) {
	enc, err := New(Settings{Provider: "static", Dimensions: 16, CacheSize: 8}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedEncoder{}, enc)

	enc, err = New(Settings{Provider: "static"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticEncoder{}, enc)

	_, err = New(Settings{Provider: "openai"}, nil)
	assert.Error(t, err)

	_, err = New(Settings{Provider: "azure", APIKey: "k"}, nil)
	assert.Error(t, err)

	_, err = New(Settings{Provider: "bedrock"}, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.NoError(t, Validate(log, "text", Settings{Provider: "ollama", Model: "nomic-embed-text"}))
	assert.NoError(t, Validate(log, "text", Settings{Provider: "ollama", Model: "llama3"}))
	assert.Error(t, Validate(log, "text", Settings{Provider: "openai"}))
	assert.Error(t, Validate(log, "image", Settings{Provider: "azure", APIKey: "k"}))
	assert.Error(t, Validate(log, "image", Settings{Provider: "gemini"}))

	assert.True(t, looksLikeChatModel("gpt-4o"))
	assert.False(t, looksLikeChatModel("bge-m3"))
}
