// Package encoder turns query and passage text into dense vectors for one
// embedding space. Backends talk to Ollama, OpenAI-compatible APIs (OpenAI,
// Azure OpenAI, any compatible gateway) or run in-process via feature
// hashing. Every backend returns L2-normalized vectors.
package encoder

import (
	"context"
	"fmt"
	"math"
)

// Encoder converts a batch of texts into embeddings. The returned slice is
// parallel to the input. Implementations must be safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Factory builds an Encoder. It is used where construction is expensive and
// should be deferred until first use.
type Factory func(ctx context.Context) (Encoder, error)

// EncodeOne encodes a single text.
func EncodeOne(ctx context.Context, enc Encoder, text string) ([]float32, error) {
	vecs, err := enc.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("encoder: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is left untouched.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// normalizeAll normalizes each vector in place.
func normalizeAll(vecs [][]float32) [][]float32 {
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs
}
