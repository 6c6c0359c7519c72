// Package index provides the similarity index shards and the composite index
// that the retrieval core searches. A shard pairs one nearest-neighbour index
// with a row-aligned metadata table; a composite fans a query out to every
// shard of one modality and keeps the global top-k.
package index

import (
	"context"
	"fmt"
	"strings"
)

// Modality identifies the embedding space a shard belongs to.
type Modality string

const (
	// ModalityText is the text-passage embedding space.
	ModalityText Modality = "text"
	// ModalityImage is the image embedding space, queried with text through a
	// joint text/image encoder.
	ModalityImage Modality = "image"
)

// ParseModality converts a configuration string into a Modality.
func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case ModalityText:
		return ModalityText, nil
	case ModalityImage:
		return ModalityImage, nil
	default:
		return "", fmt.Errorf("index: unknown modality %q: valid values: text, image", s)
	}
}

// Record is one metadata row keyed by column name.
type Record map[string]any

// String returns the value of key rendered as a string, or "" when the key is
// absent or nil.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a shallow copy of r. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Hit is a single search result.
type Hit struct {
	// Position is the raw row position inside the shard that produced the hit.
	Position int64 `json:"position"`
	// Score is the similarity score; higher is always better.
	Score float32 `json:"score"`
	// Rank is the 1-based position of the hit within its result list.
	Rank int `json:"rank"`
	// Source is the modality of the index that produced the hit.
	Source Modality `json:"source"`
	// Shard is the name of the shard that produced the hit.
	Shard string `json:"shard"`
	// Metadata is the row of the shard's metadata table at Position.
	Metadata Record `json:"metadata"`
}

// Shard is one similarity index plus its aligned metadata table.
// Implementations are immutable after Load and safe for concurrent Search.
type Shard interface {
	// Name returns a short label used in logs and hits.
	Name() string
	// Modality returns the embedding space of the shard.
	Modality() Modality
	// Load reads the index and metadata. A missing artifact yields a
	// *NotFoundError.
	Load(ctx context.Context) error
	// Search returns up to k hits ordered by descending score.
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// Count returns the number of indexed vectors.
	Count() int
	// Dims returns the vector dimensionality, or 0 when unknown.
	Dims() int
	// Close releases resources held by the shard.
	Close() error
}
