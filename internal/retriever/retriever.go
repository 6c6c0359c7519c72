// Package retriever searches one modality: it encodes query text into the
// modality's embedding space and runs a single search over that modality's
// index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/54b3r/bookinsight/internal/encoder"
	"github.com/54b3r/bookinsight/internal/index"
)

// Searcher is the index surface a Retriever queries, satisfied by
// *index.Composite and by any single index.Shard.
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]index.Hit, error)
}

// Config configures a Retriever.
type Config struct {
	// Modality is stamped on every hit.
	Modality index.Modality
	// Index is the searched index. Required.
	Index Searcher
	// Encoder is an already-built encoder. Preferred over Factory.
	Encoder encoder.Encoder
	// Factory builds the encoder on first use when Encoder is nil.
	Factory encoder.Factory
	// QueryPrefix is prepended to the query before encoding.
	QueryPrefix string
}

// Retriever answers text queries against one modality. It is safe for
// concurrent use.
type Retriever struct {
	modality index.Modality
	index    Searcher
	factory  encoder.Factory
	prefix   string

	// mu guards enc while the factory runs.
	mu  sync.Mutex
	enc encoder.Encoder
}

// New validates cfg and returns a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("retriever: index must not be nil")
	}
	if cfg.Encoder == nil && cfg.Factory == nil {
		return nil, fmt.Errorf("retriever: one of encoder or factory is required")
	}
	if _, err := index.ParseModality(string(cfg.Modality)); err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	return &Retriever{
		modality: cfg.Modality,
		index:    cfg.Index,
		factory:  cfg.Factory,
		prefix:   cfg.QueryPrefix,
		enc:      cfg.Encoder,
	}, nil
}

// Modality returns the modality this retriever searches.
func (r *Retriever) Modality() index.Modality { return r.modality }

// loadEncoder returns the encoder, building it on first use. A failed build is
// not cached.
func (r *Retriever) loadEncoder(ctx context.Context) (encoder.Encoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc != nil {
		return r.enc, nil
	}
	enc, err := r.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("retriever: build %s encoder: %w", r.modality, err)
	}
	if enc == nil {
		return nil, errors.New("retriever: factory returned nil encoder")
	}
	r.enc = enc
	return enc, nil
}

// Retrieve encodes query and returns up to k hits, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error) {
	enc, err := r.loadEncoder(ctx)
	if err != nil {
		return nil, err
	}

	vec, err := encoder.EncodeOne(ctx, enc, r.prefix+query)
	if err != nil {
		return nil, fmt.Errorf("retriever: encode %s query: %w", r.modality, err)
	}
	encoder.Normalize(vec)

	hits, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("retriever: search %s index: %w", r.modality, err)
	}
	for i := range hits {
		hits[i].Source = r.modality
		if hits[i].Metadata == nil {
			hits[i].Metadata = index.Record{}
		}
	}
	return hits, nil
}
