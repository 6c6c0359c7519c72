package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

// Composite presents several shards of one modality as a single index.
// A search queries every shard for k hits, merges the lists by score and
// keeps the global top k. Duplicates across shards are kept; collapsing
// them is the job of fusion.
type Composite struct {
	// modality is shared by every shard.
	modality Modality
	// shards are searched in order; ties keep this order.
	shards []Shard
}

// NewComposite returns a composite over shards. Every shard must share the
// given modality.
func NewComposite(modality Modality, shards ...Shard) (*Composite, error) {
	for _, s := range shards {
		if s.Modality() != modality {
			return nil, fmt.Errorf("index: shard %q has modality %q, composite wants %q",
				s.Name(), s.Modality(), modality)
		}
	}
	return &Composite{modality: modality, shards: shards}, nil
}

// Modality returns the shared modality.
func (c *Composite) Modality() Modality { return c.modality }

// Shards returns the underlying shards.
func (c *Composite) Shards() []Shard { return c.shards }

// Load loads every shard, stopping at the first failure.
func (c *Composite) Load(ctx context.Context) error {
	for _, s := range c.shards {
		if err := s.Load(ctx); err != nil {
			return fmt.Errorf("index: load shard %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Search returns the global top-k hits across all shards with ranks
// reassigned 1..n. Any shard error fails the whole search.
func (c *Composite) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 || len(c.shards) == 0 {
		return []Hit{}, nil
	}

	var merged []Hit
	for _, s := range c.shards {
		hits, err := s.Search(ctx, vec, k)
		if err != nil {
			return nil, fmt.Errorf("index: search shard %q: %w", s.Name(), err)
		}
		merged = append(merged, hits...)
	}

	slices.SortStableFunc(merged, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if len(merged) > k {
		merged = merged[:k]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	if merged == nil {
		merged = []Hit{}
	}
	return merged, nil
}

// Count returns the total vector count of all shards.
func (c *Composite) Count() int {
	n := 0
	for _, s := range c.shards {
		n += s.Count()
	}
	return n
}

// Dims returns the dimensionality of the first shard that reports one.
func (c *Composite) Dims() int {
	for _, s := range c.shards {
		if d := s.Dims(); d > 0 {
			return d
		}
	}
	return 0
}

// Ping checks every shard that supports a liveness probe.
func (c *Composite) Ping(ctx context.Context) error {
	for _, s := range c.shards {
		if p, ok := s.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every shard and joins the errors.
func (c *Composite) Close() error {
	var errs []error
	for _, s := range c.shards {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
