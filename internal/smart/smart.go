// Package smart implements the multi-query retrieval pipeline: expand the
// question into variants, search every modality for every variant, fuse the
// ranked lists, and hydrate the fused ids from the record store.
package smart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/bookinsight/internal/expander"
	"github.com/54b3r/bookinsight/internal/fusion"
	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/rerank"
)

const (
	// DefaultTopK is the result count used when the caller passes topK <= 0.
	DefaultTopK = 5
	// DefaultOverFetch is the minimum per-unit search depth.
	DefaultOverFetch = 20
)

// Keys attached to every returned record. FieldRank is the position after
// fusion; FieldFinalRank is the position in the returned list, which differs
// from it once a reranker has reordered the candidates.
const (
	FieldScore     = "fusion_score"
	FieldRank      = "fusion_rank"
	FieldFinalRank = "rank"
	FieldSupport   = "support_count"
	FieldSources   = "sources"
)

// ModalityRetriever searches one modality for a text query. It is satisfied
// by *retriever.Retriever.
type ModalityRetriever interface {
	Modality() index.Modality
	Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error)
}

// RecordStore hydrates canonical ids into full records, preserving order and
// omitting unknown ids. It is satisfied by *store.SQLiteStore.
type RecordStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]index.Record, error)
}

// Searcher is the surface consumers (HTTP handlers, agent tools, eval) depend on.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Record, error)
}

// Config configures a Retriever.
type Config struct {
	// Expander produces query variants. Nil means single-query retrieval.
	Expander *expander.Expander
	// Retrievers are searched for every variant, in this order. Required.
	Retrievers []ModalityRetriever
	// Engine fuses the per-unit lists. Required.
	Engine *fusion.Engine
	// Store hydrates fused ids. Nil returns the fused metadata records.
	Store RecordStore
	// Reranker optionally reorders hydrated records.
	Reranker rerank.Reranker
	// Variants is the number of query variants including the original.
	// Zero selects expander.DefaultVariants.
	Variants int
	// OverFetch is the minimum per-unit search depth. Zero selects
	// DefaultOverFetch.
	OverFetch int
	// Parallelism bounds concurrent unit searches. Zero or one is sequential.
	Parallelism int
	// Metrics is optional.
	Metrics *Metrics
}

// Retriever is the multi-query retrieval orchestrator. It holds no
// per-request state and is safe for concurrent use.
type Retriever struct {
	cfg Config
}

var _ Searcher = (*Retriever)(nil)

// New validates cfg and returns a Retriever.
func New(cfg Config) (*Retriever, error) {
	if len(cfg.Retrievers) == 0 {
		return nil, fmt.Errorf("smart: at least one modality retriever is required")
	}
	for i, r := range cfg.Retrievers {
		if r == nil {
			return nil, fmt.Errorf("smart: retriever %d is nil", i)
		}
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("smart: fusion engine must not be nil")
	}
	if cfg.Variants <= 0 {
		cfg.Variants = expander.DefaultVariants
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = DefaultOverFetch
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Retriever{cfg: cfg}, nil
}

// unit is one (variant, modality) search.
type unit struct {
	variant   string
	retriever ModalityRetriever
}

// Retrieve returns up to topK hydrated records, best first, each carrying
// rank, fusion_score, fusion_rank, support_count and sources. Failed unit searches
// are logged and skipped; if all of them fail the result is empty. Only
// cancellation of ctx is reported as an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]index.Record, error) {
	start := time.Now()
	log := logging.FromContext(ctx)
	if topK <= 0 {
		topK = DefaultTopK
	}

	variants := []string{query}
	if r.cfg.Expander != nil {
		variants = r.cfg.Expander.Expand(ctx, query, r.cfg.Variants)
	}

	units := make([]unit, 0, len(variants)*len(r.cfg.Retrievers))
	for _, v := range variants {
		for _, mr := range r.cfg.Retrievers {
			units = append(units, unit{variant: v, retriever: mr})
		}
	}

	lists := r.searchAll(ctx, units, max(r.cfg.OverFetch, topK))
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("smart: retrieve: %w", err)
	}

	// With a reranker, hand it the full candidate pool and cut afterwards.
	fuseK := topK
	if r.cfg.Reranker != nil {
		fuseK = max(r.cfg.OverFetch, topK)
	}
	fused := r.cfg.Engine.Fuse(lists, fuseK)

	records := r.hydrate(ctx, fused)
	if r.cfg.Reranker != nil {
		records = r.cfg.Reranker.Rerank(ctx, query, records, topK)
	}
	if len(records) > topK {
		records = records[:topK]
	}
	for i, rec := range records {
		rec[FieldFinalRank] = i + 1
	}

	r.cfg.Metrics.observe(len(variants), time.Since(start))
	log.Info("smart: retrieval complete",
		slog.String("query", query),
		slog.Int("variants", len(variants)),
		slog.Int("units", len(units)),
		slog.Int("failed_units", len(units)-len(lists)),
		slog.Int("results", len(records)),
		slog.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// searchAll runs every unit at depth k and returns the successful lists in
// unit order, regardless of completion order.
func (r *Retriever) searchAll(ctx context.Context, units []unit, k int) [][]index.Hit {
	log := logging.FromContext(ctx)
	slots := make([][]index.Hit, len(units))
	ok := make([]bool, len(units))

	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i, u := range units {
		g.Go(func() error {
			hits, err := u.retriever.Retrieve(ctx, u.variant, k)
			if err != nil {
				log.Warn("smart: unit search failed, skipping",
					slog.String("variant", u.variant),
					slog.String("modality", string(u.retriever.Modality())),
					slog.Any("error", err),
				)
				r.cfg.Metrics.unitFailed(u.retriever.Modality())
				return nil
			}
			slots[i], ok[i] = hits, true
			return nil
		})
	}
	_ = g.Wait()

	lists := make([][]index.Hit, 0, len(units))
	for i := range slots {
		if ok[i] {
			lists = append(lists, slots[i])
		}
	}
	return lists
}

// hydrate resolves fused results to store records in fused order. A result
// the store does not know, or every result when the store fails, falls back
// to its fused metadata.
func (r *Retriever) hydrate(ctx context.Context, fused []fusion.Result) []index.Record {
	if len(fused) == 0 {
		return []index.Record{}
	}

	byID := map[string]index.Record{}
	if r.cfg.Store != nil {
		ids := make([]string, len(fused))
		for i, f := range fused {
			ids[i] = f.CanonicalID
		}
		recs, err := r.cfg.Store.GetByIDs(ctx, ids)
		if err != nil {
			logging.FromContext(ctx).Warn("smart: record store lookup failed, using index metadata",
				slog.Int("ids", len(ids)),
				slog.Any("error", err),
			)
		}
		for _, rec := range recs {
			if id := rec.String("unique_id"); id != "" {
				byID[id] = rec
			}
		}
	}

	out := make([]index.Record, 0, len(fused))
	for _, f := range fused {
		base, found := byID[f.CanonicalID]
		if !found {
			base = f.Metadata
		}
		rec := base.Clone()
		sources := make([]string, len(f.Sources))
		for i, s := range f.Sources {
			sources[i] = string(s)
		}
		rec[FieldScore] = f.Score
		rec[FieldRank] = f.Rank
		rec[FieldSupport] = f.SupportCount
		rec[FieldSources] = sources
		out = append(out, rec)
	}
	return out
}
