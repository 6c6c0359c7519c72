// Package eval measures retrieval quality against a hand-labelled set of
// queries and relevant book ids (qrels).
//
// Qrels are data-driven and loaded from YAML:
//
//	k: 5
//	queries:
//	  - id: fantasy-kids
//	    query: fantasy books for children
//	    relevant: [B001, B017]
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
)

// DefaultK is the cut-off used when neither the caller nor the qrels file
// sets one.
const DefaultK = 5

// QuerySpec is one labelled query.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g. "fantasy-kids"
	Query    string   `yaml:"query"`    // The search query
	Relevant []string `yaml:"relevant"` // unique_ids judged relevant
	Notes    string   `yaml:"notes"`    // Optional explanation for maintainers
}

// Qrels is a parsed qrels file.
type Qrels struct {
	K       int         `yaml:"k"`
	Queries []QuerySpec `yaml:"queries"`
}

// LoadQrels reads and validates a qrels YAML file.
func LoadQrels(path string) (*Qrels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read qrels %s: %w", path, err)
	}
	var q Qrels
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("eval: parse qrels %s: %w", path, err)
	}
	if len(q.Queries) == 0 {
		return nil, fmt.Errorf("eval: qrels %s has no queries", path)
	}
	for i, spec := range q.Queries {
		if spec.Query == "" {
			return nil, fmt.Errorf("eval: qrels %s: query %d is empty", path, i)
		}
		if spec.ID == "" {
			q.Queries[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return &q, nil
}

// RecallAtK is |relevant ∩ retrieved[:k]| / |relevant|, or 0 when relevant
// is empty.
func RecallAtK(relevant, retrieved []string, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	want := toSet(relevant)
	if k < len(retrieved) {
		retrieved = retrieved[:max(k, 0)]
	}
	found := map[string]struct{}{}
	for _, id := range retrieved {
		if _, ok := want[id]; ok {
			found[id] = struct{}{}
		}
	}
	return float64(len(found)) / float64(len(want))
}

// MRR is the reciprocal rank of the first relevant id in retrieved, or 0.
func MRR(relevant, retrieved []string) float64 {
	want := toSet(relevant)
	for i, id := range retrieved {
		if _, ok := want[id]; ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Searcher is the retrieval surface under evaluation.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Record, error)
}

// QueryResult is the outcome of one labelled query.
type QueryResult struct {
	Spec           QuerySpec     `json:"spec"`
	Retrieved      []string      `json:"retrieved"`
	Recall         float64       `json:"recall"`
	ReciprocalRank float64       `json:"reciprocal_rank"`
	Duration       time.Duration `json:"duration_ms"`
	Error          string        `json:"error,omitempty"`
}

// Report aggregates a full run.
type Report struct {
	K          int           `json:"k"`
	Results    []QueryResult `json:"results"`
	MeanRecall float64       `json:"mean_recall"`
	MRR        float64       `json:"mrr"`
	Failed     int           `json:"failed"`
}

// Run evaluates every query in qrels against s at cut-off k (k <= 0 uses
// the file's k, then DefaultK). A failing query scores 0 and is reported,
// not returned as an error; only cancellation aborts the run.
func Run(ctx context.Context, s Searcher, qrels *Qrels, k int) (*Report, error) {
	if k <= 0 {
		k = qrels.K
	}
	if k <= 0 {
		k = DefaultK
	}
	log := logging.FromContext(ctx)

	rep := &Report{K: k, Results: make([]QueryResult, 0, len(qrels.Queries))}
	for _, spec := range qrels.Queries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("eval: run: %w", err)
		}
		start := time.Now()
		res := QueryResult{Spec: spec}

		records, err := s.Retrieve(ctx, spec.Query, k)
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
			rep.Failed++
			log.Warn("eval: query failed", slog.String("id", spec.ID), slog.Any("error", err))
		} else {
			res.Retrieved = recordIDs(records)
			res.Recall = RecallAtK(spec.Relevant, res.Retrieved, k)
			res.ReciprocalRank = MRR(spec.Relevant, res.Retrieved)
		}
		rep.MeanRecall += res.Recall
		rep.MRR += res.ReciprocalRank
		rep.Results = append(rep.Results, res)
	}

	if n := len(rep.Results); n > 0 {
		rep.MeanRecall /= float64(n)
		rep.MRR /= float64(n)
	}
	log.Info("eval: run complete",
		slog.Int("queries", len(rep.Results)),
		slog.Int("k", k),
		slog.Float64("mean_recall", rep.MeanRecall),
		slog.Float64("mrr", rep.MRR),
		slog.Int("failed", rep.Failed),
	)
	return rep, nil
}

// recordIDs returns the identifier of each record, preferring unique_id.
func recordIDs(records []index.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		id := r.String("unique_id")
		if id == "" {
			id = r.String("asin")
		}
		if id == "" {
			id = r.String("title")
		}
		out = append(out, id)
	}
	return out
}
