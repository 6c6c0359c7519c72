// Package expander turns one user question into several search phrasings.
// Expansion is best-effort: when paraphrase generation fails the caller
// still gets the original question back and retrieval runs single-query.
package expander

import (
	"context"
	"log/slog"
	"strings"

	"github.com/54b3r/bookinsight/internal/logging"
)

// DefaultVariants is the number of variants (original included) requested
// when the caller passes n <= 0.
const DefaultVariants = 3

// Paraphraser generates up to n rephrasings of query. It may fail; the
// result may include the query itself or duplicates.
type Paraphraser interface {
	Paraphrase(ctx context.Context, query string, n int) ([]string, error)
}

// Expander wraps a Paraphraser with the ordering, dedup and degradation
// rules retrieval relies on.
type Expander struct {
	p Paraphraser
}

// New returns an Expander over p. A nil p yields single-query expansion.
func New(p Paraphraser) *Expander {
	return &Expander{p: p}
}

// Expand returns query followed by up to n-1 distinct paraphrases. It never
// fails: any paraphrase error is logged and [query] is returned.
func (e *Expander) Expand(ctx context.Context, query string, n int) []string {
	if n <= 0 {
		n = DefaultVariants
	}
	out := []string{query}
	if e.p == nil || n == 1 {
		return out
	}

	candidates, err := e.p.Paraphrase(ctx, query, n-1)
	if err != nil {
		logging.FromContext(ctx).Warn("expander: paraphrase failed, using original query only",
			slog.String("query", query),
			slog.Any("error", err),
		)
		return out
	}

	seen := map[string]struct{}{normalizeKey(query): {}}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := normalizeKey(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}

	logging.FromContext(ctx).Debug("expander: generated query variants",
		slog.Int("variants", len(out)),
		slog.Any("queries", out),
	)
	return out
}

// normalizeKey is the dedup key of a variant.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
