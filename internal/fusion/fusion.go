// Package fusion merges several ranked hit lists into one deduplicated
// ranking. Two scoring methods are supported: Reciprocal Rank Fusion and a
// min-max weighted blend of text and image scores.
package fusion

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/54b3r/bookinsight/internal/index"
)

// Method selects how a hit's contribution to its group score is computed.
type Method string

const (
	// MethodRRF scores a hit at rank r as 1/(c + r).
	MethodRRF Method = "rrf"
	// MethodWeighted scores a hit by its min-max normalized score times the
	// weight of its modality.
	MethodWeighted Method = "weighted"
)

const (
	// DefaultRRFConstant flattens rank differences so breadth of support
	// dominates.
	DefaultRRFConstant = 60.0
	// MultimodalRRFConstant sharpens rank differences; used when fusing text
	// and image lists for a single query.
	MultimodalRRFConstant = 10.0
	// DefaultAlpha is the text weight of the weighted method.
	DefaultAlpha = 0.7
)

// ErrUnknownMethod is returned for a fusion method name outside the closed set.
var ErrUnknownMethod = errors.New("fusion: unknown method")

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodRRF, MethodWeighted:
		return m, nil
	default:
		return "", fmt.Errorf("%w %q: valid values: rrf, weighted", ErrUnknownMethod, s)
	}
}

// Config configures an Engine.
type Config struct {
	// Method is the scoring method.
	Method Method
	// RRFConstant is c in 1/(c + r). Zero selects DefaultRRFConstant.
	RRFConstant float64
	// Alpha is the text weight of the weighted method; image hits get
	// 1 - Alpha. Must lie in [0, 1].
	Alpha float64
	// NormalizeTitles lower-cases and collapses whitespace in canonical ids
	// derived from the title field.
	NormalizeTitles bool
}

// DefaultConfig returns RRF with c = 60 and alpha = 0.7.
func DefaultConfig() Config {
	return Config{Method: MethodRRF, RRFConstant: DefaultRRFConstant, Alpha: DefaultAlpha}
}

// Result is one entry of the fused ranking.
type Result struct {
	// CanonicalID is the identity the contributing hits were grouped under.
	CanonicalID string `json:"canonical_id"`
	// Score is the sum of all contributions.
	Score float64 `json:"fusion_score"`
	// Rank is the 1-based position in the fused ranking.
	Rank int `json:"fusion_rank"`
	// SupportCount is the number of hits that contributed.
	SupportCount int `json:"support_count"`
	// Sources is the sorted set of contributing modalities.
	Sources []index.Modality `json:"sources"`
	// Metadata is the best record seen for the group.
	Metadata index.Record `json:"metadata"`
}

// Engine fuses ranked lists. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if _, err := ParseMethod(string(cfg.Method)); err != nil {
		return nil, err
	}
	if cfg.RRFConstant == 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.RRFConstant < 0 {
		return nil, fmt.Errorf("fusion: rrf constant must be positive, got %v", cfg.RRFConstant)
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("fusion: alpha must be in [0,1], got %v", cfg.Alpha)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration with defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// RRFScore returns 1/(c + rank).
func RRFScore(rank int, c float64) float64 {
	return 1 / (c + float64(rank))
}

// group accumulates the contributions of one canonical id.
type group struct {
	id        string
	score     float64
	support   int
	sources   map[index.Modality]struct{}
	metadata  index.Record
	firstSeen int
}

// Fuse merges lists into one ranking truncated to k (k <= 0 keeps every
// group). Each list must already be ordered best-first.
func (e *Engine) Fuse(lists [][]index.Hit, k int) []Result {
	groups := make(map[string]*group)
	var order []*group

	add := func(id string, contribution float64, hit index.Hit) {
		g, ok := groups[id]
		if !ok {
			g = &group{id: id, sources: make(map[index.Modality]struct{}), firstSeen: len(order)}
			groups[id] = g
			order = append(order, g)
		}
		g.score += contribution
		g.support++
		g.sources[hit.Source] = struct{}{}
		g.metadata = betterMetadata(g.metadata, hit.Metadata)
	}

	for li, list := range lists {
		if len(list) == 0 {
			continue
		}
		switch e.cfg.Method {
		case MethodRRF:
			for hi, hit := range list {
				rank := hit.Rank
				if rank <= 0 {
					rank = hi + 1
				}
				add(e.canonicalID(hit, li, hi), RRFScore(rank, e.cfg.RRFConstant), hit)
			}
		case MethodWeighted:
			weight := e.weight(list[0].Source)
			if weight == 0 {
				continue
			}
			norm := minMax(list)
			for hi, hit := range list {
				add(e.canonicalID(hit, li, hi), weight*norm[hi], hit)
			}
		}
	}

	slices.SortStableFunc(order, func(a, b *group) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		case a.support != b.support:
			return b.support - a.support
		default:
			return a.firstSeen - b.firstSeen
		}
	})

	if k > 0 && len(order) > k {
		order = order[:k]
	}

	results := make([]Result, len(order))
	for i, g := range order {
		sources := make([]index.Modality, 0, len(g.sources))
		for m := range g.sources {
			sources = append(sources, m)
		}
		slices.Sort(sources)
		md := g.metadata
		if md == nil {
			md = index.Record{}
		}
		results[i] = Result{
			CanonicalID:  g.id,
			Score:        g.score,
			Rank:         i + 1,
			SupportCount: g.support,
			Sources:      sources,
			Metadata:     md,
		}
	}
	return results
}

// weight returns the blend weight of a modality.
func (e *Engine) weight(m index.Modality) float64 {
	if m == index.ModalityImage {
		return 1 - e.cfg.Alpha
	}
	return e.cfg.Alpha
}

// minMax normalizes the scores of one list to [0,1]. A list whose scores are
// all equal normalizes to zeros.
func minMax(list []index.Hit) []float64 {
	lo, hi := float64(list[0].Score), float64(list[0].Score)
	for _, h := range list[1:] {
		s := float64(h.Score)
		lo = min(lo, s)
		hi = max(hi, s)
	}
	out := make([]float64, len(list))
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, h := range list {
		out[i] = (float64(h.Score) - lo) / span
	}
	return out
}

// idFields are the metadata keys tried, in order, to identify a hit.
var idFields = []string{"unique_id", "asin", "id"}

// canonicalID resolves the grouping key of a hit. Hits with no identifying
// field get a key unique to their list position and are never merged.
func (e *Engine) canonicalID(hit index.Hit, list, pos int) string {
	for _, f := range idFields {
		if v := strings.TrimSpace(hit.Metadata.String(f)); v != "" {
			return v
		}
	}
	if title := hit.Metadata.String("title"); strings.TrimSpace(title) != "" {
		if e.cfg.NormalizeTitles {
			return NormalizeTitle(title)
		}
		return title
	}
	return fmt.Sprintf("_hit/%d/%d", list, pos)
}

// NormalizeTitle lower-cases s, collapses runs of whitespace to one space
// and trims the ends.
func NormalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// betterMetadata keeps the first non-empty record and upgrades it until a
// record carrying a title has been seen.
func betterMetadata(current, candidate index.Record) index.Record {
	if len(candidate) == 0 {
		return current
	}
	if len(current) == 0 {
		return candidate
	}
	if current.String("title") == "" {
		return candidate
	}
	return current
}
