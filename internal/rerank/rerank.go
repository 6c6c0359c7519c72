// Package rerank reorders hydrated book records by relevance to the query
// using a chat model as a pairwise judge.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/textutil"
)

// ScoreField is the record key the reranker writes its score to.
const ScoreField = "rerank_score"

// maxPassage bounds the characters of record text sent to the model.
const maxPassage = 600

// Reranker reorders records for query and keeps at most topK. Implementations
// never fail: on error they return the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, records []index.Record, topK int) []index.Record
}

const scorePrompt = `You are a relevance judge for a book recommendation engine.
Rate how well each numbered passage answers the query on a scale from 0 (irrelevant) to 10 (perfect match).

Query: %s

Passages:
%s
Respond with ONLY a JSON array of %d numbers, one score per passage in order, for example:
[7, 2, 9]`

// LLM scores (query, passage) pairs with a chat model.
type LLM struct {
	model model.BaseChatModel
}

// NewLLM returns an LLM reranker.
func NewLLM(m model.BaseChatModel) (*LLM, error) {
	if m == nil {
		return nil, fmt.Errorf("rerank: chat model must not be nil")
	}
	return &LLM{model: m}, nil
}

type candidate struct {
	rec   index.Record
	text  string
	score float64
}

// Rerank implements Reranker. Records with neither content nor title are
// dropped; when none remain the input is returned, capped at topK.
func (l *LLM) Rerank(ctx context.Context, query string, records []index.Record, topK int) []index.Record {
	log := logging.FromContext(ctx)

	var cands []candidate
	for _, r := range records {
		text := strings.TrimSpace(r.String("content"))
		if text == "" {
			text = strings.TrimSpace(r.String("title"))
		}
		if text == "" {
			continue
		}
		cands = append(cands, candidate{rec: r, text: text})
	}
	if len(cands) == 0 {
		return capped(records, topK)
	}

	scores, err := l.score(ctx, query, cands)
	if err != nil {
		log.Warn("rerank: scoring failed, keeping fused order",
			slog.Int("candidates", len(cands)),
			slog.Any("error", err),
		)
		return capped(records, topK)
	}

	for i := range cands {
		cands[i].score = scores[i]
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	out := make([]index.Record, 0, len(cands))
	for _, c := range cands {
		rec := c.rec.Clone()
		rec[ScoreField] = c.score
		out = append(out, rec)
	}
	log.Debug("rerank: reordered records", slog.Int("records", len(out)))
	return capped(out, topK)
}

func (l *LLM) score(ctx context.Context, query string, cands []candidate) ([]float64, error) {
	var b strings.Builder
	for i, c := range cands {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, textutil.Truncate(c.text, maxPassage))
	}

	msg, err := l.model.Generate(ctx, []*schema.Message{
		schema.UserMessage(fmt.Sprintf(scorePrompt, query, b.String(), len(cands))),
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: generate: %w", err)
	}
	if msg == nil {
		return nil, errors.New("rerank: empty model response")
	}
	return parseScores(msg.Content, len(cands))
}

// parseScores extracts exactly n numbers from a JSON array in the output,
// tolerating a code fence or surrounding prose.
func parseScores(output string, n int) ([]float64, error) {
	start, end := strings.Index(output, "["), strings.LastIndex(output, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("rerank: no JSON array in %q", textutil.Truncate(output, 80))
	}
	var scores []float64
	if err := json.Unmarshal([]byte(output[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("rerank: parse scores: %w", err)
	}
	if len(scores) != n {
		return nil, fmt.Errorf("rerank: want %d scores, got %d", n, len(scores))
	}
	return scores, nil
}

func capped(records []index.Record, topK int) []index.Record {
	if topK > 0 && len(records) > topK {
		return records[:topK]
	}
	return records
}
