package expander

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/textutil"
)

// paraphrasePrompt asks for a bare JSON array so parsing stays strict.
const paraphrasePrompt = `You generate alternative search queries for a book recommendation engine.
Write %d different search queries that mean the same as the original query.
Vary the wording and cover different aspects of the request (audience, genre, theme).

Original query: %s

Respond with ONLY a JSON array of strings, for example:
["query 1", "query 2"]`

// minListLine is the shortest bullet or numbered line accepted as a
// paraphrase when the model ignores the JSON instruction.
const minListLine = 10

// LLM generates paraphrases with a chat model.
type LLM struct {
	model model.BaseChatModel
}

// NewLLM returns an LLM paraphraser.
func NewLLM(m model.BaseChatModel) (*LLM, error) {
	if m == nil {
		return nil, fmt.Errorf("expander: chat model must not be nil")
	}
	return &LLM{model: m}, nil
}

// Paraphrase asks the model for n paraphrases.
func (l *LLM) Paraphrase(ctx context.Context, query string, n int) ([]string, error) {
	msg, err := l.model.Generate(ctx, []*schema.Message{
		schema.UserMessage(fmt.Sprintf(paraphrasePrompt, n, query)),
	})
	if err != nil {
		return nil, fmt.Errorf("expander: generate: %w", err)
	}
	if msg == nil {
		return nil, errors.New("expander: empty model response")
	}
	out, err := parseList(msg.Content)
	if err != nil {
		return nil, err
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// parseList extracts a list of strings from model output. It accepts a JSON
// array, a JSON array inside a fenced code block, or one item per line with
// optional bullet or number markers.
func parseList(output string) ([]string, error) {
	text := strings.TrimSpace(stripFence(output))
	if text == "" {
		return nil, errors.New("expander: empty model output")
	}

	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		var items []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &items); err == nil {
			return items, nil
		}
	}

	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-•*1234567890.) ")
		line = strings.Trim(line, `"',`)
		if len(line) > minListLine {
			items = append(items, line)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("expander: could not parse paraphrases from %q", textutil.Truncate(output, 80))
	}
	return items, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
