// Package budget estimates token counts and trims conversation history so
// the agent's input fits the model's context window. BookInsight talks to
// several LLM backends with different tokenizers, so this package uses a
// conservative character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message token cost most chat APIs add for
	// role and separators.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits 8k-context models while leaving room for tool results and the
	// answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count of msgs, counting
// role, content and any tool-call arguments.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Function.Name) + Estimate(tc.Function.Arguments)
		}
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed + history fits
// within maxTokens. fixed holds messages that are never dropped (system
// prompt, current question). After trimming, leading assistant messages are
// also dropped so the history never opens with an answer to a question the
// model cannot see.
//
// If fixed alone exceeds the budget, an empty history is returned; callers
// should warn separately.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	trimmed := false
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
		trimmed = true
	}
	if trimmed {
		for len(history) > 0 && history[0].Role == schema.Assistant {
			history = history[1:]
		}
	}
	return history
}
