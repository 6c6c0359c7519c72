package encoder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelFragments identify chat/completion models that are not
// suitable for embedding.
var knownChatModelFragments = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, frag := range knownChatModelFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check on resolved settings. It returns an error
// for configurations that cannot work and logs a warning for ones that
// probably will not. label names the embedding space in messages.
func Validate(log *slog.Logger, label string, s Settings) error {
	switch s.Provider {
	case "ollama", "static":
	case "openai":
		if s.APIKey == "" {
			return fmt.Errorf("encoder: %s: no OpenAI API key found: set OPENAI_API_KEY or EMBEDDING_API_KEY", label)
		}
	case "azure":
		if s.APIKey == "" {
			return fmt.Errorf("encoder: %s: no Azure API key found: set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", label)
		}
		if s.Endpoint == "" {
			return fmt.Errorf("encoder: %s: no Azure endpoint found: set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", label)
		}
	default:
		return fmt.Errorf("encoder: %s: unknown provider %q", label, s.Provider)
	}

	if looksLikeChatModel(s.Model) {
		log.Warn("encoder: model looks like a chat model, not an embedding model",
			slog.String("encoder", label),
			slog.String("model", s.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, bge-m3, text-embedding-3-small"),
		)
	}
	return nil
}
