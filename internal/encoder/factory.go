package encoder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Env prefixes of the two embedding spaces.
const (
	TextPrefix  = "TEXT_ENCODER"
	ImagePrefix = "IMAGE_ENCODER"
)

// Default embedding models per backend.
const (
	defaultOllamaModel      = "nomic-embed-text"
	defaultOllamaImageModel = "clip"
	defaultOpenAIModel      = "text-embedding-3-small"
)

// Settings is the resolved configuration of one encoder.
type Settings struct {
	// Provider is one of ollama, openai, azure, static.
	Provider string
	// Model is the embedding model or deployment name.
	Model string
	// Endpoint is the backend base URL.
	Endpoint string
	// APIKey authenticates openai and azure backends.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dimensions is the requested vector length (0 = model default).
	Dimensions int
	// QueryPrefix is prepended to queries, e.g. "query: " for BGE models.
	QueryPrefix string
	// CacheSize is the LRU capacity; 0 disables caching.
	CacheSize int
}

// Namespace identifies the embedding space for cache keys and metrics.
func (s Settings) Namespace() string {
	return s.Provider + ":" + s.Model
}

// SettingsFromEnv resolves settings for the encoder whose variables start
// with prefix (TEXT_ENCODER or IMAGE_ENCODER).
//
// Resolution order for each field:
//
//  1. <prefix>_<FIELD>
//  2. EMBEDDING_<FIELD>
//  3. the chat provider credentials (OPENAI_API_KEY, AZURE_OPENAI_*, OLLAMA_HOST)
//  4. the backend default
func SettingsFromEnv(prefix string) Settings {
	lookup := func(field string) string {
		if v := getEnv(prefix + "_" + field); v != "" {
			return v
		}
		return getEnv("EMBEDDING_" + field)
	}

	s := Settings{
		Provider:    strings.ToLower(lookup("PROVIDER")),
		Model:       lookup("MODEL"),
		Endpoint:    lookup("ENDPOINT"),
		APIKey:      lookup("API_KEY"),
		QueryPrefix: getEnv(prefix + "_QUERY_PREFIX"),
		CacheSize:   getEnvInt(prefix+"_CACHE_SIZE", DefaultCacheSize),
	}
	if v := lookup("DIMENSIONS"); v != "" {
		s.Dimensions, _ = strconv.Atoi(v)
	}
	if s.Provider == "" {
		s.Provider = "ollama"
	}

	switch s.Provider {
	case "ollama":
		if s.Endpoint == "" {
			s.Endpoint = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		if s.Model == "" {
			s.Model = defaultOllamaModel
			if prefix == ImagePrefix {
				s.Model = defaultOllamaImageModel
			}
		}
	case "openai":
		if s.APIKey == "" {
			s.APIKey = getEnv("OPENAI_API_KEY")
		}
		if s.Model == "" {
			s.Model = defaultOpenAIModel
		}
	case "azure":
		if s.APIKey == "" {
			s.APIKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if s.Endpoint == "" {
			s.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		s.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
		if s.Model == "" {
			s.Model = defaultOpenAIModel
		}
	case "static":
		if s.Model == "" {
			s.Model = "hash"
		}
	}
	return s
}

// New constructs the encoder described by s, wrapped in a CachedEncoder when
// s.CacheSize > 0. metrics may be nil.
func New(s Settings, metrics *CacheMetrics) (Encoder, error) {
	var enc Encoder
	switch s.Provider {
	case "ollama":
		enc = NewOllamaEncoder(&OllamaConfig{Host: s.Endpoint, Model: s.Model})
	case "openai":
		if s.APIKey == "" {
			return nil, fmt.Errorf("encoder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		enc = NewOpenAIEncoder(&OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	case "azure":
		if s.APIKey == "" {
			return nil, fmt.Errorf("encoder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if s.Endpoint == "" {
			return nil, fmt.Errorf("encoder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		enc = NewOpenAIEncoder(&OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Azure:      true,
			APIVersion: s.APIVersion,
		})
	case "static":
		enc = NewStaticEncoder(s.Dimensions)
	default:
		return nil, fmt.Errorf("encoder: unknown provider %q: valid values: ollama, openai, azure, static", s.Provider)
	}

	if s.CacheSize > 0 {
		return NewCachedEncoder(enc, s.Namespace(), s.CacheSize, metrics)
	}
	return enc, nil
}

// FactoryFromEnv returns a Factory that resolves settings for prefix when
// first called.
func FactoryFromEnv(prefix string, metrics *CacheMetrics) Factory {
	return func(context.Context) (Encoder, error) {
		return New(SettingsFromEnv(prefix), metrics)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
