// Package config provides layered configuration for bookinsight.
// Precedence, highest first: process env vars, a .env file in the working
// directory, a YAML file, then component defaults. Neither file ever
// overrides a variable that is already set.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. BOOKINSIGHT_CONFIG environment variable
//  3. ~/.bookinsight/config.yaml
//  4. ./bookinsight.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is the optional env file loaded from the working directory.
const DotEnvFile = ".env"

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// TextEncoder configures the text embedding space.
	TextEncoder EncoderConfig `yaml:"text_encoder"`

	// ImageEncoder configures the image (CLIP-style) embedding space.
	ImageEncoder EncoderConfig `yaml:"image_encoder"`

	// Index lists the shard locations per modality.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures access to Qdrant-backed shards.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Retrieval tunes query expansion, fusion and reranking.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Store configures the SQLite record store.
	Store StoreConfig `yaml:"store"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–2.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model id.
	Model string `yaml:"model"`
	// BaseURL overrides the regional endpoint.
	BaseURL string `yaml:"base_url"`
	// Region is the Ark region.
	Region string `yaml:"region"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EncoderConfig holds the settings of one embedding space.
type EncoderConfig struct {
	// Provider selects the backend: ollama, openai, azure, static.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env vars.
	APIKey string `yaml:"api_key"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// QueryPrefix is prepended to queries, e.g. "query: " for BGE models.
	QueryPrefix string `yaml:"query_prefix"`
	// CacheSize is the LRU embedding cache capacity.
	CacheSize int `yaml:"cache_size"`
}

// IndexConfig lists shard locations. Each entry is a directory or a
// qdrant://host:port/collection URL.
type IndexConfig struct {
	// Text lists the text-modality shards.
	Text []string `yaml:"text"`
	// Image lists the image-modality shards.
	Image []string `yaml:"image"`
	// EfSearch is the HNSW search-time candidate list size.
	EfSearch int `yaml:"ef_search"`
}

// QdrantConfig holds Qdrant connection settings shared by qdrant:// shards.
type QdrantConfig struct {
	// Host is the Qdrant server hostname used by ingestion.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port used by ingestion.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RetrievalConfig tunes the fused retrieval pipeline.
type RetrievalConfig struct {
	// FusionMethod is rrf or weighted.
	FusionMethod string `yaml:"fusion_method"`
	// RRFConstant is the RRF c constant.
	RRFConstant float64 `yaml:"rrf_constant"`
	// Alpha is the text weight for weighted fusion.
	Alpha float64 `yaml:"alpha"`
	// NormalizeTitles merges title ids case- and whitespace-insensitively.
	NormalizeTitles bool `yaml:"normalize_titles"`
	// Expander is llm, rules or none.
	Expander string `yaml:"expander"`
	// Variants is the number of query variants including the original.
	Variants int `yaml:"variants"`
	// OverFetch is the per-unit search depth.
	OverFetch int `yaml:"over_fetch"`
	// Parallelism bounds concurrent unit searches.
	Parallelism int `yaml:"parallelism"`
	// TopK is the default number of results.
	TopK int `yaml:"top_k"`
	// Rerank enables the LLM reranker.
	Rerank bool `yaml:"rerank"`
}

// StoreConfig holds SQLite record store settings.
type StoreConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
	// HistoryDepth is the number of prior turns replayed to the agent.
	HistoryDepth int `yaml:"history_depth"`
	// MaxContextTokens bounds system prompt, history and question.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var BOOKINSIGHT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-IP request rate on chat and search.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst on chat and search.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return floatStr(float64(c.Model.Temperature)) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"ARK_REGION", func(c *Config) string { return c.Model.Ark.Region }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"TEXT_ENCODER_PROVIDER", func(c *Config) string { return c.TextEncoder.Provider }},
	{"TEXT_ENCODER_MODEL", func(c *Config) string { return c.TextEncoder.Model }},
	{"TEXT_ENCODER_ENDPOINT", func(c *Config) string { return c.TextEncoder.Endpoint }},
	{"TEXT_ENCODER_API_KEY", func(c *Config) string { return c.TextEncoder.APIKey }},
	{"TEXT_ENCODER_DIMENSIONS", func(c *Config) string { return intStr(c.TextEncoder.Dimensions) }},
	{"TEXT_ENCODER_QUERY_PREFIX", func(c *Config) string { return c.TextEncoder.QueryPrefix }},
	{"TEXT_ENCODER_CACHE_SIZE", func(c *Config) string { return intStr(c.TextEncoder.CacheSize) }},
	{"IMAGE_ENCODER_PROVIDER", func(c *Config) string { return c.ImageEncoder.Provider }},
	{"IMAGE_ENCODER_MODEL", func(c *Config) string { return c.ImageEncoder.Model }},
	{"IMAGE_ENCODER_ENDPOINT", func(c *Config) string { return c.ImageEncoder.Endpoint }},
	{"IMAGE_ENCODER_API_KEY", func(c *Config) string { return c.ImageEncoder.APIKey }},
	{"IMAGE_ENCODER_DIMENSIONS", func(c *Config) string { return intStr(c.ImageEncoder.Dimensions) }},
	{"IMAGE_ENCODER_QUERY_PREFIX", func(c *Config) string { return c.ImageEncoder.QueryPrefix }},
	{"IMAGE_ENCODER_CACHE_SIZE", func(c *Config) string { return intStr(c.ImageEncoder.CacheSize) }},
	{"TEXT_INDEX", func(c *Config) string { return strings.Join(c.Index.Text, ",") }},
	{"IMAGE_INDEX", func(c *Config) string { return strings.Join(c.Index.Image, ",") }},
	{"INDEX_EF_SEARCH", func(c *Config) string { return intStr(c.Index.EfSearch) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"FUSION_METHOD", func(c *Config) string { return c.Retrieval.FusionMethod }},
	{"FUSION_RRF_CONSTANT", func(c *Config) string { return floatStr(c.Retrieval.RRFConstant) }},
	{"FUSION_ALPHA", func(c *Config) string { return floatStr(c.Retrieval.Alpha) }},
	{"FUSION_NORMALIZE_TITLES", func(c *Config) string { return boolStr(c.Retrieval.NormalizeTitles) }},
	{"QUERY_EXPANDER", func(c *Config) string { return c.Retrieval.Expander }},
	{"RETRIEVAL_VARIANTS", func(c *Config) string { return intStr(c.Retrieval.Variants) }},
	{"RETRIEVAL_OVERFETCH", func(c *Config) string { return intStr(c.Retrieval.OverFetch) }},
	{"RETRIEVAL_PARALLELISM", func(c *Config) string { return intStr(c.Retrieval.Parallelism) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RERANK_ENABLED", func(c *Config) string { return boolStr(c.Retrieval.Rerank) }},
	{"BOOKINSIGHT_DB", func(c *Config) string { return c.Store.DBPath }},
	{"HISTORY_DEPTH", func(c *Config) string { return intStr(c.Store.HistoryDepth) }},
	{"MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Store.MaxContextTokens) }},
	{"BOOKINSIGHT_HOST", func(c *Config) string { return c.Server.Host }},
	{"BOOKINSIGHT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"BOOKINSIGHT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"BOOKINSIGHT_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"BOOKINSIGHT_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// EnvKeys returns every env var name the YAML file can set, in file order.
func EnvKeys() []string {
	keys := make([]string, len(envMapping))
	for i, m := range envMapping {
		keys[i] = m.envKey
	}
	return keys
}

// Load applies the optional .env file, then reads a YAML config file and
// applies non-empty values as environment variables. Existing env vars are
// never overwritten. Returns the YAML path that was loaded, or empty string
// if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotEnv(DotEnvFile); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set: do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("BOOKINSIGHT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".bookinsight", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("bookinsight.yaml"); err == nil {
		return "bookinsight.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
