// Package tracing wires optional Langfuse tracing into the Eino callback
// system so every chat model call made by the agent, the query expander and
// the reranker is traced.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/bookinsight/internal/version"
)

// defaultHost is the Langfuse host used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Settings holds the Langfuse connection details.
type Settings struct {
	// Host is the Langfuse API host.
	Host string
	// PublicKey is the Langfuse project public key.
	PublicKey string
	// SecretKey is the Langfuse project secret key.
	SecretKey string
}

// Enabled reports whether both keys are present.
func (s Settings) Enabled() bool {
	return s.PublicKey != "" && s.SecretKey != ""
}

// SettingsFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func SettingsFromEnv() Settings {
	s := Settings{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if s.Host == "" {
		s.Host = defaultHost
	}
	return s
}

// Setup initialises the Langfuse callback handler from the environment.
// Returns a flush function that must be called before process exit to ensure
// all traces are sent. If Langfuse is not configured, ok is false and the
// other return values are nil.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	s := SettingsFromEnv()
	if !s.Enabled() {
		return nil, nil, false
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      s.Host,
		PublicKey: s.PublicKey,
		SecretKey: s.SecretKey,
		Name:      "bookinsight",
		Release:   version.Version,
	})

	return handler, flush, true
}
