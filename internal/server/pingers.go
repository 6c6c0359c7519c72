package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/provider"
)

// LLMPinger probes the chat model backend. It satisfies the Pinger interface
// and is used by GET /api/ready.
type LLMPinger struct {
	// model is the chat model probed when no HTTP health check exists.
	model model.BaseChatModel
	// healthCheck is the zero-token probe for the configured backend, if any.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil for backends without an HTTP health endpoint.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend. A HealthCheckConfig is used exclusively when
// present; otherwise a single-token Generate call is made, which consumes
// tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no model configured", p.name)
	}

	logging.FromContext(ctx).Debug("pinger: probing with a generate call",
		"backend", p.name,
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// Pingable is any dependency exposing a context-aware liveness check.
// *index.Composite and *store.SQLiteStore satisfy it.
type Pingable interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts a Pingable dependency to the Pinger interface.
type DependencyPinger struct {
	// name is the dependency label used in readiness responses.
	name string
	// dep is the dependency probed.
	dep Pingable
}

// NewDependencyPinger constructs a DependencyPinger labelled name. Use it
// for the vector indexes (Qdrant-backed shards answer with the native
// HealthCheck RPC) and the SQLite store.
func NewDependencyPinger(name string, dep Pingable) *DependencyPinger {
	return &DependencyPinger{name: name, dep: dep}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping delegates to the wrapped dependency.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
