// Package tools defines the BookTool interface and the book-domain tool
// implementations the agent can invoke during a conversation. Each tool
// satisfies both this package's interface and Eino's tool.InvokableTool
// interface so they can be registered directly with the ReAct agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/store"
	"github.com/54b3r/bookinsight/internal/textutil"
)

// DefaultUserID is used when a request carries no user id.
const DefaultUserID = "default_user"

// BookTool is the interface all book-domain tools satisfy. It adds Name and
// Description accessors so the agent can log and route tool calls by name
// without type assertions.
type BookTool interface {
	// Name returns the unique tool name registered with the agent.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// This text is sent to the LLM as part of the tool schema.
	Description() string
}

// Retriever runs fused book retrieval. Satisfied by *smart.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Record, error)
}

// SQLRunner executes read-only SQL against the books table. Satisfied by
// *store.SQLiteStore.
type SQLRunner interface {
	ReadOnlyQuery(ctx context.Context, query string, limit int) ([]index.Record, error)
}

// PreferenceStore saves and lists user preferences. Satisfied by
// *store.SQLiteStore.
type PreferenceStore interface {
	SavePreference(ctx context.Context, userID string, p store.Preference) error
	Preferences(ctx context.Context, userID string) ([]store.Preference, error)
}

// userIDKey is the context key carrying the current user id.
type userIDKey struct{}

// WithUserID returns a copy of ctx carrying userID for tools that act on
// behalf of a user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id stored in ctx, or DefaultUserID.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultUserID
}

// maxFieldChars bounds long text fields in tool output to keep the agent's
// context small.
const maxFieldChars = 400

// renderRecords encodes records as a JSON array for the LLM, shortening long
// text fields.
func renderRecords(records []index.Record) (string, error) {
	out := make([]index.Record, len(records))
	for i, r := range records {
		c := r.Clone()
		for _, field := range []string{"content", "description"} {
			if s := c.String(field); len(s) > maxFieldChars {
				c[field] = textutil.Truncate(s, maxFieldChars)
			}
		}
		out[i] = c
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tools: encode records: %w", err)
	}
	return string(b), nil
}
