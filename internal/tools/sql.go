package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/store"
)

// SQLTool is an Eino tool that answers structured questions (counts,
// averages, filters by price or rating) with a read-only query over the
// books table.
type SQLTool struct {
	// runner executes the query.
	runner SQLRunner
	// schema is the books DDL shown to the model.
	schema string
}

// sqlInput is the JSON-serialisable input schema for SQLTool.
type sqlInput struct {
	// Query is a single SQLite SELECT statement.
	Query string `json:"query"`
}

// NewSQLTool constructs a SQLTool. ddl is included in the tool description
// so the model knows the column names.
func NewSQLTool(runner SQLRunner, ddl string) *SQLTool {
	return &SQLTool{runner: runner, schema: ddl}
}

// Name returns the tool name registered with the agent.
func (t *SQLTool) Name() string { return "sql_tool" }

// Description returns the LLM-facing description of this tool.
func (t *SQLTool) Description() string {
	d := "Runs one read-only SQLite SELECT query against the books database and returns " +
		fmt.Sprintf("up to %d rows as JSON. Use it for exact facts: prices, ratings, page counts, ", store.DefaultQueryRowLimit) +
		"authors, counts and averages."
	if t.schema != "" {
		d += "\nSchema:\n" + t.schema
	}
	return d
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SQLTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A single SELECT (or WITH ... SELECT) statement.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun executes the query. Rejected or failing statements are
// reported back to the model as text so it can correct itself.
func (t *SQLTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input sqlInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("sql_tool: invalid input: %w", err)
	}

	rows, err := t.runner.ReadOnlyQuery(ctx, input.Query, store.DefaultQueryRowLimit)
	switch {
	case errors.Is(err, store.ErrNotReadOnly):
		return "Query rejected: only a single SELECT statement is allowed.", nil
	case err != nil:
		if ctx.Err() != nil {
			return "", fmt.Errorf("sql_tool: %w", ctx.Err())
		}
		return fmt.Sprintf("Query failed: %v", err), nil
	case len(rows) == 0:
		return "Query returned no rows.", nil
	}
	return renderRecords(rows)
}
