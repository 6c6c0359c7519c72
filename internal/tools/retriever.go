package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// retrieverTopK is the number of books returned to the agent per search.
const retrieverTopK = 3

// RetrieverTool is an Eino tool that runs multi-query fused retrieval over
// the book indexes and returns the best matches as JSON.
type RetrieverTool struct {
	// retriever runs the fused search.
	retriever Retriever
}

// retrieverInput is the JSON-serialisable input schema for RetrieverTool.
type retrieverInput struct {
	// Query is the natural-language book request.
	Query string `json:"query"`
}

// NewRetrieverTool constructs a RetrieverTool.
func NewRetrieverTool(r Retriever) *RetrieverTool {
	return &RetrieverTool{retriever: r}
}

// Name returns the tool name registered with the agent.
func (t *RetrieverTool) Name() string { return "smart_book_retriever" }

// Description returns the LLM-facing description of this tool.
func (t *RetrieverTool) Description() string {
	return "Finds books matching a natural-language description using semantic search over " +
		"book text and cover images. Use this for recommendations and open-ended questions " +
		"about themes, genres, audiences or plots."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *RetrieverTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "What the reader is looking for, e.g. \"funny fantasy books for ten year olds\".",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun executes the search and returns the matching books as a JSON
// array, each with its fusion_score.
func (t *RetrieverTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input retrieverInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("smart_book_retriever: invalid input: %w", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return "", fmt.Errorf("smart_book_retriever: query is required")
	}

	records, err := t.retriever.Retrieve(ctx, input.Query, retrieverTopK)
	if err != nil {
		return "", fmt.Errorf("smart_book_retriever: %w", err)
	}
	if len(records) == 0 {
		return "No matching books were found.", nil
	}
	return renderRecords(records)
}
