package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/bookinsight/internal/store"
)

// SavePreferenceTool is an Eino tool that remembers a reading preference for
// the current user.
type SavePreferenceTool struct {
	// prefs persists the preference.
	prefs PreferenceStore
}

// savePreferenceInput is the JSON-serialisable input schema for SavePreferenceTool.
type savePreferenceInput struct {
	// Type is the preference category, e.g. "genre" or "author".
	Type string `json:"preference_type"`

	// Value is the preferred value, e.g. "fantasy".
	Value string `json:"preference_value"`
}

// NewSavePreferenceTool constructs a SavePreferenceTool.
func NewSavePreferenceTool(prefs PreferenceStore) *SavePreferenceTool {
	return &SavePreferenceTool{prefs: prefs}
}

// Name returns the tool name registered with the agent.
func (t *SavePreferenceTool) Name() string { return "save_user_preference" }

// Description returns the LLM-facing description of this tool.
func (t *SavePreferenceTool) Description() string {
	return "Saves a reading preference the user stated, such as a favourite genre, author, " +
		"age group or theme, so later recommendations can be personalised."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SavePreferenceTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"preference_type": {
				Type:     schema.String,
				Desc:     "Category of the preference: genre, author, age_group, theme or format.",
				Required: true,
			},
			"preference_value": {
				Type:     schema.String,
				Desc:     "The preferred value, e.g. \"fantasy\" or \"Terry Pratchett\".",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun saves the preference for the user carried in ctx.
func (t *SavePreferenceTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input savePreferenceInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("save_user_preference: invalid input: %w", err)
	}
	p := store.Preference{
		Type:  strings.ToLower(strings.TrimSpace(input.Type)),
		Value: strings.TrimSpace(input.Value),
	}
	if p.Type == "" || p.Value == "" {
		return "", fmt.Errorf("save_user_preference: preference_type and preference_value are required")
	}
	if err := t.prefs.SavePreference(ctx, UserIDFromContext(ctx), p); err != nil {
		return "", fmt.Errorf("save_user_preference: %w", err)
	}
	return fmt.Sprintf("Saved preference: %s = %s", p.Type, p.Value), nil
}

// RecommendationTool is an Eino tool that recommends books from the current
// user's saved preferences.
type RecommendationTool struct {
	// prefs lists the saved preferences.
	prefs PreferenceStore
	// retriever runs the fused search.
	retriever Retriever
}

// NewRecommendationTool constructs a RecommendationTool.
func NewRecommendationTool(prefs PreferenceStore, r Retriever) *RecommendationTool {
	return &RecommendationTool{prefs: prefs, retriever: r}
}

// Name returns the tool name registered with the agent.
func (t *RecommendationTool) Name() string { return "get_personalized_recommendation" }

// Description returns the LLM-facing description of this tool.
func (t *RecommendationTool) Description() string {
	return "Recommends books based on every preference the user has saved. " +
		"Use this when the user asks for something \"for me\" without further detail."
}

// Info returns the Eino tool metadata. The tool takes no arguments.
func (t *RecommendationTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.Name(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

// InvokableRun builds a query from the saved preferences and searches it.
func (t *RecommendationTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	prefs, err := t.prefs.Preferences(ctx, UserIDFromContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get_personalized_recommendation: %w", err)
	}
	query, err := store.RecommendationQuery(prefs)
	if errors.Is(err, store.ErrNoPreferences) {
		return "The user has not saved any preferences yet. Ask what genres or authors they enjoy.", nil
	}
	if err != nil {
		return "", fmt.Errorf("get_personalized_recommendation: %w", err)
	}

	records, err := t.retriever.Retrieve(ctx, query, retrieverTopK)
	if err != nil {
		return "", fmt.Errorf("get_personalized_recommendation: %w", err)
	}
	if len(records) == 0 {
		return "No books matched the saved preferences.", nil
	}
	return renderRecords(records)
}
