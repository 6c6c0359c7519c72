package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/store"
)

var (
	_ tool.InvokableTool = (*RetrieverTool)(nil)
	_ tool.InvokableTool = (*SQLTool)(nil)
	_ tool.InvokableTool = (*SavePreferenceTool)(nil)
	_ tool.InvokableTool = (*RecommendationTool)(nil)
)

type fakeRetriever struct {
	records []index.Record
	err     error
	query   string
	topK    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int) ([]index.Record, error) {
	f.query, f.topK = query, topK
	return f.records, f.err
}

type fakeSQL struct {
	rows  []index.Record
	err   error
	limit int
}

func (f *fakeSQL) ReadOnlyQuery(_ context.Context, _ string, limit int) ([]index.Record, error) {
	f.limit = limit
	return f.rows, f.err
}

type fakePrefs struct {
	saved map[string][]store.Preference
	err   error
}

func (f *fakePrefs) SavePreference(_ context.Context, userID string, p store.Preference) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = map[string][]store.Preference{}
	}
	f.saved[userID] = append(f.saved[userID], p)
	return nil
}

func (f *fakePrefs) Preferences(_ context.Context, userID string) ([]store.Preference, error) {
	return f.saved[userID], f.err
}

func TestUserIDFromContext(t *testing.T) {
	assert.Equal(t, DefaultUserID, UserIDFromContext(context.Background()))
	assert.Equal(t, DefaultUserID, UserIDFromContext(WithUserID(context.Background(), "")))
	assert.Equal(t, "alice", UserIDFromContext(WithUserID(context.Background(), "alice")))
}

func TestRetrieverTool_ReturnsJSON(t *testing.T) {
	// Given: a retriever returning one book with long content
	long := strings.Repeat("x", maxFieldChars+50)
	r := &fakeRetriever{records: []index.Record{{"unique_id": "b1", "title": "Dune", "content": long, "fusion_score": 0.03}}}
	tl := NewRetrieverTool(r)

	// When
	out, err := tl.InvokableRun(context.Background(), `{"query":"desert planet epic"}`)

	// Then: top 3 requested, content shortened, score kept
	require.NoError(t, err)
	assert.Equal(t, "desert planet epic", r.query)
	assert.Equal(t, retrieverTopK, r.topK)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Dune", got[0]["title"])
	assert.InDelta(t, 0.03, got[0]["fusion_score"], 1e-9)
	assert.Len(t, got[0]["content"], maxFieldChars+3)
	assert.Len(t, r.records[0]["content"], maxFieldChars+50, "input record must not be modified")
}

func TestRetrieverTool_Errors(t *testing.T) {
	tl := NewRetrieverTool(&fakeRetriever{})
	_, err := tl.InvokableRun(context.Background(), `{"query":"  "}`)
	require.Error(t, err)

	_, err = tl.InvokableRun(context.Background(), `not json`)
	require.Error(t, err)

	out, err := tl.InvokableRun(context.Background(), `{"query":"anything"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "No matching books")

	_, err = NewRetrieverTool(&fakeRetriever{err: errors.New("down")}).InvokableRun(context.Background(), `{"query":"q"}`)
	require.Error(t, err)
}

func TestSQLTool_ResultsAndRejections(t *testing.T) {
	ok := &fakeSQL{rows: []index.Record{{"avg_price": 12.5}}}
	out, err := NewSQLTool(ok, "CREATE TABLE books (...)").InvokableRun(context.Background(), `{"query":"SELECT AVG(price) AS avg_price FROM books"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"avg_price":12.5}]`, out)
	assert.Equal(t, store.DefaultQueryRowLimit, ok.limit)

	rejected := &fakeSQL{err: fmt.Errorf("wrapped: %w", store.ErrNotReadOnly)}
	out, err = NewSQLTool(rejected, "").InvokableRun(context.Background(), `{"query":"DROP TABLE books"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "rejected")

	failing := &fakeSQL{err: errors.New("no such column: pricee")}
	out, err = NewSQLTool(failing, "").InvokableRun(context.Background(), `{"query":"SELECT pricee FROM books"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "no such column")

	out, err = NewSQLTool(&fakeSQL{}, "").InvokableRun(context.Background(), `{"query":"SELECT 1 WHERE 0"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "no rows")
}

func TestSQLTool_DescriptionIncludesSchema(t *testing.T) {
	tl := NewSQLTool(&fakeSQL{}, "CREATE TABLE books (unique_id TEXT)")
	info, err := tl.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sql_tool", info.Name)
	assert.Contains(t, info.Desc, "unique_id TEXT")
}

func TestSavePreferenceTool_UsesContextUser(t *testing.T) {
	prefs := &fakePrefs{}
	tl := NewSavePreferenceTool(prefs)
	ctx := WithUserID(context.Background(), "bob")

	out, err := tl.InvokableRun(ctx, `{"preference_type":" Genre ","preference_value":"cozy mystery"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "genre = cozy mystery")
	assert.Equal(t, []store.Preference{{Type: "genre", Value: "cozy mystery"}}, prefs.saved["bob"])

	_, err = tl.InvokableRun(ctx, `{"preference_type":"genre"}`)
	require.Error(t, err)
}

func TestRecommendationTool(t *testing.T) {
	t.Run("builds query from preferences", func(t *testing.T) {
		prefs := &fakePrefs{saved: map[string][]store.Preference{
			"carol": {{Type: "genre", Value: "fantasy"}, {Type: "author", Value: "Le Guin"}},
		}}
		r := &fakeRetriever{records: []index.Record{{"unique_id": "b7", "title": "A Wizard of Earthsea"}}}
		tl := NewRecommendationTool(prefs, r)

		out, err := tl.InvokableRun(WithUserID(context.Background(), "carol"), `{}`)
		require.NoError(t, err)
		assert.Equal(t, "Find books based on: genre fantasy AND author Le Guin", r.query)
		assert.Contains(t, out, "Earthsea")
	})

	t.Run("no preferences", func(t *testing.T) {
		r := &fakeRetriever{}
		out, err := NewRecommendationTool(&fakePrefs{}, r).InvokableRun(context.Background(), `{}`)
		require.NoError(t, err)
		assert.Contains(t, out, "not saved any preferences")
		assert.Empty(t, r.query, "retriever must not be called")
	})

	t.Run("store failure", func(t *testing.T) {
		_, err := NewRecommendationTool(&fakePrefs{err: errors.New("locked")}, &fakeRetriever{}).InvokableRun(context.Background(), `{}`)
		require.Error(t, err)
	})
}
