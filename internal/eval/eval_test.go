package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/bookinsight/internal/index"
)

func TestRecallAtK(t *testing.T) {
	tests := []struct {
		name      string
		relevant  []string
		retrieved []string
		k         int
		want      float64
	}{
		{"all found", []string{"a", "b"}, []string{"b", "a", "c"}, 5, 1},
		{"half found", []string{"a", "b"}, []string{"a", "c"}, 5, 0.5},
		{"cut off by k", []string{"a", "b"}, []string{"c", "a", "b"}, 1, 0},
		{"duplicate retrieved counted once", []string{"a", "b"}, []string{"a", "a"}, 5, 0.5},
		{"no relevant", nil, []string{"a"}, 5, 0},
		{"nothing retrieved", []string{"a"}, nil, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecallAtK(tt.relevant, tt.retrieved, tt.k), 1e-12)
		})
	}
}

func TestMRR(t *testing.T) {
	assert.InDelta(t, 1.0, MRR([]string{"a"}, []string{"a", "b"}), 1e-12)
	assert.InDelta(t, 1.0/3, MRR([]string{"c", "z"}, []string{"a", "b", "c"}), 1e-12)
	assert.Zero(t, MRR([]string{"x"}, []string{"a", "b"}))
	assert.Zero(t, MRR(nil, nil))
}

func writeQrels(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qrels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadQrels(t *testing.T) {
	path := writeQrels(t, `
k: 3
queries:
  - id: kids
    query: fantasy books for children
    relevant: [b1, b2]
  - query: space opera
    relevant: [b9]
`)
	q, err := LoadQrels(path)
	require.NoError(t, err)
	assert.Equal(t, 3, q.K)
	require.Len(t, q.Queries, 2)
	assert.Equal(t, "kids", q.Queries[0].ID)
	assert.Equal(t, "q2", q.Queries[1].ID)
	assert.Equal(t, []string{"b1", "b2"}, q.Queries[0].Relevant)
}

func TestLoadQrels_Errors(t *testing.T) {
	_, err := LoadQrels(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadQrels(writeQrels(t, "queries: []\n"))
	require.Error(t, err)

	_, err = LoadQrels(writeQrels(t, "queries:\n  - relevant: [a]\n"))
	require.Error(t, err)
}

type fakeSearcher struct {
	results map[string][]index.Record
	errs    map[string]error
	k       int
}

func (f *fakeSearcher) Retrieve(_ context.Context, query string, topK int) ([]index.Record, error) {
	f.k = topK
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

func TestRun_AggregatesMeans(t *testing.T) {
	// Given: one perfect query, one miss, one failure
	s := &fakeSearcher{
		results: map[string][]index.Record{
			"hit":  {{"unique_id": "a"}, {"unique_id": "b"}},
			"miss": {{"unique_id": "z"}, {"title": "Untitled"}},
		},
		errs: map[string]error{"broken": errors.New("index offline")},
	}
	qrels := &Qrels{K: 2, Queries: []QuerySpec{
		{ID: "1", Query: "hit", Relevant: []string{"a"}},
		{ID: "2", Query: "miss", Relevant: []string{"a"}},
		{ID: "3", Query: "broken", Relevant: []string{"a"}},
	}}

	// When
	rep, err := Run(context.Background(), s, qrels, 0)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 2, rep.K)
	assert.Equal(t, 2, s.k)
	assert.Equal(t, 1, rep.Failed)
	assert.InDelta(t, 1.0/3, rep.MeanRecall, 1e-12)
	assert.InDelta(t, 1.0/3, rep.MRR, 1e-12)
	assert.Equal(t, []string{"z", "Untitled"}, rep.Results[1].Retrieved)
	assert.Equal(t, "index offline", rep.Results[2].Error)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, &fakeSearcher{}, &Qrels{Queries: []QuerySpec{{Query: "q"}}}, 5)
	require.ErrorIs(t, err, context.Canceled)
}
