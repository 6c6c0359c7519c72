package fusion

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/bookinsight/internal/index"
)

func hit(id string, score float32, rank int, src index.Modality) index.Hit {
	return index.Hit{Score: score, Rank: rank, Source: src, Metadata: index.Record{"unique_id": id}}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.CanonicalID
	}
	return out
}

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" RRF ")
	require.NoError(t, err)
	assert.Equal(t, MethodRRF, m)

	m, err = ParseMethod("weighted")
	require.NoError(t, err)
	assert.Equal(t, MethodWeighted, m)

	_, err = ParseMethod("borda")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{Method: "max"})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = NewEngine(Config{Method: MethodWeighted, Alpha: 1.5})
	assert.Error(t, err)

	_, err = NewEngine(Config{Method: MethodRRF, RRFConstant: -1})
	assert.Error(t, err)

	e := mustEngine(t, Config{Method: MethodRRF})
	assert.Equal(t, DefaultRRFConstant, e.Config().RRFConstant)
}

// ---------------------------------------------------------------------------
// RRF
// ---------------------------------------------------------------------------

func TestFuse_RRFScoreIsExact(t *testing.T) {
	for _, c := range []float64{DefaultRRFConstant, MultimodalRRFConstant} {
		t.Run(fmt.Sprintf("c=%v", c), func(t *testing.T) {
			e := mustEngine(t, Config{Method: MethodRRF, RRFConstant: c})
			res := e.Fuse([][]index.Hit{{
				hit("a", 0.9, 1, index.ModalityText),
				hit("b", 0.8, 2, index.ModalityText),
				hit("c", 0.7, 3, index.ModalityText),
			}}, 0)

			require.Len(t, res, 3)
			for i, r := range res {
				assert.Equal(t, 1/(c+float64(i+1)), r.Score)
			}
		})
	}
}

func TestFuse_RRFSumsAcrossLists(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{
		{hit("a", 0.9, 1, index.ModalityText), hit("b", 0.5, 2, index.ModalityText)},
		{hit("b", 0.9, 1, index.ModalityText), hit("a", 0.5, 4, index.ModalityText)},
		{hit("a", 0.9, 3, index.ModalityImage)},
	}, 0)

	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].CanonicalID)
	assert.InDelta(t, 1/61.0+1/64.0+1/63.0, res[0].Score, 1e-12)
	assert.Equal(t, 3, res[0].SupportCount)
	assert.InDelta(t, 1/62.0+1/61.0, res[1].Score, 1e-12)
}

func TestFuse_EmptyInputs(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{{}, {}}, 5)
	assert.NotNil(t, res)
	assert.Empty(t, res)

	assert.Empty(t, e.Fuse(nil, 5))
}

func TestFuse_SingleListPassthrough(t *testing.T) {
	list := []index.Hit{
		hit("x", 0.9, 1, index.ModalityText),
		hit("y", 0.8, 2, index.ModalityText),
		hit("z", 0.1, 3, index.ModalityText),
	}
	for _, m := range []Method{MethodRRF, MethodWeighted} {
		e := mustEngine(t, Config{Method: m, Alpha: 1})
		assert.Equal(t, []string{"x", "y", "z"}, ids(e.Fuse([][]index.Hit{list}, 0)), string(m))
		assert.Equal(t, []string{"x", "y"}, ids(e.Fuse([][]index.Hit{list}, 2)), string(m))
	}
}

func TestFuse_RanksAreOneBased(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{{hit("a", 1, 1, index.ModalityText), hit("b", 1, 2, index.ModalityText)}}, 0)
	assert.Equal(t, 1, res[0].Rank)
	assert.Equal(t, 2, res[1].Rank)
}

func TestFuse_MissingRankFallsBackToPosition(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{{hit("a", 1, 0, index.ModalityText), hit("b", 1, 0, index.ModalityText)}}, 0)
	assert.Equal(t, 1/61.0, res[0].Score)
	assert.Equal(t, 1/62.0, res[1].Score)
}

// ---------------------------------------------------------------------------
// Weighted
// ---------------------------------------------------------------------------

func TestFuse_WeightedAlphaOneIgnoresImages(t *testing.T) {
	text := []index.Hit{
		hit("t1", 0.9, 1, index.ModalityText),
		hit("t2", 0.5, 2, index.ModalityText),
		hit("t3", 0.1, 3, index.ModalityText),
	}
	image := []index.Hit{
		hit("i1", 0.99, 1, index.ModalityImage),
		hit("t3", 0.98, 2, index.ModalityImage),
	}
	e := mustEngine(t, Config{Method: MethodWeighted, Alpha: 1})

	textOnly := e.Fuse([][]index.Hit{text}, 0)
	both := e.Fuse([][]index.Hit{text, image}, 0)
	assert.Equal(t, ids(textOnly), ids(both))
}

func TestFuse_WeightedSingleElementIsZeroNotNaN(t *testing.T) {
	e := mustEngine(t, Config{Method: MethodWeighted, Alpha: 0.7})
	res := e.Fuse([][]index.Hit{{hit("only", 0.42, 1, index.ModalityText)}}, 0)

	require.Len(t, res, 1)
	assert.False(t, math.IsNaN(res[0].Score))
	assert.Equal(t, 0.0, res[0].Score)
}

func TestFuse_WeightedBlend(t *testing.T) {
	e := mustEngine(t, Config{Method: MethodWeighted, Alpha: 0.7})
	res := e.Fuse([][]index.Hit{
		{hit("a", 0.9, 1, index.ModalityText), hit("b", 0.1, 2, index.ModalityText)},
		{hit("b", 0.8, 1, index.ModalityImage), hit("a", 0.4, 2, index.ModalityImage)},
	}, 0)

	require.Len(t, res, 2)
	// a: 0.7*1 + 0.3*0, b: 0.7*0 + 0.3*1
	assert.Equal(t, "a", res[0].CanonicalID)
	assert.InDelta(t, 0.7, res[0].Score, 1e-9)
	assert.InDelta(t, 0.3, res[1].Score, 1e-9)
}

// ---------------------------------------------------------------------------
// Deduplication
// ---------------------------------------------------------------------------

func TestFuse_CrossModalityMerge(t *testing.T) {
	e := mustEngine(t, Config{Method: MethodRRF, RRFConstant: MultimodalRRFConstant})
	res := e.Fuse([][]index.Hit{
		{hit("book-1", 0.8, 1, index.ModalityText)},
		{hit("book-1", 0.6, 1, index.ModalityImage)},
	}, 0)

	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].SupportCount)
	assert.Equal(t, []index.Modality{index.ModalityImage, index.ModalityText}, res[0].Sources)
	assert.InDelta(t, 2.0/11.0, res[0].Score, 1e-12)
}

func TestFuse_IdentifierFallbackChain(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{{
		{Rank: 1, Source: index.ModalityText, Metadata: index.Record{"unique_id": "", "asin": "B01"}},
		{Rank: 2, Source: index.ModalityText, Metadata: index.Record{"id": 17}},
		{Rank: 3, Source: index.ModalityText, Metadata: index.Record{"title": "Dune"}},
		{Rank: 4, Source: index.ModalityText, Metadata: index.Record{}},
		{Rank: 5, Source: index.ModalityText, Metadata: nil},
	}}, 0)

	require.Len(t, res, 5)
	assert.Equal(t, "B01", res[0].CanonicalID)
	assert.Equal(t, "17", res[1].CanonicalID)
	assert.Equal(t, "Dune", res[2].CanonicalID)
	// Hits without identifiers are never merged.
	assert.NotEqual(t, res[3].CanonicalID, res[4].CanonicalID)
	assert.Equal(t, 1, res[3].SupportCount)
	assert.NotNil(t, res[4].Metadata)
}

func TestFuse_TitleNormalization(t *testing.T) {
	lists := [][]index.Hit{
		{{Rank: 1, Source: index.ModalityText, Metadata: index.Record{"title": "The  Hobbit "}}},
		{{Rank: 1, Source: index.ModalityImage, Metadata: index.Record{"title": "the hobbit"}}},
	}

	exact := mustEngine(t, DefaultConfig()).Fuse(lists, 0)
	assert.Len(t, exact, 2)

	cfg := DefaultConfig()
	cfg.NormalizeTitles = true
	normalized := mustEngine(t, cfg).Fuse(lists, 0)
	require.Len(t, normalized, 1)
	assert.Equal(t, "the hobbit", normalized[0].CanonicalID)
	assert.Equal(t, 2, normalized[0].SupportCount)
}

func TestFuse_TieBreakPrefersSupport(t *testing.T) {
	// Under weighted fusion with alpha 0.5 both groups score 0.5.
	e := mustEngine(t, Config{Method: MethodWeighted, Alpha: 0.5})
	res := e.Fuse([][]index.Hit{
		{hit("solo", 0.9, 1, index.ModalityText), hit("pair", 0.1, 2, index.ModalityText), hit("z", 0.1, 3, index.ModalityText)},
		{hit("pair", 0.9, 1, index.ModalityImage), hit("x", 0.2, 2, index.ModalityImage)},
	}, 0)

	require.GreaterOrEqual(t, len(res), 2)
	assert.Equal(t, "pair", res[0].CanonicalID)
	assert.Equal(t, "solo", res[1].CanonicalID)
}

func TestFuse_MetadataPrefersTitledRecord(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res := e.Fuse([][]index.Hit{
		{{Rank: 1, Source: index.ModalityImage, Metadata: index.Record{"unique_id": "b", "image_url": "x.jpg"}}},
		{{Rank: 1, Source: index.ModalityText, Metadata: index.Record{"unique_id": "b", "title": "Matilda"}}},
		{{Rank: 1, Source: index.ModalityText, Metadata: index.Record{"unique_id": "b", "title": "Later"}}},
	}, 0)

	require.Len(t, res, 1)
	assert.Equal(t, "Matilda", res[0].Metadata.String("title"))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "a tale of two cities", NormalizeTitle("  A Tale\tof  Two\nCities "))
	assert.Equal(t, "", NormalizeTitle("   "))
}
