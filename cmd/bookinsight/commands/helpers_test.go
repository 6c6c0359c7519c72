package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/54b3r/bookinsight/internal/encoder"
	"github.com/54b3r/bookinsight/internal/fusion"
	"github.com/54b3r/bookinsight/internal/ingestion"
	"github.com/54b3r/bookinsight/internal/smart"
	"github.com/54b3r/bookinsight/internal/store"
)

func TestBuildFusionEngine_Defaults(t *testing.T) {
	t.Setenv("FUSION_METHOD", "")
	t.Setenv("FUSION_RRF_CONSTANT", "")

	single, err := buildFusionEngine(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := single.Config().RRFConstant; got != fusion.DefaultRRFConstant {
		t.Errorf("single-modality RRF constant: got %v, want %v", got, fusion.DefaultRRFConstant)
	}

	multi, err := buildFusionEngine(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := multi.Config().RRFConstant; got != fusion.MultimodalRRFConstant {
		t.Errorf("multimodal RRF constant: got %v, want %v", got, fusion.MultimodalRRFConstant)
	}
}

func TestBuildFusionEngine_UnknownMethod(t *testing.T) {
	t.Setenv("FUSION_METHOD", "borda")
	if _, err := buildFusionEngine(false); err == nil {
		t.Error("expected error for unknown fusion method")
	}
}

func TestBuildExpander(t *testing.T) {
	tests := []struct {
		value   string
		wantNil bool
		wantErr bool
	}{
		{value: "", wantNil: false},
		{value: "rules", wantNil: false},
		{value: "none", wantNil: true},
		{value: "llm", wantErr: true},
		{value: "magic", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("QUERY_EXPANDER", tc.value)
			exp, err := buildExpander(nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (exp == nil) != tc.wantNil {
				t.Errorf("expander nil = %v, want %v", exp == nil, tc.wantNil)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BI_TEST_INT", "7")
	t.Setenv("BI_TEST_BAD", "seven")
	t.Setenv("BI_TEST_FLOAT", "0.25")
	t.Setenv("BI_TEST_BOOL", "true")

	if got := getEnvInt("BI_TEST_INT", 1); got != 7 {
		t.Errorf("getEnvInt: got %d", got)
	}
	if got := getEnvInt("BI_TEST_BAD", 1); got != 1 {
		t.Errorf("getEnvInt fallback: got %d", got)
	}
	if got := getEnvFloat("BI_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat: got %v", got)
	}
	if !getEnvBool("BI_TEST_BOOL", false) || getEnvBool("BI_TEST_UNSET", false) {
		t.Error("getEnvBool mismatch")
	}
	if got := getEnvOrDefault("BI_TEST_UNSET", "x"); got != "x" {
		t.Errorf("getEnvOrDefault: got %q", got)
	}
}

func TestBuildRetrievalStack_RequiresTextIndex(t *testing.T) {
	t.Setenv("TEXT_INDEX", "")
	t.Setenv("BOOKINSIGHT_DB", filepath.Join(t.TempDir(), "books.db"))

	if _, err := buildRetrievalStack(context.Background(), stackOptions{}); err == nil {
		t.Fatal("expected error without TEXT_INDEX")
	}
}

func TestBuildRetrievalStack_OfflineEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	catalog := filepath.Join(dir, "catalog.parquet")
	books := []store.Book{
		{UniqueID: "b1", Title: "The Hobbit", Author: "J.R.R. Tolkien", Categories: "Fantasy", Description: "A hobbit goes on an adventure with dwarves."},
		{UniqueID: "b2", Title: "Pride and Prejudice", Author: "Jane Austen", Categories: "Romance", Description: "Manners and marriage in Regency England."},
		{UniqueID: "b3", Title: "Neuromancer", Author: "William Gibson", Categories: "Science Fiction", Description: "A hacker in cyberspace."},
	}
	if err := parquet.WriteFile(catalog, books); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	dbPath := filepath.Join(dir, "books.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	shard := filepath.Join(dir, "text")
	p, err := ingestion.NewPipeline(encoder.NewStaticEncoder(64), st, &ingestion.Config{Target: shard})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := p.Ingest(ctx, catalog, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	t.Setenv("TEXT_INDEX", shard)
	t.Setenv("IMAGE_INDEX", "")
	t.Setenv("BOOKINSIGHT_DB", dbPath)
	t.Setenv("TEXT_ENCODER_PROVIDER", "static")
	t.Setenv("TEXT_ENCODER_DIMENSIONS", "64")
	t.Setenv("QUERY_EXPANDER", "rules")
	t.Setenv("RERANK_ENABLED", "true")
	t.Setenv("FUSION_METHOD", "")

	stack, err := buildRetrievalStack(ctx, stackOptions{})
	if err != nil {
		t.Fatalf("buildRetrievalStack: %v", err)
	}
	defer stack.Close()

	if stack.image != nil {
		t.Error("expected no image index")
	}
	if got := stack.text.Count(); got != 3 {
		t.Errorf("text vectors: got %d, want 3", got)
	}

	query := "The Hobbit. J.R.R. Tolkien. Fantasy. A hobbit goes on an adventure with dwarves."
	records, err := stack.smart.Retrieve(ctx, query, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(records) == 0 || records[0].String("unique_id") != "b1" {
		t.Fatalf("expected b1 first, got %v", records)
	}
	if _, ok := records[0][smart.FieldScore]; !ok {
		t.Error("expected fused score on hydrated record")
	}

	if got := len(buildTools(ctx, stack)); got != 4 {
		t.Errorf("tools: got %d, want 4", got)
	}
}

func TestBuildRetrievalStack_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	catalog := filepath.Join(dir, "catalog.parquet")
	if err := parquet.WriteFile(catalog, []store.Book{{UniqueID: "b1", Title: "Dune"}}); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	shard := filepath.Join(dir, "text")
	p, err := ingestion.NewPipeline(encoder.NewStaticEncoder(32), nil, &ingestion.Config{Target: shard, Kind: ingestion.KindFlat})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := p.Ingest(ctx, catalog, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	t.Setenv("TEXT_INDEX", shard)
	t.Setenv("IMAGE_INDEX", "")
	t.Setenv("BOOKINSIGHT_DB", filepath.Join(dir, "books.db"))
	t.Setenv("TEXT_ENCODER_PROVIDER", "static")
	t.Setenv("TEXT_ENCODER_DIMENSIONS", "64")

	if _, err := buildRetrievalStack(ctx, stackOptions{}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
