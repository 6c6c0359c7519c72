// Package ingestion builds searchable shards from a book catalog. It reads a
// parquet catalog, renders the per-modality embedding text for each book,
// encodes it in bounded parallel batches and writes an HNSW, flat or Qdrant
// shard together with its row-aligned metadata. The books can also be
// upserted into the SQLite books table used by the SQL tool.
// This pipeline is invoked by the `bookinsight ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/bookinsight/internal/encoder"
	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/store"
)

// Shard kinds written to a local directory.
const (
	KindHNSW = "hnsw"
	KindFlat = "flat"
)

// BookWriter persists catalog rows into the relational store.
type BookWriter interface {
	UpsertBooks(ctx context.Context, books []store.Book) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Modality selects the embedding text template. Defaults to text.
	Modality index.Modality

	// Target is the output shard: a local directory or a
	// qdrant://host[:port]/collection URL.
	Target string

	// Kind is the local shard format, hnsw or flat. Ignored for Qdrant
	// targets. Defaults to hnsw.
	Kind string

	// Fields overrides the catalog columns joined into the embedding text.
	Fields []string

	// BatchSize is the number of texts per Encode call. Defaults to 64.
	BatchSize int

	// Parallelism bounds the number of concurrent Encode calls.
	// Defaults to 4.
	Parallelism int

	// HNSW tunes graph construction for hnsw shards.
	HNSW index.HNSWParams

	// QdrantAPIKey authenticates Qdrant targets.
	QdrantAPIKey string

	// QdrantTLS enables TLS for Qdrant targets.
	QdrantTLS bool
}

// Result summarises one ingestion run.
type Result struct {
	// Books is the number of rows written to the shard.
	Books int
	// Skipped counts catalog rows dropped as duplicates or for lack of text.
	Skipped int
	// Dims is the embedding width.
	Dims int
	// Precomputed is true when vectors came from the catalog's embedding
	// column instead of the encoder.
	Precomputed bool
}

// Pipeline orchestrates the read → render → encode → write flow for one
// modality.
type Pipeline struct {
	// encoder converts embedding text into vectors. May be nil when the
	// catalog carries precomputed image embeddings.
	encoder encoder.Encoder

	// books receives the catalog rows. Nil skips the relational upsert.
	books BookWriter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(enc encoder.Encoder, books BookWriter, cfg *Config) (*Pipeline, error) {
	if cfg == nil || strings.TrimSpace(cfg.Target) == "" {
		return nil, fmt.Errorf("ingestion: target must not be empty")
	}
	if cfg.Modality == "" {
		cfg.Modality = index.ModalityText
	}
	if cfg.Kind == "" {
		cfg.Kind = KindHNSW
	}
	if cfg.Kind != KindHNSW && cfg.Kind != KindFlat {
		return nil, fmt.Errorf("ingestion: unknown shard kind %q (want %s or %s)", cfg.Kind, KindHNSW, KindFlat)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields(cfg.Modality)
	}
	return &Pipeline{encoder: enc, books: books, cfg: cfg}, nil
}

// DefaultFields returns the catalog columns rendered into the embedding text
// for a modality.
func DefaultFields(m index.Modality) []string {
	if m == index.ModalityImage {
		return []string{"title", "image_caption"}
	}
	return []string{"title", "author", "categories", "description"}
}

// Ingest reads the parquet catalog at catalogPath and writes the shard.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, catalogPath string, progress func(msg string)) (Result, error) {
	if progress == nil {
		progress = func(string) {}
	}

	raw, err := index.ReadMetadata(catalogPath)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: read catalog: %w", err)
	}
	progress(fmt.Sprintf("read %d rows from %s", len(raw), catalogPath))

	records, skipped := p.prepare(raw)
	res := Result{Books: len(records), Skipped: skipped}
	if len(records) == 0 {
		return res, fmt.Errorf("ingestion: catalog %s has no usable rows", catalogPath)
	}

	vectors, precomputed := precomputedVectors(records, p.cfg.Modality)
	if !precomputed {
		if p.encoder == nil {
			return res, fmt.Errorf("ingestion: encoder must not be nil")
		}
		texts := make([]string, len(records))
		for i, rec := range records {
			texts[i] = p.Render(rec)
		}
		progress(fmt.Sprintf("encoding %d books in batches of %d", len(texts), p.cfg.BatchSize))
		vectors, err = p.encodeAll(ctx, texts)
		if err != nil {
			return res, err
		}
	}
	res.Precomputed = precomputed
	res.Dims = len(vectors[0])

	books := make([]store.Book, len(records))
	for i, rec := range records {
		books[i] = BookFromRecord(rec)
	}

	if err := p.write(ctx, vectors, books); err != nil {
		return res, err
	}
	progress(fmt.Sprintf("wrote %d vectors (%d dims) to %s", len(vectors), res.Dims, p.cfg.Target))

	if p.books != nil {
		if err := p.books.UpsertBooks(ctx, books); err != nil {
			return res, fmt.Errorf("ingestion: upsert books: %w", err)
		}
		progress(fmt.Sprintf("upserted %d books into the store", len(books)))
	}

	return res, nil
}

// Render joins the configured fields of rec into one embedding text,
// skipping empty values.
func (p *Pipeline) Render(rec index.Record) string {
	parts := make([]string, 0, len(p.cfg.Fields))
	for _, f := range p.cfg.Fields {
		name := CanonicalColumn(f)
		if name == "" {
			name = f
		}
		v := strings.TrimSpace(listString(rec[name]))
		if v == "" {
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, ". ")
}

// prepare normalizes records and drops duplicate ids and rows with neither
// embedding text nor a precomputed vector.
func (p *Pipeline) prepare(raw []index.Record) ([]index.Record, int) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]index.Record, 0, len(raw))
	for _, r := range raw {
		rec := Normalize(r)
		id := rec.String("unique_id")
		if _, dup := seen[id]; dup {
			continue
		}
		if p.Render(rec) == "" && (p.cfg.Modality != index.ModalityImage || Embedding(rec) == nil) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out, len(raw) - len(out)
}

// precomputedVectors returns the catalog's embedding column for image
// ingestion when every row carries one of the same width.
func precomputedVectors(records []index.Record, m index.Modality) ([][]float32, bool) {
	if m != index.ModalityImage {
		return nil, false
	}
	vectors := make([][]float32, len(records))
	for i, rec := range records {
		v := Embedding(rec)
		if v == nil || (i > 0 && len(v) != len(vectors[0])) {
			return nil, false
		}
		vectors[i] = encoder.Normalize(v)
	}
	return vectors, true
}

// encodeAll encodes texts in batches with at most cfg.Parallelism batches in
// flight. The result is parallel to texts.
func (p *Pipeline) encodeAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := p.encoder.Encode(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("ingestion: encode rows %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("ingestion: encode rows %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// write stores vectors and their metadata in the configured target.
func (p *Pipeline) write(ctx context.Context, vectors [][]float32, books []store.Book) error {
	if index.IsQdrantLocation(p.cfg.Target) {
		qc, err := index.ParseQdrantLocation(p.cfg.Target)
		if err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		qc.APIKey = p.cfg.QdrantAPIKey
		qc.UseTLS = p.cfg.QdrantTLS
		records := make([]index.Record, len(books))
		for i, b := range books {
			records[i] = bookRecord(b)
		}
		if err := index.UpsertQdrant(ctx, qc, vectors, records); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(p.cfg.Target, 0o755); err != nil {
		return fmt.Errorf("ingestion: create %s: %w", p.cfg.Target, err)
	}
	// A directory must hold a single vector format; Open prefers index.hnsw.
	stale := index.FlatFile
	if p.cfg.Kind == KindFlat {
		stale = index.HNSWFile
	}
	if err := os.Remove(filepath.Join(p.cfg.Target, stale)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ingestion: remove stale %s: %w", stale, err)
	}

	var err error
	if p.cfg.Kind == KindFlat {
		err = index.WriteFlat(p.cfg.Target, vectors)
	} else {
		err = index.WriteHNSW(p.cfg.Target, vectors, p.cfg.HNSW)
	}
	if err != nil {
		return fmt.Errorf("ingestion: write %s shard: %w", p.cfg.Kind, err)
	}
	if err := index.WriteMetadata(p.cfg.Target, books); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	return nil
}

// bookRecord renders a book as a Qdrant payload, omitting empty fields.
func bookRecord(b store.Book) index.Record {
	rec := index.Record{"unique_id": b.UniqueID}
	set := func(k, v string) {
		if v != "" {
			rec[k] = v
		}
	}
	set("asin", b.ASIN)
	set("title", b.Title)
	set("author", b.Author)
	set("categories", b.Categories)
	set("description", b.Description)
	set("image_url", b.ImageURL)
	set("content", b.Content)
	if b.Price != 0 {
		rec["price"] = b.Price
	}
	if b.Rating != 0 {
		rec["rating"] = b.Rating
	}
	if b.PageCount != 0 {
		rec["page_count"] = b.PageCount
	}
	if b.PublicationYear != 0 {
		rec["publication_year"] = b.PublicationYear
	}
	return rec
}
