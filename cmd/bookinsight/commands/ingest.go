package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/encoder"
	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/ingestion"
	"github.com/54b3r/bookinsight/internal/logging"
)

// NewIngestCmd constructs the `bookinsight ingest` command, which builds a
// searchable shard (and optionally the books table) from a parquet catalog.
func NewIngestCmd() *cobra.Command {
	var catalog string
	var out string
	var modality string
	var kind string
	var fields []string
	var batchSize int
	var parallelism int
	var hnswM int
	var skipStore bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build a text or image shard from a parquet book catalog",
		Long: `Read a parquet book catalog, embed every book and write a shard.

The output is either a local directory holding index.hnsw (or vectors.f32
with --kind flat) plus metadata.parquet, or a Qdrant collection given as
qdrant://host[:port]/collection. Common column names (book_title, authors,
genres, num_pages, image_link, ...) are mapped to the books-table columns.

Text shards embed title, author, categories and description. Image shards
embed title and image_caption, or use the catalog's embedding column as-is
when every row has one.

Unless --skip-store is set the books are also upserted into the SQLite
books table (BOOKINSIGHT_DB) used by the SQL tool and for hydration.

Encoder variables:
  TEXT_ENCODER_* / IMAGE_ENCODER_*   per-modality overrides
  EMBEDDING_*                        shared fallback

Examples:
  bookinsight ingest --catalog books.parquet --out ./shards/text
  bookinsight ingest --catalog books.parquet --modality image --kind flat --out ./shards/image
  bookinsight ingest --catalog books.parquet --out qdrant://localhost:6334/books_text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if catalog == "" || out == "" {
				return fmt.Errorf("ingest: --catalog and --out are required")
			}
			m, err := index.ParseModality(modality)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			prefix := encoder.TextPrefix
			if m == index.ModalityImage {
				prefix = encoder.ImagePrefix
			}
			settings := encoder.SettingsFromEnv(prefix)
			if err := encoder.Validate(log, string(m), settings); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			// Ingestion sees every text once, so the query cache is skipped.
			settings.CacheSize = 0
			enc, err := encoder.New(settings, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise encoder: %w", err)
			}
			log.Info("encoder initialised",
				slog.String("modality", string(m)),
				slog.String("provider", settings.Provider),
				slog.String("model", settings.Model),
			)

			var books ingestion.BookWriter
			if !skipStore {
				st, err := openStore(log)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				defer st.Close()
				books = st
			}

			pipeline, err := ingestion.NewPipeline(enc, books, &ingestion.Config{
				Modality:     m,
				Target:       out,
				Kind:         kind,
				Fields:       fields,
				BatchSize:    batchSize,
				Parallelism:  parallelism,
				HNSW:         index.HNSWParams{M: hnswM, EfSearch: getEnvInt("INDEX_EF_SEARCH", 0)},
				QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
				QdrantTLS:    getEnvBool("QDRANT_TLS", false),
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.String("catalog", catalog), slog.String("out", out))

			res, err := pipeline.Ingest(ctx, catalog, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("books", res.Books),
				slog.Int("skipped", res.Skipped),
				slog.Int("dims", res.Dims),
				slog.Bool("precomputed", res.Precomputed),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&catalog, "catalog", "c", "", "Parquet book catalog to ingest")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output shard directory or qdrant://host[:port]/collection")
	cmd.Flags().StringVarP(&modality, "modality", "m", string(index.ModalityText), "Embedding space: text or image")
	cmd.Flags().StringVar(&kind, "kind", ingestion.KindHNSW, "Local shard format: hnsw or flat")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Catalog columns joined into the embedding text (default depends on --modality)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "Texts per encoder call")
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "Concurrent encoder calls")
	cmd.Flags().IntVar(&hnswM, "hnsw-m", 16, "Maximum HNSW neighbours per node")
	cmd.Flags().BoolVar(&skipStore, "skip-store", false, "Do not upsert books into the SQLite store")

	return cmd
}
