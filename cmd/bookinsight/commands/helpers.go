package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/bookinsight/internal/encoder"
	"github.com/54b3r/bookinsight/internal/expander"
	"github.com/54b3r/bookinsight/internal/fusion"
	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/rerank"
	"github.com/54b3r/bookinsight/internal/retriever"
	"github.com/54b3r/bookinsight/internal/smart"
	"github.com/54b3r/bookinsight/internal/store"
	"github.com/54b3r/bookinsight/internal/tools"
)

// defaultParallelism bounds concurrent unit searches when
// RETRIEVAL_PARALLELISM is unset.
const defaultParallelism = 4

// retrievalStack holds the components shared by serve, ask, search, eval
// and prefs. Close releases them in reverse order of construction.
type retrievalStack struct {
	// smart is the fused multi-query retriever.
	smart *smart.Retriever
	// store is the SQLite books, preferences and history store.
	store *store.SQLiteStore
	// text and image are the loaded shard composites; image may be nil.
	text  *index.Composite
	image *index.Composite

	closers []func()
}

// Close releases every component held by the stack.
func (s *retrievalStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// stackOptions tunes buildRetrievalStack.
type stackOptions struct {
	// chatModel backs the LLM expander and reranker. Nil falls back to the
	// rule-based expander and disables reranking.
	chatModel model.BaseChatModel
	// registry receives encoder cache and retrieval metrics. Nil skips
	// registration.
	registry prometheus.Registerer
}

// buildRetrievalStack opens the store and indexes and assembles the smart
// retriever from the environment. On error everything already opened is
// closed.
func buildRetrievalStack(ctx context.Context, opts stackOptions) (_ *retrievalStack, err error) {
	log := logging.FromContext(ctx)
	stack := &retrievalStack{}
	defer func() {
		if err != nil {
			stack.Close()
		}
	}()

	stack.store, err = openStore(log)
	if err != nil {
		return nil, err
	}
	st := stack.store
	stack.closers = append(stack.closers, func() { _ = st.Close() })

	textLocations := index.SplitLocations(os.Getenv("TEXT_INDEX"))
	if len(textLocations) == 0 {
		return nil, errors.New("no text index configured: set TEXT_INDEX or index.text in the config file")
	}
	openOpts := index.OpenOptions{
		EfSearch:     getEnvInt("INDEX_EF_SEARCH", 0),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:    getEnvBool("QDRANT_TLS", false),
	}

	var cacheMetrics *encoder.CacheMetrics
	var retrievalMetrics *smart.Metrics
	if opts.registry != nil {
		cacheMetrics = encoder.NewCacheMetrics(opts.registry)
		retrievalMetrics = smart.NewMetrics(opts.registry)
	}

	textRetriever, textComposite, err := buildModality(ctx, index.ModalityText, textLocations, encoder.TextPrefix, openOpts, cacheMetrics)
	if err != nil {
		return nil, err
	}
	stack.text = textComposite
	stack.closers = append(stack.closers, func() { _ = textComposite.Close() })
	retrievers := []smart.ModalityRetriever{textRetriever}

	if imageLocations := index.SplitLocations(os.Getenv("IMAGE_INDEX")); len(imageLocations) > 0 {
		imageRetriever, imageComposite, err := buildModality(ctx, index.ModalityImage, imageLocations, encoder.ImagePrefix, openOpts, cacheMetrics)
		if err != nil {
			return nil, err
		}
		stack.image = imageComposite
		stack.closers = append(stack.closers, func() { _ = imageComposite.Close() })
		retrievers = append(retrievers, imageRetriever)
	}

	engine, err := buildFusionEngine(stack.image != nil)
	if err != nil {
		return nil, err
	}

	exp, err := buildExpander(opts.chatModel)
	if err != nil {
		return nil, err
	}

	var reranker rerank.Reranker
	if getEnvBool("RERANK_ENABLED", false) {
		if opts.chatModel == nil {
			log.Warn("rerank: enabled but no chat model is available, disabling")
		} else {
			llm, err := rerank.NewLLM(opts.chatModel)
			if err != nil {
				return nil, fmt.Errorf("rerank: %w", err)
			}
			reranker = llm
		}
	}

	stack.smart, err = smart.New(smart.Config{
		Expander:    exp,
		Retrievers:  retrievers,
		Engine:      engine,
		Store:       stack.store,
		Reranker:    reranker,
		Variants:    getEnvInt("RETRIEVAL_VARIANTS", 0),
		OverFetch:   getEnvInt("RETRIEVAL_OVERFETCH", 0),
		Parallelism: getEnvInt("RETRIEVAL_PARALLELISM", defaultParallelism),
		Metrics:     retrievalMetrics,
	})
	if err != nil {
		return nil, err
	}

	log.Info("retrieval stack ready",
		slog.Int("text_vectors", stack.text.Count()),
		slog.Bool("image_index", stack.image != nil),
		slog.String("fusion", string(engine.Config().Method)),
		slog.Bool("rerank", reranker != nil),
	)
	return stack, nil
}

// buildModality loads the composite for one modality and wraps it in a
// retriever whose encoder is built on first use.
func buildModality(ctx context.Context, m index.Modality, locations []string, prefix string, opts index.OpenOptions, metrics *encoder.CacheMetrics) (*retriever.Retriever, *index.Composite, error) {
	settings := encoder.SettingsFromEnv(prefix)
	if err := encoder.Validate(logging.FromContext(ctx), string(m), settings); err != nil {
		return nil, nil, err
	}

	composite, err := index.OpenComposite(ctx, m, locations, opts)
	if err != nil {
		return nil, nil, err
	}
	if settings.Dimensions > 0 && composite.Dims() > 0 && settings.Dimensions != composite.Dims() {
		_ = composite.Close()
		return nil, nil, fmt.Errorf("%s index: %w", m, &index.DimensionError{Expected: composite.Dims(), Got: settings.Dimensions})
	}

	r, err := retriever.New(retriever.Config{
		Modality:    m,
		Index:       composite,
		Factory:     encoder.FactoryFromEnv(prefix, metrics),
		QueryPrefix: settings.QueryPrefix,
	})
	if err != nil {
		_ = composite.Close()
		return nil, nil, err
	}
	return r, composite, nil
}

// buildFusionEngine resolves the FUSION_* variables. The RRF constant
// defaults to the sharper multimodal value when an image index is present.
func buildFusionEngine(multimodal bool) (*fusion.Engine, error) {
	method, err := fusion.ParseMethod(getEnvOrDefault("FUSION_METHOD", string(fusion.MethodRRF)))
	if err != nil {
		return nil, err
	}
	c := fusion.DefaultRRFConstant
	if multimodal {
		c = fusion.MultimodalRRFConstant
	}
	return fusion.NewEngine(fusion.Config{
		Method:          method,
		RRFConstant:     getEnvFloat("FUSION_RRF_CONSTANT", c),
		Alpha:           getEnvFloat("FUSION_ALPHA", fusion.DefaultAlpha),
		NormalizeTitles: getEnvBool("FUSION_NORMALIZE_TITLES", false),
	})
}

// buildExpander resolves QUERY_EXPANDER. The default is llm with a rules
// fallback when a chat model is available, rules otherwise.
func buildExpander(chatModel model.BaseChatModel) (*expander.Expander, error) {
	def := "rules"
	if chatModel != nil {
		def = "llm"
	}
	switch kind := strings.ToLower(getEnvOrDefault("QUERY_EXPANDER", def)); kind {
	case "none":
		return nil, nil
	case "rules":
		return expander.New(expander.Rules{}), nil
	case "llm":
		if chatModel == nil {
			return nil, errors.New("QUERY_EXPANDER=llm requires a chat model")
		}
		llm, err := expander.NewLLM(chatModel)
		if err != nil {
			return nil, err
		}
		return expander.New(expander.Fallback{Primary: llm, Secondary: expander.Rules{}}), nil
	default:
		return nil, fmt.Errorf("unknown QUERY_EXPANDER %q (valid values: llm, rules, none)", kind)
	}
}

// openStore opens the SQLite store at BOOKINSIGHT_DB, defaulting to
// ~/.bookinsight/books.db.
func openStore(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("BOOKINSIGHT_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	log.Info("store: opened", slog.String("path", dbPath))
	return st, nil
}

// buildTools constructs the four agent tools over the retrieval stack.
func buildTools(ctx context.Context, stack *retrievalStack) []tool.BaseTool {
	ddl, err := stack.store.Schema(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("sql_tool: schema unavailable, describing without DDL", slog.Any("error", err))
	}
	return []tool.BaseTool{
		tools.NewRetrieverTool(stack.smart),
		tools.NewSQLTool(stack.store, ddl),
		tools.NewSavePreferenceTool(stack.store),
		tools.NewRecommendationTool(stack.store, stack.smart),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable,
// or fallback if the variable is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat is getEnvInt for float64 values.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvBool is getEnvInt for boolean values.
func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
