package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/agent"
	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/provider"
	"github.com/54b3r/bookinsight/internal/server"
	"github.com/54b3r/bookinsight/internal/tracing"
)

// NewServeCmd constructs the `bookinsight serve` command, which starts the
// HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the BookInsight HTTP API",
		Long: `Start the BookInsight HTTP server.

The server exposes:
  POST /api/chat     agent chat (JSON, or SSE with Accept: text/event-stream)
  POST /api/search   fused book search
  GET  /api/health   liveness
  GET  /api/ready    readiness of the model, indexes and store
  GET  /metrics      Prometheus metrics

Examples:
  bookinsight serve
  bookinsight serve --port 9090
  MODEL_PROVIDER=openai TEXT_INDEX=./shards/text bookinsight serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing, opt-in and a no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			stack, err := buildRetrievalStack(ctx, stackOptions{chatModel: chatModel, registry: registry})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stack.Close()

			bookAgent, err := agent.New(ctx, &agent.Config{
				ChatModel:        chatModel,
				Tools:            buildTools(ctx, stack),
				History:          stack.store,
				HistoryDepth:     getEnvInt("HISTORY_DEPTH", 0),
				MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, providerCfg.HealthCheck(), string(providerCfg.Backend)),
				server.NewDependencyPinger("text_index", stack.text),
				server.NewDependencyPinger("store", stack.store),
			}
			if stack.image != nil {
				pingers = append(pingers, server.NewDependencyPinger("image_index", stack.image))
			}

			srv, err := server.New(bookAgent, stack.smart, &server.Config{
				Host:            getEnvOrDefault("BOOKINSIGHT_HOST", host),
				Port:            getEnvInt("BOOKINSIGHT_PORT", port),
				DefaultTopK:     getEnvInt("RETRIEVAL_TOP_K", 0),
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("BOOKINSIGHT_API_KEY"),
				RateLimit:       getEnvFloat("BOOKINSIGHT_RATE_LIMIT", 0),
				RateBurst:       getEnvInt("BOOKINSIGHT_RATE_BURST", 0),
				MetricsRegistry: registry,
				MetricsGatherer: registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (BOOKINSIGHT_HOST overrides)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (BOOKINSIGHT_PORT overrides)")

	return cmd
}
