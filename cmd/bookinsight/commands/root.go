// Package commands defines all Cobra CLI commands for the bookinsight binary.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/54b3r/bookinsight/internal/audit"
	"github.com/54b3r/bookinsight/internal/config"
	"github.com/54b3r/bookinsight/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bookinsight",
		Short: "BookInsight, a book recommendation assistant powered by LLMs",
		Long: `BookInsight answers questions about a book catalog and recommends books.

It combines multi-query semantic search over text and cover-image indexes
(fused with Reciprocal Rank Fusion), read-only SQL over the books table and
saved per-user preferences behind a tool-calling agent.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.bookinsight/config.yaml).
See 'bookinsight --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load .env and YAML config (env vars always override both).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Re-read LOG_LEVEL / LOG_FORMAT now that the config is applied.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			changed := map[string]string{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), loadedConfigPath, changed)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.bookinsight/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewPrefsCmd(),
		NewEvalCmd(),
		NewVersionCmd(),
	)

	return root
}
