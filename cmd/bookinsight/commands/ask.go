package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/agent"
	"github.com/54b3r/bookinsight/internal/provider"
	"github.com/54b3r/bookinsight/internal/tools"
)

// NewAskCmd constructs the `bookinsight ask` command, which sends a single
// natural language question to the agent and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var userID string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the book assistant a question",
		Long: `Ask the BookInsight agent a natural language question about the catalog.

The agent can search the catalog semantically, run read-only SQL over the
books table, save your stated preferences and recommend books from them.
Conversation history is kept per user in the SQLite store.

Examples:
  bookinsight ask "recommend a cozy mystery set in England"
  bookinsight ask "how many books by Ursula K. Le Guin are rated above 4?"
  bookinsight ask --user alice "I love space opera"
  bookinsight ask --user alice "what should I read next?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			stack, err := buildRetrievalStack(ctx, stackOptions{chatModel: chatModel})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer stack.Close()

			cfg := &agent.Config{
				ChatModel:        chatModel,
				Tools:            buildTools(ctx, stack),
				HistoryDepth:     getEnvInt("HISTORY_DEPTH", 0),
				MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
			}
			if !noHistory {
				cfg.History = stack.store
			}
			bookAgent, err := agent.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise agent: %w", err)
			}

			question := strings.Join(args, " ")
			_, err = bookAgent.Query(ctx, userID, question, os.Stdout) //nolint:wrapcheck // CLI entry point, error goes directly to cobra
			fmt.Fprintln(os.Stdout)
			return err
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", tools.DefaultUserID, "User id for history and preferences")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Neither replay nor record conversation history")

	return cmd
}
