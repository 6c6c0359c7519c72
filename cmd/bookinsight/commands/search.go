package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/provider"
)

// NewSearchCmd constructs the `bookinsight search` command, which runs the
// fused retriever directly and prints the records as JSON.
func NewSearchCmd() *cobra.Command {
	var topK int
	var offline bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run fused book retrieval and print the results as JSON",
		Long: `Run multi-query fused retrieval over the configured text (and image)
indexes without the agent. Each result carries rank, fusion_score, fusion_rank,
support_count and sources alongside the book fields.

With --offline no chat model is contacted: the rule-based expander is used
and reranking is disabled.

Examples:
  bookinsight search "dragons and political intrigue"
  bookinsight search --top-k 10 "a lighthouse on the cover"
  QUERY_EXPANDER=none bookinsight search --offline "space opera"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := stackOptions{}
			if !offline {
				chatModel, err := provider.NewFromEnv(ctx)
				if err != nil {
					return fmt.Errorf("search: failed to initialise model provider: %w", err)
				}
				opts.chatModel = chatModel
			}

			stack, err := buildRetrievalStack(ctx, opts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer stack.Close()

			if topK <= 0 {
				topK = getEnvInt("RETRIEVAL_TOP_K", 5)
			}
			records, err := stack.smart.Retrieve(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: RETRIEVAL_TOP_K or 5)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact the chat model")

	return cmd
}
