package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/eval"
	"github.com/54b3r/bookinsight/internal/provider"
)

// NewEvalCmd constructs the `bookinsight eval` command, which scores the
// fused retriever against a labelled qrels file.
func NewEvalCmd() *cobra.Command {
	var k int
	var asJSON bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "eval [qrels.yaml]",
		Short: "Report recall@k and MRR of fused retrieval over a qrels file",
		Long: `Run every labelled query of a qrels file through the fused retriever and
report recall@k and the mean reciprocal rank.

Qrels format:
  k: 5
  queries:
    - id: fantasy-kids
      query: "fantasy adventure for children"
      relevant: ["B000123", "B000456"]

Examples:
  bookinsight eval testdata/qrels.yaml
  bookinsight eval --k 10 --json qrels.yaml
  QUERY_EXPANDER=none bookinsight eval --offline qrels.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			qrels, err := eval.LoadQrels(args[0])
			if err != nil {
				return err
			}

			opts := stackOptions{}
			if !offline {
				chatModel, err := provider.NewFromEnv(ctx)
				if err != nil {
					return fmt.Errorf("eval: failed to initialise model provider: %w", err)
				}
				opts.chatModel = chatModel
			}
			stack, err := buildRetrievalStack(ctx, opts)
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}
			defer stack.Close()

			report, err := eval.Run(ctx, stack.smart, qrels, k)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tRECALL@%d\tRR\tLATENCY\tERROR\n", report.K)
			for _, r := range report.Results {
				fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%s\t%s\n", r.Spec.ID, r.Recall, r.ReciprocalRank, r.Duration.Round(time.Millisecond), r.Error)
			}
			fmt.Fprintf(tw, "MEAN\t%.3f\t%.3f\t\t%d failed\n", report.MeanRecall, report.MRR, report.Failed)
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&k, "k", 0, "Cut-off (default: the qrels file's k, then 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact the chat model")

	return cmd
}
