package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/logging"
	"github.com/54b3r/bookinsight/internal/provider"
	"github.com/54b3r/bookinsight/internal/store"
	"github.com/54b3r/bookinsight/internal/tools"
)

// NewPrefsCmd constructs the `bookinsight prefs` command group, which
// manages saved per-user preferences outside the agent.
func NewPrefsCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Save, list and use per-user reading preferences",
		Long: `Manage the preferences the agent saves with save_user_preference.

Examples:
  bookinsight prefs save --user alice genre fantasy
  bookinsight prefs list --user alice
  bookinsight prefs recommend --user alice
  bookinsight prefs clear-history --user alice`,
	}
	cmd.PersistentFlags().StringVarP(&userID, "user", "u", tools.DefaultUserID, "User id")

	cmd.AddCommand(
		newPrefsSaveCmd(&userID),
		newPrefsListCmd(&userID),
		newPrefsRecommendCmd(&userID),
		newPrefsClearHistoryCmd(&userID),
	)
	return cmd
}

func newPrefsSaveCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "save [type] [value]",
		Short: "Save a preference, e.g. genre fantasy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			defer st.Close()

			if err := st.SavePreference(ctx, *userID, store.Preference{Type: args[0], Value: args[1]}); err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			fmt.Printf("saved %s=%s for %s\n", args[0], args[1], *userID)
			return nil
		},
	}
}

func newPrefsListCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved preferences as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			defer st.Close()

			prefs, err := st.Preferences(ctx, *userID)
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			if prefs == nil {
				prefs = []store.Preference{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(prefs)
		},
	}
}

func newPrefsRecommendCmd(userID *string) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend books from the saved preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			opts := stackOptions{}
			if !offline {
				chatModel, err := provider.NewFromEnv(ctx)
				if err != nil {
					return fmt.Errorf("prefs: failed to initialise model provider: %w", err)
				}
				opts.chatModel = chatModel
			}
			stack, err := buildRetrievalStack(ctx, opts)
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			defer stack.Close()

			out, err := tools.NewRecommendationTool(stack.store, stack.smart).
				InvokableRun(tools.WithUserID(ctx, *userID), "{}")
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact the chat model")
	return cmd
}

func newPrefsClearHistoryCmd(userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Delete the user's conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			defer st.Close()

			if err := st.ClearHistory(ctx, *userID); err != nil {
				return fmt.Errorf("prefs: %w", err)
			}
			fmt.Printf("cleared conversation history for %s\n", *userID)
			return nil
		},
	}
}
