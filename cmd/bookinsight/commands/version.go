package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookinsight/internal/version"
)

// NewVersionCmd constructs the `bookinsight version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. Falls back to "dev"/"unknown" for local builds.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bookinsight version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}
