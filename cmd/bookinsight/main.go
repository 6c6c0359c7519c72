// Command bookinsight is the entry point for the BookInsight book
// recommendation assistant. It provides a CLI interface (via Cobra) and an
// HTTP API for chat and fused book search.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/bookinsight/cmd/bookinsight/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
