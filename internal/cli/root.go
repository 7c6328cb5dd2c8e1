// Package cli implements the LMX command-line interface using Cobra.
// Each subcommand drives the same daemon package the server itself uses:
// most subcommands build a short-lived Daemon, perform one operation
// against it, and close it again.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lmx",
	Short: "LMX — local multi-model inference orchestration",
	Long: `LMX serves an OpenAI-compatible API over locally loaded models,
picking the right backend per model, admitting requests fairly under
memory pressure, and queuing multi-agent runs durably.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
