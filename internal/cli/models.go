package cli

import "github.com/spf13/cobra"

func init() {
	rootCmd.AddCommand(modelsCmd)
}

// modelsCmd groups the local model-store subcommands (list/pull/rm/show/
// create) under one noun, mirroring the teacher's subcommand-per-noun CLI
// style now that LMX also has a "runs" noun alongside it.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage locally stored models",
}
