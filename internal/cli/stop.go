package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
)

func init() {
	rootCmd.AddCommand(stopCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop MODEL",
	Short: "Unload a model from memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

// runStop, like the rest of this CLI, constructs its own short-lived
// Daemon rather than reaching into a separately-running server process —
// against a live server this only unloads what this invocation itself
// loaded. Reaching an already-running daemon's lifecycle table would need
// an admin RPC this CLI does not have.
func runStop(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Lifecycle.Unload(modelName); err != nil {
		return err
	}

	fmt.Printf("Stopped model %s\n", modelName)
	return nil
}
