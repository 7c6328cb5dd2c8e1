package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
)

func init() {
	modelsCmd.AddCommand(modelsRmCmd)
}

var modelsRmCmd = &cobra.Command{
	Use:   "rm MODEL",
	Short: "Remove a model from local storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsRm,
}

func runModelsRm(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Models.Remove(modelName); err != nil {
		return err
	}

	fmt.Printf("Removed %s\n", modelName)
	return nil
}
