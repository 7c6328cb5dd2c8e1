package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/app"
	"github.com/lmx-project/lmx/internal/daemon"
)

func init() {
	modelsCreateCmd.Flags().StringVarP(&modelsCreateFile, "file", "f", "Modelfile", "Path to Modelfile")
	modelsCmd.AddCommand(modelsCreateCmd)
}

var modelsCreateFile string

var modelsCreateCmd = &cobra.Command{
	Use:   "create MODEL",
	Short: "Create a model from a Modelfile",
	Long: `Create a custom model from a Modelfile.

Example Modelfile:
  FROM llama3.2
  PARAMETER temperature 0.8
  SYSTEM "You are a helpful assistant."`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsCreate,
}

func runModelsCreate(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	data, err := os.ReadFile(modelsCreateFile)
	if err != nil {
		return fmt.Errorf("read Modelfile: %w", err)
	}

	mf, err := app.ParseModelfile(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("parse Modelfile: %w", err)
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Models.CreateFromModelfile(modelName, *mf); err != nil {
		return err
	}

	fmt.Printf("Created model %s from %s\n", modelName, mf.From)
	return nil
}
