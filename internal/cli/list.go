package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
)

func init() {
	modelsCmd.AddCommand(modelsListCmd)
}

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List locally available models",
	RunE:    runModelsList,
}

func runModelsList(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	models, err := d.Models.List()
	if err != nil {
		return err
	}

	if len(models) == 0 {
		fmt.Println("No models installed. Run 'lmx models pull <model>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tQUANTIZATION\tMODIFIED")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.Name,
			humanize.Bytes(uint64(m.SizeBytes)),
			m.Quantization,
			m.PulledAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}
