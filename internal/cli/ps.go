package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
	"github.com/lmx-project/lmx/internal/domain"
)

func init() {
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List models currently loaded in memory",
	RunE:  runPs,
}

// runPs, like stop, only ever sees what this invocation's own Daemon has
// loaded — against a live server it will report an empty table.
func runPs(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	loaded := d.Lifecycle.List()
	if len(loaded) == 0 {
		fmt.Println("No models currently loaded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBACKEND\tSIZE\tEXPIRES")
	for _, m := range loaded {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.ModelID,
			m.Backend,
			humanize.Bytes(uint64(m.EstimatedGB*1e9)),
			expiresAt(m),
		)
	}
	return w.Flush()
}

func expiresAt(m domain.LoadedModel) string {
	if !m.KeepAliveSet || m.KeepAlive == nil {
		return "never"
	}
	if *m.KeepAlive <= 0 {
		return "never"
	}
	return m.LastUsed.Add(*m.KeepAlive).Format("15:04:05")
}
