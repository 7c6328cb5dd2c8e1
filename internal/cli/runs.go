package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
)

func init() {
	runsSubmitCmd.Flags().StringVar(&runsSubmitPriority, "priority", "normal", "Run priority (interactive, normal, batch)")
	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Submit and inspect durable agent runs",
}

var runsSubmitPriority string

var runsSubmitCmd = &cobra.Command{
	Use:   "submit MODEL PROMPT",
	Short: "Submit an agent run to the durable queue",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRunsSubmit,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent runs",
	RunE:  runRunsList,
}

type runSubmitBody struct {
	Request  map[string]any `json:"request"`
	Priority string         `json:"priority"`
}

type runView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Error     string `json:"error,omitempty"`
}

func runsBaseURL() (string, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port), nil
}

func runRunsSubmit(cmd *cobra.Command, args []string) error {
	model := args[0]
	prompt := args[1]

	base, err := runsBaseURL()
	if err != nil {
		return err
	}

	body := runSubmitBody{
		Request: map[string]any{
			"model": model,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		},
		Priority: runsSubmitPriority,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(base+"/v1/agents/runs", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("submit run: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("submit run: server returned %d: %s", resp.StatusCode, data)
	}

	var view runView
	if err := json.Unmarshal(data, &view); err != nil {
		return err
	}

	fmt.Printf("Submitted run %s (status: %s)\n", view.ID, view.Status)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	base, err := runsBaseURL()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(base + "/v1/agents/runs")
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("list runs: server returned %d: %s", resp.StatusCode, data)
	}

	var envelope struct {
		Data []runView `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	views := envelope.Data

	if len(views) == 0 {
		fmt.Println("No runs submitted.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tUPDATED")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Status, v.Priority, v.UpdatedAt)
	}
	return w.Flush()
}
