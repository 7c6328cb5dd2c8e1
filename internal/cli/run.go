package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lmx-project/lmx/internal/daemon"
	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/lifecycle"
	"github.com/lmx-project/lmx/internal/infra/modelstore"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run MODEL [PROMPT]",
	Short: "Run a model and start an interactive chat",
	Long:  `Run a model locally. If the model isn't downloaded yet, it will be pulled first.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

const runClientID = "cli"

func runRun(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	var prompt string
	if len(args) > 1 {
		prompt = strings.Join(args[1:], " ")
	}

	d, err := daemon.New()
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	defer d.Close()

	exists, err := d.Models.HasLocal(modelstore.ParseRef(modelName))
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "pulling %s...\n", modelName)
		pb := newProgressBar()
		if err := d.Models.Pull(modelName, pb.callback); err != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("pull model: %w", err)
		}
		fmt.Fprintln(os.Stderr)
	}

	ctx := cmd.Context()
	if _, err := d.Lifecycle.Load(ctx, modelName, lifecycle.LoadOptions{}); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer d.Lifecycle.Unload(modelName)

	if prompt != "" {
		return generateAndPrint(ctx, d, modelName, prompt)
	}

	return interactiveChat(ctx, d, modelName)
}

func generateAndPrint(ctx context.Context, d *daemon.Daemon, modelName, prompt string) error {
	messages := []domain.ChatMessage{
		{Role: "system", Content: "You are a helpful AI assistant."},
		{Role: "user", Content: prompt},
	}

	tokenCh, err := d.Generator.Stream(ctx, domain.GenerateRequest{
		ModelID:  modelName,
		Messages: messages,
	}, runClientID)
	if err != nil {
		return err
	}

	for tok := range tokenCh {
		if tok.Err != nil {
			return tok.Err
		}
		fmt.Print(tok.Content)
	}
	fmt.Println()
	return nil
}

func interactiveChat(ctx context.Context, d *daemon.Daemon, modelName string) error {
	fmt.Printf(">>> Chatting with %s (type /bye to exit)\n", modelName)

	messages := []domain.ChatMessage{
		{Role: "system", Content: "You are a helpful AI assistant."},
	}

	scanner := newLineScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()

		if input == "/bye" || input == "/exit" || input == "/quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if input == "" {
			continue
		}

		messages = append(messages, domain.ChatMessage{Role: "user", Content: input})

		tokenCh, err := d.Generator.Stream(ctx, domain.GenerateRequest{
			ModelID:  modelName,
			Messages: messages,
		}, runClientID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		var response strings.Builder
		for tok := range tokenCh {
			if tok.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", tok.Err)
				break
			}
			fmt.Print(tok.Content)
			response.WriteString(tok.Content)
		}
		fmt.Println()
		fmt.Println()

		messages = append(messages, domain.ChatMessage{Role: "assistant", Content: response.String()})
	}

	return nil
}
