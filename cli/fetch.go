package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/copseworks/forage"
	"github.com/copseworks/forage/invoke"
	"github.com/copseworks/forage/loader"
)

// NewFetchCmd creates the "fetch" subcommand: a one-shot fetch from an
// integration file, printing the normalized documents.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <file>",
		Short: "Run an integration file and print the fetched documents",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}

	cmd.Flags().String("format", "json", "Output format: json | text")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Upstream request timeout")
	cmd.Flags().String("spider-base-url", "", "Override the Spider API base URL")
	cmd.Flags().String("llamaparse-base-url", "", "Override the LlamaParse API base URL")

	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	spiderBase, _ := cmd.Flags().GetString("spider-base-url")
	llamaBase, _ := cmd.Flags().GetString("llamaparse-base-url")
	out := cmd.OutOrStdout()

	def, err := loader.LoadIntegration(filePath)
	if err != nil {
		if errors.Is(err, loader.ErrNotFound) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return exitError(exitValidation, "%v", err)
	}

	// Files usually omit credentials; fall back to the environment.
	if def.Setup == nil {
		if setup, ok := forage.SetupFromEnv(def.Provider); ok {
			def.Setup = setup
		}
	}

	if err := def.Validate(); err != nil {
		var cfgErr *forage.ConfigError
		if errors.As(err, &cfgErr) {
			return exitError(exitCredential, "%v", err)
		}
		return exitError(exitValidation, "%v", err)
	}

	client := invoke.NewClient(invoke.ClientConfig{
		SpiderBaseURL:     spiderBase,
		LlamaParseBaseURL: llamaBase,
		Timeout:           timeout,
	})

	output, err := client.Fetch(cmd.Context(), *def)
	if err != nil {
		var cfgErr *forage.ConfigError
		if errors.As(err, &cfgErr) {
			return exitError(exitCredential, "%v", err)
		}
		return exitError(exitRuntime, "fetch failed: %v", err)
	}

	if format == "text" {
		fmt.Fprintf(out, "%d %s\n", len(output.Documents), pluralize("document", len(output.Documents)))
		for i, doc := range output.Documents {
			fmt.Fprintf(out, "\n--- document %d ---\n%s\n", i+1, doc.Content)
		}
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
