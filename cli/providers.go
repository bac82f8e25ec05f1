package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copseworks/forage"
)

// NewProvidersCmd creates the "providers" subcommand.
func NewProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers [provider]",
		Short: "List registered providers and their contracts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProviders,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runProviders(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()
	registry := forage.Global()

	if len(args) == 1 {
		contract, ok := registry.Lookup(forage.Provider(args[0]))
		if !ok {
			return exitError(exitValidation, "unknown provider %q", args[0])
		}
		return printCards(out, []forage.ProviderCard{contract.Describe()}, format)
	}

	contracts := registry.All()
	cards := make([]forage.ProviderCard, 0, len(contracts))
	for _, contract := range contracts {
		cards = append(cards, contract.Describe())
	}
	return printCards(out, cards, format)
}

func printCards(w io.Writer, cards []forage.ProviderCard, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	}

	for i, card := range cards {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", card.DisplayName, card.Provider)
		if card.Homepage != "" {
			fmt.Fprintf(w, "  homepage: %s\n", card.Homepage)
		}
		if card.Docs != "" {
			fmt.Fprintf(w, "  docs:     %s\n", card.Docs)
		}
		if len(card.SetupFields) > 0 {
			fmt.Fprintln(w, "  setup:")
			for _, field := range card.SetupFields {
				var notes []string
				if field.Required {
					notes = append(notes, "required")
				}
				if field.Secret {
					notes = append(notes, "secret")
				}
				suffix := ""
				if len(notes) > 0 {
					suffix = " (" + strings.Join(notes, ", ") + ")"
				}
				fmt.Fprintf(w, "    %s%s\n", field.Name, suffix)
			}
		}
		if len(card.Methods) > 0 {
			fmt.Fprintln(w, "  methods:")
			for _, method := range card.Methods {
				fmt.Fprintf(w, "    %s: %s\n", method.Name, method.Description)
			}
		}
	}
	return nil
}
