package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/copseworks/forage"
	"github.com/copseworks/forage/loader"
)

// Diagnostic is one validation finding, printable as text or JSON.
type Diagnostic struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an integration file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	def, err := loader.LoadIntegration(filePath)
	if err != nil {
		if errors.Is(err, loader.ErrNotFound) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		printDiagnostics(out, []Diagnostic{diagnosticFromError(err)}, format)
		return exitError(exitValidation, "validation failed")
	}

	var diags []Diagnostic
	if err := def.Validate(); err != nil {
		diags = append(diags, diagnosticFromError(err))
	}

	printDiagnostics(out, diags, format)
	if len(diags) > 0 {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// diagnosticFromError maps contract errors to a diagnostic, keeping the
// stable field code when one exists.
func diagnosticFromError(err error) Diagnostic {
	var cfgErr *forage.ConfigError
	if errors.As(err, &cfgErr) {
		return Diagnostic{Code: cfgErr.Code(), Field: cfgErr.Field, Message: cfgErr.Message}
	}
	var valErr *forage.ValidationError
	if errors.As(err, &valErr) {
		return Diagnostic{Code: valErr.Code(), Field: valErr.Field, Message: valErr.Message}
	}
	if errors.Is(err, forage.ErrUnknownProvider) {
		return Diagnostic{Code: "UNKNOWN_PROVIDER", Message: err.Error()}
	}
	return Diagnostic{Code: "PARSE_ERROR", Message: err.Error()}
}

// printDiagnostics writes diagnostics in the requested format, followed
// by a summary line (for text format).
func printDiagnostics(w io.Writer, diags []Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

func printDiagnosticsText(w io.Writer, diags []Diagnostic) {
	for _, d := range diags {
		if d.Field != "" {
			fmt.Fprintf(w, "ERROR [%s]: %s (field %s)\n", d.Code, d.Message, d.Field)
		} else {
			fmt.Fprintf(w, "ERROR [%s]: %s\n", d.Code, d.Message)
		}
	}

	if len(diags) == 0 {
		fmt.Fprintln(w, "Valid!")
		return
	}
	fmt.Fprintf(w, "\n%d %s\n", len(diags), pluralize("error", len(diags)))
}

func printDiagnosticsJSON(w io.Writer, diags []Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
