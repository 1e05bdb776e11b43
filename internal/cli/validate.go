package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Types    []string              `json:"types,omitempty"`
	Errors   []ValidationIssue     `json:"errors,omitempty"`
	Warnings []schema.CycleWarning `json:"warnings,omitempty"`
}

// ValidationIssue is one validation error with position context.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <types-dir>",
		Short: "Compile and validate entity type declarations",
		Long: `Compile CUE entity type declarations without touching a database.

Computed expressions are parsed during compilation, so syntax errors and
unknown functions are reported here instead of surfacing at first
evaluation. Static dependency cycles among a type's computed properties
are reported as warnings - an instance can still break the cycle at
runtime.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, typesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, err := LoadTypes(typesDir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}

		// Compile errors are validation failures; everything before
		// compilation (bad path, no files) is a command error.
		if strings.HasPrefix(loadErr.Code, "E1") {
			issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				issue.Line = loadErr.Pos.Line()
			}
			return outputValidationFailure(formatter, issue)
		}

		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, typesDir)

	names := make([]string, 0, len(result.Types))
	for _, t := range result.Types {
		names = append(names, t.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:    true,
			Types:    names,
			Warnings: result.Warnings,
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d type(s) valid\n", len(result.Types))
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "⚠ %s\n", w.Message)
	}
	return nil
}

func outputValidationFailure(formatter *OutputFormatter, issue ValidationIssue) error {
	if formatter.Format == "json" {
		if err := formatter.Error(issue.Code, issue.Message, issue); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	if issue.Line > 0 {
		fmt.Fprintf(formatter.Writer, "  line %d\n", issue.Line)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
}
