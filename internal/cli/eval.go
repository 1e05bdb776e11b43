package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/engine"
	"github.com/roach88/facet/internal/store"
	"github.com/roach88/facet/internal/value"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Database string
}

// EvalResult is the JSON payload for a one-off evaluation.
type EvalResult struct {
	Entity     string   `json:"entity"`
	Expression string   `json:"expression"`
	Value      string   `json:"value,omitempty"`
	Error      string   `json:"error,omitempty"`
	Accessed   []string `json:"accessed,omitempty"`
	DurationMS float64  `json:"duration_ms"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <tenant> <entity-id> <expression>",
		Short: "Evaluate an expression against an entity without persisting",
		Long: `Evaluate an expression in the context of an entity. The result is
printed and discarded - nothing is written to the database.

Example:
  facet eval --db ./facet.db acme order-1 'SUM(@rel("line_items").price)'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEval(opts *EvalOptions, tenantID, entityID, src string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := cmd.Context()

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	orch := engine.New(st)
	res, err := orch.EvaluateExpression(ctx, tenantID, entityID, src)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "evaluation failed", err)
	}

	out := EvalResult{
		Entity:     entityID,
		Expression: src,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	for _, dep := range res.Accessed {
		out.Accessed = append(out.Accessed, dep.String())
	}
	if res.Success {
		out.Value = value.Format(res.Value)
	} else {
		out.Error = res.Err.Error()
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	if !res.Success {
		fmt.Fprintf(formatter.Writer, "✗ %s\n", out.Error)
		return NewExitError(ExitFailure, out.Error)
	}
	fmt.Fprintf(formatter.Writer, "%s\n", out.Value)
	if len(out.Accessed) > 0 {
		formatter.VerboseLog("accessed: %v", out.Accessed)
	}
	return nil
}
