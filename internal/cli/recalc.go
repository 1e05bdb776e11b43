package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/engine"
	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/eval"
	"github.com/roach88/facet/internal/store"
	"github.com/roach88/facet/internal/value"
)

// RecalcOptions holds flags for the recalc command.
type RecalcOptions struct {
	*RootOptions
	Database string
}

// RecalcOutcome is one recomputed property in the JSON payload.
type RecalcOutcome struct {
	Property string `json:"property"`
	Status   string `json:"status"`
	Value    string `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RecalcSummary is the JSON payload for a recalc run.
type RecalcSummary struct {
	Entity   string          `json:"entity"`
	Outcomes []RecalcOutcome `json:"outcomes"`
}

// NewRecalcCommand creates the recalc command.
func NewRecalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recalc <tenant> <entity-id> [property...]",
		Short: "Force recomputation of an entity's computed properties",
		Long: `Recompute computed properties regardless of staleness. With no
property names every computed property of the entity is recomputed in
dependency order; with names only those properties are recomputed.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalc(opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRecalc(opts *RecalcOptions, tenantID, entityID string, properties []string, cmd *cobra.Command) error {
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
	var results []eval.ComputedPropertyResult

	if len(properties) == 0 {
		_, results, err = orch.ComputeEntity(ctx, tenantID, entityID, engine.ComputeOptions{})
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "recompute failed", err)
		}
	} else {
		results, err = orch.RecalculateProperties(ctx, tenantID, entityID, properties...)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("recompute %s", entityID), err)
		}
	}

	summary := RecalcSummary{Entity: entityID}
	failed := false
	for _, res := range results {
		out := RecalcOutcome{Property: res.Name, Status: string(res.Property.Status)}
		switch res.Property.Status {
		case entity.StatusValid:
			out.Value = value.Format(res.Property.CachedValue)
		default:
			out.Error = res.Property.ComputationError
			failed = true
		}
		summary.Outcomes = append(summary.Outcomes, out)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		for _, out := range summary.Outcomes {
			if out.Error != "" {
				fmt.Fprintf(formatter.Writer, "✗ %s.%s [%s] %s\n", entityID, out.Property, out.Status, out.Error)
				continue
			}
			fmt.Fprintf(formatter.Writer, "✓ %s.%s = %s\n", entityID, out.Property, out.Value)
		}
	}

	if failed {
		return NewExitError(ExitFailure, "one or more properties failed to compute")
	}
	return nil
}
