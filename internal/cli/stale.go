package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/engine"
	"github.com/roach88/facet/internal/store"
)

// StaleOptions holds flags for the stale command.
type StaleOptions struct {
	*RootOptions
	Database string
}

// StaleReport is the JSON payload for the stale command.
type StaleReport struct {
	Tenant     string   `json:"tenant"`
	Count      int      `json:"count"`
	Properties []string `json:"properties,omitempty"`
}

// NewStaleCommand creates the stale command.
func NewStaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StaleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "stale <tenant> [entity-id]",
		Short:         "List computed properties awaiting recomputation",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := ""
			if len(args) == 2 {
				entityID = args[1]
			}
			return runStale(opts, args[0], entityID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStale(opts *StaleOptions, tenantID, entityID string, cmd *cobra.Command) error {
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

	deps, err := engine.New(st).StaleProperties(ctx, tenantID)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "list stale properties", err)
	}

	report := StaleReport{Tenant: tenantID}
	for _, dep := range deps {
		if entityID != "" && dep.EntityID != entityID {
			continue
		}
		report.Properties = append(report.Properties, dep.String())
	}
	report.Count = len(report.Properties)

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	if report.Count == 0 {
		fmt.Fprintln(formatter.Writer, "No stale properties")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%d stale propert%s:\n", report.Count, pluralYIes(report.Count))
	for _, p := range report.Properties {
		fmt.Fprintf(formatter.Writer, "  %s\n", p)
	}
	return nil
}

func pluralYIes(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
