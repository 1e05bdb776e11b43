package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/store"
	"github.com/roach88/facet/internal/value"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "show <tenant> <entity-id>",
		Short:         "Print an entity with its property statuses",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runShow(opts *ShowOptions, tenantID, entityID string, cmd *cobra.Command) error {
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

	e, err := st.GetEntity(ctx, tenantID, entityID)
	if store.IsNotFound(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("entity %s not found", entityID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("entity %s not found", entityID))
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read entity", err)
	}

	if formatter.Format == "json" {
		doc, err := entity.MarshalEntity(e)
		if err != nil {
			return WrapExitError(ExitFailure, "marshal entity", err)
		}
		return formatter.Success(json.RawMessage(doc))
	}

	fmt.Fprintf(formatter.Writer, "%s (%s) v%d\n", e.ID, e.Type, e.Version)
	for _, name := range e.PropertyNames() {
		fmt.Fprintf(formatter.Writer, "  %s\n", formatProperty(name, e.Properties[name]))
	}
	return nil
}

// formatProperty renders one property line for text output.
func formatProperty(name string, p entity.Property) string {
	switch prop := p.(type) {
	case entity.Literal:
		return fmt.Sprintf("%s = %s", name, value.Format(prop.Value))
	case entity.Measured:
		return fmt.Sprintf("%s = %s ±%g (measured)", name, value.Format(prop.Value), prop.Uncertainty)
	case entity.Inherited:
		if prop.Override != nil {
			return fmt.Sprintf("%s = %s (overrides %s.%s)", name, value.Format(prop.Override), prop.SourceEntity, prop.SourceProperty)
		}
		return fmt.Sprintf("%s -> %s.%s (inherited)", name, prop.SourceEntity, prop.SourceProperty)
	case entity.Computed:
		switch prop.Status {
		case entity.StatusValid:
			return fmt.Sprintf("%s = %s [%s]", name, value.Format(prop.CachedValue), prop.Status)
		case entity.StatusError, entity.StatusCircular:
			return fmt.Sprintf("%s [%s] %s", name, prop.Status, prop.ComputationError)
		default:
			return fmt.Sprintf("%s [%s] %s", name, prop.Status, prop.Expression)
		}
	default:
		return name
	}
}
