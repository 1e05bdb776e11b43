package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/facet/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
}

// ScenarioResult is one scenario's outcome in the JSON payload.
type ScenarioResult struct {
	Name       string   `json:"name"`
	File       string   `json:"file"`
	Pass       bool     `json:"pass"`
	Recomputed int      `json:"recomputed"`
	Errors     []string `json:"errors,omitempty"`
}

// TestReport is the JSON payload for a test run.
type TestReport struct {
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run YAML scenarios against in-memory databases",
		Long: `Run every *.yaml scenario in a directory. Each scenario gets a fresh
in-memory database, so scenarios cannot interfere with each other.

Example:
  facet test ./scenarios/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args[0], cmd)
		},
	}

	return cmd
}

func runTest(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		_ = formatter.Error(ErrCodeScanError, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scan scenarios", err)
	}
	if len(paths) == 0 {
		_ = formatter.Error(ErrCodeNoFiles, fmt.Sprintf("no scenario files found in %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files found in %s", dir))
	}
	sort.Strings(paths)

	report := TestReport{Total: len(paths)}
	for _, path := range paths {
		sr := runScenarioFile(path)
		if sr.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Scenarios = append(report.Scenarios, sr)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		for _, sr := range report.Scenarios {
			if sr.Pass {
				fmt.Fprintf(formatter.Writer, "✓ %s (%d recomputed)\n", sr.Name, sr.Recomputed)
				continue
			}
			fmt.Fprintf(formatter.Writer, "✗ %s\n", sr.Name)
			for _, msg := range sr.Errors {
				fmt.Fprintf(formatter.Writer, "    %s\n", msg)
			}
		}
		fmt.Fprintf(formatter.Writer, "%d/%d scenarios passed\n", report.Passed, report.Total)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	return nil
}

func runScenarioFile(path string) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(path), File: path}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		sr.Errors = append(sr.Errors, err.Error())
		return sr
	}
	sr.Name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		sr.Errors = append(sr.Errors, err.Error())
		return sr
	}
	sr.Pass = result.Pass
	sr.Recomputed = result.Recomputed
	sr.Errors = result.Errors
	return sr
}
