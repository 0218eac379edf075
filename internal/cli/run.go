package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/covenant/internal/harness"
	"github.com/roach88/covenant/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunReport holds the outcome of one scenario run.
type RunReport struct {
	Scenario     string                    `json:"scenario"`
	RunID        string                    `json:"run_id"`
	Pass         bool                      `json:"pass"`
	SchemaID     string                    `json:"schema_id"`
	PolicyDigest string                    `json:"policy_digest"`
	Steps        int                       `json:"steps"`
	Commits      int                       `json:"commits"`
	FinalDebt    string                    `json:"final_debt"`
	Transcript   []harness.TranscriptEntry `json:"transcript"`
	Errors       []string                  `json:"errors,omitempty"`
	Database     string                    `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml | scenarios-dir>",
		Short: "Run a scenario against the ledger executor",
		Long: `Run a governed flow scenario through the ledger executor.

The scenario names its CUE definition, an initial state and debt, and
the flow of transitions to drive. Every accepted step appends a receipt
to the run's chain; expect clauses and assertions are checked as the
flow progresses.

Given a directory, every scenario in it runs as a suite.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed (assertion mismatch, unexpected rejection)
  2 - Command error (scenario not found, database unusable)

Examples:
  covenant run ./scenarios/paydown.yaml
  covenant run ./scenarios/paydown.yaml --db ./covenant.db
  covenant run ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the receipt chain to this SQLite database")

	return cmd
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("access %s", path), err)
	}

	h := &harness.Harness{Logger: logger}

	if info.IsDir() {
		if opts.Database != "" {
			return NewExitError(ExitCommandError, "--db requires a single scenario file, not a directory")
		}
		return runSuiteDir(opts, h, path, cmd)
	}
	return runScenarioFile(opts, h, path, cmd)
}

// runScenarioFile runs a single scenario and optionally persists its
// chain.
func runScenarioFile(opts *RunOptions, h *harness.Harness, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario load failed", err)
	}

	result, err := h.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario execution failed", err)
	}

	report := RunReport{
		Scenario:     scenario.Name,
		RunID:        result.RunID,
		Pass:         result.Pass,
		SchemaID:     result.Definition.Schema.ID(),
		PolicyDigest: string(result.PolicyDigest),
		Steps:        result.Chain.Len(),
		Commits:      result.Chain.CommitLen(),
		FinalDebt:    result.FinalDebt.String(),
		Transcript:   result.Transcript,
		Errors:       result.Errors,
	}

	if opts.Database != "" {
		if err := persistChain(opts.Database, &report, result); err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "persist chain", err)
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(formatter, report)
	}
	return outputRunText(formatter, report)
}

// persistChain saves the run's receipt chain and records the database
// path in the report.
func persistChain(dbPath string, report *RunReport, result *harness.Result) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("closing database", "error", closeErr)
		}
	}()

	ctx := context.Background()
	if err := st.SaveChain(ctx, result.RunID, result.Definition.Schema.ID(), result.Chain); err != nil {
		return err
	}
	report.Database = dbPath
	slog.Info("chain persisted",
		"db", dbPath,
		"run", result.RunID,
		"steps", result.Chain.Len(),
		"commits", result.Chain.CommitLen(),
	)
	return nil
}

// outputRunJSON outputs a scenario result as JSON.
func outputRunJSON(formatter *OutputFormatter, report RunReport) error {
	resp := CLIResponse{
		Status: "ok",
		Data:   report,
	}
	if !report.Pass {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: fmt.Sprintf("scenario failed with %d error(s)", len(report.Errors)),
		}
	}
	if err := formatter.writeJSON(resp); err != nil {
		return err
	}

	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario failed with %d error(s)", len(report.Errors)))
	}
	return nil
}

// outputRunText outputs a scenario result as text.
func outputRunText(formatter *OutputFormatter, report RunReport) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Scenario: %s\n", report.Scenario)
	fmt.Fprintf(w, "Run:      %s\n", report.RunID)
	fmt.Fprintf(w, "Policy:   %s\n", report.PolicyDigest)
	fmt.Fprintln(w)
	for i, entry := range report.Transcript {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, entry)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Final debt: %s\n", report.FinalDebt)
	fmt.Fprintf(w, "Chain:      %d step(s), %d commit(s)\n", report.Steps, report.Commits)
	if report.Database != "" {
		fmt.Fprintf(w, "Saved to:   %s\n", report.Database)
	}
	fmt.Fprintln(w)

	if !report.Pass {
		for _, msg := range report.Errors {
			fmt.Fprintf(w, "  %s\n", msg)
		}
		fmt.Fprintf(w, "✗ %s failed\n", report.Scenario)
		return NewExitError(ExitFailure, fmt.Sprintf("scenario failed with %d error(s)", len(report.Errors)))
	}

	fmt.Fprintf(w, "✓ %s passed\n", report.Scenario)
	return nil
}

// runSuiteDir runs every scenario in a directory.
func runSuiteDir(opts *RunOptions, h *harness.Harness, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	suite, err := h.RunSuite(dir)
	if err != nil {
		_ = formatter.Error(ErrCodeNoFiles, err.Error(), nil)
		return WrapExitError(ExitCommandError, "suite failed", err)
	}

	if opts.Format == "json" {
		resp := CLIResponse{
			Status: "ok",
			Data:   suite,
		}
		if suite.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeScenario,
				Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
			}
		}
		if err := formatter.writeJSON(resp); err != nil {
			return err
		}
		if suite.Failed > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
		}
		return nil
	}

	w := formatter.Writer
	for _, failure := range suite.Failures {
		fmt.Fprintf(w, "✗ %s\n", failure.Scenario)
		fmt.Fprintf(w, "    %s\n", failure.Error)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Suite: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Scenarios)

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
