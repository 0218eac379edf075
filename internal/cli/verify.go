package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/covenant/internal/compiler"
	"github.com/roach88/covenant/internal/harness"
	"github.com/roach88/covenant/internal/store"
	"github.com/roach88/covenant/internal/verify"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// VerifyReport holds the outcome of replaying one stored chain.
type VerifyReport struct {
	RunID          string             `json:"run_id"`
	SchemaID       string             `json:"schema_id"`
	PolicyDigest   string             `json:"policy_digest"`
	StepsChecked   int                `json:"steps_checked"`
	CommitsChecked int                `json:"commits_checked"`
	Clean          bool               `json:"clean"`
	Violations     []verify.Violation `json:"violations,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <definition.cue>",
		Short: "Replay a stored chain and verify it",
		Long: `Replay a stored receipt chain against its governance definition.

The chain is rebuilt from the database through the same admission
checks a live append runs, then every receipt is re-derived: state
hashes, receipt hashes, link structure, the service law, disturbance
admissibility, and the batch Merkle roots of commit receipts. Any
recomputation that disagrees with the stored chain is reported as a
violation.

Exit codes:
  0 - Chain verified clean
  1 - Verification found violations (or the chain failed to rebuild)
  2 - Command error (database or run not found, bad definition)

Examples:
  covenant verify ./defs/meter.cue --db ./covenant.db --run run-paydown
  covenant verify ./defs/meter.cue --db ./covenant.db --run run-paydown --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run identifier to verify (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runVerify(opts *VerifyOptions, defPath string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := context.Background()

	src, err := os.ReadFile(defPath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read definition", err)
	}
	def, err := compiler.CompileString(string(src))
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compile definition", err)
	}

	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	rec, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.RunID))
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read run", err)
	}

	report := VerifyReport{
		RunID:        rec.ID,
		SchemaID:     rec.SchemaID,
		PolicyDigest: string(rec.PolicyDigest),
	}

	formatter.VerboseLog("Rebuilding chain for run %s", rec.ID)
	chain, err := st.LoadChain(ctx, opts.RunID)
	if err != nil {
		// A chain that fails its own admission checks is a verification
		// finding, not a command error.
		report.Violations = []verify.Violation{{
			Code:    verify.CodeChain,
			Index:   -1,
			Message: err.Error(),
		}}
		return outputVerifyReport(formatter, opts.Format, report)
	}

	verifier := harness.NewVerifier(def)
	vr, err := verifier.VerifyChain(chain, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "verify chain", err)
	}

	report.StepsChecked = vr.StepsChecked
	report.CommitsChecked = vr.CommitsChecked
	report.Clean = vr.OK()
	report.Violations = vr.Violations
	return outputVerifyReport(formatter, opts.Format, report)
}

// outputVerifyReport renders the report and maps violations to exit 1.
func outputVerifyReport(formatter *OutputFormatter, format string, report VerifyReport) error {
	if format == "json" {
		resp := CLIResponse{
			Status: "ok",
			Data:   report,
		}
		if !report.Clean {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeVerify,
				Message: fmt.Sprintf("verification failed: %d violation(s)", len(report.Violations)),
			}
		}
		if err := formatter.writeJSON(resp); err != nil {
			return err
		}
		if !report.Clean {
			return NewExitError(ExitFailure, fmt.Sprintf("verification failed: %d violation(s)", len(report.Violations)))
		}
		return nil
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run:    %s\n", report.RunID)
	fmt.Fprintf(w, "Schema: %s\n", report.SchemaID)
	fmt.Fprintf(w, "Policy: %s\n", report.PolicyDigest)
	fmt.Fprintln(w)

	if !report.Clean {
		fmt.Fprintf(w, "✗ Verification failed: %d violation(s)\n", len(report.Violations))
		for _, v := range report.Violations {
			fmt.Fprintf(w, "  [%s] %s\n", v.Code, v.Message)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("verification failed: %d violation(s)", len(report.Violations)))
	}

	fmt.Fprintf(w, "✓ Verification clean: %d step(s), %d commit(s) checked\n",
		report.StepsChecked, report.CommitsChecked)
	return nil
}
