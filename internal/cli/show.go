package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/covenant/internal/harness"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
}

// RunSummary is one row in the run listing.
type RunSummary struct {
	RunID        string `json:"run_id"`
	SchemaID     string `json:"schema_id"`
	HashMode     string `json:"hash_mode"`
	PolicyDigest string `json:"policy_digest"`
}

// StepRow is one step receipt in a chain listing.
type StepRow struct {
	Index        int64  `json:"index"`
	Transition   string `json:"transition"`
	DebtBefore   string `json:"debt_before"`
	DebtAfter    string `json:"debt_after"`
	Budget       string `json:"budget"`
	Service      string `json:"service"`
	Disturbance  string `json:"disturbance"`
	LawSatisfied bool   `json:"law_satisfied"`
	ReceiptHash  string `json:"receipt_hash"`
	Event        string `json:"event,omitempty"`
}

// CommitRow is one commit receipt in a chain listing.
type CommitRow struct {
	Index       int64  `json:"index"`
	Steps       int    `json:"steps"`
	BatchRoot   string `json:"batch_root"`
	ReceiptHash string `json:"receipt_hash"`
}

// ChainReport holds everything show prints for a single run.
type ChainReport struct {
	RunID        string      `json:"run_id"`
	SchemaID     string      `json:"schema_id"`
	HashMode     string      `json:"hash_mode"`
	PolicyDigest string      `json:"policy_digest"`
	Uncommitted  int         `json:"uncommitted"`
	HeadStep     string      `json:"head_step,omitempty"`
	HeadCommit   string      `json:"head_commit,omitempty"`
	FinalDebt    string      `json:"final_debt"`
	Steps        []StepRow   `json:"steps"`
	Commits      []CommitRow `json:"commits"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show stored runs and their chains",
		Long: `Show the runs stored in a ledger database.

Without a run identifier, lists every stored run. With one, prints the
run's full receipt chain: each step's transition, debt movement, and
law verdict, plus each commit's batch root.

Examples:
  covenant show --db ./covenant.db
  covenant show --db ./covenant.db run-paydown
  covenant show --db ./covenant.db run-paydown --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runShowList(opts, cmd)
			}
			return runShowChain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// openStore opens the database, rejecting paths that do not exist so a
// typo does not silently create an empty ledger.
func openStore(opts *ShowOptions) (*store.Store, error) {
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return st, nil
}

func runShowList(opts *ShowOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := context.Background()

	st, err := openStore(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer st.Close()

	recs, err := st.ListRuns(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "list runs", err)
	}

	summaries := make([]RunSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, RunSummary{
			RunID:        rec.ID,
			SchemaID:     rec.SchemaID,
			HashMode:     string(rec.HashMode),
			PolicyDigest: string(rec.PolicyDigest),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"runs": summaries})
	}

	w := formatter.Writer
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs in database.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  schema %s  %s  policy %s\n",
			s.RunID, s.SchemaID, s.HashMode, s.PolicyDigest)
	}
	fmt.Fprintf(w, "%d run(s)\n", len(summaries))
	return nil
}

func runShowChain(opts *ShowOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := context.Background()

	st, err := openStore(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer st.Close()

	cs, err := st.Describe(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", runID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID))
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "describe run", err)
	}

	steps, err := st.ReadSteps(ctx, runID)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read steps", err)
	}
	commits, err := st.ReadCommits(ctx, runID)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read commits", err)
	}

	report := buildChainReport(cs, steps, commits)

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return outputChainText(formatter, report)
}

// buildChainReport flattens stored receipts into display rows.
func buildChainReport(cs store.ChainState, steps []*receipt.Step, commits []*receipt.Commit) ChainReport {
	report := ChainReport{
		RunID:        cs.Run.ID,
		SchemaID:     cs.Run.SchemaID,
		HashMode:     string(cs.Run.HashMode),
		PolicyDigest: string(cs.Run.PolicyDigest),
		Uncommitted:  cs.Uncommitted,
		HeadStep:     string(cs.HeadStep),
		HeadCommit:   string(cs.HeadCommit),
		FinalDebt:    cs.FinalDebt.String(),
		Steps:        make([]StepRow, 0, len(steps)),
		Commits:      make([]CommitRow, 0, len(commits)),
	}

	for _, r := range steps {
		report.Steps = append(report.Steps, StepRow{
			Index:        r.StepIndex,
			Transition:   r.TransitionID,
			DebtBefore:   r.DebtBefore.String(),
			DebtAfter:    r.DebtAfter.String(),
			Budget:       r.Budget.String(),
			Service:      r.ServiceProvided.String(),
			Disturbance:  r.Disturbance.String(),
			LawSatisfied: r.LawSatisfied,
			ReceiptHash:  string(r.ReceiptHash),
			Event:        r.Extensions[harness.ExtEventKey],
		})
	}
	for _, c := range commits {
		report.Commits = append(report.Commits, CommitRow{
			Index:       c.CommitIndex,
			Steps:       len(c.StepReceiptHashes),
			BatchRoot:   string(c.BatchRoot),
			ReceiptHash: string(c.CommitHash),
		})
	}
	return report
}

// outputChainText prints one run's chain in text form.
func outputChainText(formatter *OutputFormatter, report ChainReport) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Run:        %s\n", report.RunID)
	fmt.Fprintf(w, "Schema:     %s\n", report.SchemaID)
	fmt.Fprintf(w, "Hash mode:  %s\n", report.HashMode)
	fmt.Fprintf(w, "Policy:     %s\n", report.PolicyDigest)
	fmt.Fprintf(w, "Steps:      %d (%d uncommitted)\n", len(report.Steps), report.Uncommitted)
	fmt.Fprintf(w, "Commits:    %d\n", len(report.Commits))
	fmt.Fprintf(w, "Final debt: %s\n", report.FinalDebt)
	fmt.Fprintln(w)

	for _, s := range report.Steps {
		law := "law ok"
		if !s.LawSatisfied {
			law = "LAW VIOLATED"
		}
		fmt.Fprintf(w, "  step %d %s: debt %s -> %s (budget %s, service %s, disturbance %s) %s\n",
			s.Index, s.Transition, s.DebtBefore, s.DebtAfter,
			s.Budget, s.Service, s.Disturbance, law)
		if s.Event != "" {
			fmt.Fprintf(w, "    event %s\n", s.Event)
		}
		formatter.VerboseLog("    receipt %s", s.ReceiptHash)
	}
	for _, c := range report.Commits {
		fmt.Fprintf(w, "  commit %d sealing %d step(s), batch root %s\n",
			c.Index, c.Steps, c.BatchRoot)
		formatter.VerboseLog("    receipt %s", c.ReceiptHash)
	}

	return nil
}
