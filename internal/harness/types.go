package harness

import (
	"fmt"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/compiler"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/state"
)

// Transcript entry type tags.
const (
	EntryStep     = "step"
	EntryRejected = "rejected"
	EntryCommit   = "commit"
)

// TranscriptEntry records one observable event in a run: an accepted
// step, a rejected step, or a commit. Entries carry the semantic
// trajectory only; hashes and identifiers live in the receipt chain.
type TranscriptEntry struct {
	Type string `json:"type"` // "step", "rejected", or "commit"

	// Step entries.
	Step        int64  `json:"step,omitempty"`
	Transition  string `json:"transition,omitempty"`
	Budget      string `json:"budget,omitempty"`
	Disturbance string `json:"disturbance,omitempty"`
	Service     string `json:"service,omitempty"`
	DebtBefore  string `json:"debt_before,omitempty"`
	DebtAfter   string `json:"debt_after,omitempty"`
	Event       string `json:"event,omitempty"`

	// Rejected entries.
	Error string `json:"error,omitempty"`

	// Commit entries.
	Commit int64 `json:"commit,omitempty"`
	Steps  int   `json:"steps,omitempty"`
}

// String renders the entry as a single transcript line.
func (e TranscriptEntry) String() string {
	switch e.Type {
	case EntryStep:
		return fmt.Sprintf("step %d %s: debt %s -> %s (budget %s, service %s, disturbance %s)",
			e.Step, e.Transition,
			e.DebtBefore, e.DebtAfter,
			e.Budget, e.Service, e.Disturbance)
	case EntryRejected:
		return fmt.Sprintf("rejected %s: %s", e.Transition, e.Error)
	case EntryCommit:
		return fmt.Sprintf("commit %d sealing %d step(s)", e.Commit, e.Steps)
	}
	return e.Type
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success: every expect clause and every
	// assertion matched.
	Pass bool `json:"pass"`

	// RunID is the run token the scenario executed under.
	RunID string `json:"run_id"`

	// PolicyDigest is the compiled bundle's digest. Every receipt in
	// the chain carries it.
	PolicyDigest canon.Digest `json:"policy_digest"`

	// Transcript records the run's trajectory in order.
	Transcript []TranscriptEntry `json:"transcript"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// FinalDebt is the outstanding debt after the last accepted step.
	FinalDebt exact.Value `json:"final_debt"`

	// FinalState is the state after the last accepted step.
	FinalState *state.State `json:"-"`

	// Chain is the receipt chain the run produced.
	Chain *receipt.Chain `json:"-"`

	// Definition is the compiled definition the run executed under.
	Definition *compiler.Definition `json:"-"`
}

// NewResult creates a passing result for a run.
func NewResult(runID string) *Result {
	return &Result{
		Pass:       true,
		RunID:      runID,
		Transcript: []TranscriptEntry{},
		Errors:     []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddStep appends a transcript entry for an accepted step receipt.
// The event label is not part of the receipt's law fields, so the
// caller supplies it.
func (r *Result) AddStep(rcpt *receipt.Step, event string) {
	r.Transcript = append(r.Transcript, TranscriptEntry{
		Type:        EntryStep,
		Step:        rcpt.StepIndex,
		Transition:  rcpt.TransitionID,
		Budget:      rcpt.Budget.String(),
		Disturbance: rcpt.Disturbance.String(),
		Service:     rcpt.ServiceProvided.String(),
		DebtBefore:  rcpt.DebtBefore.String(),
		DebtAfter:   rcpt.DebtAfter.String(),
		Event:       event,
	})
}

// AddRejected appends a transcript entry for a step the executor
// refused. The run state is untouched by a rejected step, so the entry
// carries only the transition and the fault code.
func (r *Result) AddRejected(transitionID, code string) {
	r.Transcript = append(r.Transcript, TranscriptEntry{
		Type:       EntryRejected,
		Transition: transitionID,
		Error:      code,
	})
}

// AddCommit appends a transcript entry for a commit receipt.
func (r *Result) AddCommit(rcpt *receipt.Commit) {
	r.Transcript = append(r.Transcript, TranscriptEntry{
		Type:   EntryCommit,
		Commit: rcpt.CommitIndex,
		Steps:  len(rcpt.StepReceiptHashes),
	})
}
