package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/compiler"
	"github.com/roach88/covenant/internal/law"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/state"
	"github.com/roach88/covenant/internal/verify"
)

// AssertionError is returned when an assertion fails. It includes the
// run's transcript so a failure can be read without re-running.
type AssertionError struct {
	Type       string            // Assertion type for categorization
	Expected   string            // Human-readable expected outcome
	Actual     string            // Human-readable actual outcome
	Transcript []TranscriptEntry // Full transcript for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nTranscript:\n")
	for i, entry := range e.Transcript {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, entry)
	}

	return buf.String()
}

// assertFinalDebt checks the outstanding debt after the flow.
func assertFinalDebt(result *Result, assertion Assertion) error {
	want, err := parseQuantity(assertion.Value)
	if err != nil {
		return fmt.Errorf("final_debt assertion: %w", err)
	}
	if !want.Equal(result.FinalDebt) {
		return &AssertionError{
			Type:       AssertFinalDebt,
			Expected:   fmt.Sprintf("final debt %s", want),
			Actual:     fmt.Sprintf("final debt %s", result.FinalDebt),
			Transcript: result.Transcript,
		}
	}
	return nil
}

// assertChainLength checks the number of step receipts in the chain.
// Rejected steps append nothing, so the count covers accepted steps
// only.
func assertChainLength(result *Result, assertion Assertion) error {
	got := result.Chain.Len()
	if got != assertion.Count {
		return &AssertionError{
			Type:       AssertChainLength,
			Expected:   fmt.Sprintf("%d step receipt(s)", assertion.Count),
			Actual:     fmt.Sprintf("%d step receipt(s)", got),
			Transcript: result.Transcript,
		}
	}
	return nil
}

// assertCommitCount checks the number of commit receipts in the chain.
func assertCommitCount(result *Result, assertion Assertion) error {
	got := result.Chain.CommitLen()
	if got != assertion.Count {
		return &AssertionError{
			Type:       AssertCommitCount,
			Expected:   fmt.Sprintf("%d commit receipt(s)", assertion.Count),
			Actual:     fmt.Sprintf("%d commit receipt(s)", got),
			Transcript: result.Transcript,
		}
	}
	return nil
}

// assertFinalState checks named fields of the final state. Subset
// semantics: fields the assertion leaves out are not checked.
func assertFinalState(result *Result, assertion Assertion) error {
	def := result.Definition
	for name, raw := range assertion.Fields {
		id, ok := def.Fields[name]
		if !ok {
			return fmt.Errorf("final_state assertion: field %q is not declared by schema %s",
				name, def.Schema.ID())
		}
		fd, _ := def.Schema.Lookup(id)
		want, err := convertValue(def, fd, raw)
		if err != nil {
			return fmt.Errorf("final_state assertion: field %q: %w", name, err)
		}

		got, present := result.FinalState.Get(id)
		if !present {
			return &AssertionError{
				Type:       AssertFinalState,
				Expected:   fmt.Sprintf("field %s = %s", name, formatValue(want)),
				Actual:     fmt.Sprintf("field %s absent from final state", name),
				Transcript: result.Transcript,
			}
		}
		if !state.ValueEqual(got, want) {
			return &AssertionError{
				Type:       AssertFinalState,
				Expected:   fmt.Sprintf("field %s = %s", name, formatValue(want)),
				Actual:     fmt.Sprintf("field %s = %s", name, formatValue(got)),
				Transcript: result.Transcript,
			}
		}
	}
	return nil
}

// NewVerifier builds a replay verifier for chains produced under the
// given definition. Event labels are recovered from the receipts'
// extension fields, so event-typed disturbance policies replay with
// the same context the executor saw.
func NewVerifier(def *compiler.Definition) *verify.Verifier {
	return &verify.Verifier{
		Bundle:      def.Bundle,
		Law:         def.Law,
		Disturbance: def.Disturbance,
		Invariants:  def.Invariants,
		StepContext: func(r *receipt.Step) law.StepInfo {
			return law.StepInfo{Event: r.Extensions[ExtEventKey]}
		},
	}
}

// assertVerifyClean replays the chain through the verifier under the
// same definition the run executed with.
func assertVerifyClean(result *Result) error {
	v := NewVerifier(result.Definition)
	report, err := v.VerifyChain(result.Chain, result.FinalState)
	if err != nil {
		return fmt.Errorf("verify_clean assertion: %w", err)
	}
	if !report.OK() {
		first := report.Violations[0]
		return &AssertionError{
			Type:       AssertVerifyClean,
			Expected:   "replay verification finds no violations",
			Actual:     fmt.Sprintf("%d violation(s), first %s: %s", len(report.Violations), first.Code, first.Message),
			Transcript: result.Transcript,
		}
	}
	return nil
}

// formatValue renders a field value as its canonical token, which is
// the most precise short form a value has.
func formatValue(v state.Value) string {
	tok, err := canon.Token(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(tok)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalDebt:
			err = assertFinalDebt(result, assertion)
		case AssertChainLength:
			err = assertChainLength(result, assertion)
		case AssertCommitCount:
			err = assertCommitCount(result, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertVerifyClean:
			err = assertVerifyClean(result)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
