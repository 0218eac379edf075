package verify

import (
	"errors"
	"fmt"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/contract"
	"github.com/roach88/covenant/internal/law"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/state"
)

// Code classifies a verification violation.
type Code string

const (
	CodeStateHash    Code = "FAIL_STATE_HASH"
	CodeReceiptHash  Code = "FAIL_RECEIPT_HASH"
	CodeChain        Code = "FAIL_CHAIN"
	CodeInvariant    Code = "FAIL_INVARIANT"
	CodeLaw          Code = "FAIL_LAW"
	CodeService      Code = "FAIL_SERVICE"
	CodeDisturbance  Code = "FAIL_DISTURBANCE"
	CodeTransition   Code = "FAIL_TRANSITION"
	CodePolicyDigest Code = "FAIL_POLICY_DIGEST"
)

// Violation is one verification failure. Index is the step or commit
// index the finding refers to; the message names which. Whole-chain
// findings use index -1.
type Violation struct {
	Code    Code              `json:"code"`
	Index   int64             `json:"index"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Report collects every violation found in one verification pass.
type Report struct {
	Violations     []Violation `json:"violations"`
	StepsChecked   int         `json:"steps_checked"`
	CommitsChecked int         `json:"commits_checked"`
}

// OK reports whether the pass found no violations.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// ByCode returns the violations carrying the given code, in report order.
func (r *Report) ByCode(code Code) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Code == code {
			out = append(out, v)
		}
	}
	return out
}

func (r *Report) add(code Code, index int64, format string, args ...any) *Violation {
	r.Violations = append(r.Violations, Violation{
		Code:    code,
		Index:   index,
		Message: fmt.Sprintf(format, args...),
	})
	return &r.Violations[len(r.Violations)-1]
}

func (v *Violation) detail(key, value string) *Violation {
	if v.Detail == nil {
		v.Detail = make(map[string]string)
	}
	v.Detail[key] = value
	return v
}

// Verifier replays receipts against the policy bundle, service law,
// disturbance policy, and invariant set the producer used. Disturbance
// and Invariants may be nil; the corresponding checks are skipped.
// StepContext, when set, derives the per-step disturbance context
// (event label, pre-step state) from a receipt; nil means the zero
// StepInfo, which suits the zero and bounded policies.
type Verifier struct {
	Bundle      policy.Bundle
	Law         law.ServiceLaw
	Disturbance law.DisturbancePolicy
	Invariants  *contract.Set
	StepContext func(*receipt.Step) law.StepInfo
}

// VerifyChain replays an in-memory chain. The final state may be nil.
func (v *Verifier) VerifyChain(c *receipt.Chain, final *state.State) (*Report, error) {
	if c == nil {
		return nil, errors.New("verify: chain must not be nil")
	}
	return v.Verify(c.Steps(), c.Commits(), final)
}

// Verify replays raw step and commit receipts, which need not have
// passed chain admission. Every violation across the whole input is
// accumulated; the error return covers verifier misconfiguration only.
func (v *Verifier) Verify(steps []*receipt.Step, commits []*receipt.Commit, final *state.State) (*Report, error) {
	if v.Law == nil {
		return nil, errors.New("verify: service law must not be nil")
	}
	if err := v.Bundle.Validate(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	digest, err := v.Bundle.Digest()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	report := &Report{}
	stepHashes := make(map[canon.Digest]*receipt.Step, len(steps))

	for i, r := range steps {
		v.verifyStep(report, r, int64(i), prevStep(steps, i), digest)
		if r != nil {
			stepHashes[r.ReceiptHash] = r
		}
	}
	report.StepsChecked = len(steps)

	for i, r := range commits {
		v.verifyCommit(report, r, int64(i), prevCommit(commits, i), digest, stepHashes)
	}
	report.CommitsChecked = len(commits)

	if final != nil {
		v.verifyFinalState(report, steps, final)
	}
	return report, nil
}

func prevStep(steps []*receipt.Step, i int) *receipt.Step {
	if i == 0 {
		return nil
	}
	return steps[i-1]
}

func prevCommit(commits []*receipt.Commit, i int) *receipt.Commit {
	if i == 0 {
		return nil
	}
	return commits[i-1]
}

func (v *Verifier) verifyStep(report *Report, r *receipt.Step, position int64, prev *receipt.Step, digest canon.Digest) {
	if r == nil {
		report.add(CodeChain, position, "step %d: receipt missing", position)
		return
	}
	if r.StepIndex != position {
		report.add(CodeChain, position,
			"step %d: receipt carries index %d", position, r.StepIndex)
	}

	computed, err := r.ComputeHash(v.Bundle.HashMode)
	switch {
	case err != nil:
		report.add(CodeReceiptHash, position,
			"step %d: cannot recompute hash: %v", position, err)
	case computed != r.ReceiptHash:
		report.add(CodeReceiptHash, position,
			"step %d: receipt hash mismatch", position).
			detail("recorded", string(r.ReceiptHash)).
			detail("computed", string(computed))
	}

	expectedPrev := receipt.Genesis()
	if prev != nil {
		expectedPrev = prev.ReceiptHash
	}
	if r.PrevReceiptHash != expectedPrev {
		report.add(CodeChain, position,
			"step %d: chain broken", position).
			detail("expected_prev", string(expectedPrev)).
			detail("got", string(r.PrevReceiptHash))
	}

	if prev != nil && r.StateHashBefore != prev.StateHashAfter {
		report.add(CodeStateHash, position,
			"step %d: state hash discontinuity", position).
			detail("prev_after", string(prev.StateHashAfter)).
			detail("before", string(r.StateHashBefore))
	}

	if r.PolicyDigest != digest {
		report.add(CodePolicyDigest, position,
			"step %d: policy digest drift", position).
			detail("expected", string(digest)).
			detail("got", string(r.PolicyDigest))
	}

	if r.ServicePolicyID != v.Law.PolicyID() {
		report.add(CodeService, position,
			"step %d: service policy mismatch: expected %s, got %s",
			position, v.Law.PolicyID(), r.ServicePolicyID)
	}
	if r.ServiceInstance != v.Law.InstanceID() {
		report.add(CodeService, position,
			"step %d: service instance mismatch: expected %s, got %s",
			position, v.Law.InstanceID(), r.ServiceInstance)
	}
	if v.Disturbance != nil && r.DisturbancePolicyID != v.Disturbance.PolicyID() {
		report.add(CodeDisturbance, position,
			"step %d: disturbance policy mismatch: expected %s, got %s",
			position, v.Disturbance.PolicyID(), r.DisturbancePolicyID)
	}

	v.verifyLaw(report, r, position)

	if !r.TransitionSuccess {
		report.add(CodeTransition, position,
			"step %d: transition %s recorded as failed", position, r.TransitionID)
	}
	if !r.InvariantStatus {
		report.add(CodeInvariant, position,
			"step %d: receipt records failing invariants", position)
	}
}

// verifyLaw recomputes the budget law from the receipt's recorded
// debt, budget, and disturbance and compares it against the recorded
// service, debt_after, and admissibility flag.
func (v *Verifier) verifyLaw(report *Report, r *receipt.Step, position int64) {
	info := law.StepInfo{}
	if v.StepContext != nil {
		info = v.StepContext(r)
	}

	res, err := law.Step(r.DebtBefore, r.Budget, r.Disturbance, v.Law, v.Disturbance, info)
	if err != nil {
		report.add(CodeLaw, position,
			"step %d: cannot recompute budget law: %v", position, err)
		return
	}

	if !res.Service.Equal(r.ServiceProvided) {
		report.add(CodeLaw, position,
			"step %d: service mismatch: recorded %s, recomputed %s",
			position, r.ServiceProvided, res.Service)
	}
	if !res.DebtAfter.Equal(r.DebtAfter) {
		report.add(CodeLaw, position,
			"step %d: debt recurrence violated: recorded %s, recomputed %s",
			position, r.DebtAfter, res.DebtAfter)
	}
	if v.Disturbance != nil && !res.LawSatisfied {
		report.add(CodeDisturbance, position,
			"step %d: disturbance %s out of bounds", position, r.Disturbance)
	}
	if v.Disturbance != nil && r.LawSatisfied != res.LawSatisfied {
		report.add(CodeLaw, position,
			"step %d: law_satisfied recorded as %t, recomputed %t",
			position, r.LawSatisfied, res.LawSatisfied)
	}
}

func (v *Verifier) verifyCommit(report *Report, r *receipt.Commit, position int64, prev *receipt.Commit, digest canon.Digest, steps map[canon.Digest]*receipt.Step) {
	if r == nil {
		report.add(CodeChain, position, "commit %d: receipt missing", position)
		return
	}
	if r.CommitIndex != position {
		report.add(CodeChain, position,
			"commit %d: receipt carries index %d", position, r.CommitIndex)
	}

	computed, err := r.ComputeHash(v.Bundle.HashMode)
	switch {
	case err != nil:
		report.add(CodeReceiptHash, position,
			"commit %d: cannot recompute hash: %v", position, err)
	case computed != r.CommitHash:
		report.add(CodeReceiptHash, position,
			"commit %d: commit hash mismatch", position).
			detail("recorded", string(r.CommitHash)).
			detail("computed", string(computed))
	}

	expectedPrev := receipt.Genesis()
	if prev != nil {
		expectedPrev = prev.CommitHash
	}
	if r.PrevCommitHash != expectedPrev {
		report.add(CodeChain, position,
			"commit %d: chain broken", position).
			detail("expected_prev", string(expectedPrev)).
			detail("got", string(r.PrevCommitHash))
	}

	if r.PolicyDigest != digest {
		report.add(CodePolicyDigest, position,
			"commit %d: policy digest drift", position).
			detail("expected", string(digest)).
			detail("got", string(r.PolicyDigest))
	}

	root, err := receipt.MerkleRoot(r.StepReceiptHashes)
	switch {
	case err != nil:
		report.add(CodeChain, position,
			"commit %d: cannot recompute batch root: %v", position, err)
	case root != r.BatchRoot:
		report.add(CodeChain, position,
			"commit %d: batch root mismatch", position).
			detail("recorded", string(r.BatchRoot)).
			detail("computed", string(root))
	}

	module, err := receipt.ModuleDigest(r.StepReceiptHashes)
	switch {
	case err != nil:
		report.add(CodeChain, position,
			"commit %d: cannot recompute module receipt digest: %v", position, err)
	case module != r.ModuleReceiptDigest:
		report.add(CodeChain, position,
			"commit %d: module receipt digest mismatch", position).
			detail("recorded", string(r.ModuleReceiptDigest)).
			detail("computed", string(module))
	}

	var last *receipt.Step
	for _, h := range r.StepReceiptHashes {
		step, ok := steps[h]
		if !ok {
			report.add(CodeChain, position,
				"commit %d: references unknown step receipt %s", position, h)
			last = nil
			break
		}
		last = step
	}
	if last != nil && r.StateHash != last.StateHashAfter {
		report.add(CodeStateHash, position,
			"commit %d: state hash disagrees with final covered step", position).
			detail("commit", string(r.StateHash)).
			detail("step_after", string(last.StateHashAfter))
	}
}

// verifyFinalState checks the supplied final state against the last
// receipt's state_hash_after and evaluates every configured invariant.
func (v *Verifier) verifyFinalState(report *Report, steps []*receipt.Step, final *state.State) {
	digest, err := v.Bundle.StateDigest(final)
	if err != nil {
		report.add(CodeStateHash, -1, "final state: cannot hash: %v", err)
	} else if n := len(steps); n > 0 && steps[n-1] != nil {
		last := steps[n-1]
		if last.StateHashAfter != digest {
			report.add(CodeStateHash, last.StepIndex,
				"final state hash %s disagrees with last receipt %s", digest, last.StateHashAfter)
		}
	}

	if v.Invariants == nil {
		return
	}
	ok, failures := v.Invariants.EvaluateAll(final)
	if ok {
		return
	}
	for _, f := range failures {
		report.add(CodeInvariant, -1,
			"invariant %s violated: %s", f.InvariantID, f.Message).
			detail("invariant_id", f.InvariantID).
			detail("message", f.Message)
	}
}
