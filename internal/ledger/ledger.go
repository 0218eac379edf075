package ledger

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/covenant/internal/contract"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/law"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/state"
	"github.com/roach88/covenant/internal/transition"
)

// Executor drives runs against a fixed schema and policy set. All
// fields except Registry, Functional, Invariants, and Tokens are
// required. A nil Functional records no per-contract measurements; a
// nil Invariants set skips the hard-constraint gate; a nil Tokens
// falls back to UUIDv7.
//
// An Executor is safe to share across runs, but steps within one run
// must be serialized by the caller: the kernel refuses receipts whose
// predecessor link does not match, it does not queue them.
type Executor struct {
	Schema      *state.Schema
	Bundle      policy.Bundle
	Registry    *transition.Registry
	Law         law.ServiceLaw
	Disturbance law.DisturbancePolicy
	Functional  *contract.Functional
	Invariants  *contract.Set
	Tokens      RunTokenGenerator

	// EpsilonHat, when set, arms the measured gate: a step whose debt
	// moves by more than this tolerance is rejected, and approved
	// steps carry the measured epsilon in their extension fields.
	EpsilonHat *exact.Value
}

// Run is one governed execution: a current state, its outstanding
// debt, and the receipt chain recording how it got there.
type Run struct {
	ID    string
	Chain *receipt.Chain
	State *state.State
	Debt  exact.Value

	committed int // steps already covered by a commit receipt
}

// StepInput carries the per-step law inputs: the budget granted for
// the step, the disturbance that arrived during it, the event label
// for event-typed disturbance policies, and opaque extension fields
// to store and hash without interpretation.
type StepInput struct {
	Budget      exact.Value
	Disturbance exact.Value
	Event       string
	Extensions  map[string]string
}

func (e *Executor) validate() error {
	if e.Schema == nil {
		return errors.New("ledger: schema must not be nil")
	}
	if e.Law == nil {
		return errors.New("ledger: service law must not be nil")
	}
	if err := e.Bundle.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (e *Executor) tokens() RunTokenGenerator {
	if e.Tokens == nil {
		return UUIDv7Generator{}
	}
	return e.Tokens
}

// Begin opens a run at the given initial state and debt. The state
// must conform to the executor's schema and satisfy every configured
// invariant; the debt must be non-negative (exact.Value values are by
// construction).
func (e *Executor) Begin(initial *state.State, debt exact.Value) (*Run, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if initial == nil {
		return nil, errors.New("ledger: initial state must not be nil")
	}
	if initial.Schema() != e.Schema {
		return nil, fault.Type(fault.CodeTypeMismatch,
			"initial state uses schema %s, executor is bound to %s",
			initial.SchemaID(), e.Schema.ID())
	}
	if err := e.checkInvariants(initial, "initial state"); err != nil {
		return nil, err
	}

	digest, err := e.Bundle.Digest()
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	chain, err := receipt.NewChain(e.Bundle.HashMode, digest)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	run := &Run{
		ID:    e.tokens().Generate(),
		Chain: chain,
		State: initial,
		Debt:  debt,
	}
	slog.Info("run started",
		"run", run.ID,
		"schema", e.Schema.ID(),
		"policy_digest", digest,
		"debt", debt.String(),
	)
	return run, nil
}

// Resume reopens a run around a previously produced chain, typically
// one reloaded from storage. The state must be the one the chain's
// last receipt hashed; initialDebt is used only when the chain has no
// steps yet, otherwise the last receipt's debt is authoritative.
func (e *Executor) Resume(id string, chain *receipt.Chain, st *state.State, initialDebt exact.Value) (*Run, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, errors.New("ledger: chain must not be nil")
	}
	if st == nil {
		return nil, errors.New("ledger: state must not be nil")
	}
	if st.Schema() != e.Schema {
		return nil, fault.Type(fault.CodeTypeMismatch,
			"state uses schema %s, executor is bound to %s",
			st.SchemaID(), e.Schema.ID())
	}

	digest, err := e.Bundle.Digest()
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if chain.PolicyDigest() != digest {
		return nil, fault.Policy(fault.CodePolicyDigestDrift,
			"chain was produced under policy %s, executor runs %s",
			chain.PolicyDigest(), digest)
	}
	if chain.Mode() != e.Bundle.HashMode {
		return nil, fault.Policy(fault.CodeBadBundle,
			"chain hash mode %s disagrees with bundle %s",
			chain.Mode(), e.Bundle.HashMode)
	}

	debt := initialDebt
	if steps := chain.Steps(); len(steps) > 0 {
		last := steps[len(steps)-1]
		stateHash, err := e.Bundle.StateDigest(st)
		if err != nil {
			return nil, fmt.Errorf("ledger: hash resumed state: %w", err)
		}
		if stateHash != last.StateHashAfter {
			return nil, fault.Chain(fault.CodeHashMismatch,
				"resumed state hashes to %s, chain head recorded %s",
				stateHash, last.StateHashAfter)
		}
		debt = last.DebtAfter
	}
	if err := e.checkInvariants(st, "resumed state"); err != nil {
		return nil, err
	}

	committed := 0
	for _, c := range chain.Commits() {
		committed += len(c.StepReceiptHashes)
	}
	if committed > chain.Len() {
		return nil, fault.Chain(fault.CodeBrokenLink,
			"commit receipts cover %d steps but the chain has %d", committed, chain.Len())
	}

	run := &Run{
		ID:        id,
		Chain:     chain,
		State:     st,
		Debt:      debt,
		committed: committed,
	}
	slog.Info("run resumed",
		"run", run.ID,
		"steps", chain.Len(),
		"commits", chain.CommitLen(),
		"debt", debt.String(),
	)
	return run, nil
}

// Step applies one transition under the budget law and appends the
// step receipt. On any failure (transition, invariant, disturbance
// bound) the run is left exactly as it was and no receipt exists.
func (e *Executor) Step(run *Run, desc transition.Descriptor, in StepInput) (*receipt.Step, error) {
	if run == nil || run.Chain == nil {
		return nil, errors.New("ledger: run must be started with Begin")
	}
	if desc == nil {
		return nil, fault.Policy(fault.CodeBadTransition, "transition descriptor must not be nil")
	}

	before := run.State
	hashBefore, err := e.Bundle.StateDigest(before)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash state before %s: %w", desc.TransitionID(), err)
	}

	next, err := transition.Apply(before, desc, e.Registry)
	if err != nil {
		slog.Error("transition failed",
			"run", run.ID,
			"transition", desc.TransitionID(),
			"error", err,
		)
		return nil, err
	}
	if err := e.checkInvariants(next, desc.TransitionID()); err != nil {
		slog.Error("invariants failed after transition",
			"run", run.ID,
			"transition", desc.TransitionID(),
			"error", err,
		)
		return nil, err
	}

	var entries []receipt.ContractEntry
	if e.Functional != nil {
		_, measurements, err := e.Functional.Measure(next, e.Bundle.DebtScale)
		if err != nil {
			return nil, fmt.Errorf("ledger: measure violation after %s: %w", desc.TransitionID(), err)
		}
		entries = receipt.FromMeasurements(measurements)
	}

	res, err := law.Step(run.Debt, in.Budget, in.Disturbance, e.Law, e.Disturbance,
		law.StepInfo{Event: in.Event, State: before})
	if err != nil {
		return nil, fmt.Errorf("ledger: budget law for %s: %w", desc.TransitionID(), err)
	}
	if !res.LawSatisfied {
		return nil, fault.Policy(fault.CodeDisturbanceExceeded,
			"disturbance %s is not admissible under %s", in.Disturbance, e.Disturbance.PolicyID()).
			With("transition_id", desc.TransitionID())
	}

	extensions := in.Extensions
	if e.EpsilonHat != nil {
		gate := law.Gate{Law: e.Law, Policy: e.Disturbance, EpsilonHat: *e.EpsilonHat}
		decision, err := gate.Check(run.Debt, in.Budget, in.Disturbance, res.DebtAfter,
			law.StepInfo{Event: in.Event, State: before})
		if err != nil {
			return nil, fmt.Errorf("ledger: gate for %s: %w", desc.TransitionID(), err)
		}
		if !decision.Approved {
			return nil, fault.Policy(fault.CodeLawViolation,
				"measured gate rejected %s: %s", desc.TransitionID(), decision.Reason).
				With("transition_id", desc.TransitionID())
		}
		merged := make(map[string]string, len(extensions)+2)
		for k, v := range extensions {
			merged[k] = v
		}
		merged["x_epsilon_measured"] = decision.EpsilonMeasured.String()
		merged["x_epsilon_hat"] = decision.EpsilonHat.String()
		extensions = merged
	}

	hashAfter, err := e.Bundle.StateDigest(next)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash state after %s: %w", desc.TransitionID(), err)
	}

	r := &receipt.Step{
		StepIndex:           int64(run.Chain.Len()),
		PrevReceiptHash:     run.Chain.HeadStep(),
		StateHashBefore:     hashBefore,
		StateHashAfter:      hashAfter,
		DebtBefore:          res.DebtBefore,
		DebtAfter:           res.DebtAfter,
		Budget:              res.Budget,
		ServiceProvided:     res.Service,
		ServicePolicyID:     e.Law.PolicyID(),
		ServiceInstance:     e.Law.InstanceID(),
		DisturbancePolicyID: e.disturbanceID(),
		Disturbance:         res.Disturbance,
		LawSatisfied:        res.LawSatisfied,
		TransitionID:        desc.TransitionID(),
		TransitionSuccess:   true,
		InvariantStatus:     true,
		Contracts:           entries,
		Extensions:          extensions,
		PolicyDigest:        run.Chain.PolicyDigest(),
	}
	if err := r.Seal(e.Bundle.HashMode); err != nil {
		return nil, fmt.Errorf("ledger: seal step %d: %w", r.StepIndex, err)
	}
	if err := run.Chain.AppendStep(r); err != nil {
		return nil, err
	}

	run.State = next
	run.Debt = res.DebtAfter
	slog.Info("step appended",
		"run", run.ID,
		"step", r.StepIndex,
		"transition", desc.TransitionID(),
		"debt_before", res.DebtBefore.String(),
		"debt_after", res.DebtAfter.String(),
		"service", res.Service.String(),
	)
	return r, nil
}

// Commit seals the steps taken since the previous commit into a batch:
// a Merkle root over their receipt hashes, the module receipt digest,
// and a commit receipt linked into the commit chain.
func (e *Executor) Commit(run *Run) (*receipt.Commit, error) {
	if run == nil || run.Chain == nil {
		return nil, errors.New("ledger: run must be started with Begin")
	}
	hashes := run.Chain.StepHashes()[run.committed:]
	if len(hashes) == 0 {
		return nil, fmt.Errorf("ledger: run %s has no steps to commit", run.ID)
	}

	root, err := receipt.MerkleRoot(hashes)
	if err != nil {
		return nil, fmt.Errorf("ledger: batch root: %w", err)
	}
	module, err := receipt.ModuleDigest(hashes)
	if err != nil {
		return nil, fmt.Errorf("ledger: module digest: %w", err)
	}
	stateHash, err := e.Bundle.StateDigest(run.State)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash state at commit: %w", err)
	}

	r := &receipt.Commit{
		CommitIndex:         int64(run.Chain.CommitLen()),
		PrevCommitHash:      run.Chain.HeadCommit(),
		StateHash:           stateHash,
		ModuleReceiptDigest: module,
		StepReceiptHashes:   hashes,
		BatchRoot:           root,
		PolicyDigest:        run.Chain.PolicyDigest(),
	}
	if err := r.Seal(e.Bundle.HashMode); err != nil {
		return nil, fmt.Errorf("ledger: seal commit %d: %w", r.CommitIndex, err)
	}
	if err := run.Chain.AppendCommit(r); err != nil {
		return nil, err
	}

	run.committed = run.Chain.Len()
	slog.Info("commit appended",
		"run", run.ID,
		"commit", r.CommitIndex,
		"steps", len(hashes),
		"batch_root", root,
	)
	return r, nil
}

// MeasureDebt evaluates the violation functional against a state at
// the bundle's debt scale. Useful for choosing an initial debt.
func (e *Executor) MeasureDebt(st *state.State) (exact.Value, []contract.Measurement, error) {
	if e.Functional == nil {
		return exact.Zero(), nil, errors.New("ledger: no violation functional configured")
	}
	return e.Functional.Measure(st, e.Bundle.DebtScale)
}

func (e *Executor) disturbanceID() string {
	if e.Disturbance == nil {
		return ""
	}
	return e.Disturbance.PolicyID()
}

func (e *Executor) checkInvariants(st *state.State, subject string) error {
	if e.Invariants == nil {
		return nil
	}
	ok, failures := e.Invariants.EvaluateAll(st)
	if ok {
		return nil
	}
	first := failures[0]
	return fault.Invariant(fault.CodeInvariantFailed,
		"%s leaves %d invariant(s) failing, first %s: %s",
		subject, len(failures), first.InvariantID, first.Message).
		With("invariant_id", first.InvariantID)
}
