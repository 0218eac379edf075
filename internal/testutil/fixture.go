// Package testutil builds the deterministic receipt fixtures shared
// by store and verifier tests: internally consistent, sealed chains
// whose values follow a real service law, so they stand up to full
// re-verification.
package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/law"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/receipt"
)

// Fixture is the policy surface sealed receipts are built against.
// Fields may be overridden between NewFixture and the first build
// call; builds on the same fixture are deterministic.
type Fixture struct {
	Bundle      policy.Bundle
	Law         law.ServiceLaw
	Disturbance law.DisturbancePolicy

	// Debt is the opening debt and Budget the per-step budget fed to
	// the law. ContractID labels the single contract entry each step
	// carries.
	Debt       exact.Value
	Budget     exact.Value
	ContractID string
}

// NewFixture returns the default fixture: the default bundle, a
// capped linear law with mu 1, zero disturbance, and debt 100 paid
// down 50 per step.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	sl, err := law.NewCappedLinear(big.NewRat(1, 1))
	if err != nil {
		t.Fatalf("NewCappedLinear failed: %v", err)
	}
	return &Fixture{
		Bundle:      policy.Default(),
		Law:         sl,
		Disturbance: law.Zero{},
		Debt:        exact.MustNew(100),
		Budget:      exact.MustNew(50),
		ContractID:  "c:debt",
	}
}

// PolicyDigest returns the digest of the fixture bundle.
func (f *Fixture) PolicyDigest(t *testing.T) canon.Digest {
	t.Helper()
	d, err := f.Bundle.Digest()
	if err != nil {
		t.Fatalf("bundle digest failed: %v", err)
	}
	return d
}

// Steps produces n internally consistent, sealed, linked step
// receipts paying Debt down under the fixture law with zero
// disturbance input.
func (f *Fixture) Steps(t *testing.T, n int) []*receipt.Step {
	t.Helper()
	digest := f.PolicyDigest(t)

	prev := receipt.Genesis()
	debt := f.Debt
	steps := make([]*receipt.Step, 0, n)
	for i := 0; i < n; i++ {
		res, err := law.Step(debt, f.Budget, exact.Zero(), f.Law, f.Disturbance, law.StepInfo{})
		if err != nil {
			t.Fatalf("law step %d failed: %v", i, err)
		}

		r := &receipt.Step{
			StepIndex:           int64(i),
			PrevReceiptHash:     prev,
			StateHashBefore:     Mark(i),
			StateHashAfter:      Mark(i + 1),
			DebtBefore:          res.DebtBefore,
			DebtAfter:           res.DebtAfter,
			Budget:              res.Budget,
			ServiceProvided:     res.Service,
			ServicePolicyID:     f.Law.PolicyID(),
			ServiceInstance:     f.Law.InstanceID(),
			DisturbancePolicyID: f.Disturbance.PolicyID(),
			Disturbance:         res.Disturbance,
			LawSatisfied:        res.LawSatisfied,
			TransitionID:        fmt.Sprintf("t:step-%d", i),
			TransitionSuccess:   true,
			InvariantStatus:     true,
			Contracts: []receipt.ContractEntry{{
				ContractID: f.ContractID,
				Active:     true,
				Components: 1,
				Term:       new(big.Rat).SetFrac(res.DebtBefore.BigInt(), big.NewInt(100)),
			}},
			PolicyDigest: digest,
		}
		if err := r.Seal(f.Bundle.HashMode); err != nil {
			t.Fatalf("Seal step %d failed: %v", i, err)
		}
		steps = append(steps, r)
		prev = r.ReceiptHash
		debt = res.DebtAfter
	}
	return steps
}

// Commit seals a genesis commit covering steps.
func (f *Fixture) Commit(t *testing.T, steps []*receipt.Step) *receipt.Commit {
	t.Helper()
	if len(steps) == 0 {
		t.Fatal("Commit needs at least one step")
	}

	hashes := make([]canon.Digest, len(steps))
	for i, s := range steps {
		hashes[i] = s.ReceiptHash
	}
	root, err := receipt.MerkleRoot(hashes)
	if err != nil {
		t.Fatalf("MerkleRoot failed: %v", err)
	}
	module, err := receipt.ModuleDigest(hashes)
	if err != nil {
		t.Fatalf("ModuleDigest failed: %v", err)
	}

	c := &receipt.Commit{
		CommitIndex:         0,
		PrevCommitHash:      receipt.Genesis(),
		StateHash:           steps[len(steps)-1].StateHashAfter,
		ModuleReceiptDigest: module,
		StepReceiptHashes:   hashes,
		BatchRoot:           root,
		PolicyDigest:        f.PolicyDigest(t),
	}
	if err := c.Seal(f.Bundle.HashMode); err != nil {
		t.Fatalf("Seal commit failed: %v", err)
	}
	return c
}

// Chain assembles n steps, and one commit covering all of them when
// withCommit is set, into a chain that has passed its own admission
// checks.
func (f *Fixture) Chain(t *testing.T, n int, withCommit bool) *receipt.Chain {
	t.Helper()
	chain, err := receipt.NewChain(f.Bundle.HashMode, f.PolicyDigest(t))
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	steps := f.Steps(t, n)
	for i, r := range steps {
		if err := chain.AppendStep(r); err != nil {
			t.Fatalf("AppendStep %d failed: %v", i, err)
		}
	}
	if withCommit && n > 0 {
		if err := chain.AppendCommit(f.Commit(t, steps)); err != nil {
			t.Fatalf("AppendCommit failed: %v", err)
		}
	}
	return chain
}
