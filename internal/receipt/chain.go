package receipt

import (
	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/fault"
)

// Chain is the append-only pair of hash-linked receipt sequences: the
// per-step chain and the per-batch commit chain. Every append verifies
// the receipt's self-hash, its predecessor link, its index, and that
// its policy digest matches the digest the chain was opened with.
//
// A Chain is not safe for concurrent appends; the kernel assumes an
// external scheduler serializes producers. Reads return copies and
// need no coordination.
type Chain struct {
	mode         canon.HashMode
	policyDigest canon.Digest

	steps   []*Step
	commits []*Commit
}

// NewChain opens an empty chain under one hash mode and one policy
// digest. Both stay fixed for the chain's whole life.
func NewChain(mode canon.HashMode, policyDigest canon.Digest) (*Chain, error) {
	if !mode.Valid() {
		return nil, fault.Policy(fault.CodeBadBundle, "unknown hash mode %q", mode)
	}
	if _, err := canon.ParseDigest(string(policyDigest)); err != nil {
		return nil, err
	}
	return &Chain{mode: mode, policyDigest: policyDigest}, nil
}

// Mode returns the chain's hash mode.
func (c *Chain) Mode() canon.HashMode { return c.mode }

// PolicyDigest returns the digest every receipt must carry.
func (c *Chain) PolicyDigest() canon.Digest { return c.policyDigest }

// Len returns the number of step receipts.
func (c *Chain) Len() int { return len(c.steps) }

// CommitLen returns the number of commit receipts.
func (c *Chain) CommitLen() int { return len(c.commits) }

// HeadStep returns the hash the next step receipt must link to.
func (c *Chain) HeadStep() canon.Digest {
	if len(c.steps) == 0 {
		return Genesis()
	}
	return c.steps[len(c.steps)-1].ReceiptHash
}

// HeadCommit returns the hash the next commit receipt must link to.
func (c *Chain) HeadCommit() canon.Digest {
	if len(c.commits) == 0 {
		return Genesis()
	}
	return c.commits[len(c.commits)-1].CommitHash
}

// Steps returns the step receipts in order. The slice is a copy; the
// receipts are shared and must not be mutated.
func (c *Chain) Steps() []*Step {
	out := make([]*Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Commits returns the commit receipts in order.
func (c *Chain) Commits() []*Commit {
	out := make([]*Commit, len(c.commits))
	copy(out, c.commits)
	return out
}

// StepHashes returns every step receipt hash in order.
func (c *Chain) StepHashes() []canon.Digest {
	out := make([]canon.Digest, len(c.steps))
	for i, r := range c.steps {
		out[i] = r.ReceiptHash
	}
	return out
}

// AppendStep verifies and appends a sealed step receipt.
func (c *Chain) AppendStep(r *Step) error {
	if r == nil {
		return fault.Chain(fault.CodeBrokenLink, "step receipt must not be nil")
	}
	if r.PolicyDigest != c.policyDigest {
		return fault.Policy(fault.CodePolicyDigestDrift,
			"step %d carries policy digest %s, chain locked to %s", r.StepIndex, r.PolicyDigest, c.policyDigest).
			With("expected", string(c.policyDigest)).
			With("got", string(r.PolicyDigest))
	}

	computed, err := r.ComputeHash(c.mode)
	if err != nil {
		return err
	}
	if computed != r.ReceiptHash {
		return fault.Chain(fault.CodeHashMismatch,
			"step %d self-hash mismatch: recorded %s, recomputed %s", r.StepIndex, r.ReceiptHash, computed).
			With("expected", string(r.ReceiptHash)).
			With("got", string(computed))
	}

	switch {
	case r.StepIndex < int64(len(c.steps)):
		return fault.Chain(fault.CodeDuplicateReceipt,
			"step index %d already occupied", r.StepIndex).
			With("head", string(c.HeadStep()))
	case r.StepIndex > int64(len(c.steps)):
		return fault.Chain(fault.CodeBrokenLink,
			"step index %d skips ahead of chain length %d", r.StepIndex, len(c.steps))
	}

	if r.PrevReceiptHash != c.HeadStep() {
		return fault.Chain(fault.CodeBrokenLink,
			"step %d links to %s, chain head is %s", r.StepIndex, r.PrevReceiptHash, c.HeadStep()).
			With("expected", string(c.HeadStep())).
			With("got", string(r.PrevReceiptHash))
	}

	c.steps = append(c.steps, r)
	return nil
}

// AppendCommit verifies and appends a sealed commit receipt.
func (c *Chain) AppendCommit(r *Commit) error {
	if r == nil {
		return fault.Chain(fault.CodeBrokenLink, "commit receipt must not be nil")
	}
	if r.PolicyDigest != c.policyDigest {
		return fault.Policy(fault.CodePolicyDigestDrift,
			"commit %d carries policy digest %s, chain locked to %s", r.CommitIndex, r.PolicyDigest, c.policyDigest).
			With("expected", string(c.policyDigest)).
			With("got", string(r.PolicyDigest))
	}

	computed, err := r.ComputeHash(c.mode)
	if err != nil {
		return err
	}
	if computed != r.CommitHash {
		return fault.Chain(fault.CodeHashMismatch,
			"commit %d self-hash mismatch: recorded %s, recomputed %s", r.CommitIndex, r.CommitHash, computed).
			With("expected", string(r.CommitHash)).
			With("got", string(computed))
	}

	switch {
	case r.CommitIndex < int64(len(c.commits)):
		return fault.Chain(fault.CodeDuplicateReceipt,
			"commit index %d already occupied", r.CommitIndex)
	case r.CommitIndex > int64(len(c.commits)):
		return fault.Chain(fault.CodeBrokenLink,
			"commit index %d skips ahead of chain length %d", r.CommitIndex, len(c.commits))
	}

	if r.PrevCommitHash != c.HeadCommit() {
		return fault.Chain(fault.CodeBrokenLink,
			"commit %d links to %s, chain head is %s", r.CommitIndex, r.PrevCommitHash, c.HeadCommit()).
			With("expected", string(c.HeadCommit())).
			With("got", string(r.PrevCommitHash))
	}

	c.commits = append(c.commits, r)
	return nil
}
