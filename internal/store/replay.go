package store

import (
	"context"
	"fmt"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/receipt"
)

// ChainState summarizes a stored run for recovery and display: how
// far the chain reached, how much of it a commit receipt covers, and
// the debt it left outstanding.
type ChainState struct {
	Run         RunRecord
	Steps       int
	Commits     int
	Uncommitted int // steps not yet covered by any commit receipt
	HeadStep    canon.Digest
	HeadCommit  canon.Digest
	FinalDebt   exact.Value
}

// LoadChain rebuilds a run's receipt chain from storage. Every stored
// body is re-admitted through the chain's own append checks, so a
// tampered or torn row fails here with the same chain fault a live
// append would have produced.
func (s *Store) LoadChain(ctx context.Context, runID string) (*receipt.Chain, error) {
	rec, err := s.ReadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", runID, err)
	}

	chain, err := receipt.NewChain(rec.HashMode, rec.PolicyDigest)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", runID, err)
	}

	steps, err := s.ReadSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", runID, err)
	}
	for _, r := range steps {
		if err := chain.AppendStep(r); err != nil {
			return nil, fmt.Errorf("load chain %s: step %d: %w", runID, r.StepIndex, err)
		}
	}

	commits, err := s.ReadCommits(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", runID, err)
	}
	for _, c := range commits {
		if err := chain.AppendCommit(c); err != nil {
			return nil, fmt.Errorf("load chain %s: commit %d: %w", runID, c.CommitIndex, err)
		}
	}

	return chain, nil
}

// Describe loads and summarizes a stored run. The chain is validated
// as a side effect; a run that does not load cleanly does not get a
// summary.
func (s *Store) Describe(ctx context.Context, runID string) (ChainState, error) {
	rec, err := s.ReadRun(ctx, runID)
	if err != nil {
		return ChainState{}, fmt.Errorf("describe run %s: %w", runID, err)
	}

	chain, err := s.LoadChain(ctx, runID)
	if err != nil {
		return ChainState{}, err
	}

	covered := 0
	for _, c := range chain.Commits() {
		covered += len(c.StepReceiptHashes)
	}

	cs := ChainState{
		Run:         rec,
		Steps:       chain.Len(),
		Commits:     chain.CommitLen(),
		Uncommitted: chain.Len() - covered,
		HeadStep:    chain.HeadStep(),
		HeadCommit:  chain.HeadCommit(),
	}
	if steps := chain.Steps(); len(steps) > 0 {
		cs.FinalDebt = steps[len(steps)-1].DebtAfter
	}
	return cs, nil
}
