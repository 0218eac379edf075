package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/receipt"
)

// RunRecord is the per-run metadata row: which schema the run was
// opened against and the hash mode and policy digest its chain was
// produced under.
type RunRecord struct {
	ID           string
	SchemaID     string
	HashMode     canon.HashMode
	PolicyDigest canon.Digest
}

// SaveRun inserts the run row. Duplicate ids are silently ignored so
// re-persisting after a crash is a no-op.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, schema_id, hash_mode, policy_digest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.SchemaID,
		string(rec.HashMode),
		string(rec.PolicyDigest),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// WriteStep inserts one step receipt. Duplicate (run, index) slots are
// silently ignored; a conflicting body for an occupied slot is dropped
// here and surfaces when the chain is next loaded.
func (s *Store) WriteStep(ctx context.Context, runID string, r *receipt.Step) error {
	body, err := marshalStep(r)
	if err != nil {
		return fmt.Errorf("write step receipt: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_receipts (run_id, step_index, receipt_hash, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step_index) DO NOTHING
	`,
		runID,
		r.StepIndex,
		string(r.ReceiptHash),
		body,
	)
	if err != nil {
		return fmt.Errorf("write step receipt: %w", err)
	}
	return nil
}

// WriteCommit inserts one commit receipt, idempotently.
func (s *Store) WriteCommit(ctx context.Context, runID string, c *receipt.Commit) error {
	body, err := marshalCommit(c)
	if err != nil {
		return fmt.Errorf("write commit receipt: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commit_receipts (run_id, commit_index, receipt_hash, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, commit_index) DO NOTHING
	`,
		runID,
		c.CommitIndex,
		string(c.CommitHash),
		body,
	)
	if err != nil {
		return fmt.Errorf("write commit receipt: %w", err)
	}
	return nil
}

// SaveChain persists a whole run in one transaction: the run row plus
// every step and commit receipt the chain holds. Idempotent like the
// granular writes.
func (s *Store) SaveChain(ctx context.Context, runID, schemaID string, chain *receipt.Chain) error {
	if chain == nil {
		return fmt.Errorf("save chain: chain must not be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save chain: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed.

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, schema_id, hash_mode, policy_digest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		runID,
		schemaID,
		string(chain.Mode()),
		string(chain.PolicyDigest()),
	)
	if err != nil {
		return fmt.Errorf("save chain: run row: %w", err)
	}

	for _, r := range chain.Steps() {
		body, err := marshalStep(r)
		if err != nil {
			return fmt.Errorf("save chain: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_receipts (run_id, step_index, receipt_hash, body)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, step_index) DO NOTHING
		`, runID, r.StepIndex, string(r.ReceiptHash), body)
		if err != nil {
			return fmt.Errorf("save chain: step %d: %w", r.StepIndex, err)
		}
	}

	for _, c := range chain.Commits() {
		body, err := marshalCommit(c)
		if err != nil {
			return fmt.Errorf("save chain: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO commit_receipts (run_id, commit_index, receipt_hash, body)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, commit_index) DO NOTHING
		`, runID, c.CommitIndex, string(c.CommitHash), body)
		if err != nil {
			return fmt.Errorf("save chain: commit %d: %w", c.CommitIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save chain: commit tx: %w", err)
	}

	slog.Info("chain persisted",
		"run", runID,
		"steps", chain.Len(),
		"commits", chain.CommitLen(),
	)
	return nil
}
