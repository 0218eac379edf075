package store

import (
	"context"
	"fmt"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/receipt"
)

// ReadRun retrieves one run's metadata row. Returns sql.ErrNoRows if
// the run is unknown.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	var mode, digest string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, schema_id, hash_mode, policy_digest
		FROM runs
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.SchemaID, &mode, &digest)
	if err != nil {
		return RunRecord{}, err
	}
	rec.HashMode = canon.HashMode(mode)
	rec.PolicyDigest = canon.Digest(digest)
	return rec, nil
}

// ListRuns returns every run row. UUIDv7 ids sort in creation order,
// so ORDER BY id is chronological without touching wall time.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_id, hash_mode, policy_digest
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var mode, digest string
		if err := rows.Scan(&rec.ID, &rec.SchemaID, &mode, &digest); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.HashMode = canon.HashMode(mode)
		rec.PolicyDigest = canon.Digest(digest)
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if recs == nil {
		recs = []RunRecord{}
	}

	return recs, nil
}

// ReadSteps returns a run's step receipts in chain order. Returns an
// empty slice, not nil, when the run has no steps.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]*receipt.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM step_receipts
		WHERE run_id = ?
		ORDER BY step_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step receipts: %w", err)
	}
	defer rows.Close()

	var steps []*receipt.Step
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan step receipt: %w", err)
		}
		r, err := unmarshalStep(body)
		if err != nil {
			return nil, err
		}
		steps = append(steps, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step receipts: %w", err)
	}

	if steps == nil {
		steps = []*receipt.Step{}
	}

	return steps, nil
}

// ReadCommits returns a run's commit receipts in chain order. Returns
// an empty slice, not nil, when the run has no commits.
func (s *Store) ReadCommits(ctx context.Context, runID string) ([]*receipt.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM commit_receipts
		WHERE run_id = ?
		ORDER BY commit_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query commit receipts: %w", err)
	}
	defer rows.Close()

	var commits []*receipt.Commit
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan commit receipt: %w", err)
		}
		c, err := unmarshalCommit(body)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commit receipts: %w", err)
	}

	if commits == nil {
		commits = []*receipt.Commit{}
	}

	return commits, nil
}

// ReadStepByHash retrieves a single step receipt by its hash within a
// run. Returns sql.ErrNoRows if absent.
func (s *Store) ReadStepByHash(ctx context.Context, runID string, hash canon.Digest) (*receipt.Step, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body
		FROM step_receipts
		WHERE run_id = ? AND receipt_hash = ?
	`, runID, string(hash)).Scan(&body)
	if err != nil {
		return nil, err
	}
	return unmarshalStep(body)
}
