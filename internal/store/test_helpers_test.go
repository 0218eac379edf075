package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/testutil"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildChain produces a sealed, internally consistent chain of n
// steps paying debt down 100, 90, ... with one commit covering all of
// them when withCommit is set.
func buildChain(t *testing.T, n int, withCommit bool) *receipt.Chain {
	t.Helper()
	f := testutil.NewFixture(t)
	f.Budget = exact.MustNew(10)
	f.ContractID = "c:drift"
	return f.Chain(t, n, withCommit)
}
