package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func treasuryDefPath() string {
	return filepath.Join("..", "..", "testdata", "defs", "treasury.cue")
}

// persistPaydownRun executes the paydown scenario into a fresh
// database and returns the database path.
func persistPaydownRun(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "covenant.db")
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{paydownScenarioPath(), "--db", dbPath})
	require.NoError(t, cmd.Execute())
	return dbPath
}

func TestVerifyCleanChain(t *testing.T) {
	dbPath := persistPaydownRun(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{treasuryDefPath(), "--db", dbPath, "--run", "run-treasury-paydown"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run:    run-treasury-paydown")
	assert.Contains(t, output, "Schema: treasury.v1")
	assert.Contains(t, output, "✓ Verification clean: 2 step(s), 1 commit(s) checked")
}

func TestVerifyCleanChainJSON(t *testing.T) {
	dbPath := persistPaydownRun(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{treasuryDefPath(), "--db", dbPath, "--run", "run-treasury-paydown"})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report VerifyReport
	require.NoError(t, json.Unmarshal(data, &report))

	assert.True(t, report.Clean)
	assert.Equal(t, 2, report.StepsChecked)
	assert.Equal(t, 1, report.CommitsChecked)
	assert.Empty(t, report.Violations)
}

func TestVerifyWrongDefinition(t *testing.T) {
	dbPath := persistPaydownRun(t)

	// The storm definition carries a different bundle, law, and
	// disturbance policy; replaying the paydown chain under it must
	// surface policy digest drift.
	stormDef := filepath.Join("..", "..", "testdata", "defs", "storm.cue")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{stormDef, "--db", dbPath, "--run", "run-treasury-paydown"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Verification failed")
	assert.Contains(t, output, "FAIL_POLICY_DIGEST")
	assert.Contains(t, output, "policy digest drift")
}

func TestVerifyTamperedStore(t *testing.T) {
	dbPath := persistPaydownRun(t)

	// Removing the first step leaves a chain that cannot readmit its
	// remaining receipts.
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM step_receipts WHERE step_index = 0`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{treasuryDefPath(), "--db", dbPath, "--run", "run-treasury-paydown"})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "FAIL_CHAIN")
}

func TestVerifyUnknownRun(t *testing.T) {
	dbPath := persistPaydownRun(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{treasuryDefPath(), "--db", dbPath, "--run", "run-bogus"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run run-bogus not found")
}

func TestVerifyMissingDatabase(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{treasuryDefPath(), "--db", "/nonexistent/covenant.db", "--run", "run-x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestVerifyBadDefinition(t *testing.T) {
	dbPath := persistPaydownRun(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewVerifyCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/def.cue", "--db", dbPath, "--run", "run-treasury-paydown"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
