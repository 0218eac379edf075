package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/covenant/internal/canon"
)

// TranscriptSnapshot captures a run's semantic trajectory for golden
// comparison: every law quantity, every transition id, every rejection,
// plus the policy digest the chain was locked to. Receipt and state
// hashes are deliberately absent; they change whenever the receipt
// canon grows a field, while the trajectory they attest does not.
type TranscriptSnapshot struct {
	Scenario     string            `json:"scenario"`
	RunToken     string            `json:"run_token"`
	PolicyDigest canon.Digest      `json:"policy_digest"`
	Entries      []TranscriptEntry `json:"entries"`
}

// toCanonicalMap converts the snapshot for canonical JSON
// serialization, keeping each entry to exactly the keys its type
// defines.
func (s *TranscriptSnapshot) toCanonicalMap() map[string]any {
	entries := make([]any, len(s.Entries))
	for i, entry := range s.Entries {
		m := map[string]any{"type": entry.Type}
		switch entry.Type {
		case EntryStep:
			m["step"] = entry.Step
			m["transition"] = entry.Transition
			m["budget"] = entry.Budget
			m["disturbance"] = entry.Disturbance
			m["service"] = entry.Service
			m["debt_before"] = entry.DebtBefore
			m["debt_after"] = entry.DebtAfter
			if entry.Event != "" {
				m["event"] = entry.Event
			}
		case EntryRejected:
			m["transition"] = entry.Transition
			m["error"] = entry.Error
		case EntryCommit:
			m["commit"] = entry.Commit
			m["steps"] = entry.Steps
		}
		entries[i] = m
	}
	return map[string]any{
		"scenario":      s.Scenario,
		"run_token":     s.RunToken,
		"policy_digest": string(s.PolicyDigest),
		"entries":       entries,
	}
}

// RunWithGolden executes a scenario and compares its transcript against
// a golden file under testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The returned result lets the caller assert Pass separately; the
// golden pins the transcript only.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-obtained result's transcript against
// the golden file named after the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TranscriptSnapshot{
		Scenario:     scenarioName,
		RunToken:     result.RunID,
		PolicyDigest: result.PolicyDigest,
		Entries:      result.Transcript,
	}
	data, err := canon.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
