package harness

import (
	"fmt"
	"path/filepath"
)

// SuiteResult summarizes running every scenario in a directory.
type SuiteResult struct {
	Scenarios int               `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Failures  []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure records one scenario that failed to load, run, or
// satisfy its assertions.
type ScenarioFailure struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// RunSuite runs every scenario file in a directory with the zero
// harness.
func RunSuite(dir string) (*SuiteResult, error) {
	h := &Harness{}
	return h.RunSuite(dir)
}

// RunSuite loads and runs every *.yaml scenario under dir, in lexical
// order. A scenario that fails to load or run is recorded as a failure
// rather than aborting the suite; the error return covers an unusable
// directory only.
func (h *Harness) RunSuite(dir string) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files under %s", dir)
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.Scenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario: filepath.Base(path),
				Path:     path,
				Error:    fmt.Sprintf("load: %v", err),
			})
			continue
		}

		run, err := h.Run(scenario)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario: scenario.Name,
				Path:     path,
				Error:    fmt.Sprintf("run: %v", err),
			})
			continue
		}
		if !run.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario: scenario.Name,
				Path:     path,
				Error:    fmt.Sprintf("assertions failed: %v", run.Errors),
			})
			continue
		}

		result.Passed++
	}
	return result, nil
}
