package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one governed run as data: which definition to
// compile, where the run starts, and what flow of budgeted transitions
// it takes.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Definition is the path to the CUE definition file, relative to
	// the scenario file unless absolute.
	Definition string `yaml:"definition"`

	// RunToken fixes the run identifier. Empty defaults to
	// "run-" + Name, keeping transcripts deterministic.
	RunToken string `yaml:"run_token,omitempty"`

	// Initial is the run's starting state and debt.
	Initial Initial `yaml:"initial"`

	// Steps is the flow of transitions driven through the executor.
	Steps []StepSpec `yaml:"steps"`

	// Commit seals the flow's steps into a commit receipt at the end.
	Commit bool `yaml:"commit,omitempty"`

	// Assertions validate the final chain, debt, and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Initial is the starting point of a run.
type Initial struct {
	// Fields maps declared field names to their initial values.
	Fields map[string]any `yaml:"fields"`

	// Debt is the initial outstanding debt. When omitted, the debt is
	// measured from the definition's violation functional.
	Debt any `yaml:"debt,omitempty"`
}

// StepSpec is one flow step: a transition plus its budget-law inputs.
// Exactly one of Set and Kernel names the transition body.
type StepSpec struct {
	// Transition is the transition identifier recorded in the receipt.
	Transition string `yaml:"transition"`

	// Set patches declared fields to new values.
	Set map[string]any `yaml:"set,omitempty"`

	// Kernel invokes a registered kernel by name.
	Kernel string `yaml:"kernel,omitempty"`

	// Args carries kernel arguments. Integers, booleans, and text only;
	// richer argument shapes belong to host-program descriptors.
	Args map[string]any `yaml:"args,omitempty"`

	// Budget is the service budget granted for the step.
	Budget any `yaml:"budget"`

	// Disturbance is the exogenous debt arriving during the step.
	// Omitted means zero.
	Disturbance any `yaml:"disturbance,omitempty"`

	// Event labels the disturbance for event-typed policies.
	Event string `yaml:"event,omitempty"`

	// Expect checks the emitted receipt. Mutually exclusive with Fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Fail names the fault code this step must be rejected with.
	Fail string `yaml:"fail,omitempty"`
}

// ExpectClause pins receipt fields the step must have produced. Only
// set fields are checked.
type ExpectClause struct {
	// DebtAfter is the expected outstanding debt after the step.
	DebtAfter any `yaml:"debt_after,omitempty"`

	// Service is the expected service amount the law provided.
	Service any `yaml:"service,omitempty"`
}

// Assertion validates the run after the flow completes.
type Assertion struct {
	// Type selects the assertion:
	// - "final_debt": outstanding debt equals Value
	// - "chain_length": step receipt count equals Count
	// - "commit_count": commit receipt count equals Count
	// - "final_state": named fields of the final state match Fields
	// - "verify_clean": the replay verifier reports no violations
	Type string `yaml:"type"`

	// Value is the expected quantity (final_debt).
	Value any `yaml:"value,omitempty"`

	// Count is the expected receipt count (chain_length, commit_count).
	Count int `yaml:"count,omitempty"`

	// Fields maps declared field names to expected values (final_state).
	// Subset match: fields left out are not checked.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalDebt   = "final_debt"
	AssertChainLength = "chain_length"
	AssertCommitCount = "commit_count"
	AssertFinalState  = "final_state"
	AssertVerifyClean = "verify_clean"
)

// LoadScenario reads and parses a scenario YAML file. The definition
// path is resolved relative to the scenario file's directory. Unknown
// YAML fields, missing required fields, and malformed assertions are
// all load errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields, catching typos.
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if scenario.Definition != "" && !filepath.IsAbs(scenario.Definition) {
		scenario.Definition = filepath.Join(filepath.Dir(path), scenario.Definition)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and per-step coherence.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	if _, err := os.Stat(s.Definition); os.IsNotExist(err) {
		return fmt.Errorf("definition file not found: %s", s.Definition)
	}
	if len(s.Initial.Fields) == 0 {
		return fmt.Errorf("initial.fields is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Transition == "" {
			return fmt.Errorf("steps[%d]: transition is required", i)
		}
		hasSet := len(step.Set) > 0
		hasKernel := step.Kernel != ""
		if hasSet == hasKernel {
			return fmt.Errorf("steps[%d]: exactly one of set and kernel is required", i)
		}
		if step.Budget == nil {
			return fmt.Errorf("steps[%d]: budget is required", i)
		}
		if step.Expect != nil && step.Fail != "" {
			return fmt.Errorf("steps[%d]: expect and fail are mutually exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion against its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertFinalDebt:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for final_debt", index)
		}
	case AssertChainLength, AssertCommitCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalState:
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields is required for final_state", index)
		}
	case AssertVerifyClean:
		// No parameters.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
