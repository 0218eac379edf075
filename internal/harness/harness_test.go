package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
	"github.com/roach88/covenant/internal/transition"
)

// meterDef pays down debt at one unit of service per unit of budget and
// admits no disturbance at all.
const meterDef = `
covenant: {
	schema: {
		id: "meter.v1"
		blocks: [{
			id: "core"
			fields: {
				level: "nonneg"
				note:  "string"
			}
		}]
	}
	law: {
		service: "linear_capped"
		mu:      1
	}
	disturbance: {
		policy: "DP0"
	}
}
`

// boundedDef admits disturbances up to 25 per step.
const boundedDef = `
covenant: {
	schema: {
		id: "bounded.v1"
		blocks: [{
			id: "core"
			fields: {
				level: "nonneg"
			}
		}]
	}
	law: {
		service: "linear_capped"
		mu:      1
	}
	disturbance: {
		policy: "DP1"
		max:    25
	}
}
`

// measuredDef carries a violation functional, so runs that declare no
// initial debt measure it from the starting state instead.
const measuredDef = `
covenant: {
	schema: {
		id: "measured.v1"
		blocks: [{
			id: "core"
			fields: {
				level: "integer"
			}
		}]
	}
	law: {
		service: "linear_capped"
		mu:      1
	}
	contracts: [{
		id:    "c:level"
		field: "level"
		kind:  "field"
	}]
}
`

const ratioDef = `
covenant: {
	schema: {
		id: "ratio.v1"
		blocks: [{
			id: "core"
			fields: {
				ratio: "rational"
				level: "nonneg"
			}
		}]
	}
	law: {
		service: "identity"
	}
}
`

const ratioConvertDef = `
covenant: {
	schema: {
		id: "ratio.v1"
		blocks: [{
			id: "core"
			fields: {
				ratio: "rational"
				level: "nonneg"
			}
		}]
	}
	policy: {
		floats: "convert_once"
	}
	law: {
		service: "identity"
	}
}
`

// writeCUE writes definition source to a temp file and returns its path.
func writeCUE(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "def.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

// meterScenario is a two-step paydown against meterDef: debt 30 cleared
// by budgets 10 and 20.
func meterScenario(t *testing.T) *Scenario {
	t.Helper()
	return &Scenario{
		Name:        "patch-flow",
		Description: "Two field patches pay down declared debt",
		Definition:  writeCUE(t, meterDef),
		Initial: Initial{
			Fields: map[string]any{"level": 50, "note": "start"},
			Debt:   30,
		},
		Steps: []StepSpec{
			{
				Transition: "t:load",
				Set:        map[string]any{"level": 40},
				Budget:     10,
				Expect:     &ExpectClause{DebtAfter: 20, Service: 10},
			},
			{
				Transition: "t:drain",
				Set:        map[string]any{"level": 35},
				Budget:     20,
				Expect:     &ExpectClause{DebtAfter: 0},
			},
		},
		Commit: true,
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 0},
			{Type: AssertChainLength, Count: 2},
			{Type: AssertCommitCount, Count: 1},
			{Type: AssertFinalState, Fields: map[string]any{"level": 35, "note": "start"}},
			{Type: AssertVerifyClean},
		},
	}
}

func TestRun_FieldPatchFlow(t *testing.T) {
	result, err := Run(meterScenario(t))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "run-patch-flow", result.RunID)
	assert.NotEmpty(t, result.PolicyDigest)

	require.Len(t, result.Transcript, 3)
	assert.Equal(t, EntryStep, result.Transcript[0].Type)
	assert.Equal(t, "t:load", result.Transcript[0].Transition)
	assert.Equal(t, "30", result.Transcript[0].DebtBefore)
	assert.Equal(t, "20", result.Transcript[0].DebtAfter)
	assert.Equal(t, "10", result.Transcript[0].Service)
	assert.Equal(t, EntryStep, result.Transcript[1].Type)
	assert.Equal(t, EntryCommit, result.Transcript[2].Type)
	assert.Equal(t, 2, result.Transcript[2].Steps)

	assert.Equal(t, "0", result.FinalDebt.String())
	assert.Equal(t, 2, result.Chain.Len())
	assert.Equal(t, 1, result.Chain.CommitLen())
}

func TestRun_ExplicitRunToken(t *testing.T) {
	scenario := meterScenario(t)
	scenario.RunToken = "run-fixed"

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", result.RunID)
}

func TestRun_MeasuredInitialDebt(t *testing.T) {
	// level 3 against target 0 at scale 1 and weight 1 measures a
	// violation of 9, which the debt scale of 1000 turns into 9000.
	scenario := &Scenario{
		Name:        "measured",
		Description: "Initial debt measured from the violation functional",
		Definition:  writeCUE(t, measuredDef),
		Initial: Initial{
			Fields: map[string]any{"level": 3},
		},
		Steps: []StepSpec{
			{
				Transition: "t:clear",
				Set:        map[string]any{"level": 0},
				Budget:     4000,
				Expect:     &ExpectClause{DebtAfter: 5000, Service: 4000},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 5000},
			{Type: AssertChainLength, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "9000", result.Transcript[0].DebtBefore)
}

func TestRun_KernelStep(t *testing.T) {
	levelID := state.DeriveFieldID("level")
	reg := transition.NewRegistry()
	reg.MustRegister("drain", func(st *state.State, args transition.Args) (*state.State, error) {
		amount, ok := args["amount"].(state.Int)
		if !ok {
			return nil, fmt.Errorf("drain needs an integer amount")
		}
		current, ok := st.Get(levelID)
		if !ok {
			return nil, fmt.Errorf("level not present")
		}
		return st.WithField(levelID, current.(state.Int)-amount)
	})

	scenario := &Scenario{
		Name:        "kernel-drain",
		Description: "A registered kernel patches state under budget",
		Definition:  writeCUE(t, meterDef),
		Initial: Initial{
			Fields: map[string]any{"level": 50, "note": "start"},
			Debt:   30,
		},
		Steps: []StepSpec{
			{
				Transition: "t:drain",
				Kernel:     "drain",
				Args:       map[string]any{"amount": 20},
				Budget:     30,
				Expect:     &ExpectClause{DebtAfter: 0},
			},
		},
		Commit: true,
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 0},
			{Type: AssertFinalState, Fields: map[string]any{"level": 30}},
			{Type: AssertVerifyClean},
		},
	}

	h := &Harness{Registry: reg}
	result, err := h.Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnregisteredKernel(t *testing.T) {
	scenario := &Scenario{
		Name:        "kernel-missing",
		Description: "Kernel steps without a registry are hard errors",
		Definition:  writeCUE(t, meterDef),
		Initial: Initial{
			Fields: map[string]any{"level": 50, "note": "start"},
			Debt:   0,
		},
		Steps: []StepSpec{
			{Transition: "t:drain", Kernel: "drain", Budget: 0},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 0},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeUnknownKernel), "got: %v", err)
}

func TestRun_RejectedAsSpecified(t *testing.T) {
	scenario := &Scenario{
		Name:        "bounded-reject",
		Description: "A disturbance beyond the bound rejects as declared",
		Definition:  writeCUE(t, boundedDef),
		Initial: Initial{
			Fields: map[string]any{"level": 100},
			Debt:   50,
		},
		Steps: []StepSpec{
			{
				Transition:  "t:spike",
				Set:         map[string]any{"level": 90},
				Budget:      0,
				Disturbance: 30,
				Fail:        "DISTURBANCE_EXCEEDED",
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 50},
			{Type: AssertChainLength, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Transcript, 1)
	assert.Equal(t, EntryRejected, result.Transcript[0].Type)
	assert.Equal(t, "t:spike", result.Transcript[0].Transition)
	assert.Equal(t, "DISTURBANCE_EXCEEDED", result.Transcript[0].Error)
	assert.Equal(t, 0, result.Chain.Len())
	assert.Equal(t, "50", result.FinalDebt.String())
}

func TestRun_UnexpectedRejection(t *testing.T) {
	scenario := &Scenario{
		Name:        "bounded-surprise",
		Description: "An undeclared rejection aborts the run",
		Definition:  writeCUE(t, boundedDef),
		Initial: Initial{
			Fields: map[string]any{"level": 100},
			Debt:   50,
		},
		Steps: []StepSpec{
			{
				Transition:  "t:spike",
				Set:         map[string]any{"level": 90},
				Budget:      0,
				Disturbance: 30,
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 50},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeDisturbanceExceeded), "got: %v", err)
	assert.Contains(t, err.Error(), "t:spike")
}

func TestRun_WrongFaultCode(t *testing.T) {
	scenario := &Scenario{
		Name:        "bounded-wrong-code",
		Description: "A rejection with the wrong fault code aborts the run",
		Definition:  writeCUE(t, boundedDef),
		Initial: Initial{
			Fields: map[string]any{"level": 100},
			Debt:   50,
		},
		Steps: []StepSpec{
			{
				Transition:  "t:spike",
				Set:         map[string]any{"level": 90},
				Budget:      0,
				Disturbance: 30,
				Fail:        "LAW_VIOLATION",
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 50},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected fault LAW_VIOLATION")
}

func TestRun_ExpectedFailureAccepted(t *testing.T) {
	scenario := &Scenario{
		Name:        "bounded-accepted",
		Description: "A step declared to fail but accepted is a soft failure",
		Definition:  writeCUE(t, boundedDef),
		Initial: Initial{
			Fields: map[string]any{"level": 100},
			Debt:   50,
		},
		Steps: []StepSpec{
			{
				Transition:  "t:dip",
				Set:         map[string]any{"level": 95},
				Budget:      0,
				Disturbance: 10,
				Fail:        "DISTURBANCE_EXCEEDED",
			},
		},
		Assertions: []Assertion{
			{Type: AssertChainLength, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "step was accepted")
	assert.Equal(t, 1, result.Chain.Len())
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := meterScenario(t)
	scenario.Steps[0].Expect = &ExpectClause{DebtAfter: 999}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "debt_after is 20, expected 999")
}

func TestRun_FloatRejectedByDefault(t *testing.T) {
	scenario := &Scenario{
		Name:        "float-reject",
		Description: "Floats are rejected under the default policy",
		Definition:  writeCUE(t, ratioDef),
		Initial: Initial{
			Fields: map[string]any{"ratio": 1.5, "level": 10},
			Debt:   0,
		},
		Steps: []StepSpec{
			{Transition: "t:noop", Set: map[string]any{"level": 10}, Budget: 0},
		},
		Assertions: []Assertion{
			{Type: AssertFinalDebt, Value: 0},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not admissible under float policy")
}

func TestRun_FloatConvertOnce(t *testing.T) {
	scenario := &Scenario{
		Name:        "float-convert",
		Description: "convert_once folds a float into an exact rational",
		Definition:  writeCUE(t, ratioConvertDef),
		Initial: Initial{
			Fields: map[string]any{"ratio": 1.5, "level": 10},
			Debt:   0,
		},
		Steps: []StepSpec{
			{Transition: "t:noop", Set: map[string]any{"level": 10}, Budget: 0},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Fields: map[string]any{"ratio": "3/2"}},
			{Type: AssertVerifyClean},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnknownFieldName(t *testing.T) {
	scenario := meterScenario(t)
	scenario.Initial.Fields["bogus"] = 1

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "bogus" is not declared`)
}

func TestRun_NilScenario(t *testing.T) {
	_, err := Run(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario must not be nil")
}

func TestRun_EventLabelRecorded(t *testing.T) {
	scenario := meterScenario(t)
	scenario.Steps[0].Event = "pulse"

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "pulse", result.Transcript[0].Event)
	steps := result.Chain.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "pulse", steps[0].Extensions[ExtEventKey])
	assert.NotContains(t, steps[1].Extensions, ExtEventKey)
}
