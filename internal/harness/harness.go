package harness

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"os"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/compiler"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/ledger"
	"github.com/roach88/covenant/internal/receipt"
	"github.com/roach88/covenant/internal/state"
	"github.com/roach88/covenant/internal/transition"
)

// ExtEventKey carries a step's event label into the receipt's
// extension fields, so a later replay can rebuild the disturbance
// context for event-typed policies.
const ExtEventKey = "x_event"

// Harness executes scenarios against the ledger executor.
//
// The zero value is ready to use for scenarios whose steps patch fields
// only. Scenarios that invoke kernels need a Registry.
type Harness struct {
	// Registry supplies kernels for kernel-call steps.
	Registry *transition.Registry

	// Logger receives run progress. Nil discards.
	Logger *slog.Logger
}

// Run executes a scenario with the zero harness: no kernel registry,
// no logging.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{}
	return h.Run(scenario)
}

// Run compiles the scenario's definition, drives its flow through the
// executor, and evaluates its assertions.
//
// The error return covers harness-level failures only: an unreadable
// definition, a value that cannot be converted, a step rejected without
// a matching fail clause. Expectation and assertion mismatches land in
// the result's Errors instead, so a failing scenario still yields its
// full transcript.
func (h *Harness) Run(scenario *Scenario) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario must not be nil")
	}
	log := h.logger()

	src, err := os.ReadFile(scenario.Definition)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := compiler.CompileString(string(src))
	if err != nil {
		return nil, fmt.Errorf("compile definition %s: %w", scenario.Definition, err)
	}
	digest, err := def.Bundle.Digest()
	if err != nil {
		return nil, fmt.Errorf("policy digest: %w", err)
	}

	token := scenario.RunToken
	if token == "" {
		token = "run-" + scenario.Name
	}
	exec := &ledger.Executor{
		Schema:      def.Schema,
		Bundle:      def.Bundle,
		Registry:    h.Registry,
		Law:         def.Law,
		Disturbance: def.Disturbance,
		Functional:  def.Functional,
		Invariants:  def.Invariants,
		Tokens:      ledger.NewFixedGenerator(token),
		EpsilonHat:  def.EpsilonHat,
	}

	initial, err := ConvertFields(def, scenario.Initial.Fields)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	st, err := state.New(def.Schema, initial)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	debt, err := initialDebt(exec, scenario, st)
	if err != nil {
		return nil, fmt.Errorf("initial debt: %w", err)
	}

	run, err := exec.Begin(st, debt)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	log.Info("scenario started",
		"scenario", scenario.Name,
		"run", run.ID,
		"policy_digest", digest,
		"debt", debt.String(),
	)

	result := NewResult(run.ID)
	result.PolicyDigest = digest
	result.Definition = def

	for i, step := range scenario.Steps {
		if err := h.runStep(exec, run, def, i, &step, result); err != nil {
			return nil, err
		}
	}

	if scenario.Commit {
		c, err := exec.Commit(run)
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		result.AddCommit(c)
	}

	result.FinalDebt = run.Debt
	result.FinalState = run.State
	result.Chain = run.Chain

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	log.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"steps", run.Chain.Len(),
		"debt", run.Debt.String(),
	)
	return result, nil
}

// runStep drives one flow step. Accepted steps and expected rejections
// become transcript entries; anything else is a hard error.
func (h *Harness) runStep(exec *ledger.Executor, run *ledger.Run, def *compiler.Definition, index int, step *StepSpec, result *Result) error {
	desc, err := buildDescriptor(def, step)
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", index, step.Transition, err)
	}
	input, err := buildInput(step)
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", index, step.Transition, err)
	}

	rcpt, err := exec.Step(run, desc, input)
	if err != nil {
		if step.Fail == "" {
			return fmt.Errorf("step %d (%s): %w", index, step.Transition, err)
		}
		if !fault.IsCode(err, fault.Code(step.Fail)) {
			return fmt.Errorf("step %d (%s): expected fault %s, got: %w",
				index, step.Transition, step.Fail, err)
		}
		result.AddRejected(step.Transition, step.Fail)
		h.logger().Info("step rejected as specified",
			"step", index,
			"transition", step.Transition,
			"fault", step.Fail,
		)
		return nil
	}

	if step.Fail != "" {
		result.AddError(fmt.Sprintf("step %d (%s): expected fault %s, step was accepted",
			index, step.Transition, step.Fail))
	}
	result.AddStep(rcpt, step.Event)
	checkExpect(index, step, rcpt, result)
	return nil
}

// checkExpect compares an accepted step's receipt against its expect
// clause. Mismatches are soft failures.
func checkExpect(index int, step *StepSpec, rcpt *receipt.Step, result *Result) {
	if step.Expect == nil {
		return
	}
	if step.Expect.DebtAfter != nil {
		want, err := parseQuantity(step.Expect.DebtAfter)
		if err != nil {
			result.AddError(fmt.Sprintf("step %d (%s): expect.debt_after: %v", index, step.Transition, err))
		} else if !want.Equal(rcpt.DebtAfter) {
			result.AddError(fmt.Sprintf("step %d (%s): debt_after is %s, expected %s",
				index, step.Transition, rcpt.DebtAfter, want))
		}
	}
	if step.Expect.Service != nil {
		want, err := parseQuantity(step.Expect.Service)
		if err != nil {
			result.AddError(fmt.Sprintf("step %d (%s): expect.service: %v", index, step.Transition, err))
		} else if !want.Equal(rcpt.ServiceProvided) {
			result.AddError(fmt.Sprintf("step %d (%s): service is %s, expected %s",
				index, step.Transition, rcpt.ServiceProvided, want))
		}
	}
}

// initialDebt resolves the run's starting debt: the declared value when
// present, the measured violation otherwise, zero when the definition
// has no functional to measure with.
func initialDebt(exec *ledger.Executor, scenario *Scenario, st *state.State) (exact.Value, error) {
	if scenario.Initial.Debt != nil {
		return parseQuantity(scenario.Initial.Debt)
	}
	if exec.Functional == nil {
		return exact.Zero(), nil
	}
	debt, _, err := exec.MeasureDebt(st)
	return debt, err
}

// buildDescriptor converts a step spec into a transition descriptor.
func buildDescriptor(def *compiler.Definition, step *StepSpec) (transition.Descriptor, error) {
	if step.Kernel != "" {
		args, err := convertArgs(step.Args)
		if err != nil {
			return nil, err
		}
		return transition.KernelCall{ID: step.Transition, Kernel: step.Kernel, Args: args}, nil
	}
	fields, err := ConvertFields(def, step.Set)
	if err != nil {
		return nil, err
	}
	return transition.FieldPatch{ID: step.Transition, Fields: fields}, nil
}

// buildInput converts a step spec's law inputs.
func buildInput(step *StepSpec) (ledger.StepInput, error) {
	budget, err := parseQuantity(step.Budget)
	if err != nil {
		return ledger.StepInput{}, fmt.Errorf("budget: %w", err)
	}
	disturbance := exact.Zero()
	if step.Disturbance != nil {
		disturbance, err = parseQuantity(step.Disturbance)
		if err != nil {
			return ledger.StepInput{}, fmt.Errorf("disturbance: %w", err)
		}
	}
	var extensions map[string]string
	if step.Event != "" {
		extensions = map[string]string{ExtEventKey: step.Event}
	}
	return ledger.StepInput{
		Budget:      budget,
		Disturbance: disturbance,
		Event:       step.Event,
		Extensions:  extensions,
	}, nil
}

// ConvertFields resolves declared field names and converts their
// YAML-parsed values to typed ledger values under the definition's
// schema and float policy.
func ConvertFields(def *compiler.Definition, values map[string]any) (map[state.FieldID]state.Value, error) {
	fields := make(map[state.FieldID]state.Value, len(values))
	for name, raw := range values {
		id, ok := def.Fields[name]
		if !ok {
			return nil, fmt.Errorf("field %q is not declared by schema %s", name, def.Schema.ID())
		}
		fd, _ := def.Schema.Lookup(id)
		v, err := convertValue(def, fd, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[id] = v
	}
	return fields, nil
}

// convertValue converts one YAML-parsed value under its field type.
// There is no float variant, so float64 converts only for rational
// fields and only under the convert_once policy; everything else
// rejects floats at this boundary.
func convertValue(def *compiler.Definition, fd state.FieldDef, raw any) (state.Value, error) {
	switch fd.Type {
	case state.TypeInteger, state.TypeNonNeg:
		n, err := toInt64(raw)
		if err != nil {
			return nil, err
		}
		return state.Int(n), nil

	case state.TypeRational:
		switch v := raw.(type) {
		case int:
			return state.MustRat(int64(v), 1), nil
		case int64:
			return state.MustRat(v, 1), nil
		case string:
			r, ok := new(big.Rat).SetString(v)
			if !ok {
				return nil, fmt.Errorf("%q is not a rational", v)
			}
			return state.RatFromBig(r)
		case float64:
			if def.Bundle.FloatPolicy != canon.FloatConvertOnce {
				return nil, fmt.Errorf("float %v is not admissible under float policy %s", v, def.Bundle.FloatPolicy)
			}
			r := new(big.Rat).SetFloat64(v)
			if r == nil {
				return nil, fmt.Errorf("float %v has no exact rational form", v)
			}
			return state.RatFromBig(r)
		}
		return nil, fmt.Errorf("rational field wants an integer or \"num/den\" string, got %T", raw)

	case state.TypeBool:
		if b, ok := raw.(bool); ok {
			return state.Bool(b), nil
		}
		return nil, fmt.Errorf("bool field wants true or false, got %T", raw)

	case state.TypeText:
		if s, ok := raw.(string); ok {
			return state.Text(s), nil
		}
		return nil, fmt.Errorf("string field wants text, got %T", raw)

	case state.TypeBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("bytes field wants a base64url string, got %T", raw)
		}
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("bytes field: %w", err)
		}
		return state.NewBytes(b), nil

	case state.TypeRef:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("field_ref field wants a field name or id, got %T", raw)
		}
		if id, ok := def.Fields[s]; ok {
			return state.Ref(id), nil
		}
		id, err := state.ParseFieldID(s)
		if err != nil {
			return nil, fmt.Errorf("%q names no declared field and is not a field id", s)
		}
		return state.Ref(id), nil
	}
	return nil, fmt.Errorf("unknown field type %q", fd.Type)
}

// convertArgs converts kernel arguments. Integers, booleans, and text
// only; richer argument shapes belong to host-program descriptors.
func convertArgs(args map[string]any) (transition.Args, error) {
	out := make(transition.Args, len(args))
	for key, raw := range args {
		switch v := raw.(type) {
		case int:
			out[key] = state.Int(v)
		case int64:
			out[key] = state.Int(v)
		case bool:
			out[key] = state.Bool(v)
		case string:
			out[key] = state.Text(v)
		default:
			return nil, fmt.Errorf("argument %q: unsupported type %T", key, raw)
		}
	}
	return out, nil
}

// parseQuantity converts a YAML-parsed budget, disturbance, or debt
// into an exact value. Integers and digit strings only; values beyond
// int64 must be written as strings.
func parseQuantity(raw any) (exact.Value, error) {
	switch v := raw.(type) {
	case int:
		return exact.New(int64(v))
	case int64:
		return exact.New(v)
	case uint64:
		if v > math.MaxInt64 {
			return exact.FromBig(new(big.Int).SetUint64(v))
		}
		return exact.New(int64(v))
	case string:
		var q exact.Value
		if err := q.UnmarshalText([]byte(v)); err != nil {
			return exact.Zero(), err
		}
		return q, nil
	}
	return exact.Zero(), fmt.Errorf("quantity must be an unsigned integer or digit string, got %T", raw)
}

// toInt64 narrows the integer types yaml.v3 produces.
func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", v)
		}
		return int64(v), nil
	}
	return 0, fmt.Errorf("wanted an integer, got %T", raw)
}

func (h *Harness) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
