package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/state"
)

var (
	counterField = state.DeriveFieldID("counter")
	labelField   = state.DeriveFieldID("label")
)

func transitionTestState(t *testing.T, counter int64) *state.State {
	t.Helper()
	schema, err := state.NewSchema("schema:transition-test.v1", []state.FieldBlock{{
		BlockID: "core",
		Policy:  state.AccessPublic,
		Defs: []state.FieldDef{
			{ID: counterField, Name: "counter", Type: state.TypeInteger},
			{ID: labelField, Name: "label", Type: state.TypeText},
		},
	}})
	require.NoError(t, err)
	st, err := state.New(schema, map[state.FieldID]state.Value{
		counterField: state.Int(counter),
		labelField:   state.Text("start"),
	})
	require.NoError(t, err)
	return st
}

// addKernel adds args["amount"] to a fixed integer field.
func addKernel(field state.FieldID) Kernel {
	return func(st *state.State, args Args) (*state.State, error) {
		amount, ok := args["amount"].(state.Int)
		if !ok {
			return nil, fault.Type(fault.CodeTypeMismatch, "amount must be an integer")
		}
		current, ok := st.Get(field)
		if !ok {
			return nil, fault.Type(fault.CodeUnknownField, "field %s absent", field)
		}
		return st.WithField(field, state.Int(int64(current.(state.Int))+int64(amount)))
	}
}

func TestFieldPatchAppliesWithoutMutating(t *testing.T) {
	st := transitionTestState(t, 1)

	next, err := Apply(st, FieldPatch{
		ID:     "t:patch",
		Fields: map[state.FieldID]state.Value{counterField: state.Int(9)},
	}, nil)
	require.NoError(t, err)

	got, _ := next.Get(counterField)
	assert.Equal(t, state.Int(9), got)

	// The input state is untouched.
	old, _ := st.Get(counterField)
	assert.Equal(t, state.Int(1), old)
}

func TestFieldPatchRejectsEmpty(t *testing.T) {
	st := transitionTestState(t, 0)

	_, err := Apply(st, FieldPatch{ID: "t:empty"}, nil)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeBadTransition))
}

func TestFieldPatchRejectsUnknownField(t *testing.T) {
	st := transitionTestState(t, 0)

	_, err := Apply(st, FieldPatch{
		ID:     "t:unknown",
		Fields: map[state.FieldID]state.Value{state.DeriveFieldID("ghost"): state.Int(1)},
	}, nil)
	require.Error(t, err)
	assert.True(t, fault.IsUnknownField(err))
}

func TestKernelCall(t *testing.T) {
	st := transitionTestState(t, 10)
	reg := NewRegistry()
	reg.MustRegister("counter.add", addKernel(counterField))

	next, err := Apply(st, KernelCall{
		ID:     "t:add",
		Kernel: "counter.add",
		Args:   Args{"amount": state.Int(5)},
	}, reg)
	require.NoError(t, err)

	got, _ := next.Get(counterField)
	assert.Equal(t, state.Int(15), got)
}

func TestKernelCallUnknownKernel(t *testing.T) {
	st := transitionTestState(t, 0)
	reg := NewRegistry()

	_, err := Apply(st, KernelCall{ID: "t:miss", Kernel: "counter.add"}, reg)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeUnknownKernel))

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "counter.add", f.Context["kernel"])
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("counter.add", addKernel(counterField)))

	err := reg.Register("counter.add", addKernel(counterField))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeDuplicateKernel))

	assert.Equal(t, []string{"counter.add"}, reg.Kernels())
}

func TestCompositeAppliesInOrder(t *testing.T) {
	st := transitionTestState(t, 0)
	reg := NewRegistry()
	reg.MustRegister("counter.add", addKernel(counterField))

	next, err := Apply(st, Composite{
		ID: "t:combo",
		Steps: []Descriptor{
			KernelCall{ID: "t:combo.1", Kernel: "counter.add", Args: Args{"amount": state.Int(3)}},
			FieldPatch{ID: "t:combo.2", Fields: map[state.FieldID]state.Value{labelField: state.Text("mid")}},
			KernelCall{ID: "t:combo.3", Kernel: "counter.add", Args: Args{"amount": state.Int(4)}},
		},
	}, reg)
	require.NoError(t, err)

	counter, _ := next.Get(counterField)
	assert.Equal(t, state.Int(7), counter)
	label, _ := next.Get(labelField)
	assert.Equal(t, state.Text("mid"), label)
}

func TestCompositeAbortsAtFirstFailure(t *testing.T) {
	st := transitionTestState(t, 0)
	reg := NewRegistry()
	reg.MustRegister("counter.add", addKernel(counterField))

	_, err := Apply(st, Composite{
		ID: "t:abort",
		Steps: []Descriptor{
			KernelCall{ID: "t:abort.1", Kernel: "counter.add", Args: Args{"amount": state.Int(3)}},
			KernelCall{ID: "t:abort.2", Kernel: "missing.kernel"},
			KernelCall{ID: "t:abort.3", Kernel: "counter.add", Args: Args{"amount": state.Int(4)}},
		},
	}, reg)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeUnknownKernel))
	assert.Contains(t, err.Error(), "step 1")

	// Nothing from the aborted composite leaked into the input.
	counter, _ := st.Get(counterField)
	assert.Equal(t, state.Int(0), counter)
}

func TestCompositeRejectsEmpty(t *testing.T) {
	st := transitionTestState(t, 0)

	_, err := Apply(st, Composite{ID: "t:none"}, nil)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeBadTransition))
}

func TestApplyRejectsMissingID(t *testing.T) {
	st := transitionTestState(t, 0)

	_, err := Apply(st, FieldPatch{Fields: map[state.FieldID]state.Value{counterField: state.Int(1)}}, nil)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeBadTransition))
}

func TestApplyTwiceYieldsIdenticalDigests(t *testing.T) {
	st := transitionTestState(t, 2)
	reg := NewRegistry()
	reg.MustRegister("counter.add", addKernel(counterField))
	bundle := policy.Default()

	desc := KernelCall{ID: "t:det", Kernel: "counter.add", Args: Args{"amount": state.Int(40)}}

	first, err := Apply(st, desc, reg)
	require.NoError(t, err)
	second, err := Apply(st, desc, reg)
	require.NoError(t, err)

	d1, err := bundle.StateDigest(first)
	require.NoError(t, err)
	d2, err := bundle.StateDigest(second)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestSelfCheckPassesDeterministicKernel(t *testing.T) {
	st := transitionTestState(t, 2)
	reg := NewRegistry()
	reg.MustRegister("counter.add", addKernel(counterField))

	next, err := SelfCheck(st, KernelCall{
		ID:     "t:selfcheck",
		Kernel: "counter.add",
		Args:   Args{"amount": state.Int(1)},
	}, reg, policy.Default())
	require.NoError(t, err)

	got, _ := next.Get(counterField)
	assert.Equal(t, state.Int(3), got)
}

func TestSelfCheckCatchesNondeterminism(t *testing.T) {
	st := transitionTestState(t, 0)
	reg := NewRegistry()

	calls := 0
	reg.MustRegister("counter.drift", func(s *state.State, _ Args) (*state.State, error) {
		calls++
		return s.WithField(counterField, state.Int(int64(calls)))
	})

	_, err := SelfCheck(st, KernelCall{ID: "t:drift", Kernel: "counter.drift"}, reg, policy.Default())
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeNondeterminism))
	assert.True(t, fault.IsKind(err, fault.KindInvariant))
}
