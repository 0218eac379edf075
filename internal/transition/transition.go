package transition

import (
	"fmt"

	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/state"
)

// Kind labels a descriptor variant for receipts and display.
type Kind string

const (
	KindFieldPatch Kind = "field_update"
	KindKernelCall Kind = "kernel_call"
	KindComposite  Kind = "composite"
)

// Descriptor is the sealed union of transition kinds. Only FieldPatch,
// KernelCall, and Composite implement it. A descriptor is a pure value:
// applying it never mutates the descriptor or the input state.
type Descriptor interface {
	transitionDescriptor() // Sealed - only these types implement it.

	// TransitionID identifies this descriptor in receipts.
	TransitionID() string

	// Kind labels the variant.
	Kind() Kind
}

// FieldPatch replaces already-declared fields with explicit values.
type FieldPatch struct {
	ID     string
	Fields map[state.FieldID]state.Value
}

func (FieldPatch) transitionDescriptor() {}

func (p FieldPatch) TransitionID() string { return p.ID }

func (FieldPatch) Kind() Kind { return KindFieldPatch }

// Args carries typed kernel arguments. Only ledger value types appear
// here, so a descriptor stays canonicalizable and replay stays exact.
type Args map[string]state.Value

// Kernel is a pure state transformation. It must not mutate its input
// state or arguments, and must be deterministic given both.
type Kernel func(*state.State, Args) (*state.State, error)

// KernelCall invokes a registered kernel by name.
type KernelCall struct {
	ID     string
	Kernel string
	Args   Args
}

func (KernelCall) transitionDescriptor() {}

func (c KernelCall) TransitionID() string { return c.ID }

func (KernelCall) Kind() Kind { return KindKernelCall }

// Composite applies an ordered sequence of sub-transitions. The first
// failing step aborts the whole composite; later steps never apply, and
// the caller keeps the original state.
type Composite struct {
	ID    string
	Steps []Descriptor
}

func (Composite) transitionDescriptor() {}

func (c Composite) TransitionID() string { return c.ID }

func (Composite) Kind() Kind { return KindComposite }

// Apply computes x_next = T(x, u). The input state is never modified;
// on failure the returned state is nil and the error carries a typed
// fault. Kernel lookups go through reg, which may be nil only for
// descriptors that invoke no kernels.
func Apply(st *state.State, desc Descriptor, reg *Registry) (*state.State, error) {
	if st == nil {
		return nil, fault.Type(fault.CodeBadTransition, "transition needs a state to apply to")
	}
	if desc == nil {
		return nil, fault.Type(fault.CodeBadTransition, "transition descriptor must not be nil")
	}
	if desc.TransitionID() == "" {
		return nil, fault.Type(fault.CodeBadTransition, "transition descriptor needs an id")
	}

	switch d := desc.(type) {
	case FieldPatch:
		return applyPatch(st, d)
	case KernelCall:
		return applyKernel(st, d, reg)
	case Composite:
		return applyComposite(st, d, reg)
	}
	// Unreachable while the union stays sealed.
	return nil, fault.Type(fault.CodeBadTransition, "unknown transition kind %T", desc)
}

func applyPatch(st *state.State, p FieldPatch) (*state.State, error) {
	if len(p.Fields) == 0 {
		return nil, fault.Type(fault.CodeBadTransition, "field patch %s updates no fields", p.ID).
			With("transition_id", p.ID)
	}
	next, err := st.WithFields(p.Fields)
	if err != nil {
		return nil, fmt.Errorf("field patch %s: %w", p.ID, err)
	}
	return next, nil
}

func applyKernel(st *state.State, c KernelCall, reg *Registry) (*state.State, error) {
	if reg == nil {
		return nil, fault.Type(fault.CodeUnknownKernel, "kernel call %s without a registry", c.ID).
			With("transition_id", c.ID)
	}
	fn, err := reg.Lookup(c.Kernel)
	if err != nil {
		return nil, fmt.Errorf("kernel call %s: %w", c.ID, err)
	}
	next, err := fn(st, c.Args)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", c.Kernel, err)
	}
	if next == nil {
		return nil, fault.Type(fault.CodeBadTransition, "kernel %s returned no state", c.Kernel).
			With("transition_id", c.ID)
	}
	return next, nil
}

func applyComposite(st *state.State, c Composite, reg *Registry) (*state.State, error) {
	if len(c.Steps) == 0 {
		return nil, fault.Type(fault.CodeBadTransition, "composite %s has no steps", c.ID).
			With("transition_id", c.ID)
	}
	current := st
	for i, step := range c.Steps {
		next, err := Apply(current, step, reg)
		if err != nil {
			return nil, fmt.Errorf("composite %s step %d: %w", c.ID, i, err)
		}
		current = next
	}
	return current, nil
}

// SelfCheck applies a descriptor twice to the same state and compares
// the results under the bundle's state-equality mode. Disagreement
// means the transition consulted something outside its inputs.
func SelfCheck(st *state.State, desc Descriptor, reg *Registry, bundle policy.Bundle) (*state.State, error) {
	first, err := Apply(st, desc, reg)
	if err != nil {
		return nil, err
	}
	second, err := Apply(st, desc, reg)
	if err != nil {
		return nil, fault.Invariant(fault.CodeNondeterminism,
			"transition %s failed on re-application: %v", desc.TransitionID(), err).
			With("transition_id", desc.TransitionID())
	}
	same, err := bundle.StatesEqual(first, second)
	if err != nil {
		return nil, fmt.Errorf("determinism check for %s: %w", desc.TransitionID(), err)
	}
	if !same {
		return nil, fault.Invariant(fault.CodeNondeterminism,
			"transition %s produced different states from the same input", desc.TransitionID()).
			With("transition_id", desc.TransitionID())
	}
	return first, nil
}
