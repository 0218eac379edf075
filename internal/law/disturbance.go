package law

import (
	"fmt"
	"sort"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
)

// Disturbance policy identifiers bound into receipts.
const (
	DisturbanceZero    = "DP0"
	DisturbanceBounded = "DP1"
	DisturbanceEvent   = "DP2"
	DisturbanceModel   = "DP3"
)

// StepInfo carries the per-step context a disturbance policy may need:
// the event label for event-typed bounds and the pre-step state for
// model-based bounds. The zero value is fine for DP0 and DP1.
type StepInfo struct {
	Event string
	State *state.State
}

// DisturbancePolicy is the sealed union of disturbance bounds. Only
// Zero, Bounded, Event, and Model implement it. Admit never mutates
// its inputs; a false result means the step's admissibility gate fails
// and the receipt records law_satisfied = false.
type DisturbancePolicy interface {
	disturbancePolicy() // Sealed - only these types implement it.

	// PolicyID returns the canonical policy identifier.
	PolicyID() string

	// Admit reports whether disturbance e is admissible for this step.
	Admit(e exact.Value, info StepInfo) (bool, error)
}

// Zero is DP0: no disturbance is ever admissible except exactly zero.
type Zero struct{}

func (Zero) disturbancePolicy() {}

func (Zero) PolicyID() string { return DisturbanceZero }

func (Zero) Admit(e exact.Value, _ StepInfo) (bool, error) {
	return e.IsZero(), nil
}

// Bounded is DP1: 0 <= e <= Max uniformly across steps.
type Bounded struct {
	Max exact.Value
}

func (Bounded) disturbancePolicy() {}

func (Bounded) PolicyID() string { return DisturbanceBounded }

func (b Bounded) Admit(e exact.Value, _ StepInfo) (bool, error) {
	return e.Cmp(b.Max) <= 0, nil
}

// Event is DP2: each event label carries its own bound. A step whose
// event label has no entry is inadmissible.
type Event struct {
	Table map[string]exact.Value
}

func (Event) disturbancePolicy() {}

func (Event) PolicyID() string { return DisturbanceEvent }

func (p Event) Admit(e exact.Value, info StepInfo) (bool, error) {
	bound, ok := p.Table[info.Event]
	if !ok {
		return false, nil
	}
	return e.Cmp(bound) <= 0, nil
}

// Events returns the known event labels in sorted order.
func (p Event) Events() []string {
	labels := make([]string, 0, len(p.Table))
	for label := range p.Table {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Model is DP3: the bound is derived from the pre-step state. The
// bound function must be deterministic; it receives the state the
// ledger evaluated the step against and nothing else.
type Model struct {
	Bound func(*state.State) (exact.Value, error)
}

func (Model) disturbancePolicy() {}

func (Model) PolicyID() string { return DisturbanceModel }

func (m Model) Admit(e exact.Value, info StepInfo) (bool, error) {
	if m.Bound == nil {
		return false, fault.Policy(fault.CodeBadBundle, "model disturbance policy needs a bound function")
	}
	bound, err := m.Bound(info.State)
	if err != nil {
		return false, fmt.Errorf("model disturbance bound: %w", err)
	}
	return e.Cmp(bound) <= 0, nil
}

// KnownDisturbancePolicy reports whether id names a member of the
// closed policy set. Bounds and tables are construction parameters the
// id alone cannot encode, so reconstruction from config stays with the
// config layer.
func KnownDisturbancePolicy(id string) bool {
	switch id {
	case DisturbanceZero, DisturbanceBounded, DisturbanceEvent, DisturbanceModel:
		return true
	}
	return false
}
