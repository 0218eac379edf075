package contract

import (
	"fmt"
	"math/big"

	"github.com/roach88/covenant/internal/state"
)

// Category groups invariants for reporting.
type Category string

const (
	CategoryFieldRange     Category = "field_range"
	CategoryStateStructure Category = "state_structure"
	CategoryCrossField     Category = "cross_field"
)

// CheckFunc evaluates one invariant, returning whether it holds and a
// message describing the failure when it does not.
type CheckFunc func(*state.State) (bool, string)

// Invariant is a named hard constraint over a state.
type Invariant struct {
	ID          string
	Name        string
	Category    Category
	Description string
	Check       CheckFunc
}

// Failure reports one failed invariant.
type Failure struct {
	InvariantID string `json:"invariant_id"`
	Name        string `json:"name"`
	Message     string `json:"message"`
}

// Set is an ordered collection of invariants evaluated together.
type Set struct {
	invariants []Invariant
}

// NewSet builds a set preserving order.
func NewSet(invariants ...Invariant) *Set {
	return &Set{invariants: invariants}
}

// Add appends an invariant.
func (s *Set) Add(inv Invariant) { s.invariants = append(s.invariants, inv) }

// Len returns the number of invariants.
func (s *Set) Len() int { return len(s.invariants) }

// EvaluateAll checks every invariant, accumulating every failure
// instead of stopping at the first. The boolean is true only when the
// failure list is empty.
func (s *Set) EvaluateAll(st *state.State) (bool, []Failure) {
	var failures []Failure
	for _, inv := range s.invariants {
		ok, msg := inv.Check(st)
		if !ok {
			failures = append(failures, Failure{
				InvariantID: inv.ID,
				Name:        inv.Name,
				Message:     msg,
			})
		}
	}
	return len(failures) == 0, failures
}

// FieldRange builds a range invariant over a numeric field. Either
// bound may be nil for a one-sided range.
func FieldRange(fieldID state.FieldID, min, max *big.Rat) Invariant {
	var lo, hi *big.Rat
	if min != nil {
		lo = new(big.Rat).Set(min)
	}
	if max != nil {
		hi = new(big.Rat).Set(max)
	}
	return Invariant{
		ID:       fmt.Sprintf("inv:range:%s", fieldID),
		Name:     fmt.Sprintf("range check for %s", fieldID),
		Category: CategoryFieldRange,
		Check: func(st *state.State) (bool, string) {
			v, err := NumericField(st, fieldID)
			if err != nil {
				return false, fmt.Sprintf("field %s not readable: %v", fieldID, err)
			}
			if lo != nil && v.Cmp(lo) < 0 {
				return false, fmt.Sprintf("field %s = %s below minimum %s", fieldID, v.RatString(), lo.RatString())
			}
			if hi != nil && v.Cmp(hi) > 0 {
				return false, fmt.Sprintf("field %s = %s above maximum %s", fieldID, v.RatString(), hi.RatString())
			}
			return true, "OK"
		},
	}
}

// NonNegative builds a lower-bounded range invariant at zero.
func NonNegative(fieldID state.FieldID) Invariant {
	inv := FieldRange(fieldID, new(big.Rat), nil)
	inv.Name = fmt.Sprintf("non-negative: %s", fieldID)
	return inv
}

// SchemaConformance requires every declared schema field to be present
// in the state.
func SchemaConformance(schema *state.Schema) Invariant {
	required := schema.FieldIDs()
	return Invariant{
		ID:          "inv:schema:conformance",
		Name:        "state schema conformance",
		Category:    CategoryStateStructure,
		Description: "all declared fields must be present",
		Check: func(st *state.State) (bool, string) {
			for _, id := range required {
				if _, ok := st.Get(id); !ok {
					return false, fmt.Sprintf("missing required field %s", id)
				}
			}
			return true, "OK"
		},
	}
}

// CrossField builds an invariant over several numeric fields at once.
func CrossField(id, name string, fieldIDs []state.FieldID, check func(map[state.FieldID]*big.Rat) (bool, string)) Invariant {
	ids := make([]state.FieldID, len(fieldIDs))
	copy(ids, fieldIDs)
	return Invariant{
		ID:       id,
		Name:     name,
		Category: CategoryCrossField,
		Check: func(st *state.State) (bool, string) {
			values := make(map[state.FieldID]*big.Rat, len(ids))
			for _, fid := range ids {
				v, err := NumericField(st, fid)
				if err != nil {
					return false, fmt.Sprintf("field %s not readable: %v", fid, err)
				}
				values[fid] = v
			}
			return check(values)
		},
	}
}

// Balance requires total = available + reserved.
func Balance(total, available, reserved state.FieldID) Invariant {
	return CrossField(
		fmt.Sprintf("inv:balance:%s", total),
		fmt.Sprintf("balance: %s = %s + %s", total, available, reserved),
		[]state.FieldID{total, available, reserved},
		func(vals map[state.FieldID]*big.Rat) (bool, string) {
			sum := new(big.Rat).Add(vals[available], vals[reserved])
			if vals[total].Cmp(sum) != 0 {
				return false, fmt.Sprintf("balance violated: %s != %s + %s",
					vals[total].RatString(), vals[available].RatString(), vals[reserved].RatString())
			}
			return true, "OK"
		},
	)
}
