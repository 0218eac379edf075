// Package contract implements compliance contracts, the violation
// functional that sums their terms in exact rational arithmetic, and
// the hard invariants evaluated against final states.
package contract

import (
	"fmt"
	"math/big"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
)

// ResidualFunc evaluates a contract's residual vector over a state.
// A scalar residual is a one-component vector.
type ResidualFunc func(*state.State) ([]*big.Rat, error)

// ScaleFunc evaluates a contract's scale over a state. The result must
// be strictly positive; Term fails otherwise.
type ScaleFunc func(*state.State) (*big.Rat, error)

// Contract contributes one term to the violation functional:
// weight * sum((r_i / scale)^2) over the residual components.
type Contract struct {
	ID       string
	Name     string
	Residual ResidualFunc
	Weight   *big.Rat
	Scale    ScaleFunc
	Active   bool
}

// New constructs a contract, rejecting negative weights and missing
// functions. Contracts start active.
func New(id, name string, residual ResidualFunc, weight *big.Rat, scale ScaleFunc) (*Contract, error) {
	if id == "" {
		return nil, fault.Policy(fault.CodeBadBundle, "contract id must not be empty")
	}
	if residual == nil || scale == nil {
		return nil, fault.Policy(fault.CodeBadBundle, "contract %s needs residual and scale functions", id)
	}
	if weight == nil || weight.Sign() < 0 {
		return nil, fault.Arithmetic(fault.CodeNegativeValue, "contract %s weight must be non-negative", id)
	}
	return &Contract{
		ID:       id,
		Name:     name,
		Residual: residual,
		Weight:   new(big.Rat).Set(weight),
		Scale:    scale,
		Active:   true,
	}, nil
}

// Term computes this contract's exact rational contribution and the
// number of residual components it covered.
func (c *Contract) Term(st *state.State) (*big.Rat, int, error) {
	sigma, err := c.Scale(st)
	if err != nil {
		return nil, 0, fmt.Errorf("contract %s scale: %w", c.ID, err)
	}
	if sigma == nil || sigma.Sign() <= 0 {
		return nil, 0, fault.Arithmetic(fault.CodeNonPositiveScale,
			"contract %s scale must be strictly positive", c.ID).
			With("contract_id", c.ID)
	}

	residual, err := c.Residual(st)
	if err != nil {
		return nil, 0, fmt.Errorf("contract %s residual: %w", c.ID, err)
	}

	sum := new(big.Rat)
	for _, r := range residual {
		ratio := new(big.Rat).Quo(r, sigma)
		sum.Add(sum, ratio.Mul(ratio, ratio))
	}
	return sum.Mul(sum, c.Weight), len(residual), nil
}

// Measurement records one contract's evaluated term for a receipt.
type Measurement struct {
	ContractID string
	Term       *big.Rat
	Components int
	Active     bool
}

// Functional is the violation functional over a fixed contract set.
type Functional struct {
	contracts []*Contract
}

// NewFunctional builds a functional over the given contracts, in
// order. Inactive contracts stay in the set (and in measurements) but
// contribute zero.
func NewFunctional(contracts ...*Contract) *Functional {
	return &Functional{contracts: contracts}
}

// Contracts returns the contract set in evaluation order.
func (f *Functional) Contracts() []*Contract { return f.contracts }

// Rational evaluates the functional exactly: the sum of every active
// contract's term, plus the per-contract measurements.
func (f *Functional) Rational(st *state.State) (*big.Rat, []Measurement, error) {
	total := new(big.Rat)
	measurements := make([]Measurement, 0, len(f.contracts))
	for _, c := range f.contracts {
		if !c.Active {
			measurements = append(measurements, Measurement{
				ContractID: c.ID,
				Term:       new(big.Rat),
				Active:     false,
			})
			continue
		}
		term, components, err := c.Term(st)
		if err != nil {
			return nil, nil, err
		}
		total.Add(total, term)
		measurements = append(measurements, Measurement{
			ContractID: c.ID,
			Term:       term,
			Components: components,
			Active:     true,
		})
	}
	return total, measurements, nil
}

// Measure evaluates the functional and performs the single designated
// rounding into an exact quantum at the given debt scale. This is the
// only call site in the ledger where a rational becomes debt.
func (f *Functional) Measure(st *state.State, debtScale int64) (exact.Value, []Measurement, error) {
	total, measurements, err := f.Rational(st)
	if err != nil {
		return exact.Value{}, nil, err
	}
	v, err := exact.FromRat(total, debtScale)
	if err != nil {
		return exact.Value{}, nil, fmt.Errorf("violation functional rounding: %w", err)
	}
	return v, measurements, nil
}

// ResidualFromField builds a scalar residual actual - target over a
// numeric field (integer or rational).
func ResidualFromField(fieldID state.FieldID, target *big.Rat) ResidualFunc {
	tgt := new(big.Rat).Set(target)
	return func(st *state.State) ([]*big.Rat, error) {
		actual, err := NumericField(st, fieldID)
		if err != nil {
			return nil, err
		}
		return []*big.Rat{new(big.Rat).Sub(actual, tgt)}, nil
	}
}

// ScaleConst builds a constant scale, rejecting non-positive values at
// construction rather than at evaluation.
func ScaleConst(sigma *big.Rat) (ScaleFunc, error) {
	if sigma == nil || sigma.Sign() <= 0 {
		return nil, fault.Arithmetic(fault.CodeNonPositiveScale, "constant scale must be strictly positive")
	}
	fixed := new(big.Rat).Set(sigma)
	return func(*state.State) (*big.Rat, error) {
		return new(big.Rat).Set(fixed), nil
	}, nil
}

// MustScaleConst builds a constant scale, panicking on non-positive
// values. For tests and fixtures only.
func MustScaleConst(sigma *big.Rat) ScaleFunc {
	fn, err := ScaleConst(sigma)
	if err != nil {
		panic(err)
	}
	return fn
}

// BudgetContract measures how far a debt field sits from a budget:
// residual = budget - debt, scale = max(budget, 1).
func BudgetContract(id string, debtField state.FieldID, budget exact.Value) (*Contract, error) {
	sigma := budget.Rat()
	if sigma.Sign() == 0 {
		sigma = new(big.Rat).SetInt64(1)
	}
	scale, err := ScaleConst(sigma)
	if err != nil {
		return nil, err
	}
	budgetRat := budget.Rat()
	residual := func(st *state.State) ([]*big.Rat, error) {
		debt, err := NumericField(st, debtField)
		if err != nil {
			return nil, err
		}
		return []*big.Rat{new(big.Rat).Sub(budgetRat, debt)}, nil
	}
	return New(id, fmt.Sprintf("budget distance for %s", debtField), residual, big.NewRat(1, 1), scale)
}

// NumericField reads an integer or rational field as an exact
// rational.
func NumericField(st *state.State, fieldID state.FieldID) (*big.Rat, error) {
	v, ok := st.Get(fieldID)
	if !ok {
		return nil, fault.Type(fault.CodeUnknownField, "field %s not present", fieldID).
			With("field_id", string(fieldID))
	}
	switch val := v.(type) {
	case state.Int:
		return new(big.Rat).SetInt64(int64(val)), nil
	case state.Rat:
		return val.Big(), nil
	}
	return nil, fault.Type(fault.CodeTypeMismatch, "field %s is not numeric", fieldID).
		With("field_id", string(fieldID))
}
