package contract

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
)

var (
	debtField  = state.DeriveFieldID("debt")
	levelField = state.DeriveFieldID("level")
)

func contractTestState(t *testing.T, debt int64, level int64) *state.State {
	t.Helper()
	schema, err := state.NewSchema("schema:contract-test.v1", []state.FieldBlock{{
		BlockID: "core",
		Policy:  state.AccessPublic,
		Defs: []state.FieldDef{
			{ID: debtField, Name: "debt", Type: state.TypeNonNeg},
			{ID: levelField, Name: "level", Type: state.TypeInteger},
		},
	}})
	require.NoError(t, err)
	st, err := state.New(schema, map[state.FieldID]state.Value{
		debtField:  state.Int(debt),
		levelField: state.Int(level),
	})
	require.NoError(t, err)
	return st
}

func TestNewRejectsNegativeWeight(t *testing.T) {
	_, err := New("c:w", "w", ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(-1, 2), MustScaleConst(big.NewRat(1, 1)))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeNegativeValue))
}

func TestTermScalarResidual(t *testing.T) {
	st := contractTestState(t, 0, 3)

	// residual = 3, scale = 2, weight = 1/2: (3/2)^2 * 1/2 = 9/8.
	c, err := New("c:level", "level distance",
		ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(1, 2),
		MustScaleConst(big.NewRat(2, 1)))
	require.NoError(t, err)

	term, components, err := c.Term(st)
	require.NoError(t, err)
	assert.Equal(t, 1, components)
	assert.Equal(t, "9/8", term.RatString())
}

func TestTermVectorResidual(t *testing.T) {
	st := contractTestState(t, 0, 0)

	residual := func(*state.State) ([]*big.Rat, error) {
		return []*big.Rat{big.NewRat(3, 1), big.NewRat(4, 1)}, nil
	}
	c, err := New("c:vec", "vector", residual, big.NewRat(1, 1), MustScaleConst(big.NewRat(1, 1)))
	require.NoError(t, err)

	term, components, err := c.Term(st)
	require.NoError(t, err)
	assert.Equal(t, 2, components)
	assert.Equal(t, "25", term.RatString())
}

func TestTermNegativeResidualSquares(t *testing.T) {
	st := contractTestState(t, 0, -3)

	c, err := New("c:neg", "negative residual",
		ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(1, 1),
		MustScaleConst(big.NewRat(1, 1)))
	require.NoError(t, err)

	term, _, err := c.Term(st)
	require.NoError(t, err)
	assert.Equal(t, "9", term.RatString())
}

func TestTermRejectsNonPositiveScale(t *testing.T) {
	st := contractTestState(t, 0, 1)

	zeroScale := func(*state.State) (*big.Rat, error) { return new(big.Rat), nil }
	c, err := New("c:zero", "zero scale",
		ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(1, 1), zeroScale)
	require.NoError(t, err)

	_, _, err = c.Term(st)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeNonPositiveScale))

	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "c:zero", f.Context["contract_id"])
}

func TestScaleConstRejectsNonPositive(t *testing.T) {
	_, err := ScaleConst(new(big.Rat))
	require.Error(t, err)

	_, err = ScaleConst(big.NewRat(-1, 2))
	require.Error(t, err)
}

func TestResidualFromFieldMissing(t *testing.T) {
	st := contractTestState(t, 0, 0)
	residual := ResidualFromField(state.DeriveFieldID("absent"), new(big.Rat))

	_, err := residual(st)
	require.Error(t, err)
	assert.True(t, fault.IsUnknownField(err))
}

func TestFunctionalSumsActiveContracts(t *testing.T) {
	st := contractTestState(t, 0, 2)

	one := MustScaleConst(big.NewRat(1, 1))
	a, err := New("c:a", "a", ResidualFromField(levelField, new(big.Rat)), big.NewRat(1, 1), one)
	require.NoError(t, err)
	b, err := New("c:b", "b", ResidualFromField(levelField, big.NewRat(1, 1)), big.NewRat(2, 1), one)
	require.NoError(t, err)
	c, err := New("c:c", "c", ResidualFromField(levelField, new(big.Rat)), big.NewRat(1, 1), one)
	require.NoError(t, err)
	c.Active = false

	// a: (2)^2 = 4; b: 2*(1)^2 = 2; c inactive.
	f := NewFunctional(a, b, c)
	total, measurements, err := f.Rational(st)
	require.NoError(t, err)
	assert.Equal(t, "6", total.RatString())

	require.Len(t, measurements, 3)
	assert.Equal(t, "c:a", measurements[0].ContractID)
	assert.Equal(t, "4", measurements[0].Term.RatString())
	assert.True(t, measurements[0].Active)
	assert.Equal(t, "2", measurements[1].Term.RatString())
	assert.False(t, measurements[2].Active)
	assert.Equal(t, "0", measurements[2].Term.RatString())
}

func TestMeasureRoundsOnceAtScale(t *testing.T) {
	st := contractTestState(t, 0, 3)

	// (3/2)^2 * 1/2 = 9/8 = 1.125, rounds to 1, scaled to 1000.
	c, err := New("c:m", "m",
		ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(1, 2),
		MustScaleConst(big.NewRat(2, 1)))
	require.NoError(t, err)

	v, measurements, err := NewFunctional(c).Measure(st, 1000)
	require.NoError(t, err)
	assert.Equal(t, "1000", v.String())
	// The measurement keeps the exact rational; only the total rounds.
	assert.Equal(t, "9/8", measurements[0].Term.RatString())
}

func TestMeasureZeroViolation(t *testing.T) {
	st := contractTestState(t, 0, 0)

	c, err := New("c:z", "z",
		ResidualFromField(levelField, new(big.Rat)),
		big.NewRat(1, 1),
		MustScaleConst(big.NewRat(1, 1)))
	require.NoError(t, err)

	v, _, err := NewFunctional(c).Measure(st, 1000)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestBudgetContract(t *testing.T) {
	st := contractTestState(t, 100, 0)

	c, err := BudgetContract("c:budget", debtField, exact.MustNew(50))
	require.NoError(t, err)

	// residual = 50 - 100 = -50, scale = 50: (-1)^2 = 1.
	term, _, err := c.Term(st)
	require.NoError(t, err)
	assert.Equal(t, "1", term.RatString())
}

func TestBudgetContractZeroBudget(t *testing.T) {
	st := contractTestState(t, 2, 0)

	c, err := BudgetContract("c:budget0", debtField, exact.Zero())
	require.NoError(t, err)

	// scale clamps to 1: (0 - 2)^2 = 4.
	term, _, err := c.Term(st)
	require.NoError(t, err)
	assert.Equal(t, "4", term.RatString())
}

func TestInvariantSetAccumulatesFailures(t *testing.T) {
	st := contractTestState(t, 5, -1)

	set := NewSet(
		NonNegative(debtField),
		NonNegative(levelField),
		FieldRange(debtField, nil, big.NewRat(3, 1)),
	)

	ok, failures := set.EvaluateAll(st)
	assert.False(t, ok)
	require.Len(t, failures, 2)
	assert.Equal(t, "inv:range:"+string(levelField), failures[0].InvariantID)
	assert.Contains(t, failures[0].Message, "below minimum")
	assert.Equal(t, "inv:range:"+string(debtField), failures[1].InvariantID)
	assert.Contains(t, failures[1].Message, "above maximum")
}

func TestInvariantSetAllPass(t *testing.T) {
	st := contractTestState(t, 1, 1)

	set := NewSet(NonNegative(debtField), NonNegative(levelField))
	ok, failures := set.EvaluateAll(st)
	assert.True(t, ok)
	assert.Empty(t, failures)
}

func TestSchemaConformance(t *testing.T) {
	schema, err := state.NewSchema("schema:conf.v1", []state.FieldBlock{{
		BlockID: "core",
		Policy:  state.AccessPublic,
		Defs: []state.FieldDef{
			{ID: debtField, Type: state.TypeNonNeg},
			{ID: levelField, Type: state.TypeInteger},
		},
	}})
	require.NoError(t, err)

	partial, err := state.New(schema, map[state.FieldID]state.Value{debtField: state.Int(1)})
	require.NoError(t, err)

	inv := SchemaConformance(schema)
	ok, msg := inv.Check(partial)
	assert.False(t, ok)
	assert.Contains(t, msg, "missing required field")

	full, err := state.New(schema, map[state.FieldID]state.Value{
		debtField:  state.Int(1),
		levelField: state.Int(0),
	})
	require.NoError(t, err)
	ok, _ = inv.Check(full)
	assert.True(t, ok)
}

func TestBalanceInvariant(t *testing.T) {
	totalF := state.DeriveFieldID("total")
	availF := state.DeriveFieldID("available")
	resF := state.DeriveFieldID("reserved")

	schema, err := state.NewSchema("schema:balance.v1", []state.FieldBlock{{
		BlockID: "core",
		Policy:  state.AccessPublic,
		Defs: []state.FieldDef{
			{ID: totalF, Type: state.TypeNonNeg},
			{ID: availF, Type: state.TypeNonNeg},
			{ID: resF, Type: state.TypeNonNeg},
		},
	}})
	require.NoError(t, err)

	balanced, err := state.New(schema, map[state.FieldID]state.Value{
		totalF: state.Int(10), availF: state.Int(7), resF: state.Int(3),
	})
	require.NoError(t, err)

	inv := Balance(totalF, availF, resF)
	ok, _ := inv.Check(balanced)
	assert.True(t, ok)

	broken, err := balanced.WithFields(map[state.FieldID]state.Value{availF: state.Int(6)})
	require.NoError(t, err)
	ok, msg := inv.Check(broken)
	assert.False(t, ok)
	assert.Contains(t, msg, "balance violated")
}
