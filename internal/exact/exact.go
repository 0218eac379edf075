package exact

import (
	"math/big"

	"github.com/roach88/covenant/internal/fault"
)

// Value is a non-negative integer quantum. The zero value is usable and
// equals Zero(). Value is immutable: every operation returns a new Value
// and no method exposes the backing integer.
type Value struct {
	n *big.Int
}

// Zero returns the zero quantum.
func Zero() Value { return Value{} }

// One returns the unit quantum.
func One() Value { return Value{n: big.NewInt(1)} }

// New creates a Value from a non-negative int64.
func New(v int64) (Value, error) {
	if v < 0 {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "value must be non-negative, got %d", v)
	}
	if v == 0 {
		return Value{}, nil
	}
	return Value{n: big.NewInt(v)}, nil
}

// MustNew creates a Value from a non-negative int64, panicking on
// negative input. For tests and compile-time constants only.
func MustNew(v int64) Value {
	val, err := New(v)
	if err != nil {
		panic(err)
	}
	return val
}

// FromBig creates a Value from a non-negative big.Int. The input is
// copied; later mutation of n does not affect the Value.
func FromBig(n *big.Int) (Value, error) {
	if n == nil {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "value must not be nil")
	}
	if n.Sign() < 0 {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "value must be non-negative, got %s", n.String())
	}
	if n.Sign() == 0 {
		return Value{}, nil
	}
	return Value{n: new(big.Int).Set(n)}, nil
}

// big returns the backing integer, treating the zero Value as 0.
// Callers must not mutate the result.
func (v Value) big() *big.Int {
	if v.n == nil {
		return bigZero
	}
	return v.n
}

var bigZero = big.NewInt(0)

// BigInt returns a copy of the value as a big.Int.
func (v Value) BigInt() *big.Int { return new(big.Int).Set(v.big()) }

// Rat returns the value as an exact rational.
func (v Value) Rat() *big.Rat { return new(big.Rat).SetInt(v.big()) }

// Int64 returns the value as an int64 and whether it fits.
func (v Value) Int64() (int64, bool) {
	if !v.big().IsInt64() {
		return 0, false
	}
	return v.big().Int64(), true
}

// IsZero reports whether the value is zero.
func (v Value) IsZero() bool { return v.big().Sign() == 0 }

// Cmp compares v and o, returning -1, 0, or +1.
func (v Value) Cmp(o Value) int { return v.big().Cmp(o.big()) }

// Equal reports whether v and o are the same quantum.
func (v Value) Equal(o Value) bool { return v.Cmp(o) == 0 }

// String returns the decimal rendering.
func (v Value) String() string { return v.big().String() }

// Add returns v + o.
func (v Value) Add(o Value) Value {
	return Value{n: new(big.Int).Add(v.big(), o.big())}
}

// Sub returns v - o, failing with an underflow fault when the result
// would be negative. It never clamps to zero.
func (v Value) Sub(o Value) (Value, error) {
	if v.Cmp(o) < 0 {
		return Value{}, fault.Arithmetic(fault.CodeUnderflow, "%s - %s would be negative", v, o)
	}
	return Value{n: new(big.Int).Sub(v.big(), o.big())}, nil
}

// SubSat returns max(0, v - o). The budget recurrence is defined in
// terms of this truncated subtraction; all other callers want Sub.
func (v Value) SubSat(o Value) Value {
	if v.Cmp(o) <= 0 {
		return Value{}
	}
	return Value{n: new(big.Int).Sub(v.big(), o.big())}
}

// Mul returns v * o.
func (v Value) Mul(o Value) Value {
	if v.IsZero() || o.IsZero() {
		return Value{}
	}
	return Value{n: new(big.Int).Mul(v.big(), o.big())}
}

// Div returns v / o as an exact rational, failing on a zero divisor.
func (v Value) Div(o Value) (*big.Rat, error) {
	if o.IsZero() {
		return nil, fault.Arithmetic(fault.CodeDivisionByZero, "division of %s by zero", v)
	}
	return new(big.Rat).SetFrac(v.big(), o.big()), nil
}

// Pow returns v raised to a non-negative integer exponent.
func (v Value) Pow(exp int64) (Value, error) {
	if exp < 0 {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "exponent must be non-negative, got %d", exp)
	}
	if exp == 0 {
		return One(), nil
	}
	return Value{n: new(big.Int).Exp(v.big(), big.NewInt(exp), nil)}, nil
}

// Min returns the smaller of v and o.
func (v Value) Min(o Value) Value {
	if v.Cmp(o) <= 0 {
		return v
	}
	return o
}

// AbsDiff returns |v - o|.
func (v Value) AbsDiff(o Value) Value {
	if v.Cmp(o) >= 0 {
		return Value{n: new(big.Int).Sub(v.big(), o.big())}
	}
	return Value{n: new(big.Int).Sub(o.big(), v.big())}
}
