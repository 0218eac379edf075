package exact

import (
	"math/big"

	"github.com/roach88/covenant/internal/fault"
)

// FromRat converts an exact rational to a Value at an integer scale.
// This is the only rounding boundary in the ledger: the rational is
// rounded half-even to the nearest whole integer (ties go to the even
// neighbor) and the result is expressed in 1/scale quanta.
//
//	FromRat(5/2, 1000) = 2000   (2.5 ties to 2)
//	FromRat(7/2, 1000) = 4000   (3.5 ties to 4)
//
// Negative rationals and scales below 1 are invalid rounding input.
func FromRat(r *big.Rat, scale int64) (Value, error) {
	if r == nil {
		return Value{}, fault.Arithmetic(fault.CodeInvalidRounding, "rational must not be nil")
	}
	if r.Sign() < 0 {
		return Value{}, fault.Arithmetic(fault.CodeInvalidRounding, "cannot round negative rational %s", r.RatString())
	}
	if scale < 1 {
		return Value{}, fault.Arithmetic(fault.CodeInvalidRounding, "scale must be >= 1, got %d", scale)
	}

	rounded := roundHalfEven(r)
	return Value{n: rounded.Mul(rounded, big.NewInt(scale))}, nil
}

// roundHalfEven rounds a non-negative rational to the nearest integer,
// ties to even. big.Rat keeps the denominator positive, so quotient and
// remainder are both non-negative here.
func roundHalfEven(r *big.Rat) *big.Int {
	num := r.Num()
	den := r.Denom()

	q := new(big.Int)
	rem := new(big.Int)
	q.QuoRem(num, den, rem)

	twice := new(big.Int).Lsh(rem, 1)
	switch twice.Cmp(den) {
	case 1:
		q.Add(q, bigOne)
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, bigOne)
		}
	}
	return q
}

var bigOne = big.NewInt(1)

// FloorRat converts a non-negative exact rational to a Value by exact
// floor division. Service laws use this for quantities like mu*B; it is
// not a rounding boundary because nothing is ever rounded up.
func FloorRat(r *big.Rat) (Value, error) {
	if r == nil {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "rational must not be nil")
	}
	if r.Sign() < 0 {
		return Value{}, fault.Arithmetic(fault.CodeNegativeValue, "cannot floor negative rational %s", r.RatString())
	}
	q := new(big.Int).Quo(r.Num(), r.Denom())
	return Value{n: q}, nil
}
