package state

import (
	"bytes"
	"math/big"

	"github.com/roach88/covenant/internal/fault"
)

// Value is a sealed interface over the admissible field value types.
// Only Int, Rat, Bool, Text, Bytes, and Ref implement it. There is no
// float variant; floats are rejected at every boundary.
type Value interface {
	fieldValue() // Sealed - only these types implement it
}

// Int is an integer field value.
type Int int64

func (Int) fieldValue() {}

// Rat is an exact rational field value, always in lowest terms with a
// positive denominator. The zero Rat equals 0/1.
type Rat struct {
	r *big.Rat
}

func (Rat) fieldValue() {}

// NewRat creates a rational value, failing on a zero denominator.
func NewRat(num, den int64) (Rat, error) {
	if den == 0 {
		return Rat{}, fault.Arithmetic(fault.CodeDivisionByZero, "rational denominator must not be zero")
	}
	return Rat{r: big.NewRat(num, den)}, nil
}

// MustRat creates a rational value, panicking on a zero denominator.
// For tests and compile-time constants only.
func MustRat(num, den int64) Rat {
	r, err := NewRat(num, den)
	if err != nil {
		panic(err)
	}
	return r
}

// RatFromBig creates a rational value from a big.Rat, copying it.
func RatFromBig(r *big.Rat) (Rat, error) {
	if r == nil {
		return Rat{}, fault.Arithmetic(fault.CodeDivisionByZero, "rational must not be nil")
	}
	return Rat{r: new(big.Rat).Set(r)}, nil
}

// Big returns a copy of the rational.
func (v Rat) Big() *big.Rat {
	if v.r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(v.r)
}

// Num returns the numerator (in lowest terms).
func (v Rat) Num() *big.Int { return v.Big().Num() }

// Denom returns the positive denominator (in lowest terms).
func (v Rat) Denom() *big.Int { return v.Big().Denom() }

// Bool is a boolean field value.
type Bool bool

func (Bool) fieldValue() {}

// Text is a UTF-8 text field value.
type Text string

func (Text) fieldValue() {}

// Bytes is a byte-string field value. Constructed via NewBytes, which
// copies; treat the contents as read-only afterwards.
type Bytes []byte

func (Bytes) fieldValue() {}

// NewBytes creates a byte-string value from a copy of b.
func NewBytes(b []byte) Bytes {
	out := make(Bytes, len(b))
	copy(out, b)
	return out
}

// Ref is a reference to another field.
type Ref FieldID

func (Ref) fieldValue() {}

// CheckValue validates a value against a field definition's type.
func CheckValue(def FieldDef, v Value) error {
	switch def.Type {
	case TypeInteger:
		if _, ok := v.(Int); ok {
			return nil
		}
	case TypeNonNeg:
		if n, ok := v.(Int); ok {
			if n < 0 {
				return fault.Type(fault.CodeTypeMismatch, "field %s requires a non-negative integer, got %d", def.ID, n).
					With("field_id", string(def.ID))
			}
			return nil
		}
	case TypeRational:
		if _, ok := v.(Rat); ok {
			return nil
		}
	case TypeBool:
		if _, ok := v.(Bool); ok {
			return nil
		}
	case TypeText:
		if _, ok := v.(Text); ok {
			return nil
		}
	case TypeBytes:
		if _, ok := v.(Bytes); ok {
			return nil
		}
	case TypeRef:
		if ref, ok := v.(Ref); ok {
			if _, err := ParseFieldID(string(ref)); err != nil {
				return err
			}
			return nil
		}
	default:
		return fault.Type(fault.CodeTypeMismatch, "unknown field type %q for %s", def.Type, def.ID)
	}
	return fault.Type(fault.CodeTypeMismatch, "field %s requires %s, got %T", def.ID, def.Type, v).
		With("field_id", string(def.ID))
}

// ValueEqual reports whether two field values are the same typed value.
// Values of different variants are never equal.
func ValueEqual(a, b Value) bool {
	switch av := a.(type) {
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Rat:
		bv, ok := b.(Rat)
		return ok && av.Big().Cmp(bv.Big()) == 0
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case Ref:
		bv, ok := b.(Ref)
		return ok && av == bv
	}
	return false
}
