package exact

import (
	"math/big"

	"github.com/roach88/covenant/internal/fault"
)

// CanonicalBytes returns the minimal-length big-endian unsigned
// encoding. Zero encodes as a single 0x00 byte; no other encoding may
// carry a leading zero byte. These bytes are the hashing pre-image for
// a Value and round-trip through ParseCanonical.
func (v Value) CanonicalBytes() []byte {
	if v.IsZero() {
		return []byte{0x00}
	}
	return v.big().Bytes()
}

// ParseCanonical reconstructs a Value from its canonical bytes. Empty
// input and non-minimal encodings are rejected so that every Value has
// exactly one byte representation.
func ParseCanonical(b []byte) (Value, error) {
	switch {
	case len(b) == 0:
		return Value{}, fault.Canon(fault.CodeTokenSyntax, "canonical value bytes must not be empty")
	case len(b) == 1 && b[0] == 0x00:
		return Value{}, nil
	case b[0] == 0x00:
		return Value{}, fault.Canon(fault.CodeTokenSyntax, "canonical value bytes must not have leading zeros")
	}
	return Value{n: new(big.Int).SetBytes(b)}, nil
}

// MarshalText renders the value as decimal digits, so a Value embeds
// cleanly in JSON and YAML.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText parses decimal digits, rejecting signs and anything
// non-numeric.
func (v *Value) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return fault.Arithmetic(fault.CodeNegativeValue, "value text must not be empty")
	}
	if s[0] == '+' || s[0] == '-' {
		return fault.Arithmetic(fault.CodeNegativeValue, "value text %q must be unsigned digits", s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fault.Arithmetic(fault.CodeNegativeValue, "value text %q is not a decimal integer", s)
	}
	v.n = n
	return nil
}
