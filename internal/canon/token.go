package canon

import (
	"encoding/base64"
	"math/big"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
)

// Form is the canonical form of a value: either a tagged Atom or a Seq
// of forms. Maps never appear directly; MapForm lowers them to sorted
// pair sequences first.
type Form interface {
	canonForm() // Sealed - only Atom and Seq implement it
}

// Atom is a single tagged token.
type Atom string

func (Atom) canonForm() {}

// Seq is an ordered sequence of forms.
type Seq []Form

func (Seq) canonForm() {}

// Token converts a typed field value to its tagged token. Every
// variant gets a distinct tag, so Token(Int(1)), Token(Text("1")) and
// Token(Rat(1/1)) can never collide.
func Token(v state.Value) (Atom, error) {
	switch val := v.(type) {
	case state.Int:
		return Atom("i:" + big.NewInt(int64(val)).String()), nil
	case state.Rat:
		return RatAtom(val.Big()), nil
	case state.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case state.Text:
		return Atom("s:" + norm.NFC.String(string(val))), nil
	case state.Bytes:
		return Atom("b64:" + base64.RawURLEncoding.EncodeToString(val)), nil
	case state.Ref:
		if _, err := state.ParseFieldID(string(val)); err != nil {
			return "", err
		}
		return Atom(val), nil
	case nil:
		return "", fault.Canon(fault.CodeUnsupportedShape, "nil value has no canonical token")
	}
	return "", fault.Canon(fault.CodeUnsupportedShape, "unsupported value type %T", v)
}

// MustToken converts a value to its token, panicking on unsupported
// shapes. For tests and fixtures only.
func MustToken(v state.Value) Atom {
	tok, err := Token(v)
	if err != nil {
		panic(err)
	}
	return tok
}

// ExactAtom returns the integer token of an exact quantum.
func ExactAtom(v exact.Value) Atom {
	return Atom("i:" + v.String())
}

// RatAtom returns the fixed-point token q:<scale>:<integer> of an
// exact rational in lowest terms. The denominator is the scale and the
// signed numerator is the integer.
func RatAtom(r *big.Rat) Atom {
	return Atom("q:" + r.Denom().String() + ":" + r.Num().String())
}

// BoolAtom returns the boolean token.
func BoolAtom(b bool) Atom {
	if b {
		return "true"
	}
	return "false"
}

// TextAtom returns the NFC-normalized text token.
func TextAtom(s string) Atom {
	return Atom("s:" + norm.NFC.String(s))
}

// ParseToken is the exact inverse of Token. Digest tokens ("h:") are
// not field values and are rejected here; receipt decoding handles
// them by key.
func ParseToken(tok Atom) (state.Value, error) {
	s := string(tok)
	switch {
	case s == "true":
		return state.Bool(true), nil
	case s == "false":
		return state.Bool(false), nil
	case strings.HasPrefix(s, "i:"):
		n, ok := new(big.Int).SetString(s[2:], 10)
		if !ok {
			return nil, fault.Canon(fault.CodeTokenSyntax, "malformed integer token %q", s)
		}
		if !n.IsInt64() {
			return nil, fault.Canon(fault.CodeTokenSyntax, "integer token %q exceeds field range", s)
		}
		return state.Int(n.Int64()), nil
	case strings.HasPrefix(s, "q:"):
		return parseRatToken(s)
	case strings.HasPrefix(s, "s:"):
		return state.Text(s[2:]), nil
	case strings.HasPrefix(s, "b64:"):
		raw, err := base64.RawURLEncoding.DecodeString(s[4:])
		if err != nil {
			return nil, fault.Canon(fault.CodeTokenSyntax, "malformed base64 token %q: %v", s, err)
		}
		return state.Bytes(raw), nil
	case strings.HasPrefix(s, "f:"):
		id, err := state.ParseFieldID(s)
		if err != nil {
			return nil, err
		}
		return state.Ref(id), nil
	}
	return nil, fault.Canon(fault.CodeTokenSyntax, "unrecognized token %q", s)
}

func parseRatToken(s string) (state.Value, error) {
	parts := strings.SplitN(s[2:], ":", 2)
	if len(parts) != 2 {
		return nil, fault.Canon(fault.CodeTokenSyntax, "malformed rational token %q", s)
	}
	den, okD := new(big.Int).SetString(parts[0], 10)
	num, okN := new(big.Int).SetString(parts[1], 10)
	if !okD || !okN {
		return nil, fault.Canon(fault.CodeTokenSyntax, "malformed rational token %q", s)
	}
	if den.Sign() <= 0 {
		return nil, fault.Canon(fault.CodeTokenSyntax, "rational token %q scale must be positive", s)
	}
	r := new(big.Rat).SetFrac(num, den)
	if r.Denom().Cmp(den) != 0 || r.Num().Cmp(num) != 0 {
		return nil, fault.Canon(fault.CodeTokenSyntax, "rational token %q is not in lowest terms", s)
	}
	out, err := state.RatFromBig(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseExactAtom parses an integer token into an exact quantum.
// Unlike ParseToken it is not bounded by the int64 field range, since
// ledger debt has no ceiling.
func ParseExactAtom(tok Atom) (exact.Value, error) {
	s := string(tok)
	if !strings.HasPrefix(s, "i:") {
		return exact.Value{}, fault.Canon(fault.CodeTokenSyntax, "expected integer token, got %q", s)
	}
	n, ok := new(big.Int).SetString(s[2:], 10)
	if !ok {
		return exact.Value{}, fault.Canon(fault.CodeTokenSyntax, "malformed integer token %q", s)
	}
	v, err := exact.FromBig(n)
	if err != nil {
		return exact.Value{}, fault.Canon(fault.CodeTokenSyntax, "integer token %q must be non-negative", s)
	}
	return v, nil
}

// ParseRatAtom parses a rational token into an exact rational.
func ParseRatAtom(tok Atom) (*big.Rat, error) {
	v, err := ParseToken(tok)
	if err != nil {
		return nil, err
	}
	r, ok := v.(state.Rat)
	if !ok {
		return nil, fault.Canon(fault.CodeTokenSyntax, "expected rational token, got %q", tok)
	}
	return r.Big(), nil
}

// MapForm lowers a string-keyed map to its canonical pair sequence,
// sorted by the raw UTF-8 bytes of the keys. Keys tokenize as text.
func MapForm(m map[string]Form) Seq {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Seq, 0, len(m))
	for _, k := range keys {
		out = append(out, Seq{TextAtom(k), m[k]})
	}
	return out
}

// ListForm wraps ordered forms as a Seq, preserving order.
func ListForm(items ...Form) Seq { return Seq(items) }
