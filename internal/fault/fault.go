// Package fault defines the closed error taxonomy shared by every ledger
// package. All kernel failures are *Fault values so callers can branch on
// Kind directly instead of matching message strings.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the top-level error category. The set is closed: downstream
// gating logic is allowed to switch exhaustively over these values.
type Kind string

const (
	// KindArithmetic covers underflow, division by zero, and invalid
	// input to the rounding boundary.
	KindArithmetic Kind = "arithmetic"

	// KindType covers values that do not match a declared field type and
	// references to unknown fields.
	KindType Kind = "type"

	// KindCanon covers unsupported value shapes and unknown keys under
	// strict receipt decoding.
	KindCanon Kind = "canon"

	// KindChain covers self-hash mismatches, broken predecessor linkage,
	// and duplicate receipts.
	KindChain Kind = "chain"

	// KindPolicy covers disturbances outside their policy bound, policy
	// digest drift across a chain, and budget-law violations.
	KindPolicy Kind = "policy"

	// KindInvariant covers named hard invariant failures.
	KindInvariant Kind = "invariant"
)

// Code identifies the specific failure within a Kind.
type Code string

const (
	CodeUnderflow       Code = "UNDERFLOW"
	CodeDivisionByZero  Code = "DIVISION_BY_ZERO"
	CodeInvalidRounding Code = "INVALID_ROUNDING"
	CodeNegativeValue   Code = "NEGATIVE_VALUE"

	CodeTypeMismatch Code = "TYPE_MISMATCH"
	CodeUnknownField Code = "UNKNOWN_FIELD"
	CodeBadFieldID   Code = "BAD_FIELD_ID"

	CodeUnsupportedShape Code = "UNSUPPORTED_SHAPE"
	CodeUnknownKey       Code = "UNKNOWN_KEY"
	CodeTokenSyntax      Code = "TOKEN_SYNTAX"
	CodeBadDigest        Code = "BAD_DIGEST"

	CodeHashMismatch     Code = "HASH_MISMATCH"
	CodeBrokenLink       Code = "BROKEN_LINK"
	CodeDuplicateReceipt Code = "DUPLICATE_RECEIPT"

	CodeDisturbanceExceeded Code = "DISTURBANCE_EXCEEDED"
	CodePolicyDigestDrift   Code = "POLICY_DIGEST_DRIFT"
	CodeLawViolation        Code = "LAW_VIOLATION"
	CodeBadBundle           Code = "BAD_BUNDLE"

	CodeNonPositiveScale Code = "NON_POSITIVE_SCALE"
	CodeInvariantFailed  Code = "INVARIANT_FAILED"

	CodeUnknownKernel   Code = "UNKNOWN_KERNEL"
	CodeDuplicateKernel Code = "DUPLICATE_KERNEL"
	CodeBadTransition   Code = "BAD_TRANSITION"
	CodeNondeterminism  Code = "NONDETERMINISM"
)

// Fault is a structured ledger error. Construction-time faults are
// fail-fast (the single operation aborts); verification accumulates them
// instead of stopping. A Fault is immutable once returned.
type Fault struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Code identifies the specific failure.
	Code Code

	// Message is a human-readable description.
	Message string

	// Context carries contextual identifiers (field_id, step_index,
	// contract_id, invariant_id, ...) keyed by snake_case names.
	Context map[string]string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if len(f.Context) == 0 {
		return fmt.Sprintf("%s/%s: %s", f.Kind, f.Code, f.Message)
	}
	keys := make([]string, 0, len(f.Context))
	for k := range f.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f.Context[k])
	}
	return fmt.Sprintf("%s/%s: %s (%s)", f.Kind, f.Code, f.Message, strings.Join(parts, ", "))
}

// With returns a copy of the fault with an added context entry.
func (f *Fault) With(key, value string) *Fault {
	ctx := make(map[string]string, len(f.Context)+1)
	for k, v := range f.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Fault{Kind: f.Kind, Code: f.Code, Message: f.Message, Context: ctx}
}

// New creates a Fault with no context.
func New(kind Kind, code Code, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Arithmetic creates an arithmetic-kind fault.
func Arithmetic(code Code, format string, args ...any) *Fault {
	return New(KindArithmetic, code, format, args...)
}

// Type creates a type-kind fault.
func Type(code Code, format string, args ...any) *Fault {
	return New(KindType, code, format, args...)
}

// Canon creates a canon-kind fault.
func Canon(code Code, format string, args ...any) *Fault {
	return New(KindCanon, code, format, args...)
}

// Chain creates a chain-kind fault.
func Chain(code Code, format string, args ...any) *Fault {
	return New(KindChain, code, format, args...)
}

// Policy creates a policy-kind fault.
func Policy(code Code, format string, args ...any) *Fault {
	return New(KindPolicy, code, format, args...)
}

// Invariant creates an invariant-kind fault.
func Invariant(code Code, format string, args ...any) *Fault {
	return New(KindInvariant, code, format, args...)
}

// As unwraps err to a *Fault if one is in the chain.
// Uses errors.As to handle wrapped errors.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err is (or wraps) a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	f, ok := As(err)
	return ok && f.Kind == kind
}

// IsCode reports whether err is (or wraps) a Fault with the given code.
func IsCode(err error, code Code) bool {
	f, ok := As(err)
	return ok && f.Code == code
}

// IsUnderflow reports whether err is a subtraction underflow.
func IsUnderflow(err error) bool { return IsCode(err, CodeUnderflow) }

// IsUnknownField reports whether err is an unknown-field reference.
func IsUnknownField(err error) bool { return IsCode(err, CodeUnknownField) }
