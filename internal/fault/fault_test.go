package fault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	f := Arithmetic(CodeUnderflow, "3 - 5 would be negative")
	assert.Equal(t, "arithmetic/UNDERFLOW: 3 - 5 would be negative", f.Error())
}

func TestErrorFormattingWithContext(t *testing.T) {
	f := Invariant(CodeInvariantFailed, "balance does not reconcile").
		With("invariant_id", "inv:balance").
		With("step_index", "4")

	// Context keys render sorted for stable output.
	assert.Equal(t,
		"invariant/INVARIANT_FAILED: balance does not reconcile (invariant_id=inv:balance, step_index=4)",
		f.Error())
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := Chain(CodeBrokenLink, "prev hash does not match head")
	derived := base.With("step_index", "2")

	assert.Empty(t, base.Context)
	assert.Equal(t, "2", derived.Context["step_index"])
}

func TestAsUnwrapsThroughWrapping(t *testing.T) {
	inner := Type(CodeUnknownField, "no such field").With("field_id", "f:00")
	wrapped := fmt.Errorf("apply patch: %w", inner)

	f, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindType, f.Kind)
	assert.Equal(t, CodeUnknownField, f.Code)
	assert.Equal(t, "f:00", f.Context["field_id"])
}

func TestKindAndCodePredicates(t *testing.T) {
	err := fmt.Errorf("measure: %w", Arithmetic(CodeInvalidRounding, "negative rational"))

	assert.True(t, IsKind(err, KindArithmetic))
	assert.False(t, IsKind(err, KindCanon))
	assert.True(t, IsCode(err, CodeInvalidRounding))
	assert.False(t, IsUnderflow(err))

	_, ok := As(fmt.Errorf("plain error"))
	assert.False(t, ok)
}
