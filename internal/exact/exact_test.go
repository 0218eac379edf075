package exact

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/fault"
)

func TestNewRejectsNegative(t *testing.T) {
	_, err := New(-1)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeNegativeValue))
}

func TestFromBigCopiesInput(t *testing.T) {
	n := big.NewInt(42)
	v, err := FromBig(n)
	require.NoError(t, err)

	n.SetInt64(7)
	assert.Equal(t, "42", v.String())
}

func TestZeroValueIsUsable(t *testing.T) {
	var v Value
	assert.True(t, v.IsZero())
	assert.Equal(t, "0", v.String())
	assert.True(t, v.Equal(Zero()))
	assert.Equal(t, []byte{0x00}, v.CanonicalBytes())
}

func TestAddMul(t *testing.T) {
	a := MustNew(100)
	b := MustNew(50)

	assert.Equal(t, "150", a.Add(b).String())
	assert.Equal(t, "5000", a.Mul(b).String())
	assert.True(t, a.Mul(Zero()).IsZero())
}

func TestSubUnderflowsInsteadOfClamping(t *testing.T) {
	a := MustNew(3)
	b := MustNew(5)

	_, err := a.Sub(b)
	require.Error(t, err)
	assert.True(t, fault.IsUnderflow(err))

	got, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, "2", got.String())
}

func TestSubSatFloorsAtZero(t *testing.T) {
	assert.True(t, MustNew(3).SubSat(MustNew(5)).IsZero())
	assert.Equal(t, "2", MustNew(5).SubSat(MustNew(3)).String())
	assert.True(t, MustNew(5).SubSat(MustNew(5)).IsZero())
}

func TestDiv(t *testing.T) {
	r, err := MustNew(7).Div(MustNew(2))
	require.NoError(t, err)
	assert.Equal(t, "7/2", r.RatString())

	_, err = MustNew(7).Div(Zero())
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeDivisionByZero))
}

func TestPow(t *testing.T) {
	got, err := MustNew(3).Pow(4)
	require.NoError(t, err)
	assert.Equal(t, "81", got.String())

	got, err = MustNew(9).Pow(0)
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	_, err = MustNew(3).Pow(-1)
	require.Error(t, err)
}

func TestMinAbsDiff(t *testing.T) {
	a := MustNew(10)
	b := MustNew(4)

	assert.Equal(t, "4", a.Min(b).String())
	assert.Equal(t, "4", b.Min(a).String())
	assert.Equal(t, "6", a.AbsDiff(b).String())
	assert.Equal(t, "6", b.AbsDiff(a).String())
}

func TestFromRatHalfEven(t *testing.T) {
	tests := []struct {
		name  string
		num   int64
		den   int64
		scale int64
		want  string
	}{
		{"exact integer", 4, 1, 1000, "4000"},
		{"below half rounds down", 17, 5, 1000, "3000"}, // 3.4
		{"above half rounds up", 18, 5, 1000, "4000"},   // 3.6
		{"tie rounds to even below", 5, 2, 1000, "2000"}, // 2.5 -> 2
		{"tie rounds to even above", 7, 2, 1000, "4000"}, // 3.5 -> 4
		{"tie at zero stays zero", 1, 2, 1000, "0"},      // 0.5 -> 0
		{"tie at one point five", 3, 2, 1000, "2000"},    // 1.5 -> 2
		{"zero", 0, 1, 1000, "0"},
		{"unit scale", 5, 2, 1, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromRat(big.NewRat(tt.num, tt.den), tt.scale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFromRatRejectsInvalidInput(t *testing.T) {
	_, err := FromRat(big.NewRat(-1, 2), 1000)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeInvalidRounding))

	_, err = FromRat(big.NewRat(1, 2), 0)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeInvalidRounding))

	_, err = FromRat(nil, 1000)
	require.Error(t, err)
}

func TestFloorRat(t *testing.T) {
	got, err := FloorRat(big.NewRat(7, 2))
	require.NoError(t, err)
	assert.Equal(t, "3", got.String())

	got, err = FloorRat(big.NewRat(6, 2))
	require.NoError(t, err)
	assert.Equal(t, "3", got.String())

	_, err = FloorRat(big.NewRat(-1, 2))
	require.Error(t, err)
}

func TestCanonicalBytesMinimal(t *testing.T) {
	tests := []struct {
		value int64
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{255, []byte{0xff}},
		{256, []byte{0x01, 0x00}},
		{65535, []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		got := MustNew(tt.value).CanonicalBytes()
		assert.Equal(t, tt.want, got, "value %d", tt.value)
	}
}

func TestParseCanonicalRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 100, 255, 256, 1 << 40} {
		orig := MustNew(v)
		parsed, err := ParseCanonical(orig.CanonicalBytes())
		require.NoError(t, err)
		assert.True(t, orig.Equal(parsed), "value %d", v)
	}
}

func TestParseCanonicalRejectsNonMinimal(t *testing.T) {
	_, err := ParseCanonical(nil)
	require.Error(t, err)

	_, err = ParseCanonical([]byte{0x00, 0x01})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindCanon))

	_, err = ParseCanonical([]byte{0x00, 0x00})
	require.Error(t, err)
}

func TestLargeValuesStayExact(t *testing.T) {
	big1 := MustNew(1 << 62)
	sum := big1.Add(big1)

	_, fits := sum.Int64()
	assert.False(t, fits)
	assert.Equal(t, "9223372036854775808", sum.String())

	parsed, err := ParseCanonical(sum.CanonicalBytes())
	require.NoError(t, err)
	assert.True(t, sum.Equal(parsed))
}
