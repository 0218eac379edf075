package canon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/state"
)

var (
	testFieldA = state.FieldID("f:" + strings.Repeat("0", 32))
	testFieldB = state.FieldID("f:" + strings.Repeat("1", 32))
	testFieldC = state.FieldID("f:" + strings.Repeat("2", 32))
)

func canonTestSchema(t *testing.T) *state.Schema {
	t.Helper()
	schema, err := state.NewSchema("schema:canon-test.v1", []state.FieldBlock{{
		BlockID: "core",
		Policy:  state.AccessPublic,
		Defs: []state.FieldDef{
			{ID: testFieldA, Name: "debt", Type: state.TypeNonNeg},
			{ID: testFieldB, Name: "owner", Type: state.TypeText},
			{ID: testFieldC, Name: "active", Type: state.TypeBool},
		},
	}})
	require.NoError(t, err)
	return schema
}

func TestStateBytesPinned(t *testing.T) {
	schema := canonTestSchema(t)
	st, err := state.New(schema, map[state.FieldID]state.Value{
		testFieldA: state.Int(100),
		testFieldB: state.Text("alice"),
		testFieldC: state.Bool(true),
	})
	require.NoError(t, err)

	data, err := StateBytes(st, FloatReject)
	require.NoError(t, err)

	want := `{"canon_id":"sorted_json_bytes.v1",` +
		`"fields":[` +
		`["f:00000000000000000000000000000000","i:100"],` +
		`["f:11111111111111111111111111111111","s:alice"],` +
		`["f:22222222222222222222222222222222","true"]],` +
		`"float_policy":"reject",` +
		`"schema_id":"schema:canon-test.v1"}`
	assert.Equal(t, want, string(data))
}

func TestStateBytesIndependentOfInsertionOrder(t *testing.T) {
	schema := canonTestSchema(t)

	first, err := state.New(schema, map[state.FieldID]state.Value{
		testFieldC: state.Bool(false),
		testFieldA: state.Int(7),
		testFieldB: state.Text("bob"),
	})
	require.NoError(t, err)

	base, err := state.New(schema, map[state.FieldID]state.Value{
		testFieldA: state.Int(0),
		testFieldB: state.Text("bob"),
		testFieldC: state.Bool(false),
	})
	require.NoError(t, err)
	second, err := base.WithFields(map[state.FieldID]state.Value{testFieldA: state.Int(7)})
	require.NoError(t, err)

	b1, err := StateBytes(first, FloatReject)
	require.NoError(t, err)
	b2, err := StateBytes(second, FloatReject)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestStateDigestDependsOnEveryInput(t *testing.T) {
	schema := canonTestSchema(t)
	st, err := state.New(schema, map[state.FieldID]state.Value{
		testFieldA: state.Int(100),
	})
	require.NoError(t, err)

	base, err := StateDigest(st, HashSHA3_256, FloatReject)
	require.NoError(t, err)

	changed, err := st.WithFields(map[state.FieldID]state.Value{testFieldA: state.Int(101)})
	require.NoError(t, err)
	changedDigest, err := StateDigest(changed, HashSHA3_256, FloatReject)
	require.NoError(t, err)
	assert.NotEqual(t, base, changedDigest)

	otherMode, err := StateDigest(st, HashSHA2_256, FloatReject)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherMode)
}

func TestStateObjectRejectsUnknownFloatPolicy(t *testing.T) {
	schema := canonTestSchema(t)
	st, err := state.New(schema, nil)
	require.NoError(t, err)

	_, err = StateObject(st, FloatPolicy("allow"))
	assert.Error(t, err)
}

func TestStateBytesEmptyState(t *testing.T) {
	schema := canonTestSchema(t)
	st, err := state.New(schema, nil)
	require.NoError(t, err)

	data, err := StateBytes(st, FloatReject)
	require.NoError(t, err)
	assert.Equal(t,
		`{"canon_id":"sorted_json_bytes.v1","fields":[],"float_policy":"reject","schema_id":"schema:canon-test.v1"}`,
		string(data))
}
