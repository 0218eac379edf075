package canon

import (
	"fmt"

	"github.com/roach88/covenant/internal/state"
)

// StateCanonID identifies the state canon layout. It is bound into
// every state canon object and must never change for v1 bytes.
const StateCanonID = "sorted_json_bytes.v1"

// FloatPolicy states how floating-point input is handled at the
// ledger boundary. Nothing inside the kernel ever holds a float; the
// policy only governs whether boundaries reject them or convert them
// exactly once on entry.
type FloatPolicy string

const (
	// FloatReject refuses floating-point input outright.
	FloatReject FloatPolicy = "reject"

	// FloatConvertOnce converts a float to an exact rational a single
	// time at the boundary. Binary floats are exact rationals, so the
	// conversion itself introduces no rounding.
	FloatConvertOnce FloatPolicy = "convert_once"
)

// Valid reports whether p is a member of the closed policy set.
func (p FloatPolicy) Valid() bool {
	return p == FloatReject || p == FloatConvertOnce
}

// StateObject builds the canonical object for a state:
//
//	{"canon_id", "schema_id", "float_policy", "fields": [[id, token], ...]}
//
// Fields are sorted by the bytes of their ids. Nothing non-canonical
// (timestamps, provenance, field names) is included, so the bytes are
// identical however the state was assembled.
func StateObject(st *state.State, floatPolicy FloatPolicy) (map[string]any, error) {
	if !floatPolicy.Valid() {
		return nil, fmt.Errorf("state canon: unknown float policy %q", floatPolicy)
	}
	fields := make(Seq, 0, st.Len())
	for _, id := range st.FieldIDs() {
		v, _ := st.Get(id)
		tok, err := Token(v)
		if err != nil {
			return nil, fmt.Errorf("state canon field %s: %w", id, err)
		}
		fields = append(fields, Seq{Atom(id), tok})
	}
	return map[string]any{
		"canon_id":     StateCanonID,
		"schema_id":    st.SchemaID(),
		"float_policy": string(floatPolicy),
		"fields":       fields,
	}, nil
}

// StateBytes serializes the state canon object to canonical JSON.
func StateBytes(st *state.State, floatPolicy FloatPolicy) ([]byte, error) {
	obj, err := StateObject(st, floatPolicy)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(obj)
}

// StateDigest hashes the state canon bytes under the given mode.
func StateDigest(st *state.State, mode HashMode, floatPolicy FloatPolicy) (Digest, error) {
	data, err := StateBytes(st, floatPolicy)
	if err != nil {
		return "", err
	}
	return DigestBytes(mode, data)
}
