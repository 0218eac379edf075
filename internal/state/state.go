package state

import (
	"fmt"
	"sort"

	"github.com/roach88/covenant/internal/fault"
)

// State is an immutable mapping from field id to typed value under one
// schema. All transforms return a new State; the receiver is never
// modified, so a State may be shared freely once constructed.
type State struct {
	schema *Schema
	fields map[FieldID]Value
}

// New constructs a State, validating every value against its field
// definition. Fields left out of values are simply absent from the
// state (and from its canonical form); unknown ids are rejected.
func New(schema *Schema, values map[FieldID]Value) (*State, error) {
	if schema == nil {
		return nil, fault.Type(fault.CodeTypeMismatch, "schema must not be nil")
	}
	fields := make(map[FieldID]Value, len(values))
	for id, v := range values {
		def, ok := schema.Lookup(id)
		if !ok {
			return nil, fault.Type(fault.CodeUnknownField, "unknown field %s in schema %s", id, schema.ID()).
				With("field_id", string(id))
		}
		if err := CheckValue(def, v); err != nil {
			return nil, fmt.Errorf("state construction: %w", err)
		}
		fields[id] = v
	}
	return &State{schema: schema, fields: fields}, nil
}

// Schema returns the schema this state validates against.
func (s *State) Schema() *Schema { return s.schema }

// SchemaID returns the schema identifier bound into the state canon.
func (s *State) SchemaID() string { return s.schema.ID() }

// Get returns the value for a field id and whether it is present.
func (s *State) Get(id FieldID) (Value, bool) {
	v, ok := s.fields[id]
	return v, ok
}

// Len returns the number of fields present.
func (s *State) Len() int { return len(s.fields) }

// FieldIDs returns the present field ids sorted by their UTF-8 bytes.
// This is the iteration order for every canonical operation.
func (s *State) FieldIDs() []FieldID {
	ids := make([]FieldID, 0, len(s.fields))
	for id := range s.fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WithField returns a new State with one field replaced. The field must
// already be present; introducing fields after construction is not a
// transform the ledger permits.
func (s *State) WithField(id FieldID, v Value) (*State, error) {
	return s.WithFields(map[FieldID]Value{id: v})
}

// WithFields returns a new State with the given fields replaced,
// rejecting unknown ids and type mismatches. The receiver is unchanged
// even when the update fails partway through validation.
func (s *State) WithFields(updates map[FieldID]Value) (*State, error) {
	for id, v := range updates {
		if _, ok := s.fields[id]; !ok {
			return nil, fault.Type(fault.CodeUnknownField, "unknown field %s", id).
				With("field_id", string(id))
		}
		def, _ := s.schema.Lookup(id)
		if err := CheckValue(def, v); err != nil {
			return nil, fmt.Errorf("with_fields: %w", err)
		}
	}
	fields := make(map[FieldID]Value, len(s.fields))
	for id, v := range s.fields {
		fields[id] = v
	}
	for id, v := range updates {
		fields[id] = v
	}
	return &State{schema: s.schema, fields: fields}, nil
}

// Equal reports whether two states have the same schema id and the
// same fields with equal values, independent of construction order.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.schema.ID() != o.schema.ID() || len(s.fields) != len(o.fields) {
		return false
	}
	for id, v := range s.fields {
		ov, ok := o.fields[id]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}
