package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/covenant/internal/fault"
)

// FieldType declares the admissible value shape for a field.
type FieldType string

const (
	// TypeInteger admits any integer.
	TypeInteger FieldType = "integer"

	// TypeNonNeg admits non-negative integers only.
	TypeNonNeg FieldType = "nonneg"

	// TypeRational admits exact rationals (numerator/denominator).
	TypeRational FieldType = "rational"

	// TypeBool admits booleans.
	TypeBool FieldType = "bool"

	// TypeText admits UTF-8 text.
	TypeText FieldType = "string"

	// TypeBytes admits byte strings.
	TypeBytes FieldType = "bytes"

	// TypeRef admits references to other fields.
	TypeRef FieldType = "field_ref"
)

// Valid reports whether t is a member of the closed type set.
func (t FieldType) Valid() bool {
	switch t {
	case TypeInteger, TypeNonNeg, TypeRational, TypeBool, TypeText, TypeBytes, TypeRef:
		return true
	}
	return false
}

// FieldID is a fixed-length field identifier: "f:" followed by 32
// lowercase hex characters (16 bytes).
type FieldID string

const fieldIDHexLen = 32

// ParseFieldID validates the identifier format.
func ParseFieldID(s string) (FieldID, error) {
	if !strings.HasPrefix(s, "f:") {
		return "", fault.Type(fault.CodeBadFieldID, "field id must start with %q, got %q", "f:", s)
	}
	hexPart := s[2:]
	if len(hexPart) != fieldIDHexLen {
		return "", fault.Type(fault.CodeBadFieldID, "field id must have %d hex chars, got %d", fieldIDHexLen, len(hexPart))
	}
	for _, c := range hexPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fault.Type(fault.CodeBadFieldID, "field id must be lowercase hex, got %q", s)
		}
	}
	return FieldID(s), nil
}

// MustFieldID parses a field identifier, panicking on bad format.
// For tests and compile-time constants only.
func MustFieldID(s string) FieldID {
	id, err := ParseFieldID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// DeriveFieldID derives a field identifier from a human-readable name
// by truncated SHA-256, so schemas authored by name get stable IDs.
func DeriveFieldID(name string) FieldID {
	sum := sha256.Sum256([]byte("covenant/field/v1\x00" + name))
	return FieldID("f:" + hex.EncodeToString(sum[:16]))
}

// AccessPolicy labels who may read a field block. The kernel records it
// but does not enforce it; enforcement belongs to outer layers.
type AccessPolicy string

const (
	AccessPublic     AccessPolicy = "public"
	AccessPrivate    AccessPolicy = "private"
	AccessKernelOnly AccessPolicy = "kernel_only"
)

// FieldDef declares one field.
type FieldDef struct {
	ID   FieldID   `json:"field_id"`
	Name string    `json:"name,omitempty"`
	Type FieldType `json:"field_type"`
}

// FieldBlock groups field definitions under one access policy.
// Definitions are kept sorted by field id bytes.
type FieldBlock struct {
	BlockID string       `json:"block_id"`
	Policy  AccessPolicy `json:"access_policy"`
	Defs    []FieldDef   `json:"fields"`
}

// Schema is the set of field blocks a State validates against.
type Schema struct {
	id    string
	defs  map[FieldID]FieldDef
	order []FieldID
}

// NewSchema builds a schema from blocks, sorting each block's
// definitions by field id and rejecting duplicate or malformed ids.
func NewSchema(schemaID string, blocks []FieldBlock) (*Schema, error) {
	if schemaID == "" {
		return nil, fault.Type(fault.CodeBadFieldID, "schema id must not be empty")
	}
	s := &Schema{
		id:   schemaID,
		defs: make(map[FieldID]FieldDef),
	}
	for _, block := range blocks {
		defs := make([]FieldDef, len(block.Defs))
		copy(defs, block.Defs)
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		for _, def := range defs {
			if _, err := ParseFieldID(string(def.ID)); err != nil {
				return nil, fmt.Errorf("schema %s block %s: %w", schemaID, block.BlockID, err)
			}
			if !def.Type.Valid() {
				return nil, fault.Type(fault.CodeTypeMismatch, "unknown field type %q for %s", def.Type, def.ID)
			}
			if _, dup := s.defs[def.ID]; dup {
				return nil, fault.Type(fault.CodeBadFieldID, "duplicate field id %s", def.ID)
			}
			s.defs[def.ID] = def
			s.order = append(s.order, def.ID)
		}
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return s, nil
}

// ID returns the schema identifier bound into the state canon.
func (s *Schema) ID() string { return s.id }

// Lookup returns the definition for a field id.
func (s *Schema) Lookup(id FieldID) (FieldDef, bool) {
	def, ok := s.defs[id]
	return def, ok
}

// FieldIDs returns every declared field id in byte order.
func (s *Schema) FieldIDs() []FieldID {
	out := make([]FieldID, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of declared fields.
func (s *Schema) Len() int { return len(s.order) }
