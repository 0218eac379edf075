package compiler

import (
	"fmt"
	"math/big"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/contract"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/law"
	"github.com/roach88/covenant/internal/policy"
	"github.com/roach88/covenant/internal/state"
)

// Definition is a fully compiled covenant definition: everything the
// ledger executor needs except the kernel registry, which is code.
type Definition struct {
	Schema      *state.Schema
	Bundle      policy.Bundle
	Law         law.ServiceLaw
	Disturbance law.DisturbancePolicy
	Functional  *contract.Functional
	Invariants  *contract.Set

	// EpsilonHat is the measured-gate tolerance, nil when the
	// definition leaves the gate unarmed.
	EpsilonHat *exact.Value

	// Fields maps declared field names to their derived identifiers.
	Fields map[string]state.FieldID
}

// CompileError is a definition error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles CUE source holding a top-level `covenant`
// struct.
func CompileString(src string) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	root := v.LookupPath(cue.ParsePath("covenant"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "covenant",
			Message: "definition must declare a covenant struct",
			Pos:     v.Pos(),
		}
	}
	return Compile(root)
}

// Compile parses a CUE value into a Definition. The value should be
// the covenant struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`covenant: { ... }`)
//	def, err := Compile(v.LookupPath(cue.ParsePath("covenant")))
func Compile(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{}

	schema, fields, err := compileSchema(v.LookupPath(cue.ParsePath("schema")))
	if err != nil {
		return nil, err
	}
	def.Schema = schema
	def.Fields = fields

	def.Bundle, def.EpsilonHat, err = compileBundle(v)
	if err != nil {
		return nil, err
	}

	def.Law, err = compileLaw(v.LookupPath(cue.ParsePath("law")))
	if err != nil {
		return nil, err
	}

	def.Disturbance, err = compileDisturbance(v.LookupPath(cue.ParsePath("disturbance")))
	if err != nil {
		return nil, err
	}

	def.Functional, err = compileContracts(v.LookupPath(cue.ParsePath("contracts")), fields)
	if err != nil {
		return nil, err
	}

	def.Invariants, err = compileInvariants(v.LookupPath(cue.ParsePath("invariants")), schema, fields)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// compileSchema parses the schema block: a schema id plus field blocks
// declaring name -> kernel field type. Field identifiers are derived
// from the declared names.
func compileSchema(v cue.Value) (*state.Schema, map[string]state.FieldID, error) {
	if !v.Exists() {
		return nil, nil, &CompileError{Field: "schema", Message: "schema is required", Pos: v.Pos()}
	}

	id, err := requiredString(v, "id", "schema.id")
	if err != nil {
		return nil, nil, err
	}

	blocksVal := v.LookupPath(cue.ParsePath("blocks"))
	if !blocksVal.Exists() {
		return nil, nil, &CompileError{
			Field:   "schema.blocks",
			Message: "at least one field block is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := blocksVal.List()
	if err != nil {
		return nil, nil, formatCUEError(err)
	}

	fields := make(map[string]state.FieldID)
	var blocks []state.FieldBlock
	for iter.Next() {
		block, err := compileBlock(iter.Value(), fields)
		if err != nil {
			return nil, nil, err
		}
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return nil, nil, &CompileError{
			Field:   "schema.blocks",
			Message: "at least one field block is required",
			Pos:     blocksVal.Pos(),
		}
	}

	schema, err := state.NewSchema(id, blocks)
	if err != nil {
		return nil, nil, err
	}
	return schema, fields, nil
}

func compileBlock(v cue.Value, fields map[string]state.FieldID) (state.FieldBlock, error) {
	var block state.FieldBlock

	id, err := requiredString(v, "id", "schema.blocks.id")
	if err != nil {
		return block, err
	}
	block.BlockID = id

	access, err := optionalString(v, "access", string(state.AccessPublic))
	if err != nil {
		return block, err
	}
	switch ap := state.AccessPolicy(access); ap {
	case state.AccessPublic, state.AccessPrivate, state.AccessKernelOnly:
		block.Policy = ap
	default:
		return block, &CompileError{
			Field:   "schema.blocks.access",
			Message: fmt.Sprintf("unknown access policy %q", access),
			Pos:     v.Pos(),
		}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return block, &CompileError{
			Field:   "schema.blocks.fields",
			Message: fmt.Sprintf("block %s declares no fields", id),
			Pos:     v.Pos(),
		}
	}
	fieldIter, err := fieldsVal.Fields()
	if err != nil {
		return block, formatCUEError(err)
	}
	for fieldIter.Next() {
		name := fieldIter.Label()
		ft, err := fieldType(fieldIter.Value())
		if err != nil {
			return block, err
		}
		if _, dup := fields[name]; dup {
			return block, &CompileError{
				Field:   "schema.blocks.fields",
				Message: fmt.Sprintf("field %s declared twice", name),
				Pos:     fieldIter.Value().Pos(),
			}
		}
		fid := state.DeriveFieldID(name)
		fields[name] = fid
		block.Defs = append(block.Defs, state.FieldDef{ID: fid, Name: name, Type: ft})
	}
	return block, nil
}

// fieldType maps a declared type string onto the kernel's closed field
// type set. Floats have no member to map to; the canon rejects them.
func fieldType(v cue.Value) (state.FieldType, error) {
	name, err := v.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	switch ft := state.FieldType(name); ft {
	case state.TypeInteger, state.TypeNonNeg, state.TypeRational,
		state.TypeBool, state.TypeText, state.TypeBytes, state.TypeRef:
		return ft, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unknown field type %q", name),
			Pos:     v.Pos(),
		}
	}
}

// compileBundle folds the optional policy block over the default
// bundle and pulls out the optional measured-gate tolerance.
func compileBundle(v cue.Value) (policy.Bundle, *exact.Value, error) {
	bundle := policy.Default()

	pol := v.LookupPath(cue.ParsePath("policy"))
	if pol.Exists() {
		hash, err := optionalString(pol, "hash", string(bundle.HashMode))
		if err != nil {
			return bundle, nil, err
		}
		bundle.HashMode = canon.HashMode(hash)

		floats, err := optionalString(pol, "floats", string(bundle.FloatPolicy))
		if err != nil {
			return bundle, nil, err
		}
		bundle.FloatPolicy = canon.FloatPolicy(floats)

		eq, err := optionalString(pol, "state_eq", string(bundle.StateEqMode))
		if err != nil {
			return bundle, nil, err
		}
		bundle.StateEqMode = policy.StateEqMode(eq)

		if scaleVal := pol.LookupPath(cue.ParsePath("debt_scale")); scaleVal.Exists() {
			scale, err := scaleVal.Int64()
			if err != nil {
				return bundle, nil, formatCUEError(err)
			}
			bundle.DebtScale = scale
		}
	}

	var hat *exact.Value
	if hatVal := v.LookupPath(cue.ParsePath("epsilon_hat")); hatVal.Exists() {
		value, err := exactField(hatVal, "epsilon_hat")
		if err != nil {
			return bundle, nil, err
		}
		hat = &value
		if bundle.Extra == nil {
			bundle.Extra = make(map[string]string)
		}
		// The tolerance is policy: folding it into the bundle puts it
		// under the chain's digest lock.
		bundle.Extra["epsilon_hat"] = value.String()
	}

	if err := bundle.Validate(); err != nil {
		return bundle, nil, err
	}
	return bundle, hat, nil
}

func compileLaw(v cue.Value) (law.ServiceLaw, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "law", Message: "law is required", Pos: v.Pos()}
	}
	service, err := requiredString(v, "service", "law.service")
	if err != nil {
		return nil, err
	}

	switch service {
	case "linear_capped":
		mu, err := ratField(v, "mu", "law.mu", true)
		if err != nil {
			return nil, err
		}
		sl, err := law.NewCappedLinear(mu)
		if err != nil {
			return nil, err
		}
		return sl, nil
	case "quadratic":
		alpha, err := ratField(v, "alpha", "law.alpha", true)
		if err != nil {
			return nil, err
		}
		sl, err := law.NewQuadratic(alpha)
		if err != nil {
			return nil, err
		}
		return sl, nil
	case "identity":
		return law.Identity{}, nil
	default:
		return nil, &CompileError{
			Field:   "law.service",
			Message: fmt.Sprintf("unknown service law %q", service),
			Pos:     v.Pos(),
		}
	}
}

func compileDisturbance(v cue.Value) (law.DisturbancePolicy, error) {
	if !v.Exists() {
		return nil, nil
	}
	id, err := requiredString(v, "policy", "disturbance.policy")
	if err != nil {
		return nil, err
	}

	switch id {
	case law.DisturbanceZero:
		return law.Zero{}, nil
	case law.DisturbanceBounded:
		maxVal := v.LookupPath(cue.ParsePath("max"))
		if !maxVal.Exists() {
			return nil, &CompileError{
				Field:   "disturbance.max",
				Message: "bounded disturbance needs a max",
				Pos:     v.Pos(),
			}
		}
		max, err := exactField(maxVal, "disturbance.max")
		if err != nil {
			return nil, err
		}
		return law.Bounded{Max: max}, nil
	case law.DisturbanceEvent:
		eventsVal := v.LookupPath(cue.ParsePath("events"))
		if !eventsVal.Exists() {
			return nil, &CompileError{
				Field:   "disturbance.events",
				Message: "event disturbance needs an events table",
				Pos:     v.Pos(),
			}
		}
		iter, err := eventsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		table := make(map[string]exact.Value)
		for iter.Next() {
			bound, err := exactField(iter.Value(), "disturbance.events."+iter.Label())
			if err != nil {
				return nil, err
			}
			table[iter.Label()] = bound
		}
		if len(table) == 0 {
			return nil, &CompileError{
				Field:   "disturbance.events",
				Message: "events table must not be empty",
				Pos:     eventsVal.Pos(),
			}
		}
		return law.Event{Table: table}, nil
	case law.DisturbanceModel:
		return nil, &CompileError{
			Field:   "disturbance.policy",
			Message: "model bounds are code, not definition data; construct them in the host program",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "disturbance.policy",
			Message: fmt.Sprintf("unknown disturbance policy %q", id),
			Pos:     v.Pos(),
		}
	}
}

func compileContracts(v cue.Value, fields map[string]state.FieldID) (*contract.Functional, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var contracts []*contract.Contract
	for iter.Next() {
		c, err := compileContract(iter.Value(), fields)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	return contract.NewFunctional(contracts...), nil
}

func compileContract(v cue.Value, fields map[string]state.FieldID) (*contract.Contract, error) {
	id, err := requiredString(v, "id", "contracts.id")
	if err != nil {
		return nil, err
	}
	name, err := optionalString(v, "name", id)
	if err != nil {
		return nil, err
	}
	fieldName, err := requiredString(v, "field", "contracts.field")
	if err != nil {
		return nil, err
	}
	fieldID, ok := fields[fieldName]
	if !ok {
		return nil, &CompileError{
			Field:   "contracts.field",
			Message: fmt.Sprintf("contract %s references undeclared field %q", id, fieldName),
			Pos:     v.Pos(),
		}
	}

	kind, err := optionalString(v, "kind", "field")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "field":
		target, err := ratField(v, "target", "contracts.target", false)
		if err != nil {
			return nil, err
		}
		if target == nil {
			target = new(big.Rat)
		}
		weight, err := ratField(v, "weight", "contracts.weight", false)
		if err != nil {
			return nil, err
		}
		if weight == nil {
			weight = big.NewRat(1, 1)
		}
		sigma, err := ratField(v, "scale", "contracts.scale", false)
		if err != nil {
			return nil, err
		}
		if sigma == nil {
			sigma = big.NewRat(1, 1)
		}
		scale, err := contract.ScaleConst(sigma)
		if err != nil {
			return nil, err
		}
		return contract.New(id, name, contract.ResidualFromField(fieldID, target), weight, scale)
	case "budget":
		budgetVal := v.LookupPath(cue.ParsePath("budget"))
		if !budgetVal.Exists() {
			return nil, &CompileError{
				Field:   "contracts.budget",
				Message: fmt.Sprintf("budget contract %s needs a budget", id),
				Pos:     v.Pos(),
			}
		}
		budget, err := exactField(budgetVal, "contracts.budget")
		if err != nil {
			return nil, err
		}
		return contract.BudgetContract(id, fieldID, budget)
	default:
		return nil, &CompileError{
			Field:   "contracts.kind",
			Message: fmt.Sprintf("unknown contract kind %q", kind),
			Pos:     v.Pos(),
		}
	}
}

func compileInvariants(v cue.Value, schema *state.Schema, fields map[string]state.FieldID) (*contract.Set, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	set := contract.NewSet()
	count := 0
	for iter.Next() {
		inv, err := compileInvariant(iter.Value(), schema, fields)
		if err != nil {
			return nil, err
		}
		set.Add(inv)
		count++
	}
	if count == 0 {
		return nil, nil
	}
	return set, nil
}

func compileInvariant(v cue.Value, schema *state.Schema, fields map[string]state.FieldID) (contract.Invariant, error) {
	var zero contract.Invariant

	kind, err := requiredString(v, "kind", "invariants.kind")
	if err != nil {
		return zero, err
	}

	lookup := func(key string) (state.FieldID, error) {
		name, err := requiredString(v, key, "invariants."+key)
		if err != nil {
			return "", err
		}
		id, ok := fields[name]
		if !ok {
			return "", &CompileError{
				Field:   "invariants." + key,
				Message: fmt.Sprintf("invariant references undeclared field %q", name),
				Pos:     v.Pos(),
			}
		}
		return id, nil
	}

	switch kind {
	case "non_negative":
		id, err := lookup("field")
		if err != nil {
			return zero, err
		}
		return contract.NonNegative(id), nil
	case "range":
		id, err := lookup("field")
		if err != nil {
			return zero, err
		}
		min, err := ratField(v, "min", "invariants.min", false)
		if err != nil {
			return zero, err
		}
		max, err := ratField(v, "max", "invariants.max", false)
		if err != nil {
			return zero, err
		}
		if min == nil && max == nil {
			return zero, &CompileError{
				Field:   "invariants",
				Message: "range invariant needs a min or a max",
				Pos:     v.Pos(),
			}
		}
		return contract.FieldRange(id, min, max), nil
	case "conformance":
		return contract.SchemaConformance(schema), nil
	case "balance":
		total, err := lookup("total")
		if err != nil {
			return zero, err
		}
		available, err := lookup("available")
		if err != nil {
			return zero, err
		}
		reserved, err := lookup("reserved")
		if err != nil {
			return zero, err
		}
		return contract.Balance(total, available, reserved), nil
	default:
		return zero, &CompileError{
			Field:   "invariants.kind",
			Message: fmt.Sprintf("unknown invariant kind %q", kind),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, path, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path, fallback string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return fallback, nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// ratField reads a rational: either an integer or a string big.Rat
// understands ("3/2", "0.1"). Floats are forbidden; write them as
// strings so they stay exact.
func ratField(v cue.Value, path, field string, required bool) (*big.Rat, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		if required {
			return nil, &CompileError{
				Field:   field,
				Message: field + " is required",
				Pos:     v.Pos(),
			}
		}
		return nil, nil
	}

	switch val.IncompleteKind() {
	case cue.IntKind:
		n, err := val.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return new(big.Rat).SetInt64(n), nil
	case cue.StringKind:
		s, err := val.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("cannot parse %q as a rational", s),
				Pos:     val.Pos(),
			}
		}
		return r, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float literals are forbidden - write the value as a rational string",
			Pos:     val.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported kind %v for a rational", val.IncompleteKind()),
			Pos:     val.Pos(),
		}
	}
}

// exactField reads a non-negative integer quantum.
func exactField(val cue.Value, field string) (exact.Value, error) {
	if val.IncompleteKind() != cue.IntKind {
		return exact.Zero(), &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a non-negative integer", field),
			Pos:     val.Pos(),
		}
	}
	n, err := val.Int64()
	if err != nil {
		return exact.Zero(), formatCUEError(err)
	}
	value, err := exact.New(n)
	if err != nil {
		return exact.Zero(), &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be non-negative, got %d", field, n),
			Pos:     val.Pos(),
		}
	}
	return value, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
