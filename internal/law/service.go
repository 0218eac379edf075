package law

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
)

// Service policy identifiers bound into receipts.
const (
	ServiceLinearCapped = "CK0.service.v1.linear_capped"
	ServiceQuadratic    = "CK0.service.v1.quadratic"
	ServiceIdentity     = "CK0.service.v1.identity"
)

// ServiceLaw is the sealed union of service maps S(D, B). Only
// CappedLinear, Quadratic, and Identity implement it.
//
// A conformant law is deterministic, non-decreasing in budget, yields
// zero service at zero debt, and is Lipschitz-bounded in debt. Identity
// breaks the zero-budget axiom on purpose and exists only for audit
// contrast.
type ServiceLaw interface {
	serviceLaw() // Sealed - only these types implement it.

	// PolicyID returns the canonical policy identifier.
	PolicyID() string

	// InstanceID returns the parameterized instance identifier,
	// e.g. "linear_capped.mu:1".
	InstanceID() string

	// Service computes S(debt, budget).
	Service(debt, budget exact.Value) (exact.Value, error)
}

// CappedLinear is S(D, B) = min(D, floor(mu*B)).
type CappedLinear struct {
	Mu *big.Rat
}

func (CappedLinear) serviceLaw() {}

// NewCappedLinear builds a capped-linear law, rejecting negative or
// missing mu.
func NewCappedLinear(mu *big.Rat) (CappedLinear, error) {
	if mu == nil || mu.Sign() < 0 {
		return CappedLinear{}, fault.Policy(fault.CodeBadBundle, "capped-linear mu must be non-negative")
	}
	return CappedLinear{Mu: new(big.Rat).Set(mu)}, nil
}

func (CappedLinear) PolicyID() string { return ServiceLinearCapped }

func (l CappedLinear) InstanceID() string {
	return "linear_capped.mu:" + l.Mu.RatString()
}

func (l CappedLinear) Service(debt, budget exact.Value) (exact.Value, error) {
	scaled := new(big.Rat).Mul(l.Mu, budget.Rat())
	bound, err := exact.FloorRat(scaled)
	if err != nil {
		return exact.Value{}, fmt.Errorf("capped-linear service: %w", err)
	}
	return debt.Min(bound), nil
}

// Quadratic is S(D, B) = 0 when D = 0, else min(D, floor(alpha*B^2/D)).
// Service ramps up slowly against large debt.
type Quadratic struct {
	Alpha *big.Rat
}

func (Quadratic) serviceLaw() {}

// NewQuadratic builds a quadratic law, rejecting negative or missing
// alpha.
func NewQuadratic(alpha *big.Rat) (Quadratic, error) {
	if alpha == nil || alpha.Sign() < 0 {
		return Quadratic{}, fault.Policy(fault.CodeBadBundle, "quadratic alpha must be non-negative")
	}
	return Quadratic{Alpha: new(big.Rat).Set(alpha)}, nil
}

func (Quadratic) PolicyID() string { return ServiceQuadratic }

func (l Quadratic) InstanceID() string {
	return "quadratic.alpha:" + l.Alpha.RatString()
}

func (l Quadratic) Service(debt, budget exact.Value) (exact.Value, error) {
	if debt.IsZero() {
		return exact.Zero(), nil
	}
	b := budget.Rat()
	r := new(big.Rat).Mul(l.Alpha, new(big.Rat).Mul(b, b))
	r.Quo(r, debt.Rat())
	bound, err := exact.FloorRat(r)
	if err != nil {
		return exact.Value{}, fmt.Errorf("quadratic service: %w", err)
	}
	return debt.Min(bound), nil
}

// Identity is S(D, B) = D regardless of budget. It services debt it has
// no budget for, which breaks the zero-budget axiom; it is kept only so
// audits can contrast a conformant chain against a non-conformant one.
// Never use it as a default policy.
type Identity struct{}

func (Identity) serviceLaw() {}

func (Identity) PolicyID() string { return ServiceIdentity }

func (Identity) InstanceID() string { return "identity" }

func (Identity) Service(debt, _ exact.Value) (exact.Value, error) {
	return debt, nil
}

// ParseServiceLaw reconstructs a law from its receipt identifiers.
// Parameters come from the instance id, so a verifier can rebuild the
// exact law a chain was produced under.
func ParseServiceLaw(policyID, instanceID string) (ServiceLaw, error) {
	switch policyID {
	case ServiceLinearCapped:
		mu, err := instanceParam(instanceID, "linear_capped.mu:")
		if err != nil {
			return nil, err
		}
		return NewCappedLinear(mu)
	case ServiceQuadratic:
		alpha, err := instanceParam(instanceID, "quadratic.alpha:")
		if err != nil {
			return nil, err
		}
		return NewQuadratic(alpha)
	case ServiceIdentity:
		return Identity{}, nil
	}
	return nil, fault.Policy(fault.CodeBadBundle, "unknown service policy %q", policyID).
		With("policy_id", policyID)
}

func instanceParam(instanceID, prefix string) (*big.Rat, error) {
	raw, ok := strings.CutPrefix(instanceID, prefix)
	if !ok {
		return nil, fault.Policy(fault.CodeBadBundle, "instance id %q must start with %q", instanceID, prefix)
	}
	r, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fault.Policy(fault.CodeBadBundle, "instance id %q has unparseable parameter %q", instanceID, raw)
	}
	return r, nil
}
