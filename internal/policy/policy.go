// Package policy defines the Policy Bundle: the fixed configuration
// whose digest must be identical across an entire receipt chain. A
// bundle is an explicit value handed to constructors and verifiers,
// never a process-wide global; chain-wide constancy is enforced as a
// digest-equality check on every append and every replay.
package policy

import (
	"bytes"
	"fmt"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/fault"
	"github.com/roach88/covenant/internal/state"
)

// GLBMode selects the global ledger behavior profile.
type GLBMode string

const (
	GLBStatic         GLBMode = "static"
	GLBStaticPlusTrap GLBMode = "static_plus_trap"
	GLBDynamic        GLBMode = "dynamic"
)

// Valid reports whether m is a member of the closed mode set.
func (m GLBMode) Valid() bool {
	switch m {
	case GLBStatic, GLBStaticPlusTrap, GLBDynamic:
		return true
	}
	return false
}

// StateEqMode selects how two states are compared for equality.
type StateEqMode string

const (
	// StateEqHashCanon compares canonical state digests.
	StateEqHashCanon StateEqMode = "hash_canon.v1"

	// StateEqBytes compares canonical state bytes directly.
	StateEqBytes StateEqMode = "bytes_equal"
)

// Valid reports whether m is a member of the closed mode set.
func (m StateEqMode) Valid() bool {
	return m == StateEqHashCanon || m == StateEqBytes
}

// Bundle is the chain-wide policy lock. Treat a constructed Bundle as
// immutable; Extra must not be mutated after the digest has been used.
type Bundle struct {
	GLBMode     GLBMode           `json:"glb_mode" yaml:"glb_mode"`
	FloatPolicy canon.FloatPolicy `json:"float_policy" yaml:"float_policy"`
	HashMode    canon.HashMode    `json:"hash_mode" yaml:"hash_mode"`
	StateEqMode StateEqMode       `json:"state_eq_mode" yaml:"state_eq_mode"`

	// DebtScale is the integer scale of the violation functional's
	// single rounding boundary.
	DebtScale int64 `json:"debt_scale" yaml:"debt_scale"`

	// Extra carries additional policy knobs (measured-gate bounds,
	// collaborator settings). Keys are part of the digest.
	Extra map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Default returns the default bundle.
func Default() Bundle {
	return Bundle{
		GLBMode:     GLBStaticPlusTrap,
		FloatPolicy: canon.FloatReject,
		HashMode:    canon.HashSHA3_256,
		StateEqMode: StateEqHashCanon,
		DebtScale:   1000,
	}
}

// Validate checks every member against its closed set.
func (b Bundle) Validate() error {
	if !b.GLBMode.Valid() {
		return fault.Policy(fault.CodeBadBundle, "unknown glb mode %q", b.GLBMode)
	}
	if !b.FloatPolicy.Valid() {
		return fault.Policy(fault.CodeBadBundle, "unknown float policy %q", b.FloatPolicy)
	}
	if !b.HashMode.Valid() {
		return fault.Policy(fault.CodeBadBundle, "unknown hash mode %q", b.HashMode)
	}
	if !b.StateEqMode.Valid() {
		return fault.Policy(fault.CodeBadBundle, "unknown state eq mode %q", b.StateEqMode)
	}
	if b.DebtScale < 1 {
		return fault.Policy(fault.CodeBadBundle, "debt scale must be >= 1, got %d", b.DebtScale)
	}
	return nil
}

// CanonicalBytes serializes the bundle for digesting.
func (b Bundle) CanonicalBytes() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	extra := make(map[string]any, len(b.Extra))
	for k, v := range b.Extra {
		extra[k] = v
	}
	return canon.MarshalCanonical(map[string]any{
		"glb_mode":      string(b.GLBMode),
		"float_policy":  string(b.FloatPolicy),
		"hash_mode":     string(b.HashMode),
		"state_eq_mode": string(b.StateEqMode),
		"debt_scale":    b.DebtScale,
		"extra":         extra,
	})
}

// Digest computes the chain lock. The bundle digest is always SHA3-256
// regardless of the bundle's own hash mode, so the lock does not
// depend on the value it locks.
func (b Bundle) Digest() (canon.Digest, error) {
	data, err := b.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return canon.DigestBytes(canon.HashSHA3_256, data)
}

// MustDigest computes the chain lock, panicking on an invalid bundle.
// For tests and fixtures only.
func (b Bundle) MustDigest() canon.Digest {
	d, err := b.Digest()
	if err != nil {
		panic(err)
	}
	return d
}

// StateDigest hashes a state under this bundle's mode and float
// policy.
func (b Bundle) StateDigest(st *state.State) (canon.Digest, error) {
	return canon.StateDigest(st, b.HashMode, b.FloatPolicy)
}

// StatesEqual compares two states under the bundle's equality mode.
func (b Bundle) StatesEqual(x, y *state.State) (bool, error) {
	switch b.StateEqMode {
	case StateEqHashCanon:
		dx, err := b.StateDigest(x)
		if err != nil {
			return false, err
		}
		dy, err := b.StateDigest(y)
		if err != nil {
			return false, err
		}
		return dx == dy, nil
	case StateEqBytes:
		bx, err := canon.StateBytes(x, b.FloatPolicy)
		if err != nil {
			return false, err
		}
		by, err := canon.StateBytes(y, b.FloatPolicy)
		if err != nil {
			return false, err
		}
		return bytes.Equal(bx, by), nil
	}
	return false, fault.Policy(fault.CodeBadBundle, "unknown state eq mode %q", b.StateEqMode)
}

// CheckSameDigest compares two bundle digests, returning a policy
// drift fault when they differ.
func CheckSameDigest(expected, got canon.Digest) error {
	if expected != got {
		return fault.Policy(fault.CodePolicyDigestDrift,
			"policy digest drift: chain locked to %s, got %s", expected, got).
			With("expected", string(expected)).
			With("got", string(got))
	}
	return nil
}

// String renders the bundle compactly for logs.
func (b Bundle) String() string {
	return fmt.Sprintf("bundle(glb=%s float=%s hash=%s eq=%s scale=%d extra=%d)",
		b.GLBMode, b.FloatPolicy, b.HashMode, b.StateEqMode, b.DebtScale, len(b.Extra))
}
