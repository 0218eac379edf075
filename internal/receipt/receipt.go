package receipt

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/contract"
	"github.com/roach88/covenant/internal/exact"
	"github.com/roach88/covenant/internal/fault"
)

// CanonID identifies the receipt canon layout. It leads every
// canonical receipt array and must never change for v1 bytes.
const CanonID = "canon_receipt_bytes.v1"

// Kind tags the receipt variant inside its canonical bytes.
type Kind string

const (
	KindStep   Kind = "op.local.v1"
	KindCommit Kind = "op.commit.v1"
)

// ExtensionPrefix is the namespace for opaque extension keys. The
// kernel stores, hashes, and chains extension values but never
// interprets them.
const ExtensionPrefix = "x_"

// Genesis returns the all-zero digest anchoring both chains: the first
// step receipt and the first commit receipt link back to it.
func Genesis() canon.Digest {
	return canon.Digest("h:" + strings.Repeat("0", canon.DigestSize*2))
}

// ContractEntry records one contract measurement inside a step
// receipt. Term stays an exact rational; only the functional total is
// ever rounded, and that happens before the receipt exists.
type ContractEntry struct {
	ContractID string   `json:"contract_id"`
	Active     bool     `json:"active"`
	Components int      `json:"components"`
	Term       *big.Rat `json:"term"`
}

// FromMeasurements converts functional measurements into receipt
// entries, preserving evaluation order.
func FromMeasurements(ms []contract.Measurement) []ContractEntry {
	entries := make([]ContractEntry, 0, len(ms))
	for _, m := range ms {
		term := new(big.Rat)
		if m.Term != nil {
			term.Set(m.Term)
		}
		entries = append(entries, ContractEntry{
			ContractID: m.ContractID,
			Active:     m.Active,
			Components: m.Components,
			Term:       term,
		})
	}
	return entries
}

// Step is the per-operation receipt. Every field except ReceiptHash is
// part of the hashing preimage; ReceiptHash is set by Seal.
type Step struct {
	StepIndex       int64        `json:"step_index"`
	ReceiptHash     canon.Digest `json:"receipt_hash"`
	PrevReceiptHash canon.Digest `json:"prev_receipt_hash"`

	StateHashBefore canon.Digest `json:"state_hash_before"`
	StateHashAfter  canon.Digest `json:"state_hash_after"`

	DebtBefore exact.Value `json:"debt_before"`
	DebtAfter  exact.Value `json:"debt_after"`

	Budget          exact.Value `json:"budget"`
	ServiceProvided exact.Value `json:"service_provided"`
	ServicePolicyID string      `json:"service_policy_id"`
	ServiceInstance string      `json:"service_instance_id"`

	DisturbancePolicyID string      `json:"disturbance_policy_id"`
	Disturbance         exact.Value `json:"disturbance"`
	LawSatisfied        bool        `json:"law_satisfied"`

	TransitionID      string `json:"transition_id"`
	TransitionSuccess bool   `json:"transition_success"`
	InvariantStatus   bool   `json:"invariant_status"`

	Contracts []ContractEntry `json:"contracts"`

	PolicyDigest canon.Digest `json:"policy_digest"`

	// Extensions carries opaque x_-prefixed values. Values starting
	// with "h:" pass into the canon verbatim; everything else is
	// tokenized as text.
	Extensions map[string]string `json:"extensions,omitempty"`
}

// stepKeys is the strict known-key set for op.local.v1.
var stepKeys = map[string]bool{
	"step_index":            true,
	"prev_receipt_hash":     true,
	"state_hash_before":     true,
	"state_hash_after":      true,
	"debt_before":           true,
	"debt_after":            true,
	"budget":                true,
	"service_provided":      true,
	"service_policy_id":     true,
	"service_instance_id":   true,
	"disturbance_policy_id": true,
	"disturbance":           true,
	"law_satisfied":         true,
	"transition_id":         true,
	"transition_success":    true,
	"invariant_status":      true,
	"contracts":             true,
	"policy_digest":         true,
}

// CanonicalBytes serializes the step receipt under the receipt canon:
//
//	[canon_id, kind, [[key, token], ...]]
//
// with pairs sorted by key bytes. The receipt hash itself is never
// part of these bytes.
func (r *Step) CanonicalBytes() ([]byte, error) {
	contracts := make(canon.Seq, 0, len(r.Contracts))
	for _, e := range r.Contracts {
		term := e.Term
		if term == nil {
			term = new(big.Rat)
		}
		contracts = append(contracts, pairSeq(map[string]canon.Form{
			"contract_id": canon.TextAtom(e.ContractID),
			"active":      canon.BoolAtom(e.Active),
			"components":  intAtom(int64(e.Components)),
			"term":        canon.RatAtom(term),
		}))
	}

	fields := map[string]any{
		"step_index":            intAtom(r.StepIndex),
		"prev_receipt_hash":     r.PrevReceiptHash.Atom(),
		"state_hash_before":     r.StateHashBefore.Atom(),
		"state_hash_after":      r.StateHashAfter.Atom(),
		"debt_before":           canon.ExactAtom(r.DebtBefore),
		"debt_after":            canon.ExactAtom(r.DebtAfter),
		"budget":                canon.ExactAtom(r.Budget),
		"service_provided":      canon.ExactAtom(r.ServiceProvided),
		"service_policy_id":     canon.TextAtom(r.ServicePolicyID),
		"service_instance_id":   canon.TextAtom(r.ServiceInstance),
		"disturbance_policy_id": canon.TextAtom(r.DisturbancePolicyID),
		"disturbance":           canon.ExactAtom(r.Disturbance),
		"law_satisfied":         canon.BoolAtom(r.LawSatisfied),
		"transition_id":         canon.TextAtom(r.TransitionID),
		"transition_success":    canon.BoolAtom(r.TransitionSuccess),
		"invariant_status":      canon.BoolAtom(r.InvariantStatus),
		"contracts":             contracts,
		"policy_digest":         r.PolicyDigest.Atom(),
	}
	if err := mergeExtensions(fields, r.Extensions, stepKeys); err != nil {
		return nil, err
	}
	return canonReceipt(KindStep, fields)
}

// ComputeHash hashes the canonical bytes under the given mode.
func (r *Step) ComputeHash(mode canon.HashMode) (canon.Digest, error) {
	data, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return canon.DigestBytes(mode, data)
}

// Seal computes and records the receipt hash. A receipt must be sealed
// exactly once, before it enters a chain.
func (r *Step) Seal(mode canon.HashMode) error {
	h, err := r.ComputeHash(mode)
	if err != nil {
		return err
	}
	r.ReceiptHash = h
	return nil
}

// Commit is the per-batch receipt. Every field except CommitHash is
// part of the hashing preimage.
type Commit struct {
	CommitIndex    int64        `json:"commit_index"`
	CommitHash     canon.Digest `json:"commit_hash"`
	PrevCommitHash canon.Digest `json:"prev_commit_hash"`

	StateHash           canon.Digest `json:"state_hash"`
	ModuleReceiptDigest canon.Digest `json:"module_receipt_digest"`

	StepReceiptHashes []canon.Digest `json:"step_receipt_hashes"`
	BatchRoot         canon.Digest   `json:"batch_root"`

	// ChildErrorHash and ChildErrorCode are set only when a subtree
	// halted; empty means the batch committed clean.
	ChildErrorHash canon.Digest `json:"child_error_hash,omitempty"`
	ChildErrorCode string       `json:"child_error_code,omitempty"`

	PolicyDigest canon.Digest `json:"policy_digest"`

	Extensions map[string]string `json:"extensions,omitempty"`
}

// commitKeys is the strict known-key set for op.commit.v1.
var commitKeys = map[string]bool{
	"commit_index":          true,
	"prev_commit_hash":      true,
	"state_hash":            true,
	"module_receipt_digest": true,
	"step_receipt_hashes":   true,
	"batch_root":            true,
	"child_error_hash":      true,
	"child_error_code":      true,
	"policy_digest":         true,
}

// CanonicalBytes serializes the commit receipt under the receipt
// canon. Empty child-error fields are omitted, not encoded as empties.
func (r *Commit) CanonicalBytes() ([]byte, error) {
	hashes := make(canon.Seq, 0, len(r.StepReceiptHashes))
	for _, h := range r.StepReceiptHashes {
		hashes = append(hashes, h.Atom())
	}

	fields := map[string]any{
		"commit_index":          intAtom(r.CommitIndex),
		"prev_commit_hash":      r.PrevCommitHash.Atom(),
		"state_hash":            r.StateHash.Atom(),
		"module_receipt_digest": r.ModuleReceiptDigest.Atom(),
		"step_receipt_hashes":   hashes,
		"batch_root":            r.BatchRoot.Atom(),
		"policy_digest":         r.PolicyDigest.Atom(),
	}
	if r.ChildErrorHash != "" {
		fields["child_error_hash"] = r.ChildErrorHash.Atom()
	}
	if r.ChildErrorCode != "" {
		fields["child_error_code"] = canon.TextAtom(r.ChildErrorCode)
	}
	if err := mergeExtensions(fields, r.Extensions, commitKeys); err != nil {
		return nil, err
	}
	return canonReceipt(KindCommit, fields)
}

// ComputeHash hashes the canonical bytes under the given mode.
func (r *Commit) ComputeHash(mode canon.HashMode) (canon.Digest, error) {
	data, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return canon.DigestBytes(mode, data)
}

// Seal computes and records the commit hash.
func (r *Commit) Seal(mode canon.HashMode) error {
	h, err := r.ComputeHash(mode)
	if err != nil {
		return err
	}
	r.CommitHash = h
	return nil
}

// ModuleDigest derives the module receipt digest for a batch: a
// domain-separated hash over the concatenated raw step-receipt hashes.
// It always uses SHA-256 so module digests stay comparable across
// bundles, like Merkle interior nodes.
func ModuleDigest(stepHashes []canon.Digest) (canon.Digest, error) {
	buf := make([]byte, 0, len(stepHashes)*canon.DigestSize)
	for _, h := range stepHashes {
		raw, err := h.Raw()
		if err != nil {
			return "", err
		}
		buf = append(buf, raw...)
	}
	return canon.HashDomain(canon.HashSHA2_256, "covenant/module/v1", buf)
}

// canonReceipt assembles [canon_id, kind, sorted pairs] and marshals
// it to canonical JSON bytes.
func canonReceipt(kind Kind, fields map[string]any) ([]byte, error) {
	return canon.MarshalCanonical([]any{string(CanonID), string(kind), sortedPairs(fields)})
}

// sortedPairs renders a field map as [[key, value], ...] sorted by raw
// key bytes. Keys stay plain strings; values are already canon forms.
func sortedPairs(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []any{k, fields[k]})
	}
	return pairs
}

// pairSeq renders a nested map value the same way sortedPairs renders
// the top level.
func pairSeq(m map[string]canon.Form) canon.Seq {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seq := make(canon.Seq, 0, len(keys))
	for _, k := range keys {
		seq = append(seq, canon.Seq{canon.Atom(k), m[k]})
	}
	return seq
}

// mergeExtensions folds x_-prefixed extension keys into the field map,
// rejecting keys outside the extension namespace or colliding with the
// strict known-key set.
func mergeExtensions(fields map[string]any, extensions map[string]string, known map[string]bool) error {
	for k, v := range extensions {
		if !strings.HasPrefix(k, ExtensionPrefix) {
			return fault.Canon(fault.CodeUnknownKey, "extension key %q must start with %q", k, ExtensionPrefix).
				With("key", k)
		}
		if known[k] {
			return fault.Canon(fault.CodeUnknownKey, "extension key %q collides with a receipt key", k).
				With("key", k)
		}
		if strings.HasPrefix(v, "h:") {
			fields[k] = canon.Atom(v)
		} else {
			fields[k] = canon.TextAtom(v)
		}
	}
	return nil
}

// intAtom tokenizes a signed index.
func intAtom(i int64) canon.Atom {
	return canon.Atom("i:" + strconv.FormatInt(i, 10))
}
