package receipt

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/fault"
)

// Merkle aggregation over receipt hashes: leaves are the raw 32 bytes
// of decoded digests, a parent is SHA-256(left || right), and a level
// of odd length duplicates its last node. Interior hashing is pinned
// to SHA-256 independent of the bundle's hash mode so batch roots stay
// comparable across bundles.

// MerkleRoot computes the batch commitment over leaf digests. The
// empty batch commits to the all-zero digest; a single leaf is its own
// root.
func MerkleRoot(leaves []canon.Digest) (canon.Digest, error) {
	if len(leaves) == 0 {
		return Genesis(), nil
	}
	nodes, err := decodeLeaves(leaves)
	if err != nil {
		return "", err
	}
	for len(nodes) > 1 {
		nodes = merkleLevel(nodes)
	}
	return encodeNode(nodes[0]), nil
}

// ProofStep is one link of a Merkle proof: the sibling digest and
// which side it sits on.
type ProofStep struct {
	Left    bool         `json:"left"`
	Sibling canon.Digest `json:"sibling"`
}

// Proof is the ordered sibling path from a leaf to the root.
type Proof []ProofStep

// MerkleProof builds the proof for one leaf index.
func MerkleProof(leaves []canon.Digest, index int) (Proof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fault.Chain(fault.CodeBadDigest, "leaf index %d out of range [0, %d)", index, len(leaves))
	}
	nodes, err := decodeLeaves(leaves)
	if err != nil {
		return nil, err
	}

	var proof Proof
	pos := index
	for len(nodes) > 1 {
		sibling := pos ^ 1
		if sibling >= len(nodes) {
			// Odd level: the node pairs with its own duplicate.
			sibling = pos
		}
		proof = append(proof, ProofStep{
			Left:    sibling < pos,
			Sibling: encodeNode(nodes[sibling]),
		})
		nodes = merkleLevel(nodes)
		pos /= 2
	}
	return proof, nil
}

// VerifyMerkleProof recomputes the root from a leaf and its proof.
func VerifyMerkleProof(leaf canon.Digest, proof Proof, root canon.Digest) bool {
	current, err := leaf.Raw()
	if err != nil {
		return false
	}
	for _, step := range proof {
		sibling, err := step.Sibling.Raw()
		if err != nil {
			return false
		}
		if step.Left {
			current = hashNode(sibling, current)
		} else {
			current = hashNode(current, sibling)
		}
	}
	return encodeNode(current) == root
}

func decodeLeaves(leaves []canon.Digest) ([][]byte, error) {
	nodes := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		raw, err := leaf.Raw()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, raw)
	}
	return nodes, nil
}

func merkleLevel(nodes [][]byte) [][]byte {
	next := make([][]byte, 0, (len(nodes)+1)/2)
	for i := 0; i < len(nodes); i += 2 {
		left := nodes[i]
		right := left
		if i+1 < len(nodes) {
			right = nodes[i+1]
		}
		next = append(next, hashNode(left, right))
	}
	return next
}

func hashNode(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func encodeNode(node []byte) canon.Digest {
	return canon.Digest("h:" + hex.EncodeToString(node))
}
