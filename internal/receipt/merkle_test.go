package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/fault"
)

func merkleLeaves(t *testing.T, n int) []canon.Digest {
	t.Helper()
	leaves := make([]canon.Digest, n)
	for i := range leaves {
		sum := sha256.Sum256([]byte{byte(i)})
		leaves[i] = canon.Digest("h:" + hex.EncodeToString(sum[:]))
	}
	return leaves
}

func TestMerkleRootEmpty(t *testing.T) {
	root, err := MerkleRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, Genesis(), root)
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaves := merkleLeaves(t, 1)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	assert.Equal(t, leaves[0], root)
}

func TestMerkleRootTwoLeaves(t *testing.T) {
	leaves := merkleLeaves(t, 2)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)

	l0, err := leaves[0].Raw()
	require.NoError(t, err)
	l1, err := leaves[1].Raw()
	require.NoError(t, err)
	sum := sha256.Sum256(append(l0, l1...))
	assert.Equal(t, canon.Digest("h:"+hex.EncodeToString(sum[:])), root)
}

func TestMerkleRootOddDuplicatesLast(t *testing.T) {
	three := merkleLeaves(t, 3)
	padded := append(append([]canon.Digest{}, three...), three[2])

	rootOdd, err := MerkleRoot(three)
	require.NoError(t, err)
	rootPadded, err := MerkleRoot(padded)
	require.NoError(t, err)
	assert.Equal(t, rootPadded, rootOdd)
}

func TestMerkleRootRejectsBadLeaf(t *testing.T) {
	_, err := MerkleRoot([]canon.Digest{"h:zz"})
	require.Error(t, err)
}

func TestMerkleProofAllIndices(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("leaves=%d", n), func(t *testing.T) {
			leaves := merkleLeaves(t, n)
			root, err := MerkleRoot(leaves)
			require.NoError(t, err)

			for i := range leaves {
				proof, err := MerkleProof(leaves, i)
				require.NoError(t, err)
				assert.True(t, VerifyMerkleProof(leaves[i], proof, root),
					"proof for leaf %d of %d must verify", i, n)
			}
		})
	}
}

func TestMerkleProofDetectsTamperedLeaf(t *testing.T) {
	leaves := merkleLeaves(t, 4)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	proof, err := MerkleProof(leaves, 2)
	require.NoError(t, err)

	raw, err := leaves[2].Raw()
	require.NoError(t, err)
	raw[0] ^= 0x01
	tampered := canon.Digest("h:" + hex.EncodeToString(raw))

	assert.False(t, VerifyMerkleProof(tampered, proof, root))
}

func TestMerkleProofWrongLeafFails(t *testing.T) {
	leaves := merkleLeaves(t, 4)
	root, err := MerkleRoot(leaves)
	require.NoError(t, err)
	proof, err := MerkleProof(leaves, 1)
	require.NoError(t, err)

	assert.False(t, VerifyMerkleProof(leaves[0], proof, root))
}

func TestMerkleProofOutOfRange(t *testing.T) {
	leaves := merkleLeaves(t, 2)

	_, err := MerkleProof(leaves, -1)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeBadDigest))

	_, err = MerkleProof(leaves, 2)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeBadDigest))
}

func TestMerkleProofWrongRootFails(t *testing.T) {
	leaves := merkleLeaves(t, 3)
	proof, err := MerkleProof(leaves, 0)
	require.NoError(t, err)

	assert.False(t, VerifyMerkleProof(leaves[0], proof, Genesis()))
}
