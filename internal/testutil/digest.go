package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/roach88/covenant/internal/canon"
)

// Mark fabricates a deterministic stand-in state digest for step
// boundary i.
func Mark(i int) canon.Digest {
	sum := sha256.Sum256([]byte{0x5a, byte(i)})
	return canon.Digest("h:" + hex.EncodeToString(sum[:]))
}

// HexDigest builds a well-formed digest from one repeated hex char.
func HexDigest(t *testing.T, c byte) canon.Digest {
	t.Helper()
	d, err := canon.ParseDigest("h:" + strings.Repeat(string(c), 64))
	if err != nil {
		t.Fatalf("ParseDigest failed: %v", err)
	}
	return d
}
