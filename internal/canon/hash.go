package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/covenant/internal/fault"
)

// HashMode selects the digest algorithm the Policy Bundle pins for
// state, receipt, policy, and commit digests. Merkle interior nodes
// always use SHA-256 regardless of mode, so batch roots stay
// comparable across bundles.
type HashMode string

const (
	// HashSHA3_256 is the default mode.
	HashSHA3_256 HashMode = "sha3_256"

	// HashSHA2_256 selects SHA-256.
	HashSHA2_256 HashMode = "sha2_256"

	// HashBLAKE2b_256 selects BLAKE2b with a 256-bit digest.
	HashBLAKE2b_256 HashMode = "blake2b_256"
)

// Valid reports whether m is a member of the closed mode set.
func (m HashMode) Valid() bool {
	switch m {
	case HashSHA3_256, HashSHA2_256, HashBLAKE2b_256:
		return true
	}
	return false
}

// Sum hashes data under the mode.
func (m HashMode) Sum(data []byte) ([]byte, error) {
	switch m {
	case HashSHA3_256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	case HashSHA2_256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case HashBLAKE2b_256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	}
	return nil, fault.Policy(fault.CodeBadBundle, "unknown hash mode %q", m)
}

// DigestSize is the byte length of every rendered digest.
const DigestSize = 32

// Digest is a rendered digest: "h:" followed by 64 lowercase hex
// characters.
type Digest string

// DigestBytes hashes data under mode and renders the digest.
func DigestBytes(mode HashMode, data []byte) (Digest, error) {
	sum, err := mode.Sum(data)
	if err != nil {
		return "", err
	}
	return Digest("h:" + hex.EncodeToString(sum)), nil
}

// HashDomain hashes domain || 0x00 || data under mode. Domain
// separation keeps digests of different object kinds from colliding
// even over identical payload bytes.
func HashDomain(mode HashMode, domain string, data []byte) (Digest, error) {
	buf := make([]byte, 0, len(domain)+1+len(data))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	return DigestBytes(mode, buf)
}

// ParseDigest validates the rendering.
func ParseDigest(s string) (Digest, error) {
	if !strings.HasPrefix(s, "h:") {
		return "", fault.Canon(fault.CodeBadDigest, "digest must start with %q, got %q", "h:", s)
	}
	hexPart := s[2:]
	if len(hexPart) != DigestSize*2 {
		return "", fault.Canon(fault.CodeBadDigest, "digest must have %d hex chars, got %d", DigestSize*2, len(hexPart))
	}
	for _, c := range hexPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fault.Canon(fault.CodeBadDigest, "digest must be lowercase hex, got %q", s)
		}
	}
	return Digest(s), nil
}

// Raw decodes the digest to its 32 raw bytes.
func (d Digest) Raw() ([]byte, error) {
	if _, err := ParseDigest(string(d)); err != nil {
		return nil, err
	}
	return hex.DecodeString(string(d)[2:])
}

// Atom returns the digest as a canonical token. Digests pass through
// untagged; the "h:" prefix is the tag.
func (d Digest) Atom() Atom { return Atom(d) }
