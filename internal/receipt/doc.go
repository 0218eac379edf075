// Package receipt implements the audit trail: step and commit
// receipts, their strict canonical encoding, Merkle aggregation over
// batch receipt hashes, and the append-only hash-linked chains that
// bind every step to its predecessor and every commit to its batch.
//
// A receipt is immutable once sealed. Its hash covers the canonical
// bytes of every field except the hash itself, so recomputing the
// hash from a stored receipt always terminates in a clean equal or
// not-equal answer.
package receipt
