// Package canon produces the canonical byte representations behind
// every digest in the ledger.
//
// Three layers build on each other. Value tokens tag every scalar so
// that no two distinct (type, value) pairs share a representation:
//
//	i:42            integer
//	q:3:2           rational 2/3 (scale:integer, lowest terms)
//	s:caffè         NFC-normalized text
//	b64:AQID        url-safe unpadded base64 bytes
//	true / false    booleans
//	f:<32 hex>      field reference
//	h:<64 hex>      digest
//
// Composite forms encode maps as pair sequences sorted by the raw
// UTF-8 bytes of the key and lists in order. Canonical JSON then
// serializes forms compactly: byte-sorted object keys, NFC strings, no
// HTML escaping, no floats, no nulls. Finally the digest layer hashes
// those bytes under a pinned hash mode and renders "h:" + lowercase
// hex.
//
// Everything here is a pure function; identical input bytes yield
// identical digests on every platform.
package canon
