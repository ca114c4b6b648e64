// Package fingerprint provides the content digest used throughout dupehound.
//
// A Fingerprint is a Blake2b-512 digest. Equality of fingerprints implies
// equality of the hashed content with overwhelming probability, which is what
// lets candidate grouping and verification operate on digests alone.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"hash"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest width in bytes.
const Size = blake2b.Size

// Fingerprint is a fixed-width content digest. The zero value is never a
// valid digest of any input and can be used as an "absent" marker in maps.
type Fingerprint [Size]byte

// New returns a fresh Blake2b-512 digest state. Feed it content and finish
// with Sum.
func New() hash.Hash {
	// blake2b.New512 only fails for oversized keys; we pass none.
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	return h
}

// Sum finalises a digest state created by New.
func Sum(h hash.Hash) Fingerprint {
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// OfBytes computes the fingerprint of a byte slice.
func OfBytes(buf []byte) Fingerprint {
	return Fingerprint(blake2b.Sum512(buf))
}

// Compare orders fingerprints lexicographically by byte. Widths are fixed, so
// this is the same order as comparing by length first, then by bytes.
func Compare(a, b Fingerprint) int {
	return bytes.Compare(a[:], b[:])
}

// Combine derives an aggregate fingerprint from a multiset of child
// fingerprints. Children are sorted first so the result is independent of
// traversal order.
func Combine(children []Fingerprint) Fingerprint {
	sorted := slices.Clone(children)
	slices.SortFunc(sorted, Compare)

	h := New()
	for _, c := range sorted {
		_, _ = h.Write(c[:])
	}
	return Sum(h)
}

// String renders the fingerprint as lowercase hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
