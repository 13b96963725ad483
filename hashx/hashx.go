// Package hashx provides the SHA-256 primitives every other digstore
// component builds on: one-shot hashing, pair hashing for merkle
// nodes, and a streaming updater. Pure functions, no internal state
// survives Finalize.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Size is the byte length of a Hash.
const Size = sha256.Size

// Hash is a raw 32-byte SHA-256 digest. The zero value is the
// all-zero hash used by Layer 0's parent_hash and by an empty
// merkle tree's root.
type Hash [Size]byte

// Zero is the all-zero hash.
var Zero Hash

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// String renders h as lowercase hex, the textual form used by URNs
// and on-disk layer file names.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// FromHex parses a lowercase (or uppercase) hex string into a Hash.
func FromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashx: invalid hex: %w", err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("hashx: want %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes a single byte slice.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Pair computes SHA-256(h1 || h2), the merkle-tree node-combining
// function.
func Pair(h1, h2 Hash) Hash {
	var buf [2 * Size]byte
	copy(buf[:Size], h1[:])
	copy(buf[Size:], h2[:])
	return Sum(buf[:])
}

// Updater is a streaming SHA-256 accumulator.
type Updater struct {
	h hash.Hash
}

// NewUpdater creates a fresh streaming hasher.
func NewUpdater() *Updater {
	return &Updater{h: sha256.New()}
}

// Update feeds more bytes into the running hash. Never returns an
// error: hashing is a pure function with no I/O.
func (u *Updater) Update(p []byte) {
	u.h.Write(p)
}

// Finalize returns the digest of everything written so far and resets
// the Updater to empty, so no state from the finished hash survives.
func (u *Updater) Finalize() Hash {
	var h Hash
	copy(h[:], u.h.Sum(nil))
	u.h.Reset()
	return h
}
