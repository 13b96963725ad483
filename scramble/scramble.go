// Package scramble implements the URN-keyed stream cipher: a
// deterministic, in-place, seekable XOR transform that is its own
// inverse. Every layer file on disk is scrambled end-to-end with a
// key derived from the URN that names it, so possessing the URN is
// possessing the decryption capability.
package scramble

import (
	"encoding/binary"

	"github.com/DIG-Network/digstore-min/hashx"
)

// blockSize is the keystream block size: one SHA-256 output per
// counter value.
const blockSize = hashx.Size

// Key is the derived per-URN scrambling key.
type Key hashx.Hash

// DeriveKey computes K = SHA-256(storeID || rootHashOrZero ||
// utf8(resourcePath) || utf8(byteRangeText)). Absent components (no
// root hash, no path, no byte range) must be passed as their
// empty/zero canonical form by the caller so the key stays
// deterministic across access paths.
func DeriveKey(storeID [32]byte, rootHashOrZero [32]byte, resourcePath, byteRangeText string) Key {
	buf := make([]byte, 0, 32+32+len(resourcePath)+len(byteRangeText))
	buf = append(buf, storeID[:]...)
	buf = append(buf, rootHashOrZero[:]...)
	buf = append(buf, []byte(resourcePath)...)
	buf = append(buf, []byte(byteRangeText)...)
	return Key(hashx.Sum(buf))
}

// block computes block_i = SHA-256(K || little_endian_u64(i)), the
// 32 keystream bytes covering absolute positions [32*i, 32*i+31].
func block(k Key, i uint64) hashx.Hash {
	var buf [hashx.Size + 8]byte
	copy(buf[:hashx.Size], k[:])
	binary.LittleEndian.PutUint64(buf[hashx.Size:], i)
	return hashx.Sum(buf[:])
}

// ProcessAt XORs data in place with the keystream starting at
// absoluteOffset. It is its own inverse: calling it twice with the
// same key and offset restores the original bytes. It runs in
// constant memory (one 32-byte block live at a time) regardless of
// len(data), and is seekable: splitting a call into two calls at any
// boundary produces byte-identical output, because each output byte
// depends only on its own absolute position.
func ProcessAt(key Key, data []byte, absoluteOffset uint64) {
	pos := absoluteOffset
	i := 0
	for i < len(data) {
		blockIdx := pos / blockSize
		within := pos % blockSize
		ks := block(key, blockIdx)
		for within < blockSize && i < len(data) {
			data[i] ^= ks[within]
			i++
			within++
			pos++
		}
	}
}

// ScrambleInPlace is an alias for ProcessAt kept for call-site clarity
// at write time (the inverse call at read time is also ProcessAt —
// the transform is symmetric).
func ScrambleInPlace(key Key, data []byte, absoluteOffset uint64) {
	ProcessAt(key, data, absoluteOffset)
}
