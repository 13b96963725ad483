package urn

import (
	"encoding/binary"

	"github.com/DIG-Network/digstore-min/hashx"
)

// DefaultZeroKnowledgeLength is the length of the pseudo-random
// substitute returned for a URN that does not resolve to real data
// when no byte range pins an exact length.
const DefaultZeroKnowledgeLength = 1 << 20 // 1 MiB

// PseudoRandom generates the deterministic zero-knowledge substitute
// stream for urnString: SHA-256(urn_string || counter) blocks
// concatenated, starting at counter 0, truncated to length bytes.
// Two calls with the same urnString and length are byte-identical,
// which is what makes a URN that resolves to nothing indistinguishable
// from one that resolves to real data.
func PseudoRandom(urnString string, length int) []byte {
	out := make([]byte, 0, length)
	raw := []byte(urnString)
	var counter uint64
	var counterBuf [8]byte
	for len(out) < length {
		binary.LittleEndian.PutUint64(counterBuf[:], counter)
		block := hashx.Sum(append(append([]byte(nil), raw...), counterBuf[:]...))
		out = append(out, block[:]...)
		counter++
	}
	return out[:length]
}
