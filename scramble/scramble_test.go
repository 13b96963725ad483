package scramble

import (
	"bytes"
	"crypto/rand"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() Key {
	var storeID, root [32]byte
	copy(storeID[:], []byte("store-id-0123456789012345678901"))
	copy(root[:], []byte("root-hash-0123456789012345678901"))
	return DeriveKey(storeID, root, "/path/to/file.txt", "")
}

func TestProcessAtIsInvolution(t *testing.T) {
	key := testKey()
	original := make([]byte, 10000)
	_, err := rand.Read(original)
	require.NoError(t, err)

	data := append([]byte(nil), original...)
	ProcessAt(key, data, 0)
	require.False(t, bytes.Equal(data, original))

	ProcessAt(key, data, 0)
	require.True(t, bytes.Equal(data, original))
}

func TestProcessAtIsSeekable(t *testing.T) {
	key := testKey()
	original := make([]byte, 5000)
	_, err := rand.Read(original)
	require.NoError(t, err)

	whole := append([]byte(nil), original...)
	ProcessAt(key, whole, 0)

	split := append([]byte(nil), original...)
	// Split into three uneven, non-block-aligned chunks.
	ProcessAt(key, split[:17], 0)
	ProcessAt(key, split[17:3001], 17)
	ProcessAt(key, split[3001:], 3001)

	require.True(t, bytes.Equal(whole, split))
}

func TestProcessAtOffsetChangesOutput(t *testing.T) {
	key := testKey()
	data1 := make([]byte, 64)
	data2 := append([]byte(nil), data1...)

	ProcessAt(key, data1, 0)
	ProcessAt(key, data2, 1)

	require.False(t, bytes.Equal(data1, data2))
}

func TestDeriveKeyAvalanche(t *testing.T) {
	var storeID, root [32]byte
	k1 := DeriveKey(storeID, root, "/a", "")
	k2 := DeriveKey(storeID, root, "/b", "")
	require.NotEqual(t, k1, k2)

	diff := 0
	for i := range k1 {
		if k1[i] != k2[i] {
			diff++
		}
	}
	require.Greater(t, diff, 10, "changing one path byte should flip many key bytes")
}

func keystream(key Key, n int) []byte {
	out := make([]byte, n)
	ProcessAt(key, out, 0)
	return out
}

func TestKeystreamAvalancheOnSingleBitKeyChange(t *testing.T) {
	var storeID, root [32]byte
	copy(storeID[:], []byte("avalanche-store-id-0123456789012"))

	flipped := storeID
	flipped[0] ^= 0x01

	a := keystream(DeriveKey(storeID, root, "/f", ""), 4096)
	b := keystream(DeriveKey(flipped, root, "/f", ""), 4096)

	diffBits := 0
	for i := range a {
		diffBits += bits.OnesCount8(a[i] ^ b[i])
	}
	// Statistically ~50% of bits differ; 40% is the floor.
	require.GreaterOrEqual(t, diffBits, 4096*8*40/100)
}

func TestScrambleInPlaceMatchesProcessAt(t *testing.T) {
	key := testKey()
	a := []byte("identical-input-buffer-contents")
	b := append([]byte(nil), a...)

	ProcessAt(key, a, 42)
	ScrambleInPlace(key, b, 42)

	require.True(t, bytes.Equal(a, b))
}
