package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{MinSize: 256, AvgSize: 1024, MaxSize: 4096}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestChunkBytesReconstructs(t *testing.T) {
	data := randomBytes(t, 200_000)
	chunks, err := ChunkBytes(data, testConfig())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.Data...)
	}
	require.True(t, bytes.Equal(data, reassembled))
}

func TestChunkBytesIsDeterministic(t *testing.T) {
	data := randomBytes(t, 150_000)
	cfg := testConfig()

	a, err := ChunkBytes(data, cfg)
	require.NoError(t, err)
	b, err := ChunkBytes(data, cfg)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].Offset, b[i].Offset)
		require.Equal(t, a[i].Length, b[i].Length)
		require.Equal(t, a[i].Hash, b[i].Hash)
	}
}

func TestChunkHashesMatchContent(t *testing.T) {
	data := randomBytes(t, 50_000)
	chunks, err := ChunkBytes(data, testConfig())
	require.NoError(t, err)

	for _, c := range chunks {
		require.Equal(t, hashx.Sum(c.Data), c.Hash)
		require.Len(t, c.Data, int(c.Length))
	}
}

func TestChunkSizesRespectMax(t *testing.T) {
	data := randomBytes(t, 300_000)
	cfg := testConfig()
	chunks, err := ChunkBytes(data, cfg)
	require.NoError(t, err)

	for _, c := range chunks {
		require.LessOrEqual(t, c.Length, cfg.MaxSize)
	}
}

func TestSmallInputIsSingleChunk(t *testing.T) {
	data := randomBytes(t, 2000)
	chunks, err := ChunkBytes(data, testConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, data, chunks[0].Data)
}

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	chunks, err := ChunkBytes(nil, testConfig())
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestCommonSubstringChunksIdentically(t *testing.T) {
	cfg := testConfig()
	shared := randomBytes(t, 20_000)

	a := append(randomBytes(t, 5000), shared...)
	a = append(a, randomBytes(t, 5000)...)

	b := append(randomBytes(t, 7000), shared...)
	b = append(b, randomBytes(t, 3000)...)

	chunksA, err := ChunkBytes(a, cfg)
	require.NoError(t, err)
	chunksB, err := ChunkBytes(b, cfg)
	require.NoError(t, err)

	hashesA := map[hashx.Hash]bool{}
	for _, c := range chunksA {
		hashesA[c.Hash] = true
	}
	sharedCount := 0
	for _, c := range chunksB {
		if hashesA[c.Hash] {
			sharedCount++
		}
	}
	require.Greater(t, sharedCount, 0, "expected at least one chunk shared between streams with a common substring")
}

func TestOffsetsAreContiguous(t *testing.T) {
	data := randomBytes(t, 100_000)
	chunks, err := ChunkBytes(data, testConfig())
	require.NoError(t, err)

	var want uint64
	for _, c := range chunks {
		require.Equal(t, want, c.Offset)
		want += uint64(c.Length)
	}
	require.Equal(t, uint64(len(data)), want)
}
