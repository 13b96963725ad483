package chunker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/257) % 256)
	}
	return b
}

func TestChunkFileSmallIsSingleChunk(t *testing.T) {
	data := patternBytes(1000)
	path := writeTempFile(t, data)

	chunks, err := ChunkFile(path, testConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, data, chunks[0].Data)
}

func TestChunkFileStreamingMatchesChunkBytes(t *testing.T) {
	data := patternBytes(200_000)
	path := writeTempFile(t, data)
	cfg := testConfig()

	fromFile, err := ChunkFile(path, cfg)
	require.NoError(t, err)
	fromBytes, err := ChunkBytes(data, cfg)
	require.NoError(t, err)

	require.Equal(t, len(fromBytes), len(fromFile))
	for i := range fromBytes {
		require.Equal(t, fromBytes[i].Hash, fromFile[i].Hash)
		require.Equal(t, fromBytes[i].Offset, fromFile[i].Offset)
	}
}

func TestChunkFileMmapMatchesChunkBytes(t *testing.T) {
	data := patternBytes(mmapThreshold + 4096)
	path := writeTempFile(t, data)
	cfg := testConfig()

	fromFile, err := ChunkFile(path, cfg)
	require.NoError(t, err)
	fromBytes, err := ChunkBytes(data, cfg)
	require.NoError(t, err)

	require.Equal(t, len(fromBytes), len(fromFile))
	var reassembled []byte
	for i := range fromBytes {
		require.Equal(t, fromBytes[i].Hash, fromFile[i].Hash)
		reassembled = append(reassembled, fromFile[i].Data...)
	}
	require.Equal(t, data, reassembled)
}

func TestChunkFileMissingPath(t *testing.T) {
	_, err := ChunkFile(filepath.Join(t.TempDir(), "nope.bin"), testConfig())
	require.Error(t, err)
}
