package chunkstore

import (
	"testing"

	"github.com/DIG-Network/digstore-min/chunker"
	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/stretchr/testify/require"
)

func chunksOf(t *testing.T, content []byte) []layer.Chunk {
	t.Helper()
	raw, err := chunker.ChunkBytes(content, chunker.Config{MinSize: 64, AvgSize: 256, MaxSize: 1024})
	require.NoError(t, err)
	out := make([]layer.Chunk, len(raw))
	for i, c := range raw {
		out[i] = layer.Chunk{Hash: c.Hash, Data: c.Data, FileOffset: c.Offset}
	}
	return out
}

// fakeStore is a minimal LayerSource backed by a directory of .dig
// files, all scrambled under the same store id, matching what the
// real store package's OpenLayer will do.
type fakeStore struct {
	dir     string
	storeID hashx.Hash
}

func (s *fakeStore) OpenLayer(rootHash hashx.Hash) (*layer.Handle, error) {
	return layer.Open(s.dir, s.storeID, rootHash)
}

func writeFullLayer(t *testing.T, dir string, storeID hashx.Hash, files map[string][]byte) (*layer.Handle, layer.Encoded) {
	t.Helper()
	var input layer.BuildInput
	input.Type = layer.TypeFull
	input.LayerNumber = 1
	input.Timestamp = 1700000000
	input.CompressionAlg = config.CompressionZstd
	input.MinCompressionRatio = 0.9
	for path, content := range files {
		input.Files = append(input.Files, layer.FileInput{Path: path, Chunks: chunksOf(t, content)})
	}
	enc, err := layer.Encode(input)
	require.NoError(t, err)
	_, err = layer.WriteLayer(dir, storeID, enc)
	require.NoError(t, err)
	h, err := layer.Open(dir, storeID, enc.RootHash)
	require.NoError(t, err)
	return h, enc
}

func writeDeltaLayer(t *testing.T, dir string, storeID hashx.Hash, parent layer.Encoded, files map[string][]byte) (*layer.Handle, layer.Encoded) {
	t.Helper()
	var input layer.BuildInput
	input.Type = layer.TypeDelta
	input.LayerNumber = 2
	input.Timestamp = 1700000100
	input.ParentHash = parent.RootHash
	input.CompressionAlg = config.CompressionZstd
	input.MinCompressionRatio = 0.9
	input.AncestorHas = func(h hashx.Hash) bool {
		for _, f := range parent.Files {
			for _, ch := range f.ChunkHashes {
				if ch == h {
					return true
				}
			}
		}
		return false
	}
	for path, content := range files {
		input.Files = append(input.Files, layer.FileInput{Path: path, Chunks: chunksOf(t, content)})
	}
	enc, err := layer.Encode(input)
	require.NoError(t, err)
	_, err = layer.WriteLayer(dir, storeID, enc)
	require.NoError(t, err)
	h, err := layer.Open(dir, storeID, enc.RootHash)
	require.NoError(t, err)
	return h, enc
}

func TestReadResolvesSameLayerChunk(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-12345"))

	h, enc := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/a.txt": []byte("the quick brown fox jumps over the lazy dog"),
	})
	fe, ok := h.FileByPath("/a.txt")
	require.True(t, ok)

	src := &fakeStore{dir: dir, storeID: storeID}
	data, err := Read(src, h, fe.ChunkHashes[0], 0)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	_ = enc
}

func TestReadResolvesAcrossDeltaChain(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-67890"))

	sharedContent := []byte("this content lives only in the base full layer, never rewritten")
	parentHandle, parentEnc := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/base.txt": sharedContent,
	})
	baseFile, ok := parentHandle.FileByPath("/base.txt")
	require.True(t, ok)

	// The delta layer re-references base.txt's own chunks (as if it
	// were a copy committed in a later generation) without carrying
	// their payloads, since AncestorHas reports them already present.
	childHandle, _ := writeDeltaLayer(t, dir, storeID, parentEnc, map[string][]byte{
		"/base.txt": sharedContent,
	})
	childFile, ok := childHandle.FileByPath("/base.txt")
	require.True(t, ok)
	require.Equal(t, baseFile.ChunkHashes, childFile.ChunkHashes)

	// Confirm the delta layer's own table marks these absent.
	_, absent, err := childHandle.ReadChunk(childFile.ChunkHashes[0])
	require.NoError(t, err)
	require.True(t, absent)

	src := &fakeStore{dir: dir, storeID: storeID}
	data, err := Read(src, childHandle, childFile.ChunkHashes[0], 0)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestReadFailsWhenChainExhausted(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-abcde"))

	_, parentEnc := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/base.txt": []byte("some content that will be claimed absent but never actually exist anywhere"),
	})

	// Build a delta layer whose AncestorHas lies (claims everything is
	// in an ancestor) so every chunk entry is absent, and give it no
	// parent hash, so the walk ends at this layer with the chunk still
	// unresolved, simulating an exhausted chain.
	var input layer.BuildInput
	input.Type = layer.TypeDelta
	input.LayerNumber = 2
	input.Timestamp = 1700000200
	input.ParentHash = hashx.Zero // no parent to walk to
	input.CompressionAlg = config.CompressionZstd
	input.MinCompressionRatio = 0.9
	input.AncestorHas = func(hashx.Hash) bool { return true }
	input.Files = []layer.FileInput{{Path: "/missing.txt", Chunks: chunksOf(t, []byte("content whose chunk payload is claimed absent everywhere"))}}
	enc, err := layer.Encode(input)
	require.NoError(t, err)
	_, err = layer.WriteLayer(dir, storeID, enc)
	require.NoError(t, err)
	h, err := layer.Open(dir, storeID, enc.RootHash)
	require.NoError(t, err)

	fe, ok := h.FileByPath("/missing.txt")
	require.True(t, ok)

	src := &fakeStore{dir: dir, storeID: storeID}
	_, err = Read(src, h, fe.ChunkHashes[0], 0)
	require.Error(t, err)
	_ = parentEnc
}

func TestReadFileReassemblesAcrossChain(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-fghij"))

	content := []byte("alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu")
	_, parentEnc := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/doc.txt": content,
	})
	childHandle, _ := writeDeltaLayer(t, dir, storeID, parentEnc, map[string][]byte{
		"/doc.txt": content,
	})
	fe, ok := childHandle.FileByPath("/doc.txt")
	require.True(t, ok)

	src := &fakeStore{dir: dir, storeID: storeID}
	got, err := ReadFile(src, childHandle, fe, 0)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestReadRangeSkipsNonIntersectingChunks(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-klmno"))

	content := make([]byte, 8192)
	for i := range content {
		content[i] = byte(i % 251)
	}

	h, _ := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/big.bin": content,
	})
	fe, ok := h.FileByPath("/big.bin")
	require.True(t, ok)
	require.Greater(t, len(fe.ChunkHashes), 1)

	start, end := uint64(100), uint64(2500)
	got, err := ReadRange(&fakeStore{dir: dir, storeID: storeID}, h, fe, start, end)
	require.NoError(t, err)
	require.Equal(t, content[start:end], got)
}

func TestReadRangeClampsOpenEndedRange(t *testing.T) {
	dir := t.TempDir()
	var storeID hashx.Hash
	copy(storeID[:], []byte("store-for-chunkstore-tests-pqrst"))

	content := []byte("the entire short file content, read past its own end on purpose")
	h, _ := writeFullLayer(t, dir, storeID, map[string][]byte{
		"/small.txt": content,
	})
	fe, ok := h.FileByPath("/small.txt")
	require.True(t, ok)

	got, err := ReadRange(&fakeStore{dir: dir, storeID: storeID}, h, fe, 5, uint64(len(content))+1000)
	require.NoError(t, err)
	require.Equal(t, content[5:], got)
}
