// Package layer implements the binary layer file format: the 256-byte
// header, the file/chunk index, the chunk data section, the merkle
// section, and the footer, plus the write and read pipelines that tie
// them together with the store's scrambling layer.
package layer

import (
	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/hashx"
)

// Type is the layer_type header field: a tagged variant over the
// three kinds of layer the store ever produces.
type Type uint8

const (
	TypeHeader Type = 0
	TypeFull   Type = 1
	TypeDelta  Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeHeader:
		return "Header"
	case TypeFull:
		return "Full"
	case TypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

const (
	// Magic is the fixed 4-byte file signature.
	Magic = "DIGS"
	// FormatVersion is the only version this codec writes or reads.
	FormatVersion uint16 = 1
	// HeaderSize is the fixed on-disk header length.
	HeaderSize = 256

	flagCompressed   = 1 << 0
	flagHasDeletions = 1 << 1

	chunkFlagCompressed = 1 << 0
	// chunkFlagAbsent marks a chunk-table entry whose payload is not
	// stored in this layer's Data section because an ancestor layer
	// (walked via parent_hash) already has it — the Delta-layer
	// "stores only new chunks" policy while keeping every file's
	// (first_chunk_index, chunk_count) range self-consistent within
	// this layer's own table.
	chunkFlagAbsent = 1 << 1
)

// Header is the decoded 256-byte fixed header.
type Header struct {
	Version        uint16
	LayerType      Type
	Flags          uint8
	LayerNumber    uint64
	Timestamp      int64
	ParentHash     hashx.Hash
	FilesCount     uint32
	ChunksCount    uint32
	IndexOffset    uint64
	IndexSize      uint64
	DataOffset     uint64
	DataSize       uint64
	MerkleOffset   uint64
	MerkleSize     uint64
	CompressionAlg config.CompressionAlg
}

// Compressed reports whether the layer was written with per-chunk
// compression enabled (flags bit 0).
func (h Header) Compressed() bool { return h.Flags&flagCompressed != 0 }

// HasDeletions reports flags bit 1. Digstore Min never sets it (no
// file-removal operation is in scope); it is decoded for forward
// compatibility with the format.
func (h Header) HasDeletions() bool { return h.Flags&flagHasDeletions != 0 }

// Chunk is a content-defined slice with its plaintext payload,
// awaiting assembly into a layer's data section. FileOffset is the
// chunk's position within the file whose FileInput carries it.
type Chunk struct {
	Hash       hashx.Hash
	Data       []byte
	FileOffset uint64
}

// FileEntry is one file's index record: metadata plus the ordered
// list of chunk hashes that reassemble it.
type FileEntry struct {
	Path        string
	Size        uint64
	FileHash    hashx.Hash
	ChunkHashes []hashx.Hash
	Metadata    []byte

	// firstChunkIndex/chunkCount are the wire-format (first_chunk_index,
	// chunk_count) pair: the contiguous range in the layer's chunk
	// table holding ChunkHashes. Set by the encoder; resolved back into
	// ChunkHashes by the decoder.
	firstChunkIndex uint32
	chunkCount      uint16
}

// chunkIndexEntry is the on-disk chunk-table record; it is derived at
// encode time from a Chunk plus its placement in the Data section.
type chunkIndexEntry struct {
	Hash              hashx.Hash
	FileOffset        uint64
	PlaintextSize     uint32
	DataSectionOffset uint64
	StoredSize        uint32
	Flags             uint8
}

func (e chunkIndexEntry) compressed() bool { return e.Flags&chunkFlagCompressed != 0 }
func (e chunkIndexEntry) absent() bool     { return e.Flags&chunkFlagAbsent != 0 }

// Decoded is a fully parsed, in-memory layer: everything a reader
// needs to serve file reads, cross-layer chunk resolution, and proof
// generation, without re-parsing the header/index on every access.
type Decoded struct {
	Header     Header
	Files      []FileEntry
	chunkIndex []chunkIndexEntry

	// chunkByHash indexes only entries with a payload in this layer;
	// allIndexByHash indexes every table entry, present or absent, so
	// ReadChunk can tell "not in this layer's table at all" apart from
	// "table says resolve via an ancestor".
	chunkByHash    map[hashx.Hash]int
	allIndexByHash map[hashx.Hash]int
}

// Contains reports whether this layer's own Data section holds
// chunkHash's payload; a table entry marked absent (payload in an
// ancestor) does not count.
func (d *Decoded) Contains(chunkHash hashx.Hash) bool {
	_, ok := d.chunkByHash[chunkHash]
	return ok
}

// ChunkPlaintextSize reports a chunk's decompressed size from its
// table entry, whether or not the payload is present in this layer
// (an absent/delta-resolved entry still records it), so callers can
// compute byte-range intersections without reading the payload.
func (d *Decoded) ChunkPlaintextSize(chunkHash hashx.Hash) (uint32, bool) {
	idx, ok := d.allIndexByHash[chunkHash]
	if !ok {
		return 0, false
	}
	return d.chunkIndex[idx].PlaintextSize, true
}

// FileByPath finds a file entry by its normalized path.
func (d *Decoded) FileByPath(path string) (FileEntry, bool) {
	for _, f := range d.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}
