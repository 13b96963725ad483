package layer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
)

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// encodeIndex serializes the file table and chunk table.
func encodeIndex(files []FileEntry, chunks []chunkIndexEntry) []byte {
	var buf bytes.Buffer

	putU32(&buf, uint32(len(files)))
	for _, f := range files {
		putU16(&buf, uint16(len(f.Path)))
		buf.WriteString(f.Path)
		putU64(&buf, f.Size)
		buf.Write(f.FileHash[:])
		putU16(&buf, uint16(len(f.ChunkHashes)))
		putU32(&buf, f.firstChunkIndex)
		putU16(&buf, uint16(len(f.Metadata)))
		buf.Write(f.Metadata)
	}

	putU32(&buf, uint32(len(chunks)))
	for _, c := range chunks {
		buf.Write(c.Hash[:])
		putU64(&buf, c.FileOffset)
		putU32(&buf, c.PlaintextSize)
		putU64(&buf, c.DataSectionOffset)
		putU32(&buf, c.StoredSize)
		buf.WriteByte(c.Flags)
	}

	raw := buf.Bytes()
	padded := make([]byte, align4(len(raw)))
	copy(padded, raw)
	return padded
}

func readU16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func readU32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func readU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

// decodeIndex parses the file and chunk tables out of an unscrambled
// index section.
func decodeIndex(buf []byte) ([]FileEntry, []chunkIndexEntry, error) {
	// A zero-length index section decodes as empty tables; only a
	// partially present table is Truncated.
	if len(buf) == 0 {
		return nil, nil, nil
	}

	pos := 0
	need := func(n int) error {
		if pos+n > len(buf) {
			return fmt.Errorf("Truncated: index exhausted at offset %d needing %d more bytes", pos, n)
		}
		return nil
	}

	if err := need(4); err != nil {
		return nil, nil, digerr.WrapSection("layer: index file count", "index", int64(pos), err)
	}
	fileCount := readU32(buf, pos)
	pos += 4

	files := make([]FileEntry, 0, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		if err := need(2); err != nil {
			return nil, nil, digerr.WrapSection("layer: index file entry", "index", int64(pos), err)
		}
		pathLen := int(readU16(buf, pos))
		pos += 2
		if err := need(pathLen); err != nil {
			return nil, nil, digerr.WrapSection("layer: index file path", "index", int64(pos), err)
		}
		path := string(buf[pos : pos+pathLen])
		pos += pathLen

		if err := need(8 + hashx.Size + 2 + 4 + 2); err != nil {
			return nil, nil, digerr.WrapSection("layer: index file fields", "index", int64(pos), err)
		}
		size := readU64(buf, pos)
		pos += 8
		var fileHash hashx.Hash
		copy(fileHash[:], buf[pos:pos+hashx.Size])
		pos += hashx.Size
		chunkCount := readU16(buf, pos)
		pos += 2
		firstChunkIndex := readU32(buf, pos)
		pos += 4
		metaLen := int(readU16(buf, pos))
		pos += 2
		if err := need(metaLen); err != nil {
			return nil, nil, digerr.WrapSection("layer: index file metadata", "index", int64(pos), err)
		}
		metadata := append([]byte(nil), buf[pos:pos+metaLen]...)
		pos += metaLen

		files = append(files, FileEntry{
			Path:            path,
			Size:            size,
			FileHash:        fileHash,
			Metadata:        metadata,
			chunkCount:      chunkCount,
			firstChunkIndex: firstChunkIndex,
		})
	}

	if err := need(4); err != nil {
		return nil, nil, digerr.WrapSection("layer: index chunk count", "index", int64(pos), err)
	}
	chunkCount := readU32(buf, pos)
	pos += 4

	chunks := make([]chunkIndexEntry, 0, chunkCount)
	entrySize := hashx.Size + 8 + 4 + 8 + 4 + 1
	for i := uint32(0); i < chunkCount; i++ {
		if err := need(entrySize); err != nil {
			return nil, nil, digerr.WrapSection("layer: index chunk entry", "index", int64(pos), err)
		}
		var hash hashx.Hash
		copy(hash[:], buf[pos:pos+hashx.Size])
		pos += hashx.Size
		fileOffset := readU64(buf, pos)
		pos += 8
		plaintextSize := readU32(buf, pos)
		pos += 4
		dataSectionOffset := readU64(buf, pos)
		pos += 8
		storedSize := readU32(buf, pos)
		pos += 4
		flags := buf[pos]
		pos++

		chunks = append(chunks, chunkIndexEntry{
			Hash:              hash,
			FileOffset:        fileOffset,
			PlaintextSize:     plaintextSize,
			DataSectionOffset: dataSectionOffset,
			StoredSize:        storedSize,
			Flags:             flags,
		})
	}

	// Resolve each file's chunk-hash slice from the (first_chunk_index,
	// chunk_count) contiguous range: a file identical to one already in
	// the table reuses its range rather than re-appending.
	for i := range files {
		start := files[i].firstChunkIndex
		count := uint32(files[i].chunkCount)
		if uint64(start)+uint64(count) > uint64(len(chunks)) {
			return nil, nil, digerr.WrapSection("layer: index file chunk range", "index", int64(pos), fmt.Errorf("IndexInconsistent: file %q references chunks [%d,%d) beyond table of %d", files[i].Path, start, start+count, len(chunks)))
		}
		hashes := make([]hashx.Hash, count)
		for j := uint32(0); j < count; j++ {
			hashes[j] = chunks[start+j].Hash
		}
		files[i].ChunkHashes = hashes
	}

	return files, chunks, nil
}
