package layer

import (
	"encoding/binary"
	"fmt"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
)

const (
	offMagic        = 0
	offVersion      = 4
	offLayerType    = 6
	offFlags        = 7
	offLayerNumber  = 8
	offTimestamp    = 16
	offParentHash   = 24
	offFilesCount   = 56
	offChunksCount  = 60
	offIndexOffset  = 64
	offIndexSize    = 72
	offDataOffset   = 80
	offDataSize     = 88
	offMerkleOffset = 96
	offMerkleSize   = 104
	offCompression  = 112
)

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], h.Version)
	buf[offLayerType] = byte(h.LayerType)
	buf[offFlags] = h.Flags
	binary.LittleEndian.PutUint64(buf[offLayerNumber:], h.LayerNumber)
	binary.LittleEndian.PutUint64(buf[offTimestamp:], uint64(h.Timestamp))
	copy(buf[offParentHash:], h.ParentHash[:])
	binary.LittleEndian.PutUint32(buf[offFilesCount:], h.FilesCount)
	binary.LittleEndian.PutUint32(buf[offChunksCount:], h.ChunksCount)
	binary.LittleEndian.PutUint64(buf[offIndexOffset:], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[offIndexSize:], h.IndexSize)
	binary.LittleEndian.PutUint64(buf[offDataOffset:], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[offDataSize:], h.DataSize)
	binary.LittleEndian.PutUint64(buf[offMerkleOffset:], h.MerkleOffset)
	binary.LittleEndian.PutUint64(buf[offMerkleSize:], h.MerkleSize)
	buf[offCompression] = byte(h.CompressionAlg)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, digerr.WrapSection("layer: header", "header", 0, fmt.Errorf("Truncated: want %d bytes, got %d", HeaderSize, len(buf)))
	}
	if string(buf[offMagic:offMagic+4]) != Magic {
		return Header{}, digerr.WrapSection("layer: header", "header", offMagic, fmt.Errorf("BadMagic: got %q", buf[offMagic:offMagic+4]))
	}

	var h Header
	h.Version = binary.LittleEndian.Uint16(buf[offVersion:])
	if h.Version != FormatVersion {
		return Header{}, digerr.WrapSection("layer: header", "header", offVersion, fmt.Errorf("UnsupportedVersion: got %d, want %d", h.Version, FormatVersion))
	}
	h.LayerType = Type(buf[offLayerType])
	h.Flags = buf[offFlags]
	h.LayerNumber = binary.LittleEndian.Uint64(buf[offLayerNumber:])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[offTimestamp:]))
	copy(h.ParentHash[:], buf[offParentHash:offParentHash+hashx.Size])
	h.FilesCount = binary.LittleEndian.Uint32(buf[offFilesCount:])
	h.ChunksCount = binary.LittleEndian.Uint32(buf[offChunksCount:])
	h.IndexOffset = binary.LittleEndian.Uint64(buf[offIndexOffset:])
	h.IndexSize = binary.LittleEndian.Uint64(buf[offIndexSize:])
	h.DataOffset = binary.LittleEndian.Uint64(buf[offDataOffset:])
	h.DataSize = binary.LittleEndian.Uint64(buf[offDataSize:])
	h.MerkleOffset = binary.LittleEndian.Uint64(buf[offMerkleOffset:])
	h.MerkleSize = binary.LittleEndian.Uint64(buf[offMerkleSize:])
	h.CompressionAlg = config.CompressionAlg(buf[offCompression])

	return h, nil
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}
