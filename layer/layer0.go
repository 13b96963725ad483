package layer

import (
	"crypto/sha256"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/merkle"
	"github.com/DIG-Network/digstore-min/scramble"
)

// json is a drop-in, faster encoder/decoder with the same semantics
// as encoding/json, used everywhere this package needs JSON.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RootHistoryEntry is one generation in Layer 0's root_history array.
type RootHistoryEntry struct {
	Generation uint64 `json:"generation"`
	RootHash   string `json:"root_hash"`
	Timestamp  int64  `json:"timestamp"`
	LayerCount uint32 `json:"layer_count"`
}

// Layer0Data is the JSON document stored in Layer 0's Data section.
type Layer0Data struct {
	StoreID         string             `json:"store_id"`
	CreatedAt       int64              `json:"created_at"`
	FormatVersion   int                `json:"format_version"`
	ProtocolVersion int                `json:"protocol_version"`
	RootHistory     []RootHistoryEntry `json:"root_history"`
	Config          Layer0Config       `json:"config"`
}

// Layer0Config snapshots the engine configuration active when the
// store was initialized.
type Layer0Config struct {
	ChunkSize       Layer0ChunkSize `json:"chunk_size"`
	Compression     string          `json:"compression"`
	DeltaChainLimit int             `json:"delta_chain_limit"`
}

type Layer0ChunkSize struct {
	Min uint32 `json:"min"`
	Avg uint32 `json:"avg"`
	Max uint32 `json:"max"`
}

func compressionName(alg config.CompressionAlg) string {
	switch alg {
	case config.CompressionZstd:
		return "zstd"
	case config.CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// EncodeLayer0 builds Layer 0's plaintext bytes: the standard
// header/footer envelope around a JSON Data section, with the
// standard empty-table Index (0 files, 0 chunks) and the Merkle
// section of an empty tree (a single zero-hash root node), so Open
// parses Layer 0 through the exact same pipeline as every other layer.
func EncodeLayer0(data Layer0Data) (Encoded, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Encoded{}, fmt.Errorf("layer: marshaling layer0 data: %w", err)
	}
	dataPadded := make([]byte, align4(len(payload)))
	copy(dataPadded, payload)

	indexBytes := encodeIndex(nil, nil)

	tree := merkle.Build(nil)
	merkleBytes := encodeMerkle(tree)

	header := Header{
		Version:     FormatVersion,
		LayerType:   TypeHeader,
		LayerNumber: 0,
		Timestamp:   data.CreatedAt,
		ParentHash:  hashx.Zero,
	}
	header.IndexOffset = HeaderSize
	header.IndexSize = uint64(len(indexBytes))
	header.DataOffset = header.IndexOffset + header.IndexSize
	header.DataSize = uint64(len(dataPadded))
	header.MerkleOffset = header.DataOffset + header.DataSize
	header.MerkleSize = uint64(len(merkleBytes))

	total := int(header.MerkleOffset+header.MerkleSize) + hashx.Size
	plaintext := make([]byte, total)
	copy(plaintext, encodeHeader(header))
	copy(plaintext[header.IndexOffset:], indexBytes)
	copy(plaintext[header.DataOffset:], dataPadded)
	copy(plaintext[header.MerkleOffset:], merkleBytes)

	footerOffset := int(header.MerkleOffset + header.MerkleSize)
	footer := sha256.Sum256(plaintext[:footerOffset])
	copy(plaintext[footerOffset:], footer[:])

	return Encoded{
		Plaintext:  plaintext,
		RootHash:   hashx.Zero, // Layer 0 is always named/keyed at the zero hash.
		MerkleRoot: tree.Root(),
	}, nil
}

// WriteLayer0 writes (or atomically rewrites) Layer 0. Unlike every
// other layer, its filename and scrambling key are fixed at the zero
// hash rather than derived from its content, per the glossary's
// "Layer 0 / Header layer: the distinguished metadata layer at hash
// 0^32".
func WriteLayer0(dir string, storeID hashx.Hash, data Layer0Data) error {
	enc, err := EncodeLayer0(data)
	if err != nil {
		return err
	}
	_, err = WriteLayer(dir, storeID, enc)
	return err
}

// OpenLayer0 opens and parses Layer 0, returning its decoded JSON
// document.
func OpenLayer0(dir string, storeID hashx.Hash) (Layer0Data, error) {
	h, err := Open(dir, storeID, hashx.Zero)
	if err != nil {
		return Layer0Data{}, err
	}

	f, openErr := openLayerFile(h)
	if openErr != nil {
		return Layer0Data{}, openErr
	}
	defer f.Close()

	buf := make([]byte, h.Header.DataSize)
	if _, err := f.ReadAt(buf, int64(h.Header.DataOffset)); err != nil {
		return Layer0Data{}, digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "data", int64(h.Header.DataOffset), err)
	}
	scramble.ProcessAt(h.key, buf, h.Header.DataOffset)

	var data Layer0Data
	if err := json.Unmarshal(trimTrailingZeros(buf), &data); err != nil {
		return Layer0Data{}, digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "data", int64(h.Header.DataOffset), fmt.Errorf("IndexInconsistent: parsing layer0 JSON: %w", err))
	}
	return data, nil
}

// trimTrailingZeros strips the 4-byte alignment padding appended
// after the JSON payload, since jsoniter's Unmarshal is strict about
// trailing bytes.
func trimTrailingZeros(buf []byte) []byte {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return buf[:end]
}
