package layer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/merkle"
	"github.com/DIG-Network/digstore-min/scramble"
)

// FileName returns the on-disk name for a layer identified by
// rootHash: "{root_hash_hex}.dig", or Layer 0's fixed
// "0000...0000.dig" when rootHash is the zero hash.
func FileName(rootHash hashx.Hash) string {
	return rootHash.String() + ".dig"
}

// scrambleKey derives the layer's own scrambling key from its
// identifying URN, `urn:dig:chia:<store_id>:<root_hash>` with no path
// or byte range component.
func scrambleKey(storeID, rootHash hashx.Hash) scramble.Key {
	return scramble.DeriveKey(storeID, rootHash, "", "")
}

// WriteLayer scrambles the encoded plaintext with the layer's own
// URN-derived key and performs an atomic write-temp-fsync-rename into
// dir.
func WriteLayer(dir string, storeID hashx.Hash, enc Encoded) (path string, err error) {
	key := scrambleKey(storeID, enc.RootHash)
	scrambled := append([]byte(nil), enc.Plaintext...)
	scramble.ScrambleInPlace(key, scrambled, 0)

	finalPath := filepath.Join(dir, FileName(enc.RootHash))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", digerr.Wrap(digerr.IO, fmt.Sprintf("layer: creating %s", tmpPath), err)
	}
	if _, err := f.Write(scrambled); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", digerr.Wrap(digerr.IO, fmt.Sprintf("layer: writing %s", tmpPath), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", digerr.Wrap(digerr.IO, fmt.Sprintf("layer: fsync %s", tmpPath), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", digerr.Wrap(digerr.IO, fmt.Sprintf("layer: closing %s", tmpPath), err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", digerr.Wrap(digerr.IO, fmt.Sprintf("layer: renaming %s", tmpPath), err)
	}

	return finalPath, nil
}

// Handle is an opened layer file: its parsed header/index, plus
// enough to read chunk payloads from the Data section on demand.
type Handle struct {
	Decoded
	path string
	key  scramble.Key
}

// Open reads, unscrambles, and parses a layer file's header and
// index. The Data and Merkle sections are left on disk and read on
// demand.
func Open(dir string, storeID, rootHash hashx.Hash) (*Handle, error) {
	path := filepath.Join(dir, FileName(rootHash))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, digerr.New(digerr.NotFound, fmt.Sprintf("layer: %s", path))
		}
		return nil, digerr.Wrap(digerr.IO, fmt.Sprintf("layer: reading %s", path), err)
	}

	key := scrambleKey(storeID, rootHash)

	headerBuf := append([]byte(nil), raw[:min(HeaderSize, len(raw))]...)
	scramble.ProcessAt(key, headerBuf, 0)
	header, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	indexEnd := header.IndexOffset + header.IndexSize
	if int(indexEnd) > len(raw) {
		return nil, digerr.WrapSection(fmt.Sprintf("layer: %s", path), "index", int64(header.IndexOffset), fmt.Errorf("Truncated: index extends past end of file"))
	}
	indexBuf := append([]byte(nil), raw[header.IndexOffset:indexEnd]...)
	scramble.ProcessAt(key, indexBuf, header.IndexOffset)

	files, chunkTable, err := decodeIndex(indexBuf)
	if err != nil {
		return nil, err
	}

	chunkByHash := make(map[hashx.Hash]int, len(chunkTable))
	allIndexByHash := make(map[hashx.Hash]int, len(chunkTable))
	for i, c := range chunkTable {
		allIndexByHash[c.Hash] = i
		if !c.absent() {
			chunkByHash[c.Hash] = i
		}
	}

	return &Handle{
		Decoded: Decoded{
			Header:         header,
			Files:          files,
			chunkIndex:     chunkTable,
			chunkByHash:    chunkByHash,
			allIndexByHash: allIndexByHash,
		},
		path: path,
		key:  key,
	}, nil
}

// openLayerFile reopens a Handle's backing file for a section read;
// Handle itself holds no long-lived file descriptor so parallel
// readers never contend on one.
func openLayerFile(h *Handle) (*os.File, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, digerr.Wrap(digerr.IO, fmt.Sprintf("layer: opening %s", h.path), err)
	}
	return f, nil
}

// Merkle loads and parses this layer's Merkle section from disk, for
// proof generation/verification. It is not loaded eagerly by Open
// since most reads never need it.
func (h *Handle) Merkle() (*merkle.Tree, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, digerr.Wrap(digerr.IO, fmt.Sprintf("layer: opening %s", h.path), err)
	}
	defer f.Close()

	buf := make([]byte, h.Header.MerkleSize)
	if _, err := f.ReadAt(buf, int64(h.Header.MerkleOffset)); err != nil {
		return nil, digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "merkle", int64(h.Header.MerkleOffset), err)
	}
	scramble.ProcessAt(h.key, buf, h.Header.MerkleOffset)

	return decodeMerkle(buf)
}

// Verify performs the full integrity check: unscramble the whole file
// and recompute the footer hash.
func (h *Handle) Verify() error {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return digerr.Wrap(digerr.IO, fmt.Sprintf("layer: reading %s", h.path), err)
	}
	footerOffset := int(h.Header.MerkleOffset + h.Header.MerkleSize)
	if footerOffset+hashx.Size > len(raw) {
		return digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "footer", int64(footerOffset), fmt.Errorf("Truncated"))
	}
	plaintext := append([]byte(nil), raw...)
	scramble.ProcessAt(h.key, plaintext, 0)
	return verifyFooter(plaintext, footerOffset)
}

// ReadChunk reads, decompresses, and hash-verifies one chunk's
// payload from this layer's own Data section. It returns
// digerr.NotFound if the hash isn't in this layer's table at all, and
// a sentinel absent=true if the table carries the hash but its
// payload lives in an ancestor layer (Delta-layer cross-resolution,
// see the chunkstore package).
func (h *Handle) ReadChunk(chunkHash hashx.Hash) (data []byte, absent bool, err error) {
	idx, ok := h.allIndexByHash[chunkHash]
	if !ok {
		return nil, false, digerr.New(digerr.NotFound, fmt.Sprintf("layer: chunk %s not in %s", chunkHash, h.path))
	}
	entry := h.chunkIndex[idx]
	if entry.absent() {
		return nil, true, nil
	}

	f, err := os.Open(h.path)
	if err != nil {
		return nil, false, digerr.Wrap(digerr.IO, fmt.Sprintf("layer: opening %s", h.path), err)
	}
	defer f.Close()

	absoluteOffset := h.Header.DataOffset + entry.DataSectionOffset
	stored := make([]byte, entry.StoredSize)
	if _, err := f.ReadAt(stored, int64(absoluteOffset)); err != nil {
		return nil, false, digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "data", int64(absoluteOffset), err)
	}
	scramble.ProcessAt(h.key, stored, absoluteOffset)

	plaintext, err := decompressPayload(h.Header.CompressionAlg, stored, entry.compressed(), entry.PlaintextSize)
	if err != nil {
		return nil, false, err
	}

	if hashx.Sum(plaintext) != chunkHash {
		return nil, false, digerr.WrapSection(fmt.Sprintf("layer: %s", h.path), "data", int64(absoluteOffset), fmt.Errorf("ChunkHashMismatch: chunk %s", chunkHash))
	}

	return plaintext, false, nil
}
