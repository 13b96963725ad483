// Package chunkstore implements cross-layer chunk resolution: given a
// chunk hash and the layer it was requested from, walk parent_hash
// back through ancestor layers (bounded by a configured delta chain
// limit) until the payload is found.
package chunkstore

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
)

// LayerSource resolves a root hash to an opened layer handle. The
// store owns the actual `layers_by_hash` map; chunkstore only needs
// read access to it through this narrow interface, keeping the two
// packages decoupled.
type LayerSource interface {
	OpenLayer(rootHash hashx.Hash) (*layer.Handle, error)
}

// Read resolves chunkHash starting at startLayer, walking
// parent_hash through ancestors up to limit hops if the chunk's table
// entry in a given layer says it's absent (stored only in an
// ancestor). Returns a digerr.NotFound MissingChunk error if the
// chain is exhausted before the chunk is found.
func Read(src LayerSource, startLayer *layer.Handle, chunkHash hashx.Hash, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = config.Get().DeltaChainLimit
	}

	current := startLayer
	for hop := 0; hop <= limit; hop++ {
		data, absent, err := current.ReadChunk(chunkHash)
		if err == nil {
			if !absent {
				return data, nil
			}
		} else if !digerr.Is(err, digerr.NotFound) {
			return nil, err
		}

		if current.Header.ParentHash.IsZero() {
			break
		}
		next, openErr := src.OpenLayer(current.Header.ParentHash)
		if openErr != nil {
			return nil, fmt.Errorf("chunkstore: opening ancestor %s: %w", current.Header.ParentHash, openErr)
		}
		current = next
	}

	return nil, digerr.New(digerr.NotFound, fmt.Sprintf("chunkstore: MissingChunk: %s unresolved within delta chain limit %d", chunkHash, limit))
}

// ReadFile reassembles a file's plaintext bytes by resolving every
// chunk in its ChunkHashes sequence, in order, via Read.
func ReadFile(src LayerSource, startLayer *layer.Handle, file layer.FileEntry, limit int) ([]byte, error) {
	out := make([]byte, 0, file.Size)
	for _, ch := range file.ChunkHashes {
		data, err := Read(src, startLayer, ch, limit)
		if err != nil {
			return nil, fmt.Errorf("chunkstore: reassembling %q: %w", file.Path, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReadRange reassembles only the bytes of file in [start, end)
// (byte-range read), decompressing/resolving only the chunks that
// intersect the range so memory use stays bounded by the range size,
// not the file size.
func ReadRange(src LayerSource, startLayer *layer.Handle, file layer.FileEntry, start, end uint64) ([]byte, error) {
	if end > file.Size {
		end = file.Size
	}
	if start > end {
		return nil, digerr.New(digerr.InvalidInput, fmt.Sprintf("chunkstore: range [%d,%d) invalid for file of size %d", start, end, file.Size))
	}

	out := make([]byte, 0, end-start)
	var offset uint64
	for _, ch := range file.ChunkHashes {
		plaintextSize, ok := startLayer.ChunkPlaintextSize(ch)
		if !ok {
			return nil, digerr.New(digerr.NotFound, fmt.Sprintf("chunkstore: MissingChunk: %s has no table entry in starting layer", ch))
		}
		size := uint64(plaintextSize)
		chunkStart, chunkEnd := offset, offset+size
		offset = chunkEnd

		if chunkEnd <= start || chunkStart >= end {
			continue
		}

		data, err := Read(src, startLayer, ch, 0)
		if err != nil {
			return nil, err
		}

		lo := uint64(0)
		if start > chunkStart {
			lo = start - chunkStart
		}
		hi := size
		if end < chunkEnd {
			hi = end - chunkStart
		}
		out = append(out, data[lo:hi]...)
	}

	return out, nil
}
