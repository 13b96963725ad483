package proof

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/layer"
)

// GenerateByteRange builds a ByteRange proof covering the inclusive
// [start, end] bytes of the FileEntry at path: a Chunk proof for
// every chunk intersecting the range, plus the range-clipping
// offsets.
func GenerateByteRange(h *layer.Handle, path string, start, end uint64) (Proof, error) {
	_, fe, ok := fileIndex(h, path)
	if !ok {
		return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: %q not found in layer", path))
	}
	if start > end || end >= fe.Size {
		return Proof{}, digerr.New(digerr.InvalidInput, fmt.Sprintf("proof: range [%d,%d] invalid for file of size %d", start, end, fe.Size))
	}

	var components []Proof
	var offset uint64
	for _, ch := range fe.ChunkHashes {
		size, ok := h.ChunkPlaintextSize(ch)
		if !ok {
			return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: chunk %s has no table entry", ch))
		}
		chunkStart, chunkEnd := offset, offset+uint64(size)
		offset = chunkEnd
		if chunkEnd <= start || chunkStart > end {
			continue
		}
		cp, err := GenerateChunk(h, path, ch)
		if err != nil {
			return Proof{}, err
		}
		components = append(components, cp)
	}

	fileProof, err := GenerateFile(h, path)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		Version:      Version,
		Kind:         KindByteRange,
		Target:       Target{Path: path, FileHash: fe.FileHash.String(), RangeStart: start, RangeEnd: end},
		ExpectedRoot: fileProof.ExpectedRoot,
		Components:   append(components, fileProof),
	}, nil
}

// VerifyByteRange verifies every embedded Chunk component and the
// trailing File component, and checks they all agree on the same
// (path, file_hash, expected_root) target — the most a purely offline
// verifier can assert about range coverage without the Store's own
// chunk-size bookkeeping.
func VerifyByteRange(p Proof) (bool, error) {
	if p.Kind != KindByteRange {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyByteRange: wrong kind "+string(p.Kind))
	}
	if len(p.Components) == 0 {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyByteRange: no components")
	}
	if p.Target.RangeStart > p.Target.RangeEnd {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyByteRange: invalid range")
	}

	for _, c := range p.Components {
		if c.Target.Path != p.Target.Path || c.Target.FileHash != p.Target.FileHash {
			return false, nil
		}
		var ok bool
		var err error
		switch c.Kind {
		case KindChunk:
			ok, err = VerifyChunk(c)
		case KindFile:
			ok, err = VerifyFile(c)
		default:
			return false, digerr.New(digerr.InvalidInput, "proof: VerifyByteRange: unexpected component kind "+string(c.Kind))
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
