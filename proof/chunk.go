package proof

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/merkle"
)

// GenerateChunk builds a Chunk proof: that chunkHash is referenced by
// the FileEntry at path, by showing the chunk list's hash path within
// the file, plus the file proof. The file's ChunkHashes sequence is
// itself merkleized into an auxiliary tree computed on demand (it is
// not persisted on disk — the wire format only stores file_hash, the
// hash of the reassembled bytes, not a chunk-list root); the Chunk
// proof's own Path/ExpectedRoot cover inclusion in that auxiliary
// tree, and the embedded File component anchors the file itself into
// the layer's real merkle root. A verifier checks both, plus that
// they agree on the same (path, file_hash) target.
func GenerateChunk(h *layer.Handle, path string, chunkHash hashx.Hash) (Proof, error) {
	_, fe, ok := fileIndex(h, path)
	if !ok {
		return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: %q not found in layer", path))
	}

	chunkIdx := -1
	for i, ch := range fe.ChunkHashes {
		if ch == chunkHash {
			chunkIdx = i
			break
		}
	}
	if chunkIdx < 0 {
		return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: chunk %s not referenced by %q", chunkHash, path))
	}

	chunkTree := merkle.Build(fe.ChunkHashes)
	fileProof, err := GenerateFile(h, path)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		Version:      Version,
		Kind:         KindChunk,
		Target:       Target{Path: path, FileHash: fe.FileHash.String(), ChunkHash: chunkHash.String()},
		ExpectedRoot: chunkTree.Root().String(),
		Path:         nodesFromMerkle(chunkTree.Prove(chunkIdx)),
		Components:   []Proof{fileProof},
	}, nil
}

// VerifyChunk verifies a Chunk proof with no Store access: the
// chunk-list inclusion proof must check out against ExpectedRoot, the
// embedded File component must itself verify, and both must target
// the same (path, file_hash) pair.
func VerifyChunk(p Proof) (bool, error) {
	if p.Kind != KindChunk {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyChunk: wrong kind "+string(p.Kind))
	}
	if len(p.Components) != 1 || p.Components[0].Kind != KindFile {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyChunk: missing embedded file proof")
	}
	fileComponent := p.Components[0]
	if fileComponent.Target.Path != p.Target.Path || fileComponent.Target.FileHash != p.Target.FileHash {
		return false, nil
	}

	leaf, err := hashx.FromHex(p.Target.ChunkHash)
	if err != nil {
		return false, digerr.Wrap(digerr.InvalidInput, "proof: decoding target chunk_hash", err)
	}
	root, err := hashx.FromHex(p.ExpectedRoot)
	if err != nil {
		return false, digerr.Wrap(digerr.InvalidInput, "proof: decoding expected_root", err)
	}
	path, err := nodesToMerkle(p.Path)
	if err != nil {
		return false, err
	}
	if !merkle.Verify(leaf, path, root) {
		return false, nil
	}

	return VerifyFile(fileComponent)
}
