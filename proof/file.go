package proof

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/merkle"
)

// GenerateFile builds a File proof: that the FileEntry at path's
// file_hash is included under h's merkle root.
func GenerateFile(h *layer.Handle, path string) (Proof, error) {
	idx, fe, ok := fileIndex(h, path)
	if !ok {
		return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: %q not found in layer", path))
	}

	// The merkle section is loaded only when generating or verifying a
	// proof, so proof generation is the one path that pays for reading
	// it back off disk, rather than recomputing it from h.Files in
	// memory.
	tree, err := h.Merkle()
	if err != nil {
		return Proof{}, err
	}
	root := tree.Root()

	return Proof{
		Version:      Version,
		Kind:         KindFile,
		Target:       Target{Path: path, FileHash: fe.FileHash.String()},
		ExpectedRoot: root.String(),
		Path:         nodesFromMerkle(tree.Prove(idx)),
	}, nil
}

// VerifyFile verifies a File proof with no access to the Store: it
// reconstructs the claimed root from Target.FileHash and Path and
// compares it to ExpectedRoot.
func VerifyFile(p Proof) (bool, error) {
	if p.Kind != KindFile {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyFile: wrong kind "+string(p.Kind))
	}
	leaf, err := hashx.FromHex(p.Target.FileHash)
	if err != nil {
		return false, digerr.Wrap(digerr.InvalidInput, "proof: decoding target file_hash", err)
	}
	root, err := hashx.FromHex(p.ExpectedRoot)
	if err != nil {
		return false, digerr.Wrap(digerr.InvalidInput, "proof: decoding expected_root", err)
	}
	path, err := nodesToMerkle(p.Path)
	if err != nil {
		return false, err
	}
	return merkle.Verify(leaf, path, root), nil
}

func fileIndex(h *layer.Handle, path string) (int, layer.FileEntry, bool) {
	for i, f := range h.Files {
		if f.Path == path {
			return i, f, true
		}
	}
	return 0, layer.FileEntry{}, false
}
