package proof

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/merkle"
)

// GenerateLayer builds a Layer proof: that rootHash's root history
// entry is included in Layer 0's root_history list, proving the
// layer's root hash is in the repository's root history. The history
// list is merkleized leaf-by-leaf over each entry's root_hash, in the
// generation-ascending order it is written and read back in.
func GenerateLayer(data layer.Layer0Data, rootHash hashx.Hash) (Proof, error) {
	leaves := make([]hashx.Hash, len(data.RootHistory))
	idx := -1
	var gen uint64
	for i, e := range data.RootHistory {
		h, err := hashx.FromHex(e.RootHash)
		if err != nil {
			return Proof{}, digerr.Wrap(digerr.InvalidInput, "proof: decoding root_history entry", err)
		}
		leaves[i] = h
		if h == rootHash {
			idx = i
			gen = e.Generation
		}
	}
	if idx < 0 {
		return Proof{}, digerr.New(digerr.NotFound, fmt.Sprintf("proof: root %s not in root history", rootHash))
	}

	tree := merkle.Build(leaves)

	return Proof{
		Version:      Version,
		Kind:         KindLayer,
		Target:       Target{RootHash: rootHash.String(), Generation: gen},
		ExpectedRoot: tree.Root().String(),
		Path:         nodesFromMerkle(tree.Prove(idx)),
	}, nil
}

// VerifyLayer verifies a Layer proof with no Store access.
func VerifyLayer(p Proof) (bool, error) {
	if p.Kind != KindLayer {
		return false, digerr.New(digerr.InvalidInput, "proof: VerifyLayer: wrong kind "+string(p.Kind))
	}
	leaf, err := hashx.FromHex(p.Target.RootHash)
	if err != nil {
		return false, digerr.Wrap(digerr.InvalidInput, "proof: decoding target root_hash", err)
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
