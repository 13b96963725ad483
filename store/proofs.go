package store

import (
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/proof"
)

// ProveFile generates a File proof for path against the layer
// identified by rootHash (or the current root, if rootHash is the
// zero hash). The returned document verifies offline with
// proof.Verify, no Store handle needed.
func (s *Store) ProveFile(rootHash hashx.Hash, path string) (proof.Proof, error) {
	h, err := s.proofLayer(rootHash)
	if err != nil {
		return proof.Proof{}, err
	}
	return proof.GenerateFile(h, path)
}

// ProveChunk generates a Chunk proof: that chunkHash is referenced by
// the FileEntry at path in the target layer.
func (s *Store) ProveChunk(rootHash hashx.Hash, path string, chunkHash hashx.Hash) (proof.Proof, error) {
	h, err := s.proofLayer(rootHash)
	if err != nil {
		return proof.Proof{}, err
	}
	return proof.GenerateChunk(h, path, chunkHash)
}

// ProveByteRange generates a ByteRange proof covering the inclusive
// [start, end] bytes of path in the target layer.
func (s *Store) ProveByteRange(rootHash hashx.Hash, path string, start, end uint64) (proof.Proof, error) {
	h, err := s.proofLayer(rootHash)
	if err != nil {
		return proof.Proof{}, err
	}
	return proof.GenerateByteRange(h, path, start, end)
}

// ProveLayer generates a Layer proof: that rootHash is in this
// store's root history.
func (s *Store) ProveLayer(rootHash hashx.Hash) (proof.Proof, error) {
	data, err := s.layer0()
	if err != nil {
		return proof.Proof{}, err
	}
	return proof.GenerateLayer(data, rootHash)
}

func (s *Store) proofLayer(rootHash hashx.Hash) (*layer.Handle, error) {
	target, err := s.resolveRoot(rootHash)
	if err != nil {
		return nil, err
	}
	return s.OpenLayer(target)
}
