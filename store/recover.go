package store

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
)

// Recover adopts an orphaned `.dig` file (one that exists on disk but
// is not referenced by Layer 0's root history) into the root history.
// Such a file is otherwise left ignored and overwritable — adoption
// only happens when this operation is explicitly invoked, and only if
// the file's parent_hash matches the current head and it passes its
// own integrity check.
func (s *Store) Recover(rootHash hashx.Hash) error {
	release, err := acquireLock(s.Dir)
	if err != nil {
		return err
	}
	defer release()

	h, err := layer.Open(s.Dir, s.StoreID, rootHash)
	if err != nil {
		return err
	}
	if err := h.Verify(); err != nil {
		return fmt.Errorf("store: recover %s: failed integrity check: %w", rootHash, err)
	}

	data, err := s.layer0()
	if err != nil {
		return err
	}

	var currentHead hashx.Hash
	var currentGeneration uint64
	if len(data.RootHistory) > 0 {
		last := data.RootHistory[len(data.RootHistory)-1]
		currentHead, err = hashx.FromHex(last.RootHash)
		if err != nil {
			return digerr.Wrap(digerr.Corruption, "store: parsing root history", err)
		}
		currentGeneration = last.Generation
	}

	if h.Header.ParentHash != currentHead {
		return digerr.New(digerr.InvalidInput, fmt.Sprintf(
			"store: recover %s: parent_hash %s does not match current head %s", rootHash, h.Header.ParentHash, currentHead))
	}

	for _, entry := range data.RootHistory {
		if entry.RootHash == rootHash.String() {
			return digerr.New(digerr.InvalidInput, fmt.Sprintf("store: recover %s: already in root history", rootHash))
		}
	}

	data.RootHistory = append(data.RootHistory, layer.RootHistoryEntry{
		Generation: currentGeneration + 1,
		RootHash:   rootHash.String(),
		Timestamp:  h.Header.Timestamp,
		LayerCount: uint32(currentGeneration + 1),
	})
	if err := layer.WriteLayer0(s.Dir, s.StoreID, data); err != nil {
		return fmt.Errorf("store: recover %s: updating root history: %w", rootHash, err)
	}

	return nil
}
