package store

import (
	"time"

	"github.com/DIG-Network/digstore-min/chunker"
)

// Stage records path's content as a pending FileEntry, chunking it
// with the engine's configured chunk sizes. It acquires the store
// lock for the duration of the call, since the staging file is
// mutated only by the lock-holder.
func (s *Store) Stage(path string, content []byte, modTime time.Time) error {
	release, err := acquireLock(s.Dir)
	if err != nil {
		return err
	}
	defer release()

	return s.staging.Stage(path, content, modTime, chunker.DefaultConfig())
}

// Unstage removes path from the pending staging set, if present.
func (s *Store) Unstage(path string) error {
	release, err := acquireLock(s.Dir)
	if err != nil {
		return err
	}
	defer release()

	return s.staging.Unstage(path)
}

// StagedCount reports how many files are currently staged.
func (s *Store) StagedCount() (int, error) {
	return s.staging.Len()
}
