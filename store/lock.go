package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/DIG-Network/digstore-min/digerr"
)

// acquireLock takes the store directory's advisory ".lock" file for
// the duration of a mutating operation. A single-writer model is
// assumed; readers never take this lock. Call the returned release
// func (always non-nil on success) when the mutating operation
// completes.
func acquireLock(dir string) (release func() error, err error) {
	l := flock.New(filepath.Join(dir, ".lock"))
	ok, err := l.TryLock()
	if err != nil {
		return nil, digerr.Wrap(digerr.IO, fmt.Sprintf("store: acquiring lock in %s", dir), err)
	}
	if !ok {
		return nil, digerr.New(digerr.Concurrency, fmt.Sprintf("store: lock busy in %s", dir))
	}
	return l.Unlock, nil
}
