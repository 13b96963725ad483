package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/DIG-Network/digstore-min/chunker"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
)

// Bucket names for the staging bbolt database, one bucket per
// concern.
const (
	bucketFiles  = "files"  // sequence(8 bytes BE) -> cbor(stagedFile)
	bucketIndex  = "index"  // path -> sequence(8 bytes BE), for overwrite-on-restage
	bucketChunks = "chunks" // chunk_hash(32 bytes) -> plaintext payload
)

// stagedChunkRef is one chunk in a staged file's sequence: its hash
// plus the file offset it occupied, everything Encode needs besides
// the payload itself (fetched separately from bucketChunks so
// identical chunks across staged files share one copy; the offset is
// per-file, not global, so it travels with the reference rather than
// the shared payload).
type stagedChunkRef struct {
	Hash       hashx.Hash `cbor:"hash"`
	FileOffset uint64     `cbor:"offset"`
}

// stagedFile is the persisted form of one pending FileEntry.
type stagedFile struct {
	Path     string           `cbor:"path"`
	Size     uint64           `cbor:"size"`
	FileHash hashx.Hash       `cbor:"file_hash"`
	Chunks   []stagedChunkRef `cbor:"chunks"`
	Metadata []byte           `cbor:"metadata"`
}

// StagingArea is the ordered, disk-persisted set of pending file
// entries: added by Stage, removed en masse by Commit, and durable
// across process restarts via a bbolt database in the store
// directory.
type StagingArea struct {
	db *bbolt.DB
}

// openStaging opens (creating if absent) the staging.bin bbolt
// database in dir.
func openStaging(dir string) (*StagingArea, error) {
	db, err := bbolt.Open(filepath.Join(dir, "staging.bin"), 0o600, nil)
	if err != nil {
		return nil, digerr.Wrap(digerr.IO, "store: opening staging.bin", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketFiles, bucketIndex, bucketChunks} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, digerr.Wrap(digerr.IO, "store: initializing staging.bin buckets", err)
	}
	return &StagingArea{db: db}, nil
}

func (s *StagingArea) close() error { return s.db.Close() }

// Stage chunks content with cfg, enriches metadata, and records (or
// overwrites) path's pending FileEntry. Restaging an already-staged
// path reuses its original sequence number so its position in
// insertion order is preserved rather than moved to the end.
func (s *StagingArea) Stage(path string, content []byte, modTime time.Time, cfg chunker.Config) error {
	chunks, err := chunker.ChunkBytes(content, cfg)
	if err != nil {
		return fmt.Errorf("store: chunking %q: %w", path, err)
	}

	metadata, err := encodeMetadata(modTime, content)
	if err != nil {
		return fmt.Errorf("store: encoding metadata for %q: %w", path, err)
	}

	u := hashx.NewUpdater()
	refs := make([]stagedChunkRef, len(chunks))
	var size uint64
	for i, c := range chunks {
		u.Update(c.Data)
		refs[i] = stagedChunkRef{Hash: c.Hash, FileOffset: c.Offset}
		size += uint64(len(c.Data))
	}
	fileHash := u.Finalize()

	sf := stagedFile{
		Path:     path,
		Size:     size,
		FileHash: fileHash,
		Chunks:   refs,
		Metadata: metadata,
	}
	encoded, err := cbor.Marshal(sf)
	if err != nil {
		return fmt.Errorf("store: encoding staged file %q: %w", path, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket([]byte(bucketChunks))
		for _, c := range chunks {
			if chunkBucket.Get(c.Hash[:]) == nil {
				if err := chunkBucket.Put(c.Hash[:], c.Data); err != nil {
					return err
				}
			}
		}

		filesBucket := tx.Bucket([]byte(bucketFiles))
		indexBucket := tx.Bucket([]byte(bucketIndex))

		seqBytes := indexBucket.Get([]byte(path))
		if seqBytes == nil {
			seq, err := filesBucket.NextSequence()
			if err != nil {
				return err
			}
			seqBytes = encodeSeq(seq)
			if err := indexBucket.Put([]byte(path), seqBytes); err != nil {
				return err
			}
		}

		return filesBucket.Put(seqBytes, encoded)
	})
}

// Unstage removes path from the staging area, if present.
func (s *StagingArea) Unstage(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		indexBucket := tx.Bucket([]byte(bucketIndex))
		seqBytes := indexBucket.Get([]byte(path))
		if seqBytes == nil {
			return nil
		}
		if err := indexBucket.Delete([]byte(path)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketFiles)).Delete(seqBytes)
	})
}

// Len reports how many files are currently staged.
func (s *StagingArea) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketFiles)).Stats().KeyN
		return nil
	})
	return n, err
}

// Entries returns every staged file in insertion (sequence) order,
// paired with its chunk payloads resolved from the shared content
// pool; Commit turns each into a layer.FileInput for layer.Encode.
func (s *StagingArea) Entries() ([]stagedFileWithData, error) {
	var out []stagedFileWithData
	err := s.db.View(func(tx *bbolt.Tx) error {
		filesBucket := tx.Bucket([]byte(bucketFiles))
		chunkBucket := tx.Bucket([]byte(bucketChunks))
		return filesBucket.ForEach(func(_, v []byte) error {
			var sf stagedFile
			if err := cbor.Unmarshal(v, &sf); err != nil {
				return err
			}
			data := make([][]byte, len(sf.Chunks))
			for i, ref := range sf.Chunks {
				payload := chunkBucket.Get(ref.Hash[:])
				if payload == nil {
					return fmt.Errorf("store: staged chunk %s for %q missing from pool", ref.Hash, sf.Path)
				}
				data[i] = append([]byte(nil), payload...)
			}
			out = append(out, stagedFileWithData{file: sf, data: data})
			return nil
		})
	})
	if err != nil {
		return nil, digerr.Wrap(digerr.IO, "store: reading staging area", err)
	}
	return out, nil
}

// Clear empties the staging area after a successful commit.
func (s *StagingArea) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketFiles, bucketIndex, bucketChunks} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// stagedFileWithData pairs a decoded stagedFile with its chunk
// payloads, resolved from the shared pool.
type stagedFileWithData struct {
	file stagedFile
	data [][]byte
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
