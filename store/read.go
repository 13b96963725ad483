package store

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/DIG-Network/digstore-min/chunkstore"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/urn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReadFile reads path's full content out of the layer identified by
// rootHash (or the current root, if rootHash is the zero hash).
// Unlike ReadURN, a missing path is a hard digerr.NotFound: a direct
// read by path, with no URN involved, gets a real error rather than
// the zero-knowledge substitution.
func (s *Store) ReadFile(rootHash hashx.Hash, path string) ([]byte, error) {
	return s.ReadFileWithProgress(rootHash, path, ReadOptions{})
}

// ReadFileWithProgress is ReadFile with per-chunk progress reporting,
// for hosts streaming a large file who want done-of-total feedback
// between chunk resolutions.
func (s *Store) ReadFileWithProgress(rootHash hashx.Hash, path string, opts ReadOptions) ([]byte, error) {
	target, err := s.resolveRoot(rootHash)
	if err != nil {
		return nil, err
	}

	h, err := s.OpenLayer(target)
	if err != nil {
		return nil, err
	}
	fe, ok := h.FileByPath(path)
	if !ok {
		return nil, digerr.New(digerr.NotFound, fmt.Sprintf("store: %q not found in layer %s", path, target))
	}

	out := make([]byte, 0, fe.Size)
	total := int64(len(fe.ChunkHashes))
	report(opts.Progress, 0, total)
	for i, ch := range fe.ChunkHashes {
		data, err := chunkstore.Read(s, h, ch, defaultDeltaChainLimit())
		if err != nil {
			return nil, fmt.Errorf("store: reassembling %q: %w", path, err)
		}
		out = append(out, data...)
		report(opts.Progress, int64(i+1), total)
	}
	return out, nil
}

// resolveRoot substitutes the current root for the zero hash,
// matching the store-internal convention used by ReadFile/ReadURN
// when no explicit root is given.
func (s *Store) resolveRoot(rootHash hashx.Hash) (hashx.Hash, error) {
	if !rootHash.IsZero() {
		return rootHash, nil
	}
	current, ok, err := s.CurrentRoot()
	if err != nil {
		return hashx.Hash{}, err
	}
	if !ok {
		return hashx.Hash{}, digerr.New(digerr.NotFound, "store: no commits yet")
	}
	return current, nil
}

// ReadURN resolves urnString against this store, including its
// zero-knowledge substitution for any URN that does not name real
// data in this store: a URN whose store_id doesn't match this Store,
// or whose path isn't found, returns deterministic pseudo-random
// bytes rather than an error. The resolver never surfaces NotFound
// for URN-based reads.
func (s *Store) ReadURN(urnString string) ([]byte, error) {
	u, err := urn.Parse(urnString)
	if err != nil {
		// Structurally invalid URNs are a real, reported error — the
		// zero-knowledge property only covers well-formed URNs that
		// don't resolve to real data.
		return nil, err
	}

	if u.StoreID != s.StoreID {
		return zeroKnowledgeBytes(u), nil
	}

	rootHash := u.RootHashOrZero()
	if u.RootHash == nil {
		current, ok, err := s.CurrentRoot()
		if err != nil {
			return nil, err
		}
		if !ok {
			return zeroKnowledgeBytes(u), nil
		}
		rootHash = current
	}

	h, err := s.OpenLayer(rootHash)
	if err != nil {
		if digerr.Is(err, digerr.NotFound) {
			return zeroKnowledgeBytes(u), nil
		}
		return nil, err
	}

	if u.Path == nil {
		return s.directoryListing(h)
	}

	// Parsing drops the "/" that separates the path from the store and
	// root components, so a file staged as "/a.txt" is also looked up
	// under that leading-slash form.
	fe, ok := h.FileByPath(*u.Path)
	if !ok {
		fe, ok = h.FileByPath("/" + *u.Path)
	}
	if !ok {
		return zeroKnowledgeBytes(u), nil
	}

	if u.Range == nil {
		return chunkstore.ReadFile(s, h, fe, defaultDeltaChainLimit())
	}

	start, end, err := u.Range.Resolve(fe.Size)
	if err != nil {
		return nil, err
	}
	return chunkstore.ReadRange(s, h, fe, start, end+1)
}

// directoryListing returns the full file index as JSON, for a URN
// with no resource path.
type directoryEntry struct {
	Path     string `json:"path"`
	Size     uint64 `json:"size"`
	FileHash string `json:"file_hash"`
}

func (s *Store) directoryListing(h *layer.Handle) ([]byte, error) {
	entries := make([]directoryEntry, len(h.Files))
	for i, f := range h.Files {
		entries[i] = directoryEntry{Path: f.Path, Size: f.Size, FileHash: f.FileHash.String()}
	}
	return json.Marshal(entries)
}

// zeroKnowledgeBytes computes the deterministic pseudo-random
// substitute for a URN that does not resolve to real data. The length
// is the byte range's exact implied length when one is present and
// closed/suffix-bound, or the default 1 MiB length otherwise (an
// open-ended "start-" range has no determinable length without real
// file-size knowledge, which is exactly what the zero-knowledge
// property must not leak).
func zeroKnowledgeBytes(u urn.Urn) []byte {
	length := urn.DefaultZeroKnowledgeLength
	if u.Range != nil {
		switch {
		case u.Range.SuffixSet:
			length = int(u.Range.Suffix)
		case u.Range.EndSet:
			length = int(u.Range.End-u.Range.Start) + 1
		}
	}
	return urn.PseudoRandom(u.String(), length)
}

func defaultDeltaChainLimit() int {
	return 0 // 0 tells chunkstore.Read to use config.Get().DeltaChainLimit.
}
