// Package store implements the repository root: it owns the
// store-id, the global directory, the ordered set of layers (Layer 0's
// root history plus an in-process cache of opened layer handles), the
// staging area, and commit orchestration. It also wires the urn
// package's parser to the layer/chunkstore packages to serve
// path-based and URN-based reads, and the proof package for
// generating portable inclusion proofs.
package store

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/logging"
)

// ProtocolVersion is recorded in Layer 0's JSON document; bumped only
// if the wire format or root-history schema changes.
const ProtocolVersion = 1

// Store is a single repository: one store-id, one global directory,
// one staging area, and an in-process cache of opened layer handles
// keyed by root hash — an arena-like layers_by_hash map owned by the
// Store, so every cross-layer reference is a lookup by hash, never a
// pointer.
type Store struct {
	StoreID hashx.Hash
	Dir     string

	staging *StagingArea

	// layerCache holds parsed layer.Handle values keyed by root hash.
	// Content-addressed keys never need invalidation, so this is a
	// pure reader/writer cache: many parallel readers, exclusive writer
	// on first population.
	layerCache *xsync.MapOf[hashx.Hash, *layer.Handle]
}

// GenerateStoreID produces a fresh, cryptographically random 32-byte
// store-id for Init. Unlike content hashes, a store-id names a
// repository rather than its content, so it is drawn from a CSPRNG
// rather than derived from anything.
func GenerateStoreID() (hashx.Hash, error) {
	var id hashx.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return hashx.Hash{}, digerr.Wrap(digerr.IO, "store: generating store id", err)
	}
	return id, nil
}

// Init creates a brand-new store directory under ~/.dig (or
// $DIG_HOME) for storeID, writes its Layer 0 with an empty root
// history, and returns the opened Store. It is an error to Init a
// store-id that already has a directory with a Layer 0 in it.
func Init(storeID hashx.Hash) (*Store, error) {
	dir, err := config.StoreDir(storeID.String())
	if err != nil {
		return nil, err
	}

	layer0Path := filepath.Join(dir, layer.FileName(hashx.Zero))
	if _, statErr := os.Stat(layer0Path); statErr == nil {
		return nil, digerr.New(digerr.InvalidInput, fmt.Sprintf("store: %s already initialized", storeID))
	}

	release, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	defer release()

	cfg := config.Get()
	data := layer.Layer0Data{
		StoreID:         storeID.String(),
		CreatedAt:       time.Now().Unix(),
		FormatVersion:   int(layer.FormatVersion),
		ProtocolVersion: ProtocolVersion,
		RootHistory:     nil,
		Config: layer.Layer0Config{
			ChunkSize: layer.Layer0ChunkSize{
				Min: cfg.Chunk.MinSize,
				Avg: cfg.Chunk.AvgSize,
				Max: cfg.Chunk.MaxSize,
			},
			Compression:     compressionName(cfg),
			DeltaChainLimit: cfg.DeltaChainLimit,
		},
	}
	if err := layer.WriteLayer0(dir, storeID, data); err != nil {
		return nil, err
	}

	staging, err := openStaging(dir)
	if err != nil {
		return nil, err
	}

	logging.Infof("store: initialized %s in %s", storeID, dir)

	return &Store{
		StoreID:    storeID,
		Dir:        dir,
		staging:    staging,
		layerCache: xsync.NewMapOf[hashx.Hash, *layer.Handle](),
	}, nil
}

// Open opens an existing store directory for storeID. It does not
// attempt to adopt orphaned `.dig` files not referenced by Layer 0's
// root history; see Recover.
func Open(storeID hashx.Hash) (*Store, error) {
	dir, err := config.StoreDir(storeID.String())
	if err != nil {
		return nil, err
	}

	if _, err := layer.OpenLayer0(dir, storeID); err != nil {
		return nil, err
	}

	staging, err := openStaging(dir)
	if err != nil {
		return nil, err
	}

	return &Store{
		StoreID:    storeID,
		Dir:        dir,
		staging:    staging,
		layerCache: xsync.NewMapOf[hashx.Hash, *layer.Handle](),
	}, nil
}

// Close releases the store's open resources (the staging database).
// It does not release any lock — locks are held only for the
// duration of a single mutating call.
func (s *Store) Close() error {
	return s.staging.close()
}

// layer0 reads the current Layer 0 document fresh from disk. Layer 0
// is small and rewritten on every commit, so re-reading it rather
// than caching it keeps CurrentRoot always consistent with the
// on-disk root history without extra invalidation bookkeeping.
func (s *Store) layer0() (layer.Layer0Data, error) {
	return layer.OpenLayer0(s.Dir, s.StoreID)
}

// CurrentRoot returns the root hash of the most recent commit, or
// (zero hash, false) if the store has never been committed to.
func (s *Store) CurrentRoot() (hashx.Hash, bool, error) {
	data, err := s.layer0()
	if err != nil {
		return hashx.Hash{}, false, err
	}
	if len(data.RootHistory) == 0 {
		return hashx.Hash{}, false, nil
	}
	last := data.RootHistory[len(data.RootHistory)-1]
	h, err := hashx.FromHex(last.RootHash)
	if err != nil {
		return hashx.Hash{}, false, digerr.Wrap(digerr.Corruption, "store: parsing root history entry", err)
	}
	return h, true, nil
}

// OpenLayer resolves rootHash to a parsed layer.Handle, populating
// (or reusing) the in-process cache. Implements
// chunkstore.LayerSource.
func (s *Store) OpenLayer(rootHash hashx.Hash) (*layer.Handle, error) {
	if h, ok := s.layerCache.Load(rootHash); ok {
		return h, nil
	}
	h, err := layer.Open(s.Dir, s.StoreID, rootHash)
	if err != nil {
		return nil, err
	}
	actual, _ := s.layerCache.LoadOrStore(rootHash, h)
	return actual, nil
}

func compressionName(cfg *config.Config) string {
	switch cfg.Compression.Algorithm {
	case config.CompressionZstd:
		return "zstd"
	case config.CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}
