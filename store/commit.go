package store

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/layer"
	"github.com/DIG-Network/digstore-min/logging"
)

// Commit runs the commit(message) -> Hash pipeline: collect staged
// files in insertion order, decide Full vs Delta, encode and
// atomically write the new layer, then atomically rewrite Layer 0's
// root history, and finally clear staging. message is recorded
// nowhere on the wire (Layer0Data has no message field); it is
// accepted for host-facing audit logging only.
func (s *Store) Commit(message string, opts CommitOptions) (hashx.Hash, error) {
	release, err := acquireLock(s.Dir)
	if err != nil {
		return hashx.Hash{}, err
	}
	defer release()

	entries, err := s.staging.Entries()
	if err != nil {
		return hashx.Hash{}, err
	}
	if len(entries) == 0 {
		return hashx.Hash{}, digerr.New(digerr.InvalidInput, "store: commit: nothing staged")
	}

	data, err := s.layer0()
	if err != nil {
		return hashx.Hash{}, err
	}

	var parentHash hashx.Hash
	var parentGeneration uint64
	hasParent := len(data.RootHistory) > 0
	if hasParent {
		last := data.RootHistory[len(data.RootHistory)-1]
		parentHash, err = hashx.FromHex(last.RootHash)
		if err != nil {
			return hashx.Hash{}, digerr.Wrap(digerr.Corruption, "store: parsing root history", err)
		}
		parentGeneration = last.Generation
	}

	cfg := config.Get()

	report(opts.Progress, 0, int64(len(entries)))

	files := make([]layer.FileInput, len(entries))
	for i, e := range entries {
		chunks := make([]layer.Chunk, len(e.file.Chunks))
		for j, ref := range e.file.Chunks {
			chunks[j] = layer.Chunk{Hash: ref.Hash, Data: e.data[j], FileOffset: ref.FileOffset}
		}
		files[i] = layer.FileInput{Path: e.file.Path, Metadata: e.file.Metadata, Chunks: chunks}
		if canceled(opts) {
			return hashx.Hash{}, digerr.New(digerr.InvalidInput, "store: commit: canceled")
		}
		report(opts.Progress, int64(i+1), int64(len(entries)))
	}

	layerType := layer.TypeFull
	var ancestorHas func(hashx.Hash) bool
	if hasParent {
		ancestorHas = s.buildAncestorHasFunc(parentHash, cfg.DeltaChainLimit)
		newChunks := countNewChunks(files, ancestorHas)
		if cfg.FullLayerThreshold <= 0 || newChunks < cfg.FullLayerThreshold {
			layerType = layer.TypeDelta
		}
	}
	if layerType == layer.TypeFull {
		// A Full layer carries every chunk its files reference, so no
		// chunk is ever resolved through an ancestor even if one is
		// technically present there.
		ancestorHas = nil
	}

	input := layer.BuildInput{
		Type:                layerType,
		LayerNumber:         parentGeneration + 1,
		Timestamp:           commitTimestamp(data, parentGeneration),
		ParentHash:          parentHash,
		Files:               files,
		CompressionAlg:      cfg.Compression.Algorithm,
		MinCompressionRatio: cfg.Compression.MinRatio,
		AncestorHas:         ancestorHas,
	}

	enc, err := layer.Encode(input)
	if err != nil {
		return hashx.Hash{}, fmt.Errorf("store: encoding layer: %w", err)
	}

	if canceled(opts) {
		return hashx.Hash{}, digerr.New(digerr.InvalidInput, "store: commit: canceled")
	}

	if _, err := layer.WriteLayer(s.Dir, s.StoreID, enc); err != nil {
		// If the write fails after a partial disk write, no visible
		// state change results: WriteLayer already removes its own .tmp
		// file on any failure.
		return hashx.Hash{}, err
	}

	// From here on the new layer file exists on disk. If the Layer 0
	// rewrite below fails, the file is an orphan: ignored and
	// overwritable unless Recover is invoked.
	data.RootHistory = append(data.RootHistory, layer.RootHistoryEntry{
		Generation: parentGeneration + 1,
		RootHash:   enc.RootHash.String(),
		Timestamp:  input.Timestamp,
		LayerCount: uint32(parentGeneration + 1),
	})
	if err := layer.WriteLayer0(s.Dir, s.StoreID, data); err != nil {
		return hashx.Hash{}, fmt.Errorf("store: commit: layer %s written but root history update failed: %w", enc.RootHash, err)
	}

	if err := s.staging.Clear(); err != nil {
		return hashx.Hash{}, fmt.Errorf("store: commit: layer %s committed but clearing staging failed: %w", enc.RootHash, err)
	}

	logging.Infof("store: committed %s generation %d (%s, %q)", enc.RootHash, parentGeneration+1, layerType, message)

	return enc.RootHash, nil
}

// commitTimestamp keeps the timestamp non-decreasing across commits
// by clamping to the parent generation's recorded timestamp if the
// wall clock ever runs backwards between commits.
func commitTimestamp(data layer.Layer0Data, parentGeneration uint64) int64 {
	now := time.Now().Unix()
	if parentGeneration == 0 || len(data.RootHistory) == 0 {
		return now
	}
	last := data.RootHistory[len(data.RootHistory)-1]
	if now < last.Timestamp {
		return last.Timestamp
	}
	return now
}

// buildAncestorHasFunc returns a memoized, concurrency-safe predicate
// checking whether chunkHash's payload is resolvable somewhere in the
// ancestor chain starting at parentHash, bounded by limit hops. The
// predicate itself runs each lookup on its caller's goroutine;
// countNewChunks calls it from a worker pool sized to the CPU count,
// which is why it must be concurrency-safe.
func (s *Store) buildAncestorHasFunc(parentHash hashx.Hash, limit int) func(hashx.Hash) bool {
	var mu sync.Mutex
	cache := make(map[hashx.Hash]bool)

	return func(chunkHash hashx.Hash) bool {
		mu.Lock()
		if v, ok := cache[chunkHash]; ok {
			mu.Unlock()
			return v
		}
		mu.Unlock()

		found := s.chunkResolvableInAncestors(parentHash, chunkHash, limit)

		mu.Lock()
		cache[chunkHash] = found
		mu.Unlock()
		return found
	}
}

func (s *Store) chunkResolvableInAncestors(parentHash hashx.Hash, chunkHash hashx.Hash, limit int) bool {
	current := parentHash
	for hop := 0; hop <= limit; hop++ {
		h, err := s.OpenLayer(current)
		if err != nil {
			return false
		}
		if h.Contains(chunkHash) {
			return true
		}
		if h.Header.ParentHash.IsZero() {
			return false
		}
		current = h.Header.ParentHash
	}
	return false
}

// countNewChunks counts the distinct chunk hashes across files not
// resolvable via ancestorHas, using a bounded worker pool since each
// check may walk the ancestor chain's disk I/O.
func countNewChunks(files []layer.FileInput, ancestorHas func(hashx.Hash) bool) int {
	distinct := make(map[hashx.Hash]struct{})
	for _, f := range files {
		for _, c := range f.Chunks {
			distinct[c.Hash] = struct{}{}
		}
	}

	hashes := make([]hashx.Hash, 0, len(distinct))
	for h := range distinct {
		hashes = append(hashes, h)
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(hashes) {
		workers = len(hashes)
	}
	if workers == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	jobs := make(chan hashx.Hash)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range jobs {
				if !ancestorHas(h) {
					mu.Lock()
					newCount++
					mu.Unlock()
				}
			}
		}()
	}
	for _, h := range hashes {
		jobs <- h
	}
	close(jobs)
	wg.Wait()

	return newCount
}
