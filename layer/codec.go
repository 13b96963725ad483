package layer

import (
	"crypto/sha256"
	"fmt"
	"runtime"
	"sync"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/merkle"
)

// FileInput is one staged file ready for serialization: its path,
// metadata, and its content-defined chunk sequence with plaintext
// payloads attached.
type FileInput struct {
	Path     string
	Metadata []byte
	Chunks   []Chunk
}

// BuildInput is everything Encode needs to produce a layer's
// plaintext bytes.
type BuildInput struct {
	Type                Type
	LayerNumber         uint64
	Timestamp           int64
	ParentHash          hashx.Hash
	Files               []FileInput
	CompressionAlg      config.CompressionAlg
	MinCompressionRatio float64

	// AncestorHas reports whether a chunk hash's payload already
	// exists in some ancestor layer (walked by the caller up to the
	// configured delta chain limit). When set (Delta layers), a chunk
	// satisfied by an ancestor is recorded in this layer's chunk table
	// but not given a Data-section payload.
	AncestorHas func(hashx.Hash) bool
}

// Encoded is the result of Encode: the finalized, unscrambled layer
// bytes plus the pieces a caller (store/proof) needs without
// re-parsing them.
type Encoded struct {
	Plaintext  []byte
	RootHash   hashx.Hash // SHA-256 of the entire Plaintext buffer
	MerkleRoot hashx.Hash
	Files      []FileEntry
}

// Encode runs the write pipeline's in-memory steps: order files
// (already ordered by the caller, insertion order from staging),
// write chunk payloads, build the index, build the merkle tree, and
// fill the header. It does not scramble or write to disk — see
// WriteLayer.
func Encode(input BuildInput) (Encoded, error) {
	var files []FileEntry
	var chunkTable []chunkIndexEntry
	fileRangeByHash := make(map[hashx.Hash]struct {
		first uint32
		count uint16
	})

	compressedByHash, err := compressAllChunks(input)
	if err != nil {
		return Encoded{}, err
	}

	var dataBuf []byte

	for _, fi := range input.Files {
		fileHash := fileContentHash(fi.Chunks)

		if rng, ok := fileRangeByHash[fileHash]; ok {
			// Identical content to a file already placed in this layer:
			// reuse its contiguous chunk-table range rather than
			// re-appending it.
			files = append(files, FileEntry{
				Path:            fi.Path,
				Size:            fileSize(fi.Chunks),
				FileHash:        fileHash,
				ChunkHashes:     chunkHashesOf(fi.Chunks),
				Metadata:        fi.Metadata,
				firstChunkIndex: rng.first,
				chunkCount:      rng.count,
			})
			continue
		}

		firstIndex := uint32(len(chunkTable))
		for _, c := range fi.Chunks {
			// A chunk hash shared with an earlier, non-identical file in
			// this layer still gets its own table slot here so this
			// file's range stays contiguous. Interleaved cross-file dedup
			// within a single layer's chunk table would break that
			// contiguity guarantee, so it's left to identical-file reuse
			// above instead.
			if input.AncestorHas != nil && input.AncestorHas(c.Hash) {
				chunkTable = append(chunkTable, chunkIndexEntry{
					Hash:          c.Hash,
					FileOffset:    c.FileOffset,
					PlaintextSize: uint32(len(c.Data)),
					Flags:         chunkFlagAbsent,
				})
				continue
			}

			res := compressedByHash[c.Hash]
			stored, compressed := res.stored, res.compressed

			entry := chunkIndexEntry{
				Hash:              c.Hash,
				FileOffset:        c.FileOffset,
				PlaintextSize:     uint32(len(c.Data)),
				DataSectionOffset: uint64(len(dataBuf)),
				StoredSize:        uint32(len(stored)),
			}
			if compressed {
				entry.Flags |= chunkFlagCompressed
			}

			chunkTable = append(chunkTable, entry)
			dataBuf = append(dataBuf, stored...)
		}

		count := uint16(len(fi.Chunks))
		fileRangeByHash[fileHash] = struct {
			first uint32
			count uint16
		}{firstIndex, count}

		files = append(files, FileEntry{
			Path:            fi.Path,
			Size:            fileSize(fi.Chunks),
			FileHash:        fileHash,
			ChunkHashes:     chunkHashesOf(fi.Chunks),
			Metadata:        fi.Metadata,
			firstChunkIndex: firstIndex,
			chunkCount:      count,
		})
	}

	indexBytes := encodeIndex(files, chunkTable)

	leaves := make([]hashx.Hash, len(files))
	for i, f := range files {
		leaves[i] = f.FileHash
	}
	tree := merkle.Build(leaves)
	merkleBytes := encodeMerkle(tree)

	header := Header{
		Version:        FormatVersion,
		LayerType:      input.Type,
		LayerNumber:    input.LayerNumber,
		Timestamp:      input.Timestamp,
		ParentHash:     input.ParentHash,
		FilesCount:     uint32(len(files)),
		ChunksCount:    uint32(len(chunkTable)),
		CompressionAlg: input.CompressionAlg,
	}
	if input.CompressionAlg != config.CompressionNone {
		header.Flags |= flagCompressed
	}

	header.IndexOffset = HeaderSize
	header.IndexSize = uint64(len(indexBytes))
	header.DataOffset = header.IndexOffset + header.IndexSize
	header.DataSize = uint64(align4(len(dataBuf)))
	header.MerkleOffset = header.DataOffset + header.DataSize
	header.MerkleSize = uint64(len(merkleBytes))

	dataPadded := make([]byte, header.DataSize)
	copy(dataPadded, dataBuf)

	total := int(header.MerkleOffset+header.MerkleSize) + hashx.Size
	plaintext := make([]byte, total)
	copy(plaintext, encodeHeader(header))
	copy(plaintext[header.IndexOffset:], indexBytes)
	copy(plaintext[header.DataOffset:], dataPadded)
	copy(plaintext[header.MerkleOffset:], merkleBytes)

	footerOffset := int(header.MerkleOffset + header.MerkleSize)
	footer := sha256.Sum256(plaintext[:footerOffset])
	copy(plaintext[footerOffset:], footer[:])

	rootHash := hashx.Sum(plaintext)

	return Encoded{
		Plaintext:  plaintext,
		RootHash:   rootHash,
		MerkleRoot: tree.Root(),
		Files:      files,
	}, nil
}

// compressResult is one chunk payload's stored form after the
// keep-if-smaller policy has been applied.
type compressResult struct {
	stored     []byte
	compressed bool
}

// compressAllChunks compresses every distinct chunk payload that will
// actually land in the Data section, over a worker pool sized to the
// CPU count. Compression is the commit path's one CPU-bound stage, so
// it is the one place Encode runs parallel; assembly stays sequential
// to keep the on-disk chunk order deterministic.
func compressAllChunks(input BuildInput) (map[hashx.Hash]compressResult, error) {
	type job struct {
		hash hashx.Hash
		data []byte
	}

	var jobs []job
	seen := make(map[hashx.Hash]struct{})
	for _, fi := range input.Files {
		for _, c := range fi.Chunks {
			if _, ok := seen[c.Hash]; ok {
				continue
			}
			seen[c.Hash] = struct{}{}
			if input.AncestorHas != nil && input.AncestorHas(c.Hash) {
				continue
			}
			jobs = append(jobs, job{hash: c.Hash, data: c.Data})
		}
	}

	results := make(map[hashx.Hash]compressResult, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	workers := runtime.NumCPU()
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	queue := make(chan job)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				stored, compressed, err := compressPayload(input.CompressionAlg, j.data, input.MinCompressionRatio)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("layer: compressing chunk %s: %w", j.hash, err)
					}
				} else {
					results[j.hash] = compressResult{stored: stored, compressed: compressed}
				}
				mu.Unlock()
			}
		}()
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func fileContentHash(chunks []Chunk) hashx.Hash {
	u := hashx.NewUpdater()
	for _, c := range chunks {
		u.Update(c.Data)
	}
	return u.Finalize()
}

func fileSize(chunks []Chunk) uint64 {
	var n uint64
	for _, c := range chunks {
		n += uint64(len(c.Data))
	}
	return n
}

func chunkHashesOf(chunks []Chunk) []hashx.Hash {
	out := make([]hashx.Hash, len(chunks))
	for i, c := range chunks {
		out[i] = c.Hash
	}
	return out
}

// verifyFooter recomputes the footer hash over plaintext and compares
// it to the value stored at the footer's offset, returning a
// FooterMismatch Integrity error on divergence.
func verifyFooter(plaintext []byte, footerOffset int) error {
	if footerOffset+hashx.Size > len(plaintext) {
		return digerr.WrapSection("layer: footer", "footer", int64(footerOffset), fmt.Errorf("Truncated: no room for footer"))
	}
	want := sha256.Sum256(plaintext[:footerOffset])
	var got hashx.Hash
	copy(got[:], plaintext[footerOffset:footerOffset+hashx.Size])
	if hashx.Hash(want) != got {
		return digerr.WrapSection("layer: footer", "footer", int64(footerOffset), fmt.Errorf("FooterMismatch"))
	}
	return nil
}
