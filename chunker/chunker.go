// Package chunker implements content-defined chunking (FastCDC) over
// a byte stream. Chunk boundaries are picked by a rolling gear hash of
// the content itself, so identical substrings chunk identically
// regardless of where they sit in the stream; this is what makes
// cross-file and cross-commit deduplication possible.
package chunker

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
)

// smallFileThreshold is the size at or below which CDC is skipped in
// favor of a single whole-file chunk.
const smallFileThreshold = 4 * 1024

// normalization is FastCDC's "NC" parameter: how many mask bits are
// added/removed around the average-size midpoint to pull boundary
// probability toward avg_size. 2 is the value used by the reference
// FastCDC paper and by most production ports.
const normalization = 2

// Config mirrors config.Config.Chunk; kept standalone so this package
// has no hard dependency on the engine-wide config singleton beyond
// the DefaultConfig convenience constructor.
type Config struct {
	MinSize uint32
	AvgSize uint32
	MaxSize uint32
}

// DefaultConfig reads chunk sizing from the process-wide engine
// configuration.
func DefaultConfig() Config {
	c := config.Get()
	return Config{
		MinSize: c.Chunk.MinSize,
		AvgSize: c.Chunk.AvgSize,
		MaxSize: c.Chunk.MaxSize,
	}
}

// Chunk is one emitted content-defined slice: its position in the
// source, its plaintext length, its SHA-256 hash, and the plaintext
// bytes themselves.
type Chunk struct {
	Offset uint64
	Length uint32
	Hash   hashx.Hash
	Data   []byte
}

// gearTable is the 256-entry rolling-hash lookup table. It is derived
// deterministically from a fixed seed at init time via SHA-256
// chaining, rather than hardcoded or randomized, so the same table
// (and therefore the same chunk boundaries for the same bytes) exists
// on every platform and architecture without carrying 2KiB of magic
// constants in source.
var gearTable [256]uint64

func init() {
	acc := hashx.Sum([]byte("digstore-min/chunker/gear-table/v1"))
	for i := range gearTable {
		acc = hashx.Sum(acc[:])
		gearTable[i] = binary.LittleEndian.Uint64(acc[0:8]) ^
			binary.LittleEndian.Uint64(acc[8:16]) ^
			binary.LittleEndian.Uint64(acc[16:24]) ^
			binary.LittleEndian.Uint64(acc[24:32])
	}
}

// maskPair holds the two cut masks FastCDC alternates between: maskS
// (stricter, used below the avg-size midpoint) and maskL (looser,
// used above it), which together bias the boundary distribution
// toward avg_size without a hard cutoff.
type maskPair struct {
	small uint64
	large uint64
}

func masksFor(avgSize uint32) maskPair {
	bits := 0
	for v := avgSize; v > 1; v >>= 1 {
		bits++
	}
	small := bits + normalization
	large := bits - normalization
	if large < 1 {
		large = 1
	}
	if small > 63 {
		small = 63
	}
	return maskPair{
		small: (uint64(1) << small) - 1,
		large: (uint64(1) << large) - 1,
	}
}

// Chunker produces a lazy sequence of Chunks from an io.Reader. Call
// Next repeatedly until it returns io.EOF. It never buffers more than
// MaxSize bytes, satisfying the streaming/bounded-memory contract.
type Chunker struct {
	r      *bufio.Reader
	cfg    Config
	masks  maskPair
	offset uint64
	done   bool
}

// New wraps r for chunking with cfg.
func New(r io.Reader, cfg Config) *Chunker {
	return &Chunker{
		r:     bufio.NewReaderSize(r, int(cfg.MaxSize)+4096),
		cfg:   cfg,
		masks: masksFor(cfg.AvgSize),
	}
}

// Next returns the next chunk, or io.EOF once the source is
// exhausted. It returns digerr.Capacity-kind errors wrapping
// ChunkSizeExceeded if the rolling-hash state ever fails to cut by
// max_size (a correctly configured chunker cannot reach this path; it
// signals corruption in that state).
func (c *Chunker) Next() (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}

	buf := make([]byte, 0, c.cfg.MaxSize)
	var hash uint64

	for {
		b, err := c.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Chunk{}, digerr.Wrap(digerr.IO, "chunker: reading source", err)
		}

		buf = append(buf, b)
		n := uint32(len(buf))

		if n >= c.cfg.MaxSize {
			break
		}
		if n >= c.cfg.MinSize {
			if n < c.cfg.AvgSize {
				if hash&c.masks.small == 0 {
					break
				}
			} else {
				if hash&c.masks.large == 0 {
					break
				}
			}
		}

		hash = (hash << 1) + gearTable[b]
	}

	if len(buf) == 0 {
		c.done = true
		return Chunk{}, io.EOF
	}
	if uint32(len(buf)) > c.cfg.MaxSize {
		return Chunk{}, digerr.New(digerr.Capacity, "chunker: ChunkSizeExceeded: rolling-hash state produced an oversized chunk")
	}

	chunk := Chunk{
		Offset: c.offset,
		Length: uint32(len(buf)),
		Hash:   hashx.Sum(buf),
		Data:   buf,
	}
	c.offset += uint64(len(buf))

	// Detect end-of-stream so the final Next call after a full-length
	// last chunk reports io.EOF rather than an empty chunk.
	if _, err := c.r.Peek(1); err == io.EOF {
		c.done = true
	}

	return chunk, nil
}

// ChunkBytes chunks an in-memory buffer in one call, applying the
// small-file shortcut: inputs at or below 4 KiB are emitted as a
// single whole-buffer chunk without running CDC at all.
func ChunkBytes(data []byte, cfg Config) ([]Chunk, error) {
	if len(data) <= smallFileThreshold {
		if len(data) == 0 {
			return nil, nil
		}
		return []Chunk{{
			Offset: 0,
			Length: uint32(len(data)),
			Hash:   hashx.Sum(data),
			Data:   data,
		}}, nil
	}

	return ChunkAll(New(bytes.NewReader(data), cfg))
}

// ChunkAll drains a Chunker to completion.
func ChunkAll(c *Chunker) ([]Chunk, error) {
	var chunks []Chunk
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}
