package chunker

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapThreshold is the file size above which ChunkFile memory-maps
// the source instead of streaming it through a buffered reader.
const mmapThreshold = 10 * 1024 * 1024

// ChunkFile chunks the file at path, choosing streaming or
// memory-mapped I/O based on its size. The mapping, where used, is
// only ever read from and is unmapped before ChunkFile returns; every
// Chunk's Data is copied out of it by Next/ChunkBytes, so returned
// chunks outlive the mapping safely.
func ChunkFile(path string, cfg Config) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunker: stat %s: %w", path, err)
	}

	if info.Size() <= smallFileThreshold {
		data := make([]byte, info.Size())
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("chunker: reading %s: %w", path, err)
		}
		return ChunkBytes(data, cfg)
	}

	if info.Size() < mmapThreshold {
		return ChunkAll(New(f, cfg))
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("chunker: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	return ChunkBytes([]byte(m), cfg)
}
