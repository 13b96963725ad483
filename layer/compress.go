package layer

import (
	"fmt"

	"github.com/DIG-Network/digstore-min/config"
	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstdEncoder/zstdDecoder are process-wide and safe for concurrent
// EncodeAll/DecodeAll calls per the klauspost/compress docs, avoiding
// per-chunk allocation of a new codec.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressPayload compresses plaintext with alg and applies the
// keep-if-smaller-than-ratio policy: the stored form is only the
// compressed bytes if compressedSize < minRatio * plaintextSize;
// otherwise the raw plaintext is stored and the chunk's compressed
// flag is clear.
func compressPayload(alg config.CompressionAlg, plaintext []byte, minRatio float64) (stored []byte, compressed bool, err error) {
	if alg == config.CompressionNone || len(plaintext) == 0 {
		return plaintext, false, nil
	}

	var candidate []byte
	switch alg {
	case config.CompressionZstd:
		candidate = zstdEncoder.EncodeAll(plaintext, make([]byte, 0, len(plaintext)))
	case config.CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(plaintext)))
		var ht [1 << 16]int
		n, cerr := lz4.CompressBlock(plaintext, dst, ht[:])
		if cerr != nil {
			return nil, false, fmt.Errorf("layer: lz4 compress: %w", cerr)
		}
		if n == 0 {
			// Incompressible block; lz4 reports this by returning 0.
			return plaintext, false, nil
		}
		candidate = dst[:n]
	default:
		return nil, false, digerr.New(digerr.Integrity, fmt.Sprintf("layer: unknown compression algorithm %d", alg))
	}

	if float64(len(candidate)) < minRatio*float64(len(plaintext)) {
		return candidate, true, nil
	}
	return plaintext, false, nil
}

// decompressPayload reverses compressPayload given the algorithm the
// layer header declares and the original plaintext size recorded in
// the chunk index.
func decompressPayload(alg config.CompressionAlg, stored []byte, compressed bool, plaintextSize uint32) ([]byte, error) {
	if !compressed {
		return stored, nil
	}

	switch alg {
	case config.CompressionZstd:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, plaintextSize))
		if err != nil {
			return nil, digerr.Wrap(digerr.Integrity, "layer: zstd decompress", err)
		}
		return out, nil
	case config.CompressionLZ4:
		dst := make([]byte, plaintextSize)
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, digerr.Wrap(digerr.Integrity, "layer: lz4 decompress", err)
		}
		return dst[:n], nil
	default:
		return nil, digerr.New(digerr.Integrity, fmt.Sprintf("layer: UnknownCompression: alg %d", alg))
	}
}
