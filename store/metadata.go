package store

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gabriel-vasile/mimetype"
)

// fileMetadata is the small opaque blob a FileEntry carries alongside
// its content hash: treated as plain bytes for hashing purposes, but
// structured here as mtime plus a sniffed MIME type.
type fileMetadata struct {
	ModTime  int64  `cbor:"mtime"`
	MimeType string `cbor:"mime"`
}

// encodeMetadata builds the metadata blob staged alongside a file's
// chunks. modTime is a unix timestamp; content is sniffed for its
// MIME type using up to mimetype's own read-ahead window.
func encodeMetadata(modTime time.Time, content []byte) ([]byte, error) {
	meta := fileMetadata{
		ModTime:  modTime.Unix(),
		MimeType: mimetype.Detect(content).String(),
	}
	return cbor.Marshal(meta)
}

func decodeMetadata(blob []byte) (fileMetadata, error) {
	var meta fileMetadata
	if len(blob) == 0 {
		return meta, nil
	}
	if err := cbor.Unmarshal(blob, &meta); err != nil {
		return fileMetadata{}, err
	}
	return meta, nil
}
