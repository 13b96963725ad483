// Package urn implements the Urn type and parser: the structured
// textual address that is simultaneously a lookup key and a
// scrambling key.
//
// Grammar:
//
//	urn := "urn:dig:chia:" store_id ( ":" root_hash )? ( "/" path )? ( "#bytes=" range )?
//	store_id := 64 hex
//	root_hash := 64 hex
//	path := percent-decoded UTF-8, segments separated by '/', no '.', no '..'
//	range := uint "-" uint | uint "-" | "-" uint
package urn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
)

// Prefix is the fixed URN scheme prefix every digstore URN starts with.
const Prefix = "urn:dig:chia:"

// ByteRange is an inclusive byte range. Exactly one of the three
// shapes applies: [Start, End] (both set), [Start, open) (EndSet
// false), or (open, last Suffix bytes] (SuffixSet true).
type ByteRange struct {
	Start     uint64
	End       uint64
	EndSet    bool
	SuffixSet bool
	Suffix    uint64
}

// String renders the range in its canonical "#bytes=" textual form,
// which doubles as one of the scrambling key's input components, so
// its rendering must be stable and unambiguous.
func (r ByteRange) String() string {
	switch {
	case r.SuffixSet:
		return fmt.Sprintf("-%d", r.Suffix)
	case r.EndSet:
		return fmt.Sprintf("%d-%d", r.Start, r.End)
	default:
		return fmt.Sprintf("%d-", r.Start)
	}
}

// Resolve clamps r against a concrete file size, returning the
// inclusive [start, end] byte offsets actually to be read, clamping
// an open-ended end to the file size.
func (r ByteRange) Resolve(fileSize uint64) (start, end uint64, err error) {
	switch {
	case r.SuffixSet:
		if r.Suffix == 0 {
			return 0, 0, digerr.New(digerr.InvalidInput, "urn: zero-length suffix range")
		}
		if r.Suffix >= fileSize {
			return 0, fileSizeMinusOne(fileSize), nil
		}
		return fileSize - r.Suffix, fileSize - 1, nil
	case r.EndSet:
		if r.Start > r.End {
			return 0, 0, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: range start %d after end %d", r.Start, r.End))
		}
		end := r.End
		if end >= fileSize {
			end = fileSizeMinusOne(fileSize)
		}
		if r.Start >= fileSize {
			return 0, 0, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: range start %d beyond file size %d", r.Start, fileSize))
		}
		return r.Start, end, nil
	default:
		if r.Start >= fileSize {
			return 0, 0, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: range start %d beyond file size %d", r.Start, fileSize))
		}
		return r.Start, fileSizeMinusOne(fileSize), nil
	}
}

func fileSizeMinusOne(fileSize uint64) uint64 {
	if fileSize == 0 {
		return 0
	}
	return fileSize - 1
}

// Urn is a parsed, structurally valid URN. RootHash and Path are
// pointers so "absent" is distinguishable from "present but zero/empty".
type Urn struct {
	StoreID  hashx.Hash
	RootHash *hashx.Hash
	Path     *string
	Range    *ByteRange

	raw string // the exact input string, for the zero-knowledge pseudo-random path
}

// String returns the exact input the Urn was parsed from.
func (u Urn) String() string { return u.raw }

// RootHashOrZero returns the root hash component in its canonical
// key-derivation form: the actual hash if present, the zero hash
// otherwise.
func (u Urn) RootHashOrZero() hashx.Hash {
	if u.RootHash == nil {
		return hashx.Zero
	}
	return *u.RootHash
}

// PathOrEmpty returns the resource path in its canonical
// key-derivation form: the path itself if present, "" otherwise.
func (u Urn) PathOrEmpty() string {
	if u.Path == nil {
		return ""
	}
	return *u.Path
}

// RangeTextOrEmpty returns the byte range in its canonical
// key-derivation textform, or "" if absent.
func (u Urn) RangeTextOrEmpty() string {
	if u.Range == nil {
		return ""
	}
	return u.Range.String()
}

// Parse parses s against the grammar above, returning
// digerr.InvalidInput for any structural violation.
func Parse(s string) (Urn, error) {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Urn{}, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: missing %q prefix in %q", Prefix, s))
	}

	u := Urn{raw: s}

	// Split off an optional "#bytes=..." fragment first; everything
	// before it is store_id[:root_hash][/path].
	var fragment string
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}

	// Split off an optional "/path" suffix.
	var pathPart string
	hasPath := false
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		pathPart = rest[i+1:]
		hasPath = true
		rest = rest[:i]
	}

	// rest is now store_id[:root_hash].
	idParts := strings.SplitN(rest, ":", 2)
	storeID, err := parseHex32(idParts[0], "store_id")
	if err != nil {
		return Urn{}, err
	}
	u.StoreID = storeID

	if len(idParts) == 2 {
		rootHash, err := parseHex32(idParts[1], "root_hash")
		if err != nil {
			return Urn{}, err
		}
		u.RootHash = &rootHash
	}

	if hasPath {
		decoded, err := url.PathUnescape(pathPart)
		if err != nil {
			return Urn{}, digerr.Wrap(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: percent-decoding path %q", pathPart), err)
		}
		if err := validatePath(decoded); err != nil {
			return Urn{}, err
		}
		u.Path = &decoded
	}

	if fragment != "" {
		rangeText, ok := strings.CutPrefix(fragment, "bytes=")
		if !ok {
			return Urn{}, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: unrecognized fragment %q", fragment))
		}
		br, err := parseRange(rangeText)
		if err != nil {
			return Urn{}, err
		}
		if u.Path == nil {
			return Urn{}, digerr.New(digerr.InvalidInput, "urn: InvalidUrn: byte_range without resource_path")
		}
		u.Range = &br
	}

	return u, nil
}

func parseHex32(s, field string) (hashx.Hash, error) {
	if len(s) != 64 {
		return hashx.Hash{}, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: %s must be 64 hex chars, got %d", field, len(s)))
	}
	h, err := hashx.FromHex(s)
	if err != nil {
		return hashx.Hash{}, digerr.Wrap(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: %s", field), err)
	}
	return h, nil
}

// validatePath rejects backslashes and any "." or ".." segment, per
// the path normalization rules a FileEntry's path and the URN
// grammar both require.
func validatePath(p string) error {
	if strings.Contains(p, "\\") {
		return digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: path %q contains a backslash", p))
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: path %q contains a %q segment", p, seg))
		}
	}
	return nil
}

// parseRange parses the "range" production: "uint-uint", "uint-", or
// "-uint".
func parseRange(s string) (ByteRange, error) {
	if s == "" {
		return ByteRange{}, digerr.New(digerr.InvalidInput, "urn: InvalidUrn: empty byte range")
	}
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseUint(s[1:], 10, 64)
		if err != nil {
			return ByteRange{}, digerr.Wrap(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: bad suffix range %q", s), err)
		}
		return ByteRange{SuffixSet: true, Suffix: n}, nil
	}

	i := strings.IndexByte(s, '-')
	if i < 0 {
		return ByteRange{}, digerr.New(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: malformed range %q", s))
	}
	start, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return ByteRange{}, digerr.Wrap(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: bad range start %q", s), err)
	}
	if i == len(s)-1 {
		return ByteRange{Start: start}, nil
	}
	end, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return ByteRange{}, digerr.Wrap(digerr.InvalidInput, fmt.Sprintf("urn: InvalidUrn: bad range end %q", s), err)
	}
	return ByteRange{Start: start, End: end, EndSet: true}, nil
}
