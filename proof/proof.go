// Package proof implements the proof generator/verifier: four proof
// kinds (File, ByteRange, Layer, Chunk) built on the merkle package's
// inclusion-proof primitives, serialized to a canonical, portable
// JSON document that two independent implementations would produce
// byte-identically.
package proof

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/merkle"
)

// canonicalJSON sorts object keys lexicographically and otherwise
// matches encoding/json's int/string rendering, for the one format in
// this module that must be byte-identical across implementations.
var canonicalJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Version is the only proof document version this package writes or
// verifies.
const Version = 1

// Kind is the proof's variant tag.
type Kind string

const (
	KindFile      Kind = "file"
	KindChunk     Kind = "chunk"
	KindByteRange Kind = "byte_range"
	KindLayer     Kind = "layer"
)

// Node is one (sibling_hash, position) step of an inclusion proof, in
// its portable hex/string form.
type Node struct {
	Position string `json:"position"`
	Sibling  string `json:"sibling"`
}

func nodesFromMerkle(path []merkle.Node) []Node {
	out := make([]Node, len(path))
	for i, n := range path {
		out[i] = Node{Sibling: n.Sibling.String(), Position: n.Side.String()}
	}
	return out
}

func nodesToMerkle(path []Node) ([]merkle.Node, error) {
	out := make([]merkle.Node, len(path))
	for i, n := range path {
		sib, err := hashx.FromHex(n.Sibling)
		if err != nil {
			return nil, digerr.Wrap(digerr.InvalidInput, "proof: decoding sibling hash", err)
		}
		var side merkle.Side
		switch n.Position {
		case "L":
			side = merkle.Left
		case "R":
			side = merkle.Right
		default:
			return nil, digerr.New(digerr.InvalidInput, "proof: position must be \"L\" or \"R\", got "+n.Position)
		}
		out[i] = merkle.Node{Sibling: sib, Side: side}
	}
	return out, nil
}

// Target identifies what a Proof is about. Only the fields relevant
// to Kind are populated; the rest are omitted from the canonical
// JSON form. Fields are declared in lexicographic tag order so the
// encoder emits sorted object keys for structs the same way
// SortMapKeys does for maps.
type Target struct {
	ChunkHash  string `json:"chunk_hash,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Path       string `json:"path,omitempty"`
	RangeEnd   uint64 `json:"range_end,omitempty"`
	RangeStart uint64 `json:"range_start,omitempty"`
	RootHash   string `json:"root_hash,omitempty"`
}

// Proof is the self-describing, portable document: version, kind, a
// target descriptor, the expected/claimed root, the sibling path, and
// (for the composite ByteRange and Chunk kinds) nested component
// proofs. Verification never touches the Store — everything needed
// lives in the document. Declaration order is lexicographic by JSON
// tag, matching the canonical form's sorted-keys requirement.
type Proof struct {
	Components   []Proof           `json:"components,omitempty"`
	ExpectedRoot string            `json:"expected_root"`
	Kind         Kind              `json:"kind"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Path         []Node            `json:"path,omitempty"`
	Target       Target            `json:"target"`
	Version      int               `json:"version"`
}

// MarshalCanonical renders p in canonical JSON form: lowercase hex
// hashes (already true of every hex field by construction),
// lexicographically sorted object keys, and integers without
// unnecessary zero-padding (jsoniter's default numeric encoding
// already satisfies this).
func (p Proof) MarshalCanonical() ([]byte, error) {
	return canonicalJSON.Marshal(p)
}

// Unmarshal parses a canonical (or any structurally equivalent) proof
// document.
func Unmarshal(data []byte) (Proof, error) {
	var p Proof
	if err := canonicalJSON.Unmarshal(data, &p); err != nil {
		return Proof{}, digerr.Wrap(digerr.InvalidInput, "proof: parsing proof document", err)
	}
	return p, nil
}
