package layer

import (
	"bytes"
	"fmt"

	"github.com/DIG-Network/digstore-min/digerr"
	"github.com/DIG-Network/digstore-min/hashx"
	"github.com/DIG-Network/digstore-min/merkle"
)

// encodeMerkle serializes a tree as `u8 depth, u32 leaf_count, nodes
// level-by-level from leaves to root`.
func encodeMerkle(t *merkle.Tree) []byte {
	levels := t.Levels()
	var buf bytes.Buffer
	buf.WriteByte(byte(len(levels)))
	putU32(&buf, uint32(t.LeafCount()))
	for _, level := range levels {
		for _, node := range level {
			buf.Write(node[:])
		}
	}

	raw := buf.Bytes()
	padded := make([]byte, align4(len(raw)))
	copy(padded, raw)
	return padded
}

// decodeMerkle parses a Merkle section back into a Tree.
func decodeMerkle(buf []byte) (*merkle.Tree, error) {
	if len(buf) < 5 {
		return nil, digerr.WrapSection("layer: merkle header", "merkle", 0, fmt.Errorf("Truncated: merkle section too short"))
	}
	depth := int(buf[0])
	leafCount := int(readU32(buf, 1))
	pos := 5

	levels := make([][]hashx.Hash, 0, depth)
	remaining := leafCount
	if remaining == 0 {
		remaining = 1 // the empty-tree special case: one Zero node, no leaves.
	}
	for d := 0; d < depth; d++ {
		count := remaining
		if d > 0 {
			count = (count + 1) / 2
		}
		level := make([]hashx.Hash, count)
		for i := 0; i < count; i++ {
			if pos+hashx.Size > len(buf) {
				return nil, digerr.WrapSection("layer: merkle node", "merkle", int64(pos), fmt.Errorf("Truncated: expected %d more node bytes", hashx.Size))
			}
			copy(level[i][:], buf[pos:pos+hashx.Size])
			pos += hashx.Size
		}
		levels = append(levels, level)
		remaining = count
	}

	return merkle.FromLevels(levels, leafCount), nil
}
