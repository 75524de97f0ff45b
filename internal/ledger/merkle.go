package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/edifylabs/edify-backend/internal/types"
)

// Tree summarizes a window of events with a single externally-verifiable root.
type Tree struct {
	MerkleRoot string   `json:"merkle_root"`
	LeafCount  int      `json:"leaf_count"`
	Leaves     []string `json:"leaves"`
}

// LeafHash derives a leaf from an event's identity, primary hash and
// millisecond timestamp.
func LeafHash(e *types.LedgerEvent) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", e.ID, e.Hash, e.Timestamp.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// BuildTree pairwise-combines leaves bottom-up, duplicating the last node on
// odd levels, until one root remains. The same event window always yields the
// same root. An empty window yields an empty root.
func BuildTree(events []*types.LedgerEvent) Tree {
	leaves := make([]string, 0, len(events))
	for _, e := range events {
		leaves = append(leaves, LeafHash(e))
	}
	return Tree{
		MerkleRoot: foldLevels(leaves),
		LeafCount:  len(leaves),
		Leaves:     leaves,
	}
}

func foldLevels(level []string) string {
	if len(level) == 0 {
		return ""
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			sum := sha256.Sum256([]byte(level[i] + level[i+1]))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		level = next
	}
	return level[0]
}
