package wormlog

import (
	"crypto/sha256"
	"encoding/hex"
)

// merkleNode is a node in a Merkle tree built over log lines. Leaves hash
// raw line bytes; internal nodes hash the concatenation of their children's
// hex digests.
type merkleNode struct {
	hash string
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashChildren(left, right string) string {
	return hashBytes([]byte(left + right))
}

// merkleRoot builds a Merkle tree over lines (one leaf per line, SHA-256 of
// the line's bytes) and returns the root hash, recomputed from scratch
// every time — there is no incremental update path. An odd-sized level
// duplicates its last node before pairing up.
func merkleRoot(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	level := make([]merkleNode, len(lines))
	for i, line := range lines {
		level[i] = merkleNode{hash: hashBytes([]byte(line))}
	}

	for len(level) > 1 {
		next := make([]merkleNode, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right merkleNode
			if i+1 < len(level) {
				right = level[i+1]
			} else {
				right = level[i]
			}
			next = append(next, merkleNode{hash: hashChildren(level[i].hash, right.hash)})
		}
		level = next
	}

	return level[0].hash
}
