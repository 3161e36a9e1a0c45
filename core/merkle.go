package core

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// BuildMerkleTree returns the level-by-level nodes of a Merkle tree built
// from leaves, each hashed with SHA-256. The last level holds the root.
func BuildMerkleTree(leaves [][]byte) ([][]Hash, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: no leaves")
	}
	level := make([]Hash, len(leaves))
	for i, l := range leaves {
		level[i] = Hash(sha256.Sum256(l))
	}
	tree := [][]Hash{level}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := append(append([]byte{}, level[i][:]...), level[i+1][:]...)
			next[i/2] = Hash(sha256.Sum256(pair))
		}
		tree = append(tree, next)
		level = next
	}
	return tree, nil
}

// MerkleRoot returns only the root hash of the tree over leaves, used for
// the state snapshot digest (§4.4 snapshot).
func MerkleRoot(leaves [][]byte) (Hash, error) {
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return Hash{}, err
	}
	return tree[len(tree)-1][0], nil
}

// MerkleProof returns an inclusion proof for the leaf at index, plus the
// tree's root.
func MerkleProof(leaves [][]byte, index int) ([]Hash, Hash, error) {
	if index < 0 || index >= len(leaves) {
		return nil, Hash{}, fmt.Errorf("merkle: index %d out of range", index)
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return nil, Hash{}, err
	}
	proof := make([]Hash, 0, len(tree)-1)
	idx := index
	for i := 0; i < len(tree)-1; i++ {
		level := tree[i]
		if idx%2 == 0 {
			proof = append(proof, level[idx+1])
		} else {
			proof = append(proof, level[idx-1])
		}
		idx /= 2
	}
	return proof, tree[len(tree)-1][0], nil
}

// VerifyMerklePath checks that proof reconstructs root for leaf at index.
func VerifyMerklePath(root Hash, leaf []byte, proof []Hash, index int) bool {
	hash := sha256.Sum256(leaf)
	cur := hash[:]
	for _, p := range proof {
		var pair []byte
		if index%2 == 0 {
			pair = append(append([]byte{}, cur...), p[:]...)
		} else {
			pair = append(append([]byte{}, p[:]...), cur...)
		}
		sum := sha256.Sum256(pair)
		cur = sum[:]
		index /= 2
	}
	return bytes.Equal(cur, root[:])
}
