package stark

import (
	"crypto/sha256"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("leaf-%d", i))
	}
	return leaves
}

func TestMerkleBatchRoundTrip(t *testing.T) {
	leaves := testLeaves(64)
	tree := NewTree(sha256.New, leaves)

	cases := [][]int{
		{0},
		{63},
		{0, 1},
		{0, 63},
		{3, 17, 18, 40, 41, 42},
	}
	for _, idx := range cases {
		proof := tree.Open(idx)
		opened := make([][]byte, len(idx))
		for i, j := range idx {
			opened[i] = leaves[j]
		}
		require.True(t, VerifyBatch(sha256.New, tree.Root(), 64, idx, opened, proof), "indices %v", idx)
	}
}

func TestMerkleBatchRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	leaves := testLeaves(256)
	tree := NewTree(sha256.New, leaves)

	for trial := 0; trial < 20; trial++ {
		seen := map[int]bool{}
		var idx []int
		for len(idx) < 10 {
			j := int(rng.Uint64() % 256)
			if !seen[j] {
				seen[j] = true
				idx = append(idx, j)
			}
		}
		// canonical order
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				if idx[j] < idx[i] {
					idx[i], idx[j] = idx[j], idx[i]
				}
			}
		}
		proof := tree.Open(idx)
		opened := make([][]byte, len(idx))
		for i, j := range idx {
			opened[i] = leaves[j]
		}
		require.True(t, VerifyBatch(sha256.New, tree.Root(), 256, idx, opened, proof))
	}
}

func TestMerkleRejects(t *testing.T) {
	leaves := testLeaves(32)
	tree := NewTree(sha256.New, leaves)
	idx := []int{2, 9, 30}
	opened := [][]byte{leaves[2], leaves[9], leaves[30]}
	proof := tree.Open(idx)

	// tampered leaf
	bad := append([][]byte{}, opened...)
	bad[1] = []byte("forged")
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 32, idx, bad, proof))

	// tampered sibling
	badProof := &BatchProof{Siblings: append([][]byte{}, proof.Siblings...)}
	badProof.Siblings[0] = make([]byte, 32)
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 32, idx, opened, badProof))

	// wrong root
	otherRoot := append([]byte{}, tree.Root()...)
	otherRoot[0] ^= 1
	require.False(t, VerifyBatch(sha256.New, otherRoot, 32, idx, opened, proof))

	// unsorted or duplicate indices
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 32, []int{9, 2, 30}, opened, proof))
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 32, []int{2, 2, 30}, opened, proof))

	// trailing unconsumed siblings
	extra := &BatchProof{Siblings: append(append([][]byte{}, proof.Siblings...), make([]byte, 32))}
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 32, idx, opened, extra))

	// leaf count not a power of two
	require.False(t, VerifyBatch(sha256.New, tree.Root(), 33, idx, opened, proof))
}

func TestMerkleSingleLeafTree(t *testing.T) {
	leaves := testLeaves(1)
	tree := NewTree(sha256.New, leaves)
	proof := tree.Open([]int{0})
	require.Empty(t, proof.Siblings)
	require.True(t, VerifyBatch(sha256.New, tree.Root(), 1, []int{0}, leaves, proof))
}

func TestMerklePanicsOnBadUsage(t *testing.T) {
	require.Panics(t, func() { NewTree(sha256.New, testLeaves(3)) })
	tree := NewTree(sha256.New, testLeaves(8))
	require.Panics(t, func() { tree.Open([]int{3, 1}) })
	require.Panics(t, func() { tree.Open([]int{8}) })
}
