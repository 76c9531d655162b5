package stark

import (
	"bytes"
	"hash"
	"math/bits"
	"sort"

	"github.com/volta-zk/volta/internal/parallel"
)

// Merkle commitments over power-of-two leaf sets. Leaf and node hashes are
// domain separated by a prefix byte. Openings are batched: one proof covers
// any set of leaf indices and carries each shared path node once.
//
// gnark-crypto's merkletree commits io.Reader segments and opens single
// leaves; the query phase here opens dozens of rows per tree, so the tree
// keeps its levels in memory and emits the sorted sibling frontier instead.

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Tree is a fully materialized Merkle tree.
type Tree struct {
	hashNew func() hash.Hash
	levels  [][][]byte // levels[0] = leaf hashes, last = [root]
}

// BatchProof authenticates a set of leaves against a root. Siblings are the
// path nodes not derivable from the opened leaves, emitted level by level in
// ascending node order.
type BatchProof struct {
	Siblings [][]byte `cbor:"1,keyasint"`
}

func hashLeaf(h hash.Hash, leaf []byte) []byte {
	h.Reset()
	h.Write([]byte{leafPrefix})
	h.Write(leaf)
	return h.Sum(nil)
}

func hashNode(h hash.Hash, left, right []byte) []byte {
	h.Reset()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// NewTree commits to the given leaves. The leaf count must be a power of
// two.
func NewTree(hashNew func() hash.Hash, leaves [][]byte) *Tree {
	n := len(leaves)
	if n == 0 || n&(n-1) != 0 {
		panic("stark: merkle leaf count must be a power of two")
	}
	depth := bits.TrailingZeros(uint(n))
	t := &Tree{hashNew: hashNew, levels: make([][][]byte, depth+1)}

	hashed := make([][]byte, n)
	parallel.Execute(0, n, func(start, end int) {
		h := hashNew()
		for i := start; i < end; i++ {
			hashed[i] = hashLeaf(h, leaves[i])
		}
	})
	t.levels[0] = hashed

	for lvl := 1; lvl <= depth; lvl++ {
		prev := t.levels[lvl-1]
		cur := make([][]byte, len(prev)/2)
		if len(cur) >= 1024 {
			parallel.Execute(0, len(cur), func(start, end int) {
				h := hashNew()
				for i := start; i < end; i++ {
					cur[i] = hashNode(h, prev[2*i], prev[2*i+1])
				}
			})
		} else {
			h := hashNew()
			for i := range cur {
				cur[i] = hashNode(h, prev[2*i], prev[2*i+1])
			}
		}
		t.levels[lvl] = cur
	}
	return t
}

// Root returns the tree root.
func (t *Tree) Root() []byte { return t.levels[len(t.levels)-1][0] }

// NbLeaves returns the committed leaf count.
func (t *Tree) NbLeaves() int { return len(t.levels[0]) }

// Open proves the leaves at the given indices. Indices must be sorted and
// unique; the stark query phase canonicalizes them once and reuses the order
// everywhere.
func (t *Tree) Open(indices []int) *BatchProof {
	checkSortedUnique(indices, t.NbLeaves())
	p := &BatchProof{}
	need := append([]int(nil), indices...)
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		next := need[:0]
		for k := 0; k < len(need); {
			i := need[k]
			if k+1 < len(need) && need[k+1] == i^1 {
				k += 2
			} else {
				p.Siblings = append(p.Siblings, level[i^1])
				k++
			}
			next = append(next, i>>1)
		}
		need = next
	}
	return p
}

// VerifyBatch recomputes the root from the claimed leaves and the proof.
// Indices must be sorted and unique, with leaves in the same order.
func VerifyBatch(hashNew func() hash.Hash, root []byte, nbLeaves int, indices []int, leaves [][]byte, p *BatchProof) bool {
	if nbLeaves == 0 || nbLeaves&(nbLeaves-1) != 0 {
		return false
	}
	if len(indices) != len(leaves) || len(indices) == 0 {
		return false
	}
	if !sort.IntsAreSorted(indices) {
		return false
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] == indices[i-1] {
			return false
		}
	}
	if indices[0] < 0 || indices[len(indices)-1] >= nbLeaves {
		return false
	}

	h := hashNew()
	need := append([]int(nil), indices...)
	hashes := make([][]byte, len(leaves))
	for i, l := range leaves {
		hashes[i] = hashLeaf(h, l)
	}

	depth := bits.TrailingZeros(uint(nbLeaves))
	sib := 0
	for lvl := 0; lvl < depth; lvl++ {
		nextIdx := need[:0]
		nextHash := hashes[:0]
		for k := 0; k < len(need); {
			i := need[k]
			var left, right []byte
			if k+1 < len(need) && need[k+1] == i^1 {
				left, right = hashes[k], hashes[k+1]
				k += 2
			} else {
				if sib >= len(p.Siblings) {
					return false
				}
				if i&1 == 0 {
					left, right = hashes[k], p.Siblings[sib]
				} else {
					left, right = p.Siblings[sib], hashes[k]
				}
				sib++
				k++
			}
			nextIdx = append(nextIdx, i>>1)
			nextHash = append(nextHash, hashNode(h, left, right))
		}
		need = nextIdx
		hashes = nextHash
	}
	return sib == len(p.Siblings) && len(hashes) == 1 && bytes.Equal(hashes[0], root)
}

func checkSortedUnique(indices []int, n int) {
	for i, v := range indices {
		if v < 0 || v >= n {
			panic("stark: merkle index out of range")
		}
		if i > 0 && indices[i-1] >= v {
			panic("stark: merkle indices must be sorted and unique")
		}
	}
}
