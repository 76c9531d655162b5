package recursion

import (
	"fmt"

	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// Public value vector layout of a reduce proof: the merged boundary
// statement, then the children's shared verifier key digest as 16-bit limbs.
const (
	pubPCStart  = 0
	pubPCEnd    = 1
	pubClkStart = 2
	pubClkEnd   = 3
	pubSegFirst = 4
	pubSegLast  = 5
	pubIsFirst  = 6
	pubIsLast   = 7
	pubExit     = 8  // 4 byte limbs
	pubCommit   = 12 // 32 byte limbs
	pubVK       = 44 // 16 sixteen-bit limbs

	// NbPublics is the reduce proof public value count.
	NbPublics = 60
)

// Statement is the claim one proof attests: the boundary state of a
// contiguous segment range plus the terminal outputs echoed through it. VK
// is the digest of the verifier key that checks the proof carrying the
// statement.
type Statement struct {
	PCStart   uint32    `cbor:"1,keyasint"`
	PCEnd     uint32    `cbor:"2,keyasint"`
	ClkStart  uint32    `cbor:"3,keyasint"`
	ClkEnd    uint32    `cbor:"4,keyasint"`
	SegFirst  uint32    `cbor:"5,keyasint"`
	SegLast   uint32    `cbor:"6,keyasint"`
	IsFirst   bool      `cbor:"7,keyasint"`
	IsLast    bool      `cbor:"8,keyasint"`
	ExitCode  uint32    `cbor:"9,keyasint"`
	Committed [8]uint32 `cbor:"10,keyasint"`
	VK        [32]byte  `cbor:"11,keyasint"`
}

// LeafStatement lifts one base segment's public values into a statement
// attested by the base verifier key.
func LeafStatement(pv *executor.PublicValues, baseVK [32]byte) Statement {
	return Statement{
		PCStart:   pv.PCStart,
		PCEnd:     pv.PCEnd,
		ClkStart:  pv.ClkStart,
		ClkEnd:    pv.ClkEnd,
		SegFirst:  pv.SegmentIndex,
		SegLast:   pv.SegmentIndex,
		IsFirst:   pv.IsFirst,
		IsLast:    pv.IsLast,
		ExitCode:  pv.ExitCode,
		Committed: pv.Committed,
		VK:        baseVK,
	}
}

// DigestLimbs splits a key digest into 16 big-endian 16-bit limbs, the form
// the chain chip carries it in and the wrap circuit consumes it in.
func DigestLimbs(d [32]byte) [16]uint32 {
	var out [16]uint32
	for i := range out {
		out[i] = uint32(d[2*i])<<8 | uint32(d[2*i+1])
	}
	return out
}

// boundaryFelts flattens the statement's boundary fields in public value
// order, without the key limbs.
func (s *Statement) boundaryFelts() []field.Felt {
	out := make([]field.Felt, pubVK)
	out[pubPCStart] = field.NewFelt(uint64(s.PCStart))
	out[pubPCEnd] = field.NewFelt(uint64(s.PCEnd))
	out[pubClkStart] = field.NewFelt(uint64(s.ClkStart))
	out[pubClkEnd] = field.NewFelt(uint64(s.ClkEnd))
	out[pubSegFirst] = field.NewFelt(uint64(s.SegFirst))
	out[pubSegLast] = field.NewFelt(uint64(s.SegLast))
	if s.IsFirst {
		out[pubIsFirst] = field.One()
	}
	if s.IsLast {
		out[pubIsLast] = field.One()
	}
	for k := 0; k < 4; k++ {
		out[pubExit+k] = field.NewFelt(uint64(s.ExitCode >> (8 * k) & 0xFF))
	}
	for i, w := range s.Committed {
		for k := 0; k < 4; k++ {
			out[pubCommit+4*i+k] = field.NewFelt(uint64(w >> (8 * k) & 0xFF))
		}
	}
	return out
}

// PublicVector is the reduce proof public vector for a parent statement
// whose children were all verified under childVK.
func PublicVector(parent *Statement, childVK [32]byte) []field.Felt {
	out := append(parent.boundaryFelts(), make([]field.Felt, 16)...)
	for i, l := range DigestLimbs(childVK) {
		out[pubVK+i] = field.NewFelt(uint64(l))
	}
	return out
}

// mergeStatements folds a contiguous run of child statements into the parent
// claim, checking natively what the reduce trace constrains: chained
// boundaries, echoed outputs and a shared verifier key.
func mergeStatements(children []Statement) (Statement, error) {
	if len(children) == 0 {
		return Statement{}, fmt.Errorf("recursion: empty reduce step")
	}
	first, last := children[0], children[len(children)-1]
	for i := range children {
		c := &children[i]
		if c.VK != first.VK {
			return Statement{}, fmt.Errorf("recursion: child %d verifier key differs", i)
		}
		if c.ExitCode != last.ExitCode || c.Committed != last.Committed {
			return Statement{}, fmt.Errorf("recursion: child %d does not echo the terminal outputs", i)
		}
		if i > 0 {
			p := &children[i-1]
			if p.PCEnd != c.PCStart || p.ClkEnd != c.ClkStart || p.SegLast+1 != c.SegFirst {
				return Statement{}, fmt.Errorf("recursion: children %d and %d do not chain", i-1, i)
			}
			if c.IsFirst {
				return Statement{}, fmt.Errorf("recursion: child %d claims the execution start", i)
			}
		}
		if i < len(children)-1 && c.IsLast {
			return Statement{}, fmt.Errorf("recursion: child %d claims the execution end", i)
		}
	}
	return Statement{
		PCStart:   first.PCStart,
		PCEnd:     last.PCEnd,
		ClkStart:  first.ClkStart,
		ClkEnd:    last.ClkEnd,
		SegFirst:  first.SegFirst,
		SegLast:   last.SegLast,
		IsFirst:   first.IsFirst,
		IsLast:    last.IsLast,
		ExitCode:  last.ExitCode,
		Committed: last.Committed,
	}, nil
}
