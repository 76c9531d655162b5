package recursion

import (
	"github.com/volta-zk/volta/air"
)

// reduceLog is the log2 trace height of a reduce proof, which bounds the
// reduction arity: one chain row per child statement.
const (
	reduceLog    = 3
	reduceArity  = 1 << reduceLog
	reduceHeight = 1 << reduceLog
)

// chainChip holds one child statement per row and constrains the rows into a
// contiguous chain whose merged boundary equals the parent's public values.
// Column layout mirrors the public vector: the 44 boundary fields, then the
// 16 child verifier key limbs, then a real flag marking occupied rows.
type chainChip struct{}

const (
	chainVK    = pubVK      // limb columns start where the boundary fields end
	chainReal  = pubVK + 16 // 60
	chainWidth = chainReal + 1
)

func (chainChip) Name() string { return "chain" }

func (chainChip) MainWidth() int { return chainWidth }

func (chainChip) PreprocessedWidth() int { return 0 }

func (chainChip) Eval(b *air.Builder) {
	real := air.Col(chainReal)
	realNext := air.ColNext(chainReal)
	notRealNext := air.Const(1).Sub(realNext)

	b.AssertBool(real)
	b.AssertBool(air.Col(pubIsFirst))
	b.AssertBool(air.Col(pubIsLast))

	// Real rows form a non-empty prefix.
	b.AssertZeroFirst(real.SubConst(1))
	b.AssertZeroTransition(realNext.Mul(air.Const(1).Sub(real)))

	// The first child opens the parent's claimed range.
	for _, p := range []int{pubPCStart, pubClkStart, pubSegFirst, pubIsFirst} {
		b.AssertZeroFirst(air.Col(p).Sub(air.Public(p)))
	}

	// Consecutive real rows chain: boundaries meet, segment indices count up,
	// and no inner child claims an execution endpoint.
	b.AssertZeroTransition(realNext.Mul(air.ColNext(pubPCStart).Sub(air.Col(pubPCEnd))))
	b.AssertZeroTransition(realNext.Mul(air.ColNext(pubClkStart).Sub(air.Col(pubClkEnd))))
	b.AssertZeroTransition(realNext.Mul(air.ColNext(pubSegFirst).Sub(air.Col(pubSegLast)).SubConst(1)))
	b.AssertZeroTransition(realNext.Mul(air.ColNext(pubIsFirst)))
	b.AssertZeroTransition(realNext.Mul(air.Col(pubIsLast)))

	// The last real row closes the range, whether the chain ends mid-trace or
	// runs to the last row.
	for _, p := range []int{pubPCEnd, pubClkEnd, pubSegLast, pubIsLast} {
		diff := air.Col(p).Sub(air.Public(p))
		b.AssertZeroTransition(real.Mul(notRealNext).Mul(diff))
		b.AssertZeroLast(real.Mul(diff))
	}

	// Every child echoes the terminal outputs.
	for k := 0; k < 4; k++ {
		b.AssertZero(real.Mul(air.Col(pubExit + k).Sub(air.Public(pubExit + k))))
	}
	for j := 0; j < 32; j++ {
		b.AssertZero(real.Mul(air.Col(pubCommit + j).Sub(air.Public(pubCommit + j))))
	}

	// Each child's verifier key goes to the digest bus; the digest chip
	// receives the public key limbs, so cancellation forces every child to be
	// verified under the key the parent publishes.
	limbs := make([]*air.Expr, 16)
	for i := range limbs {
		limbs[i] = air.Col(chainVK + i)
	}
	b.Send(air.BusDigest, limbs, real)
}

// digestChip receives the published child verifier key once per real chain
// row, closing the digest bus.
type digestChip struct{}

func (digestChip) Name() string { return "digest" }

func (digestChip) MainWidth() int { return 1 }

func (digestChip) PreprocessedWidth() int { return 0 }

func (digestChip) Eval(b *air.Builder) {
	real := air.Col(0)
	b.AssertBool(real)
	b.AssertZeroFirst(real.SubConst(1))
	b.AssertZeroTransition(air.ColNext(0).Mul(air.Const(1).Sub(real)))

	limbs := make([]*air.Expr, 16)
	for i := range limbs {
		limbs[i] = air.Public(pubVK + i)
	}
	b.Receive(air.BusDigest, limbs, real)
}

// reduceTraces fills both chip traces for one reduce step.
func reduceTraces(children []Statement, childVK [32]byte) (chain, digest *air.Matrix) {
	chain = air.NewMatrix(chainWidth, reduceHeight)
	digest = air.NewMatrix(1, reduceHeight)
	limbs := DigestLimbs(childVK)
	for i := range children {
		for p, v := range children[i].boundaryFelts() {
			chain.Set(i, p, v)
		}
		for k, l := range limbs {
			chain.SetUint(i, chainVK+k, uint64(l))
		}
		chain.SetUint(i, chainReal, 1)
		digest.SetUint(i, 0, 1)
	}
	return chain, digest
}
