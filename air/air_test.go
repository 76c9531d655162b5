package air

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/volta-zk/volta/field"
)

func liftRow(vals ...uint64) []field.Ext {
	out := make([]field.Ext, len(vals))
	for i, v := range vals {
		out[i] = field.ExtFromUint64(v)
	}
	return out
}

func TestExprEval(t *testing.T) {
	f := &Frame{
		Main:     liftRow(3, 5),
		MainNext: liftRow(7, 11),
		Pre:      liftRow(2),
		PreNext:  liftRow(4),
		Publics:  liftRow(9),
	}

	// 3*5 + 7 - 2 = 20
	e := Col(0).Mul(Col(1)).Add(ColNext(0)).Sub(Pre(0))
	require.Equal(t, field.ExtFromUint64(20), e.Eval(f))

	// public - 9 = 0
	pub := Public(0).SubConst(9).Eval(f)
	require.True(t, pub.IsZero())

	// negation: -(3) + 3 = 0
	neg := Col(0).Neg().Add(Col(0)).Eval(f)
	require.True(t, neg.IsZero())

	// next-row preprocessed
	require.Equal(t, field.ExtFromUint64(4), PreNext(0).Eval(f))
}

func TestExprDegree(t *testing.T) {
	require.Equal(t, 0, Const(42).Degree())
	require.Equal(t, 1, Col(0).Degree())
	require.Equal(t, 1, Col(0).Add(Col(1)).Degree())
	require.Equal(t, 2, Col(0).Mul(Col(1)).Degree())
	require.Equal(t, 3, Col(0).Mul(Col(1)).Mul(ColNext(0)).Degree())
	require.Equal(t, 2, Col(0).Mul(Col(1)).Sub(Col(2)).Degree())
	require.Equal(t, 1, Col(0).Neg().Degree())
}

func TestBuilderDegreeBounds(t *testing.T) {
	b := NewBuilder("test", 8, 0, 0)

	deg5 := Col(0).Mul(Col(1)).Mul(Col(2)).Mul(Col(3)).Mul(Col(4))
	b.AssertZero(deg5) // at the bound

	deg6 := deg5.Mul(Col(5))
	require.Panics(t, func() { b.AssertZero(deg6) })

	// boundary rows have a tighter bound
	require.Panics(t, func() { b.AssertZeroFirst(deg5) })
	b.AssertZeroLast(Col(0).Mul(Col(1)).Mul(Col(2)).Mul(Col(3)))

	require.Len(t, b.Constraints(), 2)
}

func TestBuilderRangeChecks(t *testing.T) {
	b := NewBuilder("test", 2, 1, 1)

	require.Panics(t, func() { b.AssertZero(Col(2)) })
	require.Panics(t, func() { b.AssertZero(Pre(1)) })
	require.Panics(t, func() { b.AssertZero(Public(1)) })

	b.AssertZero(Col(1).Sub(Pre(0)).Add(Public(0)))
	require.Len(t, b.Constraints(), 1)
}

func TestBuilderInteractions(t *testing.T) {
	b := NewBuilder("test", 4, 0, 0)

	b.Send(BusAlu, []*Expr{Col(0), Col(1)}, Col(3))
	b.Receive(BusByte, []*Expr{Col(2)}, Const(1))

	ints := b.Interactions()
	require.Len(t, ints, 2)
	require.True(t, ints[0].IsSend)
	require.Equal(t, BusAlu, ints[0].Bus)
	require.False(t, ints[1].IsSend)
	require.Equal(t, BusByte, ints[1].Bus)

	require.Panics(t, func() { b.Send(BusAlu, nil, Const(1)) })
	require.Panics(t, func() { b.Send(Bus(200), []*Expr{Col(0)}, Const(1)) })
}

func TestBuilderDomains(t *testing.T) {
	b := NewBuilder("test", 2, 0, 0)
	b.AssertZeroFirst(Col(0))
	b.AssertZeroLast(Col(0).SubConst(1))
	b.AssertZeroTransition(ColNext(0).Sub(Col(0)))
	b.AssertBool(Col(1))

	cs := b.Constraints()
	require.Equal(t, FirstRow, cs[0].Domain)
	require.Equal(t, LastRow, cs[1].Domain)
	require.Equal(t, Transition, cs[2].Domain)
	require.Equal(t, All, cs[3].Domain)

	// boolean constraint holds for 0 and 1, fails for 2
	for v, want := range map[uint64]bool{0: true, 1: true, 2: false} {
		f := &Frame{Main: liftRow(0, v)}
		got := cs[3].E.Eval(f)
		require.Equal(t, want, got.IsZero(), "value %d", v)
	}
}

func TestMatrixPadding(t *testing.T) {
	m := NewMatrix(3, 5)
	for r := 0; r < 5; r++ {
		for c := 0; c < 3; c++ {
			m.SetUint(r, c, uint64(10*r+c))
		}
	}

	m.PadToHeight(8)
	require.Equal(t, 8, m.Height)
	require.Equal(t, field.NewFelt(42), m.Get(4, 2))
	for c := 0; c < 3; c++ {
		v := m.Get(7, c)
		require.True(t, v.IsZero())
	}

	col := make([]field.Felt, 8)
	m.Column(1, col)
	require.Equal(t, field.NewFelt(31), col[3])
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 2, 1: 2, 2: 2, 3: 4, 4: 4, 5: 8, 1023: 1024, 1024: 1024, 1025: 2048}
	for in, want := range cases {
		require.Equal(t, want, NextPowerOfTwo(in), "n=%d", in)
	}
}

func TestExtMatrixFlatten(t *testing.T) {
	m := NewExtMatrix(2, 2)
	m.Set(0, 0, field.ExtFromLimbs(field.NewFelt(1), field.NewFelt(2), field.NewFelt(3), field.NewFelt(4)))
	m.Set(1, 1, field.ExtFromUint64(7))

	flat := m.Flatten()
	require.Equal(t, 8, flat.Width)
	require.Equal(t, field.NewFelt(1), flat.Get(0, 0))
	require.Equal(t, field.NewFelt(2), flat.Get(0, 1))
	require.Equal(t, field.NewFelt(4), flat.Get(0, 3))
	require.Equal(t, field.NewFelt(7), flat.Get(1, 4))
	pad := flat.Get(1, 5)
	require.True(t, pad.IsZero())
}
