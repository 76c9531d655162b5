package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// ShiftLeftChip proves SLL. The shift amount c mod 32 splits into a bit
// shift applied limb-wise through the byte table and a byte rotation applied
// with a one-hot selector over the limbs.
type ShiftLeftChip struct {
	isReal int
	a      int
	b      int
	c      int
	cBits  int // 8 bits of the low shift limb
	lo     int // bit-shifted limbs
	hi     int // bits carried out of each limb
	width  int
}

func NewShiftLeftChip() *ShiftLeftChip {
	var s span
	c := &ShiftLeftChip{
		isReal: s.next(),
		a:      s.word(),
		b:      s.word(),
		c:      s.word(),
		cBits:  s.block(8),
		lo:     s.word(),
		hi:     s.word(),
	}
	c.width = s.width()
	return c
}

func (c *ShiftLeftChip) Name() string { return "shift_left" }

func (c *ShiftLeftChip) MainWidth() int { return c.width }

func (c *ShiftLeftChip) PreprocessedWidth() int { return 0 }

func (c *ShiftLeftChip) Eval(b *air.Builder) {
	isReal := air.Col(c.isReal)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)
	lo := word(c.lo)
	hi := word(c.hi)

	b.AssertBool(isReal)

	bits := make([]*air.Expr, 8)
	bitSum := air.Const(0)
	for k := range bits {
		bits[k] = air.Col(c.cBits + k)
		b.AssertBool(bits[k])
		bitSum = bitSum.Add(bits[k].MulConst(1 << k))
	}
	b.AssertZero(isReal.Mul(bitSum.Sub(y[0])))

	// Bit shift within each limb.
	s := bits[0].Add(bits[1].MulConst(2)).Add(bits[2].MulConst(4))
	for k := 0; k < 4; k++ {
		byteLookup(b, ByteSll, x[k], s, lo[k], hi[k], isReal)
	}

	// Byte rotation selected one-hot from bits 3 and 4.
	not3 := air.Const(1).Sub(bits[3])
	not4 := air.Const(1).Sub(bits[4])
	sel := [4]*air.Expr{
		not3.Mul(not4),
		bits[3].Mul(not4),
		not3.Mul(bits[4]),
		bits[3].Mul(bits[4]),
	}
	sh := [4]*air.Expr{lo[0], lo[1].Add(hi[0]), lo[2].Add(hi[1]), lo[3].Add(hi[2])}
	for j := 0; j < 4; j++ {
		want := air.Const(0)
		for t := 0; t <= j; t++ {
			want = want.Add(sel[t].Mul(sh[j-t]))
		}
		b.AssertZero(isReal.Mul(a[j].Sub(want)))
	}

	b.Receive(air.BusAlu, aluFields(opcodeExpr(executor.SLL).Mul(isReal), a, x, y), isReal)
}

func (c *ShiftLeftChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *ShiftLeftChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.ShiftLeftEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		m.SetUint(row, c.isReal, 1)
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)
		c0 := uint8(ev.C)
		for k := 0; k < 8; k++ {
			m.SetUint(row, c.cBits+k, uint64(c0>>k&1))
		}
		s := c0 & 7
		for k := 0; k < 4; k++ {
			lo, hi := bl.Sll(uint8(ev.B>>(8*k)), s)
			m.SetUint(row, c.lo+k, uint64(lo))
			m.SetUint(row, c.hi+k, uint64(hi))
		}
	}
	return m
}
