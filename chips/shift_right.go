package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// ShiftRightChip proves SRL and SRA. Limbs are bit-shifted through the byte
// table with the shifted-out bits repositioned high, then byte-rotated with
// a one-hot selector; SRA feeds sign bytes into the vacated positions.
type ShiftRightChip struct {
	isSrl  int
	isSra  int
	a      int
	b      int
	c      int
	cBits  int
	lo     int // b_k >> s
	carry  int // (b_k << (8-s)) mod 256
	msb    int
	fillLo int // fill byte >> s
	fillCa int // (fill byte << (8-s)) mod 256
	width  int
}

func NewShiftRightChip() *ShiftRightChip {
	var s span
	c := &ShiftRightChip{
		isSrl:  s.next(),
		isSra:  s.next(),
		a:      s.word(),
		b:      s.word(),
		c:      s.word(),
		cBits:  s.block(8),
		lo:     s.word(),
		carry:  s.word(),
		msb:    s.next(),
		fillLo: s.next(),
		fillCa: s.next(),
	}
	c.width = s.width()
	return c
}

func (c *ShiftRightChip) Name() string { return "shift_right" }

func (c *ShiftRightChip) MainWidth() int { return c.width }

func (c *ShiftRightChip) PreprocessedWidth() int { return 0 }

func (c *ShiftRightChip) Eval(b *air.Builder) {
	isSrl := air.Col(c.isSrl)
	isSra := air.Col(c.isSra)
	isReal := isSrl.Add(isSra)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)
	lo := word(c.lo)
	carry := word(c.carry)

	b.AssertBool(isSrl)
	b.AssertBool(isSra)
	b.AssertBool(isReal)

	bits := make([]*air.Expr, 8)
	bitSum := air.Const(0)
	for k := range bits {
		bits[k] = air.Col(c.cBits + k)
		b.AssertBool(bits[k])
		bitSum = bitSum.Add(bits[k].MulConst(1 << k))
	}
	b.AssertZero(isReal.Mul(bitSum.Sub(y[0])))

	s := bits[0].Add(bits[1].MulConst(2)).Add(bits[2].MulConst(4))
	for k := 0; k < 4; k++ {
		byteLookup(b, ByteShr, x[k], s, lo[k], carry[k], isReal)
	}

	// Sign fill byte: 0xFF on arithmetic shifts of negative values.
	byteLookup(b, ByteMSB, x[3], air.Const(0), air.Col(c.msb), air.Const(0), isSra)
	fill := isSra.Mul(air.Col(c.msb)).MulConst(0xFF)
	byteLookup(b, ByteShr, fill, s, air.Col(c.fillLo), air.Col(c.fillCa), isReal)

	// Word after the bit shift, before the byte rotation.
	out := [4]*air.Expr{
		lo[0].Add(carry[1]),
		lo[1].Add(carry[2]),
		lo[2].Add(carry[3]),
		lo[3].Add(air.Col(c.fillCa)),
	}

	not3 := air.Const(1).Sub(bits[3])
	not4 := air.Const(1).Sub(bits[4])
	sel := [4]*air.Expr{
		not3.Mul(not4),
		bits[3].Mul(not4),
		not3.Mul(bits[4]),
		bits[3].Mul(bits[4]),
	}
	for j := 0; j < 4; j++ {
		want := air.Const(0)
		for t := 0; t < 4; t++ {
			if j+t <= 3 {
				want = want.Add(sel[t].Mul(out[j+t]))
			} else {
				want = want.Add(sel[t].Mul(fill))
			}
		}
		b.AssertZero(isReal.Mul(a[j].Sub(want)))
	}

	op := isSrl.MulConst(uint64(executor.SRL)).Add(isSra.MulConst(uint64(executor.SRA)))
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)
}

func (c *ShiftRightChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *ShiftRightChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.ShiftRightEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		sra := ev.Opcode == executor.SRA
		if sra {
			m.SetUint(row, c.isSra, 1)
		} else {
			m.SetUint(row, c.isSrl, 1)
		}
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)
		c0 := uint8(ev.C)
		for k := 0; k < 8; k++ {
			m.SetUint(row, c.cBits+k, uint64(c0>>k&1))
		}
		s := c0 & 7
		for k := 0; k < 4; k++ {
			lo, carry := bl.Shr(uint8(ev.B>>(8*k)), s)
			m.SetUint(row, c.lo+k, uint64(lo))
			m.SetUint(row, c.carry+k, uint64(carry))
		}
		var fill uint8
		if sra {
			msb := bl.MSB(uint8(ev.B >> 24))
			m.SetUint(row, c.msb, uint64(msb))
			fill = msb * 0xFF
		}
		fLo, fCa := bl.Shr(fill, s)
		m.SetUint(row, c.fillLo, uint64(fLo))
		m.SetUint(row, c.fillCa, uint64(fCa))
	}
	return m
}
