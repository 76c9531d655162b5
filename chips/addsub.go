package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// AddSubChip proves 32-bit modular addition and subtraction. Both reduce to
// one limb-wise carry chain: for ADD the chain computes a = b + c, for SUB it
// computes b = a + c, which is the same identity with the roles of the
// result swapped.
type AddSubChip struct {
	isAdd int
	isSub int
	a     int
	b     int
	c     int
	carry int
	width int
}

func NewAddSubChip() *AddSubChip {
	var s span
	c := &AddSubChip{
		isAdd: s.next(),
		isSub: s.next(),
		a:     s.word(),
		b:     s.word(),
		c:     s.word(),
		carry: s.word(),
	}
	c.width = s.width()
	return c
}

func (c *AddSubChip) Name() string { return "add_sub" }

func (c *AddSubChip) MainWidth() int { return c.width }

func (c *AddSubChip) PreprocessedWidth() int { return 0 }

func (c *AddSubChip) Eval(b *air.Builder) {
	isAdd := air.Col(c.isAdd)
	isSub := air.Col(c.isSub)
	isReal := isAdd.Add(isSub)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)
	carry := word(c.carry)

	b.AssertBool(isAdd)
	b.AssertBool(isSub)
	b.AssertBool(isReal)

	for k := 0; k < 4; k++ {
		sum := isAdd.Mul(a[k]).Add(isSub.Mul(x[k]))
		op1 := isAdd.Mul(x[k]).Add(isSub.Mul(a[k]))
		lhs := op1.Add(y[k])
		if k > 0 {
			lhs = lhs.Add(carry[k-1])
		}
		b.AssertZero(lhs.Sub(sum).Sub(carry[k].MulConst(1 << 8)))
		b.AssertBool(carry[k])
	}

	rangeWord(b, a, isReal)

	op := isSub.MulConst(uint64(executor.SUB)) // ADD tags as zero
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)
}

func (c *AddSubChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *AddSubChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.AddSubEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		op1 := ev.B
		if ev.Opcode == executor.SUB {
			m.SetUint(row, c.isSub, 1)
			op1 = ev.A
		} else {
			m.SetUint(row, c.isAdd, 1)
		}
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)
		carry := uint32(0)
		for k := 0; k < 4; k++ {
			t := (op1>>(8*k))&0xFF + (ev.C>>(8*k))&0xFF + carry
			carry = t >> 8
			m.SetUint(row, c.carry+k, uint64(carry))
		}
		bl.U8Word(ev.A)
	}
	return m
}
