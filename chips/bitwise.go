package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// BitwiseChip proves XOR, OR and AND by delegating each limb pair to the
// byte table.
type BitwiseChip struct {
	isXor int
	isOr  int
	isAnd int
	a     int
	b     int
	c     int
	width int
}

func NewBitwiseChip() *BitwiseChip {
	var s span
	c := &BitwiseChip{
		isXor: s.next(),
		isOr:  s.next(),
		isAnd: s.next(),
		a:     s.word(),
		b:     s.word(),
		c:     s.word(),
	}
	c.width = s.width()
	return c
}

func (c *BitwiseChip) Name() string { return "bitwise" }

func (c *BitwiseChip) MainWidth() int { return c.width }

func (c *BitwiseChip) PreprocessedWidth() int { return 0 }

func (c *BitwiseChip) Eval(b *air.Builder) {
	isXor := air.Col(c.isXor)
	isOr := air.Col(c.isOr)
	isAnd := air.Col(c.isAnd)
	isReal := isXor.Add(isOr).Add(isAnd)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)

	b.AssertBool(isXor)
	b.AssertBool(isOr)
	b.AssertBool(isAnd)
	b.AssertBool(isReal)

	// The byte operation tag mirrors the flag selection.
	byteOp := isXor.MulConst(uint64(ByteXor)).
		Add(isOr.MulConst(uint64(ByteOr))).
		Add(isAnd.MulConst(uint64(ByteAnd)))
	for k := 0; k < 4; k++ {
		b.Send(air.BusByte, []*air.Expr{byteOp, x[k], y[k], a[k], air.Const(0)}, isReal)
	}

	op := isXor.MulConst(uint64(executor.XOR)).
		Add(isOr.MulConst(uint64(executor.OR))).
		Add(isAnd.MulConst(uint64(executor.AND)))
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)
}

func (c *BitwiseChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *BitwiseChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.BitwiseEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		switch ev.Opcode {
		case executor.XOR:
			m.SetUint(row, c.isXor, 1)
		case executor.OR:
			m.SetUint(row, c.isOr, 1)
		default:
			m.SetUint(row, c.isAnd, 1)
		}
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)
		for k := 0; k < 4; k++ {
			bk := uint8(ev.B >> (8 * k))
			ck := uint8(ev.C >> (8 * k))
			switch ev.Opcode {
			case executor.XOR:
				bl.Xor(bk, ck)
			case executor.OR:
				bl.Or(bk, ck)
			default:
				bl.And(bk, ck)
			}
		}
	}
	return m
}
