package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// LtChip proves SLT and SLTU. The prover marks the most significant limb
// where the operands differ; all limbs above it must match, the marked pair
// must differ and resolves through the byte table's unsigned comparison.
// Signed comparison flips the top limb's sign bit first.
type LtChip struct {
	isSlt   int
	isSltu  int
	a       int
	b       int
	c       int
	diffSel int // one-hot differing limb marker
	inv     int // inverse of the marked limb difference
	bXor    int // top limb of b with the sign bit flipped
	cXor    int
	width   int
}

func NewLtChip() *LtChip {
	var s span
	c := &LtChip{
		isSlt:   s.next(),
		isSltu:  s.next(),
		a:       s.word(),
		b:       s.word(),
		c:       s.word(),
		diffSel: s.block(4),
		inv:     s.next(),
		bXor:    s.next(),
		cXor:    s.next(),
	}
	c.width = s.width()
	return c
}

func (c *LtChip) Name() string { return "lt" }

func (c *LtChip) MainWidth() int { return c.width }

func (c *LtChip) PreprocessedWidth() int { return 0 }

func (c *LtChip) Eval(b *air.Builder) {
	isSlt := air.Col(c.isSlt)
	isSltu := air.Col(c.isSltu)
	isReal := isSlt.Add(isSltu)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)

	b.AssertBool(isSlt)
	b.AssertBool(isSltu)
	b.AssertBool(isReal)
	b.AssertBool(a[0])
	for k := 1; k < 4; k++ {
		b.AssertZero(isReal.Mul(a[k]))
	}

	// Signed comparison reduces to unsigned on sign-flipped top limbs.
	byteLookup(b, ByteXor, x[3], air.Const(0x80), air.Col(c.bXor), air.Const(0), isSlt)
	byteLookup(b, ByteXor, y[3], air.Const(0x80), air.Col(c.cXor), air.Const(0), isSlt)

	cmpB := [4]*air.Expr{x[0], x[1], x[2],
		isSlt.Mul(air.Col(c.bXor)).Add(isSltu.Mul(x[3]))}
	cmpC := [4]*air.Expr{y[0], y[1], y[2],
		isSlt.Mul(air.Col(c.cXor)).Add(isSltu.Mul(y[3]))}

	sel := make([]*air.Expr, 4)
	selSum := air.Const(0)
	for k := 0; k < 4; k++ {
		sel[k] = air.Col(c.diffSel + k)
		b.AssertBool(sel[k])
		selSum = selSum.Add(sel[k])
	}
	b.AssertBool(selSum)

	// Limbs above the marked one agree.
	for k := 0; k < 4; k++ {
		for j := k + 1; j < 4; j++ {
			b.AssertZero(sel[k].Mul(cmpB[j].Sub(cmpC[j])))
		}
	}

	// The marked limbs differ, witnessed by an inverse.
	diff := air.Const(0)
	bSel := air.Const(0)
	cSel := air.Const(0)
	for k := 0; k < 4; k++ {
		diff = diff.Add(sel[k].Mul(cmpB[k].Sub(cmpC[k])))
		bSel = bSel.Add(sel[k].Mul(cmpB[k]))
		cSel = cSel.Add(sel[k].Mul(cmpC[k]))
	}
	b.AssertZero(diff.Mul(air.Col(c.inv)).Sub(selSum))

	byteLookup(b, ByteLTU, bSel, cSel, a[0], air.Const(0), selSum)

	// No marked limb means the operands are equal, so the result is zero.
	noDiff := isReal.Sub(selSum)
	for j := 0; j < 4; j++ {
		b.AssertZero(noDiff.Mul(cmpB[j].Sub(cmpC[j])))
	}
	b.AssertZero(noDiff.Mul(a[0]))

	op := isSlt.MulConst(uint64(executor.SLT)).Add(isSltu.MulConst(uint64(executor.SLTU)))
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)
}

func (c *LtChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *LtChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.LtEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		signed := ev.Opcode == executor.SLT
		if signed {
			m.SetUint(row, c.isSlt, 1)
		} else {
			m.SetUint(row, c.isSltu, 1)
		}
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)

		cmpB := ev.B
		cmpC := ev.C
		if signed {
			bx := bl.Xor(uint8(ev.B>>24), 0x80)
			cx := bl.Xor(uint8(ev.C>>24), 0x80)
			m.SetUint(row, c.bXor, uint64(bx))
			m.SetUint(row, c.cXor, uint64(cx))
			cmpB = ev.B&0x00FFFFFF | uint32(bx)<<24
			cmpC = ev.C&0x00FFFFFF | uint32(cx)<<24
		}
		for k := 3; k >= 0; k-- {
			bk := uint8(cmpB >> (8 * k))
			ck := uint8(cmpC >> (8 * k))
			if bk == ck {
				continue
			}
			m.SetUint(row, c.diffSel+k, 1)
			d := field.NewFelt(uint64(bk))
			cf := field.NewFelt(uint64(ck))
			d.Sub(&d, &cf)
			var inv field.Felt
			inv.Inverse(&d)
			m.Set(row, c.inv, inv)
			bl.LTU(bk, ck)
			break
		}
	}
	return m
}
