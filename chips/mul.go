package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// MulChip proves MUL, MULH, MULHU and MULHSU with one 64-bit limb
// convolution. Signed operands are extended with sign limbs so the mod 2^64
// convolution equals the exact signed product.
type MulChip struct {
	isMul    int
	isMulh   int
	isMulhu  int
	isMulhsu int
	a        int
	b        int
	c        int
	prod     int // 8 product limbs
	carryLo  int // 8 carries, low bytes
	carryHi  int // 8 carries, high bytes
	bMsb     int
	cMsb     int
	width    int
}

func NewMulChip() *MulChip {
	var s span
	c := &MulChip{
		isMul:    s.next(),
		isMulh:   s.next(),
		isMulhu:  s.next(),
		isMulhsu: s.next(),
		a:        s.word(),
		b:        s.word(),
		c:        s.word(),
		prod:     s.block(8),
		carryLo:  s.block(8),
		carryHi:  s.block(8),
		bMsb:     s.next(),
		cMsb:     s.next(),
	}
	c.width = s.width()
	return c
}

func (c *MulChip) Name() string { return "mul" }

func (c *MulChip) MainWidth() int { return c.width }

func (c *MulChip) PreprocessedWidth() int { return 0 }

func (c *MulChip) Eval(b *air.Builder) {
	isMul := air.Col(c.isMul)
	isMulh := air.Col(c.isMulh)
	isMulhu := air.Col(c.isMulhu)
	isMulhsu := air.Col(c.isMulhsu)
	isReal := isMul.Add(isMulh).Add(isMulhu).Add(isMulhsu)
	isHigh := isMulh.Add(isMulhu).Add(isMulhsu)
	a := word(c.a)
	x := word(c.b)
	y := word(c.c)

	for _, f := range []*air.Expr{isMul, isMulh, isMulhu, isMulhsu, isReal} {
		b.AssertBool(f)
	}

	bSigned := isMulh.Add(isMulhsu)
	byteLookup(b, ByteMSB, x[3], air.Const(0), air.Col(c.bMsb), air.Const(0), bSigned)
	byteLookup(b, ByteMSB, y[3], air.Const(0), air.Col(c.cMsb), air.Const(0), isMulh)
	sbExt := bSigned.Mul(air.Col(c.bMsb)).MulConst(0xFF)
	scExt := isMulh.Mul(air.Col(c.cMsb)).MulConst(0xFF)

	bE := make([]*air.Expr, 8)
	cE := make([]*air.Expr, 8)
	for j := 0; j < 8; j++ {
		if j < 4 {
			bE[j] = x[j]
			cE[j] = y[j]
		} else {
			bE[j] = sbExt
			cE[j] = scExt
		}
	}

	for i := 0; i < 8; i++ {
		t := air.Const(0)
		for j := 0; j <= i; j++ {
			if i-j < 8 && j < 8 {
				t = t.Add(bE[j].Mul(cE[i-j]))
			}
		}
		if i > 0 {
			carryPrev := air.Col(c.carryLo + i - 1).Add(air.Col(c.carryHi + i - 1).MulConst(1 << 8))
			t = t.Add(carryPrev)
		}
		carry := air.Col(c.carryLo + i).Add(air.Col(c.carryHi + i).MulConst(1 << 8))
		b.AssertZero(t.Sub(air.Col(c.prod + i)).Sub(carry.MulConst(1 << 8)))
		rangeU8(b, air.Col(c.prod+i), isReal)
		rangeU8(b, air.Col(c.carryLo+i), isReal)
		rangeU8(b, air.Col(c.carryHi+i), isReal)
	}

	for k := 0; k < 4; k++ {
		want := isMul.Mul(air.Col(c.prod + k)).Add(isHigh.Mul(air.Col(c.prod + 4 + k)))
		b.AssertZero(isReal.Mul(a[k].Sub(want)))
	}

	op := isMul.MulConst(uint64(executor.MUL)).
		Add(isMulh.MulConst(uint64(executor.MULH))).
		Add(isMulhu.MulConst(uint64(executor.MULHU))).
		Add(isMulhsu.MulConst(uint64(executor.MULHSU)))
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)
}

func (c *MulChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *MulChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.MulEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		var bSigned, cSigned bool
		switch ev.Opcode {
		case executor.MUL:
			m.SetUint(row, c.isMul, 1)
		case executor.MULH:
			m.SetUint(row, c.isMulh, 1)
			bSigned, cSigned = true, true
		case executor.MULHU:
			m.SetUint(row, c.isMulhu, 1)
		default:
			m.SetUint(row, c.isMulhsu, 1)
			bSigned = true
		}
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)

		var bE, cE [8]uint64
		for k := 0; k < 4; k++ {
			bE[k] = uint64(ev.B >> (8 * k) & 0xFF)
			cE[k] = uint64(ev.C >> (8 * k) & 0xFF)
		}
		var sb, sc uint64
		if bSigned {
			msb := bl.MSB(uint8(ev.B >> 24))
			m.SetUint(row, c.bMsb, uint64(msb))
			sb = uint64(msb) * 0xFF
		}
		if cSigned {
			msb := bl.MSB(uint8(ev.C >> 24))
			m.SetUint(row, c.cMsb, uint64(msb))
			sc = uint64(msb) * 0xFF
		}
		for k := 4; k < 8; k++ {
			bE[k] = sb
			cE[k] = sc
		}

		carry := uint64(0)
		for i := 0; i < 8; i++ {
			t := carry
			for j := 0; j <= i && j < 8; j++ {
				if i-j < 8 {
					t += bE[j] * cE[i-j]
				}
			}
			p := t & 0xFF
			carry = t >> 8
			m.SetUint(row, c.prod+i, p)
			m.SetUint(row, c.carryLo+i, carry&0xFF)
			m.SetUint(row, c.carryHi+i, carry>>8)
			bl.U8(uint8(p))
			bl.U8(uint8(carry))
			bl.U8(uint8(carry >> 8))
		}
	}
	return m
}
