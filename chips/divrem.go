package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// DivRemChip proves DIV, DIVU, REM and REMU. The quotient and remainder are
// witnessed; the products q*c are outsourced to the multiplier chip, the
// magnitude bound |r| < |c| to the comparator chip, and this chip glues them
// with the mod 2^32 identity b = lo(q*c) + r plus the sign analysis that
// makes (q, r) the unique truncated division pair.
//
// Division never faults: c = 0 forces q = 2^32-1 and r = b, and the signed
// overflow pair (-2^31, -1) forces q = b and r = 0, both matching the
// RISC-V M specification.
type DivRemChip struct {
	isDiv  int
	isDivu int
	isRem  int
	isRemu int

	a, b, c int
	q, r    int
	lo, hi  int // 64-bit product q*c received from the multiplier
	lc      int // carries of lo + r = b

	bMsb, rMsb, cMsb int

	rAbs, wCar int // |r| and the carries of its negation chain
	cAbs, vCar int

	cZero, cInv int // c == 0 flag and its inverse witness
	rZero, rInv int
	ovf         int // signed overflow flag

	width int
}

func NewDivRemChip() *DivRemChip {
	var s span
	c := &DivRemChip{
		isDiv:  s.next(),
		isDivu: s.next(),
		isRem:  s.next(),
		isRemu: s.next(),
		a:      s.word(),
		b:      s.word(),
		c:      s.word(),
		q:      s.word(),
		r:      s.word(),
		lo:     s.word(),
		hi:     s.word(),
		lc:     s.word(),
		bMsb:   s.next(),
		rMsb:   s.next(),
		cMsb:   s.next(),
		rAbs:   s.word(),
		wCar:   s.word(),
		cAbs:   s.word(),
		vCar:   s.word(),
		cZero:  s.next(),
		cInv:   s.next(),
		rZero:  s.next(),
		rInv:   s.next(),
		ovf:    s.next(),
	}
	c.width = s.width()
	return c
}

func (c *DivRemChip) Name() string { return "div_rem" }

func (c *DivRemChip) MainWidth() int { return c.width }

func (c *DivRemChip) PreprocessedWidth() int { return 0 }

func (c *DivRemChip) Eval(b *air.Builder) {
	isDiv := air.Col(c.isDiv)
	isDivu := air.Col(c.isDivu)
	isRem := air.Col(c.isRem)
	isRemu := air.Col(c.isRemu)
	isReal := isDiv.Add(isDivu).Add(isRem).Add(isRemu)
	signed := isDiv.Add(isRem)
	unsigned := isDivu.Add(isRemu)
	divSel := isDiv.Add(isDivu)
	remSel := isRem.Add(isRemu)

	for _, f := range []*air.Expr{isDiv, isDivu, isRem, isRemu, isReal} {
		b.AssertBool(f)
	}

	a := word(c.a)
	x := word(c.b)
	y := word(c.c)
	q := word(c.q)
	r := word(c.r)
	lo := word(c.lo)
	hi := word(c.hi)
	lc := word(c.lc)
	rAbs := word(c.rAbs)
	wCar := word(c.wCar)
	cAbs := word(c.cAbs)
	vCar := word(c.vCar)

	rangeWord(b, q, isReal)
	rangeWord(b, r, isReal)
	rangeWord(b, rAbs, isReal)
	rangeWord(b, cAbs, isReal)

	// lo + r = b mod 2^32 with the overflow bit kept in lc[3].
	for k := 0; k < 4; k++ {
		lhs := lo[k].Add(r[k])
		if k > 0 {
			lhs = lhs.Add(lc[k-1])
		}
		b.AssertZero(lhs.Sub(x[k]).Sub(lc[k].MulConst(1 << 8)))
		b.AssertBool(lc[k])
	}

	// c == 0 and r == 0 witnesses.
	zC := y[0].Add(y[1]).Add(y[2]).Add(y[3])
	zR := r[0].Add(r[1]).Add(r[2]).Add(r[3])
	cZero := air.Col(c.cZero)
	rZero := air.Col(c.rZero)
	b.AssertBool(cZero)
	b.AssertBool(rZero)
	b.AssertZero(cZero.Mul(zC))
	b.AssertZero(rZero.Mul(zR))
	b.AssertZero(isReal.Mul(cZero.Add(zC.Mul(air.Col(c.cInv))).SubConst(1)))
	b.AssertZero(isReal.Mul(rZero.Add(zR.Mul(air.Col(c.rInv))).SubConst(1)))

	// Division by zero: q = 2^32-1 and r = b.
	for k := 0; k < 4; k++ {
		b.AssertZero(cZero.Mul(q[k].SubConst(255)))
		b.AssertZero(cZero.Mul(r[k].Sub(x[k])))
	}

	// Signed overflow: b = -2^31 and c = -1 force q = b, r = 0.
	ovf := air.Col(c.ovf)
	b.AssertBool(ovf)
	b.AssertZero(ovf.Mul(unsigned))
	b.AssertZero(ovf.Mul(x[3].SubConst(128)))
	for k := 0; k < 3; k++ {
		b.AssertZero(ovf.Mul(x[k]))
	}
	for k := 0; k < 4; k++ {
		b.AssertZero(ovf.Mul(y[k].SubConst(255)))
		b.AssertZero(ovf.Mul(q[k].Sub(x[k])))
		b.AssertZero(ovf.Mul(r[k]))
	}

	// Sign limbs, needed on the signed path only.
	byteLookup(b, ByteMSB, x[3], air.Const(0), air.Col(c.bMsb), air.Const(0), signed)
	byteLookup(b, ByteMSB, r[3], air.Const(0), air.Col(c.rMsb), air.Const(0), signed)
	byteLookup(b, ByteMSB, y[3], air.Const(0), air.Col(c.cMsb), air.Const(0), signed)
	bMsb := air.Col(c.bMsb)
	rMsb := air.Col(c.rMsb)

	// Unsigned: the full product fits 32 bits exactly.
	for k := 0; k < 4; k++ {
		b.AssertZero(unsigned.Mul(hi[k]))
	}
	b.AssertZero(unsigned.Mul(lc[3]))

	// Signed: the high product half is the sign extension determined by the
	// borrow balance m = lc[3] + sign(b) - sign(r), which must be a bit.
	signedNormal := signed.Mul(air.Const(1).Sub(ovf))
	m := lc[3].Add(bMsb).Sub(rMsb)
	b.AssertZero(signedNormal.Mul(m).Mul(m.SubConst(1)))
	for k := 0; k < 4; k++ {
		b.AssertZero(signedNormal.Mul(hi[k].Sub(m.MulConst(255))))
	}

	// A nonzero remainder carries the dividend's sign.
	b.AssertZero(signed.Mul(air.Const(1).Sub(rZero)).Mul(rMsb.Sub(bMsb)))

	// Magnitude words: identity on the unsigned path, two's complement
	// negation when the signed value is negative.
	negChain := func(val, abs, car [4]*air.Expr, neg *air.Expr) {
		one := air.Const(1)
		for k := 0; k < 4; k++ {
			b.AssertBool(car[k])
			b.AssertZero(one.Sub(neg).Mul(abs[k].Sub(val[k])))
			lhs := val[k].Add(abs[k])
			if k > 0 {
				lhs = lhs.Add(car[k-1])
			}
			b.AssertZero(neg.Mul(lhs.Sub(car[k].MulConst(1 << 8))))
		}
		b.AssertZero(neg.Mul(car[3].SubConst(1)))
	}
	negChain(r, rAbs, wCar, signed.Mul(rMsb))
	negChain(y, cAbs, vCar, signed.Mul(air.Col(c.cMsb)))

	// Result selection.
	for k := 0; k < 4; k++ {
		b.AssertZero(isReal.Mul(a[k].Sub(divSel.Mul(q[k])).Sub(remSel.Mul(r[k]))))
	}

	op := isDiv.MulConst(uint64(executor.DIV)).
		Add(isDivu.MulConst(uint64(executor.DIVU))).
		Add(isRem.MulConst(uint64(executor.REM))).
		Add(isRemu.MulConst(uint64(executor.REMU)))
	b.Receive(air.BusAlu, aluFields(op, a, x, y), isReal)

	hiOp := signed.MulConst(uint64(executor.MULH)).Add(unsigned.MulConst(uint64(executor.MULHU)))
	b.Send(air.BusAlu, aluFields(opcodeExpr(executor.MUL).Mul(isReal), lo, q, y), isReal)
	b.Send(air.BusAlu, aluFields(hiOp, hi, q, y), isReal)
	b.Send(air.BusAlu, aluFields(opcodeExpr(executor.SLTU).Mul(isReal), constWord(1), rAbs, cAbs),
		isReal.Mul(air.Const(1).Sub(cZero)))
}

func (c *DivRemChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *DivRemChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.DivRemEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)))
	for row, ev := range events {
		var isSigned bool
		switch ev.Opcode {
		case executor.DIV:
			m.SetUint(row, c.isDiv, 1)
			isSigned = true
		case executor.DIVU:
			m.SetUint(row, c.isDivu, 1)
		case executor.REM:
			m.SetUint(row, c.isRem, 1)
			isSigned = true
		default:
			m.SetUint(row, c.isRemu, 1)
		}

		q := executor.DivQuotient(ev.Opcode, ev.B, ev.C)
		r := executor.DivRemainder(ev.Opcode, ev.B, ev.C)
		setWord(m, row, c.a, ev.A)
		setWord(m, row, c.b, ev.B)
		setWord(m, row, c.c, ev.C)
		setWord(m, row, c.q, q)
		setWord(m, row, c.r, r)
		bl.U8Word(q)
		bl.U8Word(r)

		prod := uint64(q) * uint64(ev.C)
		lo := uint32(prod)
		hi := uint32(prod >> 32)
		if isSigned {
			hi = uint32(uint64(int64(int32(q))*int64(int32(ev.C))) >> 32)
		}
		setWord(m, row, c.lo, lo)
		setWord(m, row, c.hi, hi)

		carry := uint32(0)
		for k := 0; k < 4; k++ {
			t := (lo>>(8*k))&0xFF + (r>>(8*k))&0xFF + carry
			carry = t >> 8
			m.SetUint(row, c.lc+k, uint64(carry))
		}

		if isSigned {
			m.SetUint(row, c.bMsb, uint64(bl.MSB(uint8(ev.B>>24))))
			m.SetUint(row, c.rMsb, uint64(bl.MSB(uint8(r>>24))))
			m.SetUint(row, c.cMsb, uint64(bl.MSB(uint8(ev.C>>24))))
		}

		fillAbs := func(val uint32, abs, car int, neg bool) {
			av := val
			if neg {
				av = -val
				w := uint32(0)
				for k := 0; k < 4; k++ {
					t := (val>>(8*k))&0xFF + (av>>(8*k))&0xFF + w
					w = t >> 8
					m.SetUint(row, car+k, uint64(w))
				}
			}
			setWord(m, row, abs, av)
			bl.U8Word(av)
		}
		fillAbs(r, c.rAbs, c.wCar, isSigned && r>>31 == 1)
		fillAbs(ev.C, c.cAbs, c.vCar, isSigned && ev.C>>31 == 1)

		if ev.C == 0 {
			m.SetUint(row, c.cZero, 1)
		} else {
			m.Set(row, c.cInv, invFelt(sumLimbs(ev.C)))
		}
		if r == 0 {
			m.SetUint(row, c.rZero, 1)
		} else {
			m.Set(row, c.rInv, invFelt(sumLimbs(r)))
		}
		if isSigned && ev.B == 1<<31 && ev.C == 0xFFFFFFFF {
			m.SetUint(row, c.ovf, 1)
		}
	}
	return m
}

// sumLimbs returns the felt sum of the byte limbs of v.
func sumLimbs(v uint32) field.Felt {
	s := uint64(v&0xFF) + uint64(v>>8&0xFF) + uint64(v>>16&0xFF) + uint64(v>>24&0xFF)
	return field.NewFelt(s)
}

func invFelt(v field.Felt) field.Felt {
	var inv field.Felt
	inv.Inverse(&v)
	return inv
}
