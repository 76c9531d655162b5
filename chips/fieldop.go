package chips

import (
	"crypto/elliptic"
	"math/big"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// FieldOpChip proves the four 256-bit modular precompiles in a shared 32-row
// slot: edwards25519 addition, P-256 addition and doubling, and the generic
// mulmod. A slot carries fifteen 32-limb byte banks holding the operands and
// witnesses of the dispatched op. Rows 0..7 read the operands, rows 8..18
// each check one product identity opA*opB + lin = q*M over the integers,
// rows 19..24 enforce canonical ranges by limb comparison, and rows 25..28
// write the results back.
//
// An identity row latches its two convolution operands, a 33-digit balanced
// byte decomposition of the quotient q, and the coefficients of the witness
// polynomial w with E(T) = (T-256)*w(T), where E collects the identity's
// base-256 coefficients. Coefficient equality over the field implies the
// integer identity because every coefficient stays far below p.
type FieldOpChip struct {
	sc   slotCols
	rowF int // 29 one-hot row flags
	preW int

	ev    eventCols
	flags int // 4 op selectors, slot constant, summing to isReal
	banks int // 15 x 32 byte limbs
	opA   int // latched convolution operand
	opB   int // latched signed right operand
	q     int // 33 quotient digits, stored +128
	w     int // 63 witness coefficients, stored +2^17
	wLo   int
	wHi   int
	wTop  int // 2-bit head of the witness decomposition
	ltF   int // 32 one-hot marked-limb flags for the comparison rows

	reads  [4]access
	writes [4]accessW
	width  int

	ids  [4][]foIdentity
	cmps [4][]foCompare

	pEd, pP256      *big.Int
	pEdLimb, pPLimb [32]uint8
	dLimb           [32]uint8
}

const (
	foEdAdd = iota
	foP256Add
	foP256Double
	foBigMul
)

const (
	fieldOpSlot = 32
	foIdRows    = 11
	foWShift    = 1 << 17
)

var foCodes = [4]executor.SyscallCode{
	executor.SyscallEdAdd,
	executor.SyscallP256Add,
	executor.SyscallP256Double,
	executor.SyscallBigIntMulMod,
}

const (
	bankX1 = iota // first operand / bigint x
	bankY1
	bankX2 // second operand x / bigint y
	bankY2 // second operand y / bigint modulus
	bankM1 // ed x1*x2, p256 denominator inverse
	bankM2 // ed y1*y2, p256 lambda
	bankM3 // ed x1*y2, p256d x1^2
	bankM4 // ed x2*y1
	bankT  // ed x1*x2*y1*y2
	bankD1 // ed 1 + d*t
	bankD2 // ed 1 - d*t
	bankI1
	bankI2
	bankX3 // result x / bigint remainder
	bankY3 // result y
)

type foTerm struct {
	c    int64
	bank int
}

// foIdentity is one product identity: a*b + lin + k = q*M over the
// integers, with b given either as a signed bank combination or a constant.
type foIdentity struct {
	a   int
	b   []foTerm
	bc  *[32]uint8
	lin []foTerm
	k   int64
}

// foCompare asserts bank a is strictly below a bound, either a constant
// modulus or another bank.
type foCompare struct {
	a     int
	bBank int // -1 for the constant bound
	bc    [32]uint8
}

func bigLimbs(v *big.Int) [32]uint8 {
	var out [32]uint8
	buf := make([]byte, 32)
	v.FillBytes(buf)
	for j := 0; j < 32; j++ {
		out[j] = buf[31-j]
	}
	return out
}

func NewFieldOpChip() *FieldOpChip {
	var p span
	c := &FieldOpChip{}
	c.sc = newSlotCols(&p)
	c.rowF = p.block(29)
	c.preW = p.width()

	var s span
	c.ev = newEventCols(&s)
	c.flags = s.block(4)
	c.banks = s.block(15 * 32)
	c.opA = s.block(32)
	c.opB = s.block(32)
	c.q = s.block(33)
	c.w = s.block(63)
	c.wLo = s.block(63)
	c.wHi = s.block(63)
	c.wTop = s.block(63)
	c.ltF = s.block(32)
	for g := range c.reads {
		c.reads[g] = newAccess(&s)
	}
	for g := range c.writes {
		c.writes[g] = newAccessW(&s)
	}
	c.width = s.width()

	c.pEd = executor.Ed25519Prime
	c.pP256 = elliptic.P256().Params().P
	c.pEdLimb = bigLimbs(c.pEd)
	c.pPLimb = bigLimbs(c.pP256)
	c.dLimb = bigLimbs(executor.Ed25519D)

	c.ids[foEdAdd] = []foIdentity{
		{a: bankX1, b: []foTerm{{1, bankX2}}, lin: []foTerm{{-1, bankM1}}},
		{a: bankY1, b: []foTerm{{1, bankY2}}, lin: []foTerm{{-1, bankM2}}},
		{a: bankX1, b: []foTerm{{1, bankY2}}, lin: []foTerm{{-1, bankM3}}},
		{a: bankX2, b: []foTerm{{1, bankY1}}, lin: []foTerm{{-1, bankM4}}},
		{a: bankM1, b: []foTerm{{1, bankM2}}, lin: []foTerm{{-1, bankT}}},
		{a: bankT, bc: &c.dLimb, lin: []foTerm{{-1, bankD1}}, k: 1},
		{a: bankT, bc: &c.dLimb, lin: []foTerm{{1, bankD2}}, k: -1},
		{a: bankD1, b: []foTerm{{1, bankI1}}, k: -1},
		{a: bankD2, b: []foTerm{{1, bankI2}}, k: -1},
		{a: bankX3, b: []foTerm{{1, bankD1}}, lin: []foTerm{{-1, bankM3}, {-1, bankM4}}},
		{a: bankY3, b: []foTerm{{1, bankD2}}, lin: []foTerm{{-1, bankM2}, {-1, bankM1}}},
	}
	c.ids[foP256Add] = []foIdentity{
		{a: bankM1, b: []foTerm{{1, bankX2}, {-1, bankX1}}, k: -1},
		{a: bankM2, b: []foTerm{{1, bankX2}, {-1, bankX1}}, lin: []foTerm{{-1, bankY2}, {1, bankY1}}},
		{a: bankM2, b: []foTerm{{1, bankM2}}, lin: []foTerm{{-1, bankX1}, {-1, bankX2}, {-1, bankX3}}},
		{a: bankM2, b: []foTerm{{1, bankX1}, {-1, bankX3}}, lin: []foTerm{{-1, bankY1}, {-1, bankY3}}},
	}
	c.ids[foP256Double] = []foIdentity{
		{a: bankM1, b: []foTerm{{2, bankY1}}, k: -1},
		{a: bankX1, b: []foTerm{{1, bankX1}}, lin: []foTerm{{-1, bankM3}}},
		{a: bankM2, b: []foTerm{{2, bankY1}}, lin: []foTerm{{-3, bankM3}}, k: 3},
		{a: bankM2, b: []foTerm{{1, bankM2}}, lin: []foTerm{{-2, bankX1}, {-1, bankX3}}},
		{a: bankM2, b: []foTerm{{1, bankX1}, {-1, bankX3}}, lin: []foTerm{{-1, bankY1}, {-1, bankY3}}},
	}
	c.ids[foBigMul] = []foIdentity{
		{a: bankX1, b: []foTerm{{1, bankX2}}, lin: []foTerm{{-1, bankX3}}},
	}

	edCmp := make([]foCompare, 0, 6)
	paCmp := make([]foCompare, 0, 6)
	for _, bk := range []int{bankX1, bankY1, bankX2, bankY2, bankX3, bankY3} {
		edCmp = append(edCmp, foCompare{a: bk, bBank: -1, bc: c.pEdLimb})
		paCmp = append(paCmp, foCompare{a: bk, bBank: -1, bc: c.pPLimb})
	}
	c.cmps[foEdAdd] = edCmp
	c.cmps[foP256Add] = paCmp
	c.cmps[foP256Double] = []foCompare{
		{a: bankX1, bBank: -1, bc: c.pPLimb},
		{a: bankY1, bBank: -1, bc: c.pPLimb},
		{a: bankX3, bBank: -1, bc: c.pPLimb},
		{a: bankY3, bBank: -1, bc: c.pPLimb},
	}
	c.cmps[foBigMul] = []foCompare{{a: bankX3, bBank: bankY2}}
	return c
}

func (c *FieldOpChip) Name() string { return "field_op" }

func (c *FieldOpChip) MainWidth() int { return c.width }

func (c *FieldOpChip) PreprocessedWidth() int { return c.preW }

// readSpec maps (op, row, gadget) to the memory word it carries and its bank
// destination. Words 0..15 come from the a0 region, 16..31 from a1.
func (c *FieldOpChip) readSpec(op, r, g int) (region, wd, bank, limb int, ok bool) {
	k := 4*r + g
	switch op {
	case foEdAdd, foP256Add:
		region, wd = 0, k
		if k >= 16 {
			region, wd = 1, k-16
		}
		return region, wd, k / 8, 4 * (k % 8), true
	case foP256Double:
		if k >= 16 {
			return 0, 0, 0, 0, false
		}
		return 0, k, k / 8, 4 * (k % 8), true
	case foBigMul:
		switch {
		case k < 8:
			return 0, k, bankX1, 4 * (k % 8), true
		case k < 16:
			return 0, 0, 0, 0, false
		case k < 24:
			return 1, k - 16, bankX2, 4 * (k % 8), true
		default:
			return 1, k - 16, bankY2, 4 * (k % 8), true
		}
	}
	return 0, 0, 0, 0, false
}

func (c *FieldOpChip) Eval(b *air.Builder) {
	isReal := air.Col(c.ev.isReal)
	flag := func(op int) *air.Expr { return air.Col(c.flags + op) }
	row := func(i int) *air.Expr { return air.Pre(c.rowF + i) }
	bank := func(bk, j int) *air.Expr { return air.Col(c.banks + 32*bk + j) }

	code := air.Const(0)
	ticks := air.Const(0)
	for op := 0; op < 4; op++ {
		code = code.Add(flag(op).MulConst(uint64(foCodes[op])))
		ticks = ticks.Add(flag(op).MulConst(uint64(foCodes[op].Ticks())))
	}
	c.ev.evalCode(b, c.sc, code, ticks)

	hold := air.Const(1).Sub(air.Pre(c.sc.last))
	flagSum := air.Const(0)
	for op := 0; op < 4; op++ {
		b.AssertBool(flag(op))
		b.AssertZeroTransition(hold.Mul(air.ColNext(c.flags + op).Sub(flag(op))))
		flagSum = flagSum.Add(flag(op))
	}
	b.AssertZero(flagSum.Sub(isReal))

	for i := 0; i < 15*32; i++ {
		col := c.banks + i
		b.AssertZeroTransition(hold.Mul(air.ColNext(col).Sub(air.Col(col))))
	}

	idAct := air.Const(0)
	for i := 0; i < foIdRows; i++ {
		idAct = idAct.Add(row(8 + i))
	}

	// Latch the convolution operands of the dispatched identity. Both
	// vanish on every other row.
	for j := 0; j < 32; j++ {
		selA := air.Const(0)
		selB := air.Const(0)
		for op := 0; op < 4; op++ {
			for i, id := range c.ids[op] {
				gate := flag(op).Mul(row(8 + i))
				selA = selA.Add(gate.Mul(bank(id.a, j)))
				if id.bc != nil {
					selB = selB.Add(gate.MulConst(uint64(id.bc[j])))
					continue
				}
				be := air.Const(0)
				for _, t := range id.b {
					be = be.Add(term(bank(t.bank, j), t.c))
				}
				selB = selB.Add(gate.Mul(be))
			}
		}
		b.AssertZero(air.Col(c.opA + j).Sub(selA))
		b.AssertZero(air.Col(c.opB + j).Sub(selB))
	}

	idMult := isReal.Mul(idAct)
	for a := 0; a < 33; a++ {
		rangeU8(b, air.Col(c.q+a), idMult)
	}
	for j := 0; j < 63; j++ {
		lo := air.Col(c.wLo + j)
		hi := air.Col(c.wHi + j)
		top := air.Col(c.wTop + j)
		b.AssertZero(air.Col(c.w + j).Sub(lo).Sub(hi.MulConst(256)).Sub(top.MulConst(1 << 16)))
		b.AssertZero(top.Mul(top.SubConst(1)).Mul(top.SubConst(2)).Mul(top.SubConst(3)))
		rangeU8(b, lo, idMult)
		rangeU8(b, hi, idMult)
	}

	// Modulus limb: the curve primes ride on the op flag, bigint uses the
	// bank it read the modulus into.
	mLimb := func(j int) *air.Expr {
		e := flag(foBigMul).Mul(bank(bankY2, j))
		e = e.Add(flag(foEdAdd).MulConst(uint64(c.pEdLimb[j])))
		e = e.Add(flag(foP256Add).Add(flag(foP256Double)).MulConst(uint64(c.pPLimb[j])))
		return e
	}

	// One constraint per base-256 coefficient: the latched convolution
	// plus the row-selected linear part minus q*M telescopes through w.
	for j := 0; j < 64; j++ {
		e := air.Const(0)
		lower := j - 31
		if lower < 0 {
			lower = 0
		}
		for a := lower; a <= j && a < 32; a++ {
			e = e.Add(air.Col(c.opA + a).Mul(air.Col(c.opB + j - a)))
		}
		for op := 0; op < 4; op++ {
			for i, id := range c.ids[op] {
				le := air.Const(0)
				touched := false
				if j < 32 {
					for _, t := range id.lin {
						le = le.Add(term(bank(t.bank, j), t.c))
						touched = true
					}
				}
				if j == 0 && id.k != 0 {
					if id.k > 0 {
						le = le.AddConst(uint64(id.k))
					} else {
						le = le.SubConst(uint64(-id.k))
					}
					touched = true
				}
				if touched {
					e = e.Add(flag(op).Mul(row(8 + i)).Mul(le))
				}
			}
		}
		qm := air.Const(0)
		for a := 0; a < 33; a++ {
			if j-a < 0 || j-a >= 32 {
				continue
			}
			qm = qm.Add(air.Col(c.q + a).SubConst(128).Mul(mLimb(j - a)))
		}
		e = e.Sub(idAct.Mul(qm))
		we := air.Const(0)
		if j > 0 {
			we = we.Sub(air.Col(c.w + j - 1).SubConst(foWShift))
		}
		if j < 63 {
			we = we.Add(air.Col(c.w + j).SubConst(foWShift).MulConst(256))
		}
		e = e.Add(flagSum.Mul(idAct).Mul(we))
		b.AssertZero(e)
	}

	// Identity rows double as the byte range sweep of the witness banks:
	// row 8+i checks bank 4+i.
	for k := 0; k < 32; k++ {
		sel := air.Const(0)
		for i := 0; i < foIdRows; i++ {
			sel = sel.Add(row(8 + i).Mul(bank(4+i, k)))
		}
		rangeU8(b, sel, idMult)
	}

	// Comparison rows: a one-hot flag marks the most significant limb
	// where the compared value drops below its bound.
	ltAct := air.Const(0)
	aL := make([]*air.Expr, 32)
	bL := make([]*air.Expr, 32)
	for j := range aL {
		aL[j] = air.Const(0)
		bL[j] = air.Const(0)
	}
	for op := 0; op < 4; op++ {
		for t, cs := range c.cmps[op] {
			gate := flag(op).Mul(row(19 + t))
			ltAct = ltAct.Add(gate)
			for j := 0; j < 32; j++ {
				aL[j] = aL[j].Add(gate.Mul(bank(cs.a, j)))
				if cs.bBank >= 0 {
					bL[j] = bL[j].Add(gate.Mul(bank(cs.bBank, j)))
				} else {
					bL[j] = bL[j].Add(gate.MulConst(uint64(cs.bc[j])))
				}
			}
		}
	}
	fSum := air.Const(0)
	for i := 0; i < 32; i++ {
		b.AssertBool(air.Col(c.ltF + i))
		fSum = fSum.Add(air.Col(c.ltF + i))
	}
	b.AssertZero(fSum.Sub(ltAct))
	for j := 1; j < 32; j++ {
		below := air.Const(0)
		for i := 0; i < j; i++ {
			below = below.Add(air.Col(c.ltF + i))
		}
		b.AssertZero(below.Mul(aL[j].Sub(bL[j])))
	}
	x := air.Const(0)
	y := air.Const(0)
	for i := 0; i < 32; i++ {
		x = x.Add(air.Col(c.ltF + i).Mul(aL[i]))
		y = y.Add(air.Col(c.ltF + i).Mul(bL[i]))
	}
	byteLookup(b, ByteLTU, x, y, air.Const(1), air.Const(0), fSum)

	// Memory traffic. Reads cover rows 0..7, writes rows 25..28, with the
	// ops that move fewer words leaving their tail rows inactive.
	clk4 := air.Col(c.ev.clk).AddConst(4)
	clk5 := air.Col(c.ev.clk).AddConst(5)
	packB := pack(word(c.ev.ptrB))
	packC := pack(word(c.ev.ptrC))

	for g := 0; g < 4; g++ {
		addr := air.Const(0)
		var val [4]*air.Expr
		for k := range val {
			val[k] = air.Const(0)
		}
		mult := air.Const(0)
		for op := 0; op < 4; op++ {
			for r := 0; r < 8; r++ {
				region, wd, bk, limb, ok := c.readSpec(op, r, g)
				if !ok {
					continue
				}
				gate := flag(op).Mul(row(r))
				base := packB
				if region == 1 {
					base = packC
				}
				addr = addr.Add(gate.Mul(base.AddConst(uint64(4 * wd))))
				for k := 0; k < 4; k++ {
					val[k] = val[k].Add(gate.Mul(bank(bk, limb+k)))
				}
				mult = mult.Add(gate)
			}
		}
		c.reads[g].eval(b, addr, clk4, val, isReal.Mul(mult))
	}

	wAll := row(25).Add(row(26)).Add(row(27)).Add(row(28))
	wBig := row(25).Add(row(26))
	wMult := flag(foEdAdd).Add(flag(foP256Add)).Add(flag(foP256Double)).Mul(wAll)
	wMult = wMult.Add(flag(foBigMul).Mul(wBig))
	for g := 0; g < 4; g++ {
		var val [4]*air.Expr
		for k := 0; k < 4; k++ {
			v := air.Const(0)
			for t := 0; t < 4; t++ {
				wd := 4*t + g
				bk, limb := bankX3, 4*(wd%8)
				if wd >= 8 {
					bk = bankY3
				}
				v = v.Add(row(25 + t).Mul(bank(bk, limb+k)))
			}
			val[k] = v
		}
		addr := packB.Add(air.Pre(c.sc.step).SubConst(25).MulConst(16)).AddConst(uint64(4 * g))
		c.writes[g].evalWrite(b, addr, clk5, val, isReal.Mul(wMult))
	}
}

func (c *FieldOpChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, SegmentHeight)
	c.sc.fill(m, fieldOpSlot)
	for i := 0; i < 29; i++ {
		i := i
		slotFlag(m, c.rowF+i, fieldOpSlot, func(s int) bool { return s == i })
	}
	return m
}

// term scales e by a small signed coefficient.
func term(e *air.Expr, coeff int64) *air.Expr {
	if coeff >= 0 {
		return e.MulConst(uint64(coeff))
	}
	return e.MulConst(uint64(-coeff)).Neg()
}

func setInt(m *air.Matrix, row, col int, v int64) {
	if v >= 0 {
		m.SetUint(row, col, uint64(v))
		return
	}
	f := field.NewFelt(uint64(-v))
	f.Neg(&f)
	m.Set(row, col, f)
}

func foWordsBig(recs []executor.MemoryRecord) *big.Int {
	vals := make([]uint32, len(recs))
	for i := range recs {
		vals[i] = recs[i].Value
	}
	return executor.WordsToBig(vals)
}

func limbsBig(limbs *[32]uint8) *big.Int {
	v := new(big.Int)
	for j := 31; j >= 0; j-- {
		v.Lsh(v, 8)
		v.Or(v, big.NewInt(int64(limbs[j])))
	}
	return v
}

func (c *FieldOpChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	total := len(rec.EdAddEvents) + len(rec.P256AddEvents) +
		len(rec.P256DoubleEvents) + len(rec.BigIntMulModEvents)
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(total*fieldOpSlot))

	slot := 0
	for i := range rec.EdAddEvents {
		ev := &rec.EdAddEvents[i]
		row0 := slot * fieldOpSlot
		slot++
		c.ev.fill(m, row0, fieldOpSlot, ev.Clk, ev.PPtr, ev.QPtr)

		p := c.pEd
		x1 := foWordsBig(ev.PReads[:8])
		y1 := foWordsBig(ev.PReads[8:])
		x2 := foWordsBig(ev.QReads[:8])
		y2 := foWordsBig(ev.QReads[8:])
		m1 := new(big.Int).Mul(x1, x2)
		m1.Mod(m1, p)
		m2 := new(big.Int).Mul(y1, y2)
		m2.Mod(m2, p)
		m3 := new(big.Int).Mul(x1, y2)
		m3.Mod(m3, p)
		m4 := new(big.Int).Mul(x2, y1)
		m4.Mod(m4, p)
		t := new(big.Int).Mul(m1, m2)
		t.Mod(t, p)
		dt := new(big.Int).Mul(executor.Ed25519D, t)
		dt.Mod(dt, p)
		den1 := new(big.Int).Add(big.NewInt(1), dt)
		den1.Mod(den1, p)
		den2 := new(big.Int).Sub(big.NewInt(1), dt)
		den2.Mod(den2, p)
		inv1 := new(big.Int).ModInverse(den1, p)
		inv2 := new(big.Int).ModInverse(den2, p)
		x3 := foWordsBig(ev.PWrites[:8])
		y3 := foWordsBig(ev.PWrites[8:])

		var banks [15][32]uint8
		for bk, v := range map[int]*big.Int{
			bankX1: x1, bankY1: y1, bankX2: x2, bankY2: y2,
			bankM1: m1, bankM2: m2, bankM3: m3, bankM4: m4,
			bankT: t, bankD1: den1, bankD2: den2,
			bankI1: inv1, bankI2: inv2, bankX3: x3, bankY3: y3,
		} {
			banks[bk] = bigLimbs(v)
		}
		c.fillSlot(m, bl, row0, foEdAdd, &banks, p)
		for r := 0; r < 4; r++ {
			for g := 0; g < 4; g++ {
				c.reads[g].fill(m, row0+r, ev.PReads[4*r+g], bl)
				c.reads[g].fill(m, row0+4+r, ev.QReads[4*r+g], bl)
			}
		}
		for t := 0; t < 4; t++ {
			for g := 0; g < 4; g++ {
				c.writes[g].fillWrite(m, row0+25+t, ev.PWrites[4*t+g], bl)
			}
		}
	}

	for i := range rec.P256AddEvents {
		ev := &rec.P256AddEvents[i]
		row0 := slot * fieldOpSlot
		slot++
		c.ev.fill(m, row0, fieldOpSlot, ev.Clk, ev.PPtr, ev.QPtr)

		p := c.pP256
		x1 := foWordsBig(ev.PReads[:8])
		y1 := foWordsBig(ev.PReads[8:])
		x2 := foWordsBig(ev.QReads[:8])
		y2 := foWordsBig(ev.QReads[8:])
		den := new(big.Int).Sub(x2, x1)
		den.Mod(den, p)
		inv := new(big.Int).ModInverse(den, p)
		lambda := new(big.Int).Sub(y2, y1)
		lambda.Mod(lambda, p).Mul(lambda, inv).Mod(lambda, p)
		x3 := foWordsBig(ev.PWrites[:8])
		y3 := foWordsBig(ev.PWrites[8:])

		var banks [15][32]uint8
		banks[bankX1] = bigLimbs(x1)
		banks[bankY1] = bigLimbs(y1)
		banks[bankX2] = bigLimbs(x2)
		banks[bankY2] = bigLimbs(y2)
		banks[bankM1] = bigLimbs(inv)
		banks[bankM2] = bigLimbs(lambda)
		banks[bankX3] = bigLimbs(x3)
		banks[bankY3] = bigLimbs(y3)
		c.fillSlot(m, bl, row0, foP256Add, &banks, p)
		for r := 0; r < 4; r++ {
			for g := 0; g < 4; g++ {
				c.reads[g].fill(m, row0+r, ev.PReads[4*r+g], bl)
				c.reads[g].fill(m, row0+4+r, ev.QReads[4*r+g], bl)
			}
		}
		for t := 0; t < 4; t++ {
			for g := 0; g < 4; g++ {
				c.writes[g].fillWrite(m, row0+25+t, ev.PWrites[4*t+g], bl)
			}
		}
	}

	for i := range rec.P256DoubleEvents {
		ev := &rec.P256DoubleEvents[i]
		row0 := slot * fieldOpSlot
		slot++
		c.ev.fill(m, row0, fieldOpSlot, ev.Clk, ev.PPtr, ev.A1)

		p := c.pP256
		x1 := foWordsBig(ev.PReads[:8])
		y1 := foWordsBig(ev.PReads[8:])
		den := new(big.Int).Lsh(y1, 1)
		den.Mod(den, p)
		inv := new(big.Int).ModInverse(den, p)
		sq := new(big.Int).Mul(x1, x1)
		sq.Mod(sq, p)
		lambda := new(big.Int).Mul(sq, big.NewInt(3))
		lambda.Sub(lambda, big.NewInt(3)).Mod(lambda, p).Mul(lambda, inv).Mod(lambda, p)
		x3 := foWordsBig(ev.PWrites[:8])
		y3 := foWordsBig(ev.PWrites[8:])

		var banks [15][32]uint8
		banks[bankX1] = bigLimbs(x1)
		banks[bankY1] = bigLimbs(y1)
		banks[bankM1] = bigLimbs(inv)
		banks[bankM2] = bigLimbs(lambda)
		banks[bankM3] = bigLimbs(sq)
		banks[bankX3] = bigLimbs(x3)
		banks[bankY3] = bigLimbs(y3)
		c.fillSlot(m, bl, row0, foP256Double, &banks, p)
		for r := 0; r < 4; r++ {
			for g := 0; g < 4; g++ {
				c.reads[g].fill(m, row0+r, ev.PReads[4*r+g], bl)
			}
		}
		for t := 0; t < 4; t++ {
			for g := 0; g < 4; g++ {
				c.writes[g].fillWrite(m, row0+25+t, ev.PWrites[4*t+g], bl)
			}
		}
	}

	for i := range rec.BigIntMulModEvents {
		ev := &rec.BigIntMulModEvents[i]
		row0 := slot * fieldOpSlot
		slot++
		c.ev.fill(m, row0, fieldOpSlot, ev.Clk, ev.XPtr, ev.YMPtr)

		x := foWordsBig(ev.XReads[:])
		y := foWordsBig(ev.YMReads[:8])
		mod := foWordsBig(ev.YMReads[8:])
		rem := foWordsBig(ev.XWrites[:])

		var banks [15][32]uint8
		banks[bankX1] = bigLimbs(x)
		banks[bankX2] = bigLimbs(y)
		banks[bankY2] = bigLimbs(mod)
		banks[bankX3] = bigLimbs(rem)
		c.fillSlot(m, bl, row0, foBigMul, &banks, mod)
		for g := 0; g < 4; g++ {
			c.reads[g].fill(m, row0, ev.XReads[g], bl)
			c.reads[g].fill(m, row0+1, ev.XReads[4+g], bl)
			for r := 4; r < 8; r++ {
				c.reads[g].fill(m, row0+r, ev.YMReads[4*(r-4)+g], bl)
			}
		}
		for t := 0; t < 2; t++ {
			for g := 0; g < 4; g++ {
				c.writes[g].fillWrite(m, row0+25+t, ev.XWrites[4*t+g], bl)
			}
		}
	}
	return m
}

// fillSlot writes the op selector, the banks, the identity rows with their
// quotient and witness digits, the range sweep lookups and the comparison
// rows of one slot.
func (c *FieldOpChip) fillSlot(m *air.Matrix, bl *ByteLog, row0, op int, banks *[15][32]uint8, mod *big.Int) {
	for rr := 0; rr < fieldOpSlot; rr++ {
		m.SetUint(row0+rr, c.flags+op, 1)
		for bk := 0; bk < 15; bk++ {
			for j := 0; j < 32; j++ {
				m.SetUint(row0+rr, c.banks+32*bk+j, uint64(banks[bk][j]))
			}
		}
	}

	modLimb := bigLimbs(mod)
	for i := 0; i < foIdRows; i++ {
		row := row0 + 8 + i
		if i < len(c.ids[op]) {
			c.fillIdentity(m, bl, row, &c.ids[op][i], banks, &modLimb, mod)
		} else {
			for a := 0; a < 33; a++ {
				m.SetUint(row, c.q+a, 128)
				bl.U8(128)
			}
			for j := 0; j < 63; j++ {
				m.SetUint(row, c.w+j, foWShift)
				m.SetUint(row, c.wTop+j, 2)
				bl.U8(0)
				bl.U8(0)
			}
		}
		for k := 0; k < 32; k++ {
			bl.U8(banks[4+i][k])
		}
	}

	for t, cs := range c.cmps[op] {
		row := row0 + 19 + t
		bound := cs.bc
		if cs.bBank >= 0 {
			bound = banks[cs.bBank]
		}
		for j := 31; j >= 0; j-- {
			if banks[cs.a][j] != bound[j] {
				m.SetUint(row, c.ltF+j, 1)
				bl.LTU(banks[cs.a][j], bound[j])
				break
			}
		}
	}
}

func (c *FieldOpChip) fillIdentity(m *air.Matrix, bl *ByteLog, row int, id *foIdentity, banks *[15][32]uint8, modLimb *[32]uint8, mod *big.Int) {
	var opAv, opBv [32]int64
	for j := 0; j < 32; j++ {
		opAv[j] = int64(banks[id.a][j])
		if id.bc != nil {
			opBv[j] = int64(id.bc[j])
			continue
		}
		for _, t := range id.b {
			opBv[j] += t.c * int64(banks[t.bank][j])
		}
	}
	for j := 0; j < 32; j++ {
		m.SetUint(row, c.opA+j, uint64(opAv[j]))
		setInt(m, row, c.opB+j, opBv[j])
	}

	// Integer value of the identity before subtracting q*M.
	bVal := new(big.Int)
	for j := 31; j >= 0; j-- {
		bVal.Lsh(bVal, 8)
		bVal.Add(bVal, big.NewInt(opBv[j]))
	}
	v := new(big.Int).Mul(limbsBig(&banks[id.a]), bVal)
	for _, t := range id.lin {
		v.Add(v, new(big.Int).Mul(big.NewInt(t.c), limbsBig(&banks[t.bank])))
	}
	v.Add(v, big.NewInt(id.k))
	q := new(big.Int).Quo(v, mod)

	var digits [33]int64
	dv := new(big.Int).Set(q)
	b256 := big.NewInt(256)
	for a := 0; a < 33; a++ {
		d := new(big.Int).Mod(dv, b256).Int64()
		if d > 127 {
			d -= 256
		}
		digits[a] = d
		dv.Sub(dv, big.NewInt(d)).Quo(dv, b256)
		m.SetUint(row, c.q+a, uint64(digits[a]+128))
		bl.U8(uint8(digits[a] + 128))
	}

	var e [64]int64
	for a := 0; a < 32; a++ {
		for bb := 0; bb < 32; bb++ {
			e[a+bb] += opAv[a] * opBv[bb]
		}
	}
	for j := 0; j < 32; j++ {
		for _, t := range id.lin {
			e[j] += t.c * int64(banks[t.bank][j])
		}
	}
	e[0] += id.k
	for a := 0; a < 33; a++ {
		for bb := 0; bb < 32; bb++ {
			e[a+bb] -= digits[a] * int64(modLimb[bb])
		}
	}

	wprev := int64(0)
	for j := 0; j < 63; j++ {
		wj := (wprev - e[j]) / 256
		wprev = wj
		sh := wj + foWShift
		m.SetUint(row, c.w+j, uint64(sh))
		lo := uint8(sh & 0xFF)
		hi := uint8(sh >> 8 & 0xFF)
		m.SetUint(row, c.wLo+j, uint64(lo))
		m.SetUint(row, c.wHi+j, uint64(hi))
		m.SetUint(row, c.wTop+j, uint64(sh>>16))
		bl.U8(lo)
		bl.U8(hi)
	}
}
