package chips

import (
	"math/bits"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// SHA-256 state words live as one column per bit, which makes the rotations
// of the sigma functions free and keeps xor at one degree per operand. The
// 32-bit additions run limb-wise over the recombined bytes with small carry
// witnesses, since a packed word would not fit the field.

const (
	shaExtendSlot   = 64
	shaCompressSlot = 128
)

// carry3 packs three carry bits into one small value.
func carry3(c int) *air.Expr {
	return air.Col(c).
		Add(air.Col(c + 1).MulConst(2)).
		Add(air.Col(c + 2).MulConst(4))
}

func limb(v uint32, k int) uint32 { return v >> (8 * uint(k)) & 0xFF }

// shaS0 is rotr7 xor rotr18 xor shr3, the message schedule's first sigma.
func shaS0(x []*air.Expr) []*air.Expr {
	out := make([]*air.Expr, 32)
	for z := 0; z < 32; z++ {
		e := xorExpr(x[(z+7)%32], x[(z+18)%32])
		if z < 29 {
			e = xorExpr(e, x[z+3])
		}
		out[z] = e
	}
	return out
}

// shaS1 is rotr17 xor rotr19 xor shr10.
func shaS1(y []*air.Expr) []*air.Expr {
	out := make([]*air.Expr, 32)
	for z := 0; z < 32; z++ {
		e := xorExpr(y[(z+17)%32], y[(z+19)%32])
		if z < 22 {
			e = xorExpr(e, y[z+10])
		}
		out[z] = e
	}
	return out
}

func rotXor3(x []*air.Expr, r1, r2, r3 int) []*air.Expr {
	out := make([]*air.Expr, 32)
	for z := 0; z < 32; z++ {
		out[z] = xor3Expr(x[(z+r1)%32], x[(z+r2)%32], x[(z+r3)%32])
	}
	return out
}

// ShaExtendChip proves one message-schedule step per row: 48 active rows in
// a 64-row slot. Step i reads w[i+1], w[i+14], w[i], w[i+9] and writes
// w[i+16], all on tick clk+4+i, mirroring the executor's schedule.
type ShaExtendChip struct {
	sc     slotCols
	active int // preprocessed, 1 on steps 0..47
	preW   int

	ev    eventCols
	xBits int // 32 bits of w[i+1]
	yBits int // 32 bits of w[i+14]
	r2    int // 4 limbs of w[i]
	r3    int // 4 limbs of w[i+9]
	w     int // 4 limbs of the word written
	carry int // 3 carry bits per byte position
	reads [4]access
	write accessW
	width int
}

func NewShaExtendChip() *ShaExtendChip {
	var p span
	c := &ShaExtendChip{}
	c.sc = newSlotCols(&p)
	c.active = p.next()
	c.preW = p.width()

	var s span
	c.ev = newEventCols(&s)
	c.xBits = s.block(32)
	c.yBits = s.block(32)
	c.r2 = s.word()
	c.r3 = s.word()
	c.w = s.word()
	c.carry = s.block(12)
	for g := range c.reads {
		c.reads[g] = newAccess(&s)
	}
	c.write = newAccessW(&s)
	c.width = s.width()
	return c
}

func (c *ShaExtendChip) Name() string { return "sha_extend" }

func (c *ShaExtendChip) MainWidth() int { return c.width }

func (c *ShaExtendChip) PreprocessedWidth() int { return c.preW }

func (c *ShaExtendChip) Eval(b *air.Builder) {
	c.ev.eval(b, c.sc, executor.SyscallShaExtend)
	isReal := air.Col(c.ev.isReal)
	active := isReal.Mul(air.Pre(c.active))

	x := colBits(c.xBits, 32)
	y := colBits(c.yBits, 32)
	for z := 0; z < 32; z++ {
		b.AssertBool(x[z])
		b.AssertBool(y[z])
	}
	for i := 0; i < 12; i++ {
		b.AssertBool(air.Col(c.carry + i))
	}

	clk := air.Col(c.ev.clk).AddConst(4).Add(air.Pre(c.sc.step))
	base := pack(word(c.ev.ptrB))
	off := air.Pre(c.sc.step).MulConst(4)

	c.reads[0].eval(b, base.Add(off).AddConst(4), clk, bitsWord(x), active)
	c.reads[1].eval(b, base.Add(off).AddConst(56), clk, bitsWord(y), active)
	c.reads[2].eval(b, base.Add(off), clk, word(c.r2), active)
	c.reads[3].eval(b, base.Add(off).AddConst(36), clk, word(c.r3), active)
	c.write.evalWrite(b, base.Add(off).AddConst(64), clk, word(c.w), active)

	w := word(c.w)
	rangeWord(b, w, active)

	// w = r2 + s0(x) + r3 + s1(y) mod 2^32, one byte at a time.
	s0 := shaS0(x)
	s1 := shaS1(y)
	r2 := word(c.r2)
	r3 := word(c.r3)
	gate := air.Pre(c.active)
	prev := air.Const(0)
	for k := 0; k < 4; k++ {
		cp := carry3(c.carry + 3*k)
		sum := r2[k].Add(bitsByte(s0, k)).Add(r3[k]).Add(bitsByte(s1, k)).Add(prev)
		b.AssertZero(gate.Mul(w[k].Add(cp.MulConst(256)).Sub(sum)))
		prev = cp
	}
}

func (c *ShaExtendChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, SegmentHeight)
	c.sc.fill(m, shaExtendSlot)
	slotFlag(m, c.active, shaExtendSlot, func(s int) bool { return s < 48 })
	return m
}

func (c *ShaExtendChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.ShaExtendEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)*shaExtendSlot))
	for i, ev := range events {
		row0 := i * shaExtendSlot
		c.ev.fill(m, row0, shaExtendSlot, ev.Clk, ev.WPtr, ev.A1)
		for s := 0; s < 48; s++ {
			row := row0 + s
			st := &ev.Steps[s]
			x := st.Reads[0].Value
			y := st.Reads[1].Value
			setBits(m, row, c.xBits, x, 32)
			setBits(m, row, c.yBits, y, 32)
			setWord(m, row, c.r2, st.Reads[2].Value)
			setWord(m, row, c.r3, st.Reads[3].Value)
			setWord(m, row, c.w, st.Write.Value)
			bl.U8Word(st.Write.Value)

			s0 := bits.RotateLeft32(x, -7) ^ bits.RotateLeft32(x, -18) ^ (x >> 3)
			s1 := bits.RotateLeft32(y, -17) ^ bits.RotateLeft32(y, -19) ^ (y >> 10)
			var cin uint32
			for k := 0; k < 4; k++ {
				sum := limb(st.Reads[2].Value, k) + limb(s0, k) + limb(st.Reads[3].Value, k) + limb(s1, k) + cin
				cin = sum >> 8
				setBits(m, row, c.carry+3*k, cin, 3)
			}

			for g := range c.reads {
				c.reads[g].fill(m, row, st.Reads[g], bl)
			}
			c.write.fillWrite(m, row, st.Write, bl)
		}
	}
	return m
}

// ShaCompressChip runs the 64-round compression function in a 128-row slot:
// rows 0..63 are rounds, row 64 folds the initial state into the output and
// rows 64..71 write it back. The working state keeps a, b, c, e, f, g as
// bits and d, h as byte limbs, which is exactly the set the round functions
// need in each form.
type ShaCompressChip struct {
	sc       slotCols
	round    int // preprocessed, 1 on rows 0..63
	kLimb    int // preprocessed, 4 byte limbs of ShaK[row]
	hsel     int // preprocessed, one-hot rows 0..3
	firstOut int // preprocessed, 1 on row 64
	wsel     int // preprocessed, one-hot rows 64..71
	preW     int

	ev     eventCols
	aBits  int
	bBits  int
	cBits  int
	eBits  int
	fBits  int
	gBits  int
	d      int // 4 limbs
	h      int // 4 limbs
	hInit  int // 8 words of 4 limbs, slot constant
	out    int // 8 words of 4 limbs, slot constant
	outC   int // 4 carry bits per output word
	cE     int // 3 carry bits per byte of the e update
	cA     int // 3 carry bits per byte of the a update
	w      int // 4 limbs of the round's schedule word
	wRead  access
	hReadA access
	hReadB access
	write  accessW
	width  int
}

func NewShaCompressChip() *ShaCompressChip {
	var p span
	c := &ShaCompressChip{}
	c.sc = newSlotCols(&p)
	c.round = p.next()
	c.kLimb = p.word()
	c.hsel = p.block(4)
	c.firstOut = p.next()
	c.wsel = p.block(8)
	c.preW = p.width()

	var s span
	c.ev = newEventCols(&s)
	c.aBits = s.block(32)
	c.bBits = s.block(32)
	c.cBits = s.block(32)
	c.eBits = s.block(32)
	c.fBits = s.block(32)
	c.gBits = s.block(32)
	c.d = s.word()
	c.h = s.word()
	c.hInit = s.block(32)
	c.out = s.block(32)
	c.outC = s.block(32)
	c.cE = s.block(12)
	c.cA = s.block(12)
	c.w = s.word()
	c.wRead = newAccess(&s)
	c.hReadA = newAccess(&s)
	c.hReadB = newAccess(&s)
	c.write = newAccessW(&s)
	c.width = s.width()
	return c
}

func (c *ShaCompressChip) Name() string { return "sha_compress" }

func (c *ShaCompressChip) MainWidth() int { return c.width }

func (c *ShaCompressChip) PreprocessedWidth() int { return c.preW }

// stateBytes returns the eight state words as byte expressions in h-vector
// order a, b, c, d, e, f, g, h.
func (c *ShaCompressChip) stateBytes() [8][4]*air.Expr {
	return [8][4]*air.Expr{
		bitsWord(colBits(c.aBits, 32)),
		bitsWord(colBits(c.bBits, 32)),
		bitsWord(colBits(c.cBits, 32)),
		word(c.d),
		bitsWord(colBits(c.eBits, 32)),
		bitsWord(colBits(c.fBits, 32)),
		bitsWord(colBits(c.gBits, 32)),
		word(c.h),
	}
}

func (c *ShaCompressChip) Eval(b *air.Builder) {
	c.ev.eval(b, c.sc, executor.SyscallShaCompress)
	isReal := air.Col(c.ev.isReal)
	round := air.Pre(c.round)

	for _, base := range []int{c.aBits, c.bBits, c.cBits, c.eBits, c.fBits, c.gBits} {
		for z := 0; z < 32; z++ {
			b.AssertBool(air.Col(base + z))
		}
	}
	for i := 0; i < 12; i++ {
		b.AssertBool(air.Col(c.cE + i))
		b.AssertBool(air.Col(c.cA + i))
	}
	for i := 0; i < 32; i++ {
		b.AssertBool(air.Col(c.outC + i))
	}

	a := colBits(c.aBits, 32)
	bb := colBits(c.bBits, 32)
	cc := colBits(c.cBits, 32)
	e := colBits(c.eBits, 32)
	f := colBits(c.fBits, 32)
	g := colBits(c.gBits, 32)

	// Rotation of the working state: b'=a, c'=b, f'=e, g'=f as bits,
	// d'=c and h'=g as recombined bytes.
	for z := 0; z < 32; z++ {
		b.AssertZeroTransition(round.Mul(air.ColNext(c.bBits + z).Sub(a[z])))
		b.AssertZeroTransition(round.Mul(air.ColNext(c.cBits + z).Sub(bb[z])))
		b.AssertZeroTransition(round.Mul(air.ColNext(c.fBits + z).Sub(e[z])))
		b.AssertZeroTransition(round.Mul(air.ColNext(c.gBits + z).Sub(f[z])))
	}
	for k := 0; k < 4; k++ {
		b.AssertZeroTransition(round.Mul(air.ColNext(c.d + k).Sub(bitsByte(cc, k))))
		b.AssertZeroTransition(round.Mul(air.ColNext(c.h + k).Sub(bitsByte(g, k))))
	}

	s1 := rotXor3(e, 6, 11, 25)
	s0 := rotXor3(a, 2, 13, 22)
	ch := make([]*air.Expr, 32)
	maj := make([]*air.Expr, 32)
	for z := 0; z < 32; z++ {
		ch[z] = e[z].Mul(f[z]).Add(air.Const(1).Sub(e[z]).Mul(g[z]))
		ab := a[z].Mul(bb[z])
		maj[z] = ab.Add(a[z].Mul(cc[z])).Add(bb[z].Mul(cc[z])).Sub(ab.Mul(cc[z]).MulConst(2))
	}

	// e' = d + t1 and a' = t1 + t2, byte-wise with carry witnesses. The
	// round constant is zeroed on inactive slots through isReal.
	d := word(c.d)
	h := word(c.h)
	w := word(c.w)
	eN := colBitsNext(c.eBits, 32)
	aN := colBitsNext(c.aBits, 32)
	prevE := air.Const(0)
	prevA := air.Const(0)
	for k := 0; k < 4; k++ {
		kTerm := isReal.Mul(air.Pre(c.kLimb + k))
		t1 := h[k].Add(bitsByte(s1, k)).Add(bitsByte(ch, k)).Add(kTerm).Add(w[k])

		cpE := carry3(c.cE + 3*k)
		b.AssertZeroTransition(round.Mul(
			bitsByte(eN, k).Add(cpE.MulConst(256)).Sub(d[k].Add(t1).Add(prevE))))
		prevE = cpE

		cpA := carry3(c.cA + 3*k)
		b.AssertZeroTransition(round.Mul(
			bitsByte(aN, k).Add(cpA.MulConst(256)).Sub(t1.Add(bitsByte(s0, k)).Add(bitsByte(maj, k)).Add(prevA))))
		prevA = cpA
	}

	// The first row starts from the state read out of memory.
	state := c.stateBytes()
	first := isReal.Mul(air.Pre(c.sc.first))
	for j := 0; j < 8; j++ {
		for k := 0; k < 4; k++ {
			b.AssertZero(first.Mul(state[j][k].Sub(air.Col(c.hInit + 4*j + k))))
		}
	}

	// Row 64 sees the post-round state and folds it into the output.
	fo := isReal.Mul(air.Pre(c.firstOut))
	for j := 0; j < 8; j++ {
		prev := air.Const(0)
		for k := 0; k < 4; k++ {
			oc := air.Col(c.outC + 4*j + k)
			ob := air.Col(c.out + 4*j + k)
			b.AssertZero(fo.Mul(ob.Add(oc.MulConst(256)).Sub(air.Col(c.hInit + 4*j + k).Add(state[j][k]).Add(prev))))
			rangeU8(b, ob, fo)
			prev = oc
		}
	}

	// hInit and out are referenced on several rows of the slot.
	hold := air.Const(1).Sub(air.Pre(c.sc.last))
	for i := 0; i < 32; i++ {
		b.AssertZeroTransition(hold.Mul(air.ColNext(c.hInit + i).Sub(air.Col(c.hInit + i))))
		b.AssertZeroTransition(hold.Mul(air.ColNext(c.out + i).Sub(air.Col(c.out + i))))
	}

	// Memory traffic. All reads happen on tick clk+4, writes on clk+5.
	clk4 := air.Col(c.ev.clk).AddConst(4)
	clk5 := air.Col(c.ev.clk).AddConst(5)
	hBase := pack(word(c.ev.ptrB))
	wBase := pack(word(c.ev.ptrC))
	stepOff := air.Pre(c.sc.step).MulConst(4)

	c.wRead.eval(b, wBase.Add(stepOff), clk4, w, isReal.Mul(round))

	hre := air.Sum(air.Pre(c.hsel), air.Pre(c.hsel+1), air.Pre(c.hsel+2), air.Pre(c.hsel+3))
	var valA, valB [4]*air.Expr
	for k := 0; k < 4; k++ {
		lo := air.Const(0)
		hi := air.Const(0)
		for r := 0; r < 4; r++ {
			lo = lo.Add(air.Pre(c.hsel + r).Mul(air.Col(c.hInit + 4*r + k)))
			hi = hi.Add(air.Pre(c.hsel + r).Mul(air.Col(c.hInit + 4*(r+4) + k)))
		}
		valA[k] = lo
		valB[k] = hi
	}
	c.hReadA.eval(b, hBase.Add(stepOff), clk4, valA, isReal.Mul(hre))
	c.hReadB.eval(b, hBase.Add(stepOff).AddConst(16), clk4, valB, isReal.Mul(hre))

	oAct := air.Const(0)
	var valW [4]*air.Expr
	for k := 0; k < 4; k++ {
		valW[k] = air.Const(0)
	}
	for j := 0; j < 8; j++ {
		sel := air.Pre(c.wsel + j)
		oAct = oAct.Add(sel)
		for k := 0; k < 4; k++ {
			valW[k] = valW[k].Add(sel.Mul(air.Col(c.out + 4*j + k)))
		}
	}
	addrW := hBase.Add(air.Pre(c.sc.step).SubConst(64).MulConst(4))
	c.write.evalWrite(b, addrW, clk5, valW, isReal.Mul(oAct))
}

func (c *ShaCompressChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, SegmentHeight)
	c.sc.fill(m, shaCompressSlot)
	slotFlag(m, c.round, shaCompressSlot, func(s int) bool { return s < 64 })
	for k := 0; k < 4; k++ {
		k := k
		slotVal(m, c.kLimb+k, shaCompressSlot, func(s int) uint64 {
			if s < 64 {
				return uint64(limb(executor.ShaK[s], k))
			}
			return 0
		})
	}
	for r := 0; r < 4; r++ {
		r := r
		slotFlag(m, c.hsel+r, shaCompressSlot, func(s int) bool { return s == r })
	}
	slotFlag(m, c.firstOut, shaCompressSlot, func(s int) bool { return s == 64 })
	for j := 0; j < 8; j++ {
		j := j
		slotFlag(m, c.wsel+j, shaCompressSlot, func(s int) bool { return s == 64+j })
	}
	return m
}

func (c *ShaCompressChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.ShaCompressEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)*shaCompressSlot))
	for i := range events {
		ev := &events[i]
		row0 := i * shaCompressSlot
		c.ev.fill(m, row0, shaCompressSlot, ev.Clk, ev.HPtr, ev.WPtr)

		var hv, out [8]uint32
		for j := 0; j < 8; j++ {
			hv[j] = ev.HReads[j].Value
			out[j] = ev.HWrites[j].Value
		}
		for r := row0; r < row0+shaCompressSlot; r++ {
			for j := 0; j < 8; j++ {
				setWord(m, r, c.hInit+4*j, hv[j])
				setWord(m, r, c.out+4*j, out[j])
			}
		}

		a, bv, cv, d, e, f, g, hh := hv[0], hv[1], hv[2], hv[3], hv[4], hv[5], hv[6], hv[7]
		for s := 0; s < 64; s++ {
			row := row0 + s
			setBits(m, row, c.aBits, a, 32)
			setBits(m, row, c.bBits, bv, 32)
			setBits(m, row, c.cBits, cv, 32)
			setBits(m, row, c.eBits, e, 32)
			setBits(m, row, c.fBits, f, 32)
			setBits(m, row, c.gBits, g, 32)
			setWord(m, row, c.d, d)
			setWord(m, row, c.h, hh)

			w := ev.WReads[s].Value
			setWord(m, row, c.w, w)

			s1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)
			chv := (e & f) ^ (^e & g)
			s0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
			majv := (a & bv) ^ (a & cv) ^ (bv & cv)

			var cinE, cinA uint32
			for k := 0; k < 4; k++ {
				t1k := limb(hh, k) + limb(s1, k) + limb(chv, k) + limb(executor.ShaK[s], k) + limb(w, k)
				sumE := limb(d, k) + t1k + cinE
				cinE = sumE >> 8
				setBits(m, row, c.cE+3*k, cinE, 3)
				sumA := t1k + limb(s0, k) + limb(majv, k) + cinA
				cinA = sumA >> 8
				setBits(m, row, c.cA+3*k, cinA, 3)
			}

			c.wRead.fill(m, row, ev.WReads[s], bl)
			if s < 4 {
				c.hReadA.fill(m, row, ev.HReads[s], bl)
				c.hReadB.fill(m, row, ev.HReads[s+4], bl)
			}

			t1 := hh + s1 + chv + executor.ShaK[s] + w
			t2 := s0 + majv
			hh, g, f, e, d, cv, bv, a = g, f, e, d+t1, cv, bv, a, t1+t2
		}

		// Row 64 carries the post-round state for the output fold.
		row := row0 + 64
		setBits(m, row, c.aBits, a, 32)
		setBits(m, row, c.bBits, bv, 32)
		setBits(m, row, c.cBits, cv, 32)
		setBits(m, row, c.eBits, e, 32)
		setBits(m, row, c.fBits, f, 32)
		setBits(m, row, c.gBits, g, 32)
		setWord(m, row, c.d, d)
		setWord(m, row, c.h, hh)

		s64 := [8]uint32{a, bv, cv, d, e, f, g, hh}
		for j := 0; j < 8; j++ {
			var cin uint32
			for k := 0; k < 4; k++ {
				sum := limb(hv[j], k) + limb(s64[j], k) + cin
				cin = sum >> 8
				m.SetUint(row, c.outC+4*j+k, uint64(cin))
			}
			bl.U8Word(out[j])
		}

		for j := 0; j < 8; j++ {
			c.write.fillWrite(m, row0+64+j, ev.HWrites[j], bl)
		}
	}
	return m
}
