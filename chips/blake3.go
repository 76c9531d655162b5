package chips

import (
	"math/bits"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// blake3GIdx lists the state indices touched by the g-th quarter round of a
// round, columns first then diagonals. Message words m[2g] and m[2g+1] feed
// the two half-steps.
var blake3GIdx = [8][4]int{
	{0, 4, 8, 12}, {1, 5, 9, 13}, {2, 6, 10, 14}, {3, 7, 11, 15},
	{0, 5, 10, 15}, {1, 6, 11, 12}, {2, 7, 8, 13}, {3, 4, 9, 14},
}

// Blake3CompressChip proves one compression per 64-row slot: rows 0..55 run
// the 56 quarter rounds one per row, rows 56..63 write the new chaining
// value. The state and message ride as byte limbs; each row decomposes the
// b and d operands into bits and witnesses the intermediate adds bytewise,
// with the four xor-rotates recombined from those bits.
type Blake3CompressChip struct {
	sc    slotCols
	gsel  int // 8 one-hot quarter-round flags, g = row%8
	permF int // last quarter-round row of rounds 0..5
	rdF   int // 7 one-hot read rows
	outF  int // 8 one-hot output rows
	preW  int

	ev  eventCols
	v   int // 16 state words x 4 limbs
	m   int // 16 message words x 4 limbs
	cvc int // 8 chaining value words x 4 limbs

	bIn int // 32 bits of v[b]
	dIn int // 32 bits of v[d]
	a1b int // a + b + mx
	c1b int // c + d1
	a2b int // a1 + b1 + my
	d2b int // rotr8(d1 ^ a2)
	c2b int // c1 + d2
	b2b int // rotr7(b1 ^ c2)
	cA1 int // 2 carry bits per byte
	cC1 int // 1 carry bit per byte
	cA2 int
	cC2 int

	reads [4]access
	write accessW
	width int
}

const blake3Slot = 64

func NewBlake3CompressChip() *Blake3CompressChip {
	var p span
	c := &Blake3CompressChip{}
	c.sc = newSlotCols(&p)
	c.gsel = p.block(8)
	c.permF = p.next()
	c.rdF = p.block(7)
	c.outF = p.block(8)
	c.preW = p.width()

	var s span
	c.ev = newEventCols(&s)
	c.v = s.block(64)
	c.m = s.block(64)
	c.cvc = s.block(32)
	c.bIn = s.block(32)
	c.dIn = s.block(32)
	c.a1b = s.block(32)
	c.c1b = s.block(32)
	c.a2b = s.block(32)
	c.d2b = s.block(32)
	c.c2b = s.block(32)
	c.b2b = s.block(32)
	c.cA1 = s.block(8)
	c.cC1 = s.block(4)
	c.cA2 = s.block(8)
	c.cC2 = s.block(4)
	for g := range c.reads {
		c.reads[g] = newAccess(&s)
	}
	c.write = newAccessW(&s)
	c.width = s.width()
	return c
}

func (c *Blake3CompressChip) Name() string { return "blake3_compress" }

func (c *Blake3CompressChip) MainWidth() int { return c.width }

func (c *Blake3CompressChip) PreprocessedWidth() int { return c.preW }

func (c *Blake3CompressChip) Eval(b *air.Builder) {
	c.ev.eval(b, c.sc, executor.SyscallBlake3Compress)
	isReal := air.Col(c.ev.isReal)
	last := air.Pre(c.sc.last)
	first := isReal.Mul(air.Pre(c.sc.first))

	gAct := air.Const(0)
	for g := 0; g < 8; g++ {
		gAct = gAct.Add(air.Pre(c.gsel + g))
	}

	bInB := colBits(c.bIn, 32)
	dInB := colBits(c.dIn, 32)
	a1B := colBits(c.a1b, 32)
	c1B := colBits(c.c1b, 32)
	a2B := colBits(c.a2b, 32)
	d2B := colBits(c.d2b, 32)
	c2B := colBits(c.c2b, 32)
	b2B := colBits(c.b2b, 32)
	for _, bs := range [][]*air.Expr{bInB, dInB, a1B, c1B, a2B, d2B, c2B, b2B} {
		for _, bit := range bs {
			b.AssertBool(bit)
		}
	}
	for i := 0; i < 8; i++ {
		b.AssertBool(air.Col(c.cA1 + i))
		b.AssertBool(air.Col(c.cA2 + i))
	}
	for i := 0; i < 4; i++ {
		b.AssertBool(air.Col(c.cC1 + i))
		b.AssertBool(air.Col(c.cC2 + i))
	}

	// Per-row operand bytes selected by the quarter-round flag.
	sel := func(base int, idx func(g int) int) func(k int) *air.Expr {
		return func(k int) *air.Expr {
			terms := make([]*air.Expr, 8)
			for g := 0; g < 8; g++ {
				terms[g] = air.Pre(c.gsel + g).Mul(air.Col(base + 4*idx(g) + k))
			}
			return air.Sum(terms...)
		}
	}
	aSel := sel(c.v, func(g int) int { return blake3GIdx[g][0] })
	bSel := sel(c.v, func(g int) int { return blake3GIdx[g][1] })
	cSel := sel(c.v, func(g int) int { return blake3GIdx[g][2] })
	dSel := sel(c.v, func(g int) int { return blake3GIdx[g][3] })
	mxSel := sel(c.m, func(g int) int { return 2 * g })
	mySel := sel(c.m, func(g int) int { return 2*g + 1 })

	for k := 0; k < 4; k++ {
		b.AssertZero(gAct.Mul(bitsByte(bInB, k).Sub(bSel(k))))
		b.AssertZero(gAct.Mul(bitsByte(dInB, k).Sub(dSel(k))))
	}

	d1 := func(z int) *air.Expr { return xorExpr(dInB[(z+16)%32], a1B[(z+16)%32]) }
	b1 := func(z int) *air.Expr { return xorExpr(bInB[(z+12)%32], c1B[(z+12)%32]) }
	byteOf := func(f func(z int) *air.Expr, k int) *air.Expr {
		terms := make([]*air.Expr, 8)
		for i := 0; i < 8; i++ {
			terms[i] = f(8*k + i).MulConst(1 << i)
		}
		return air.Sum(terms...)
	}

	// The three-operand adds carry at most 2 per byte, the two-operand
	// ones at most 1.
	add3 := func(out []*air.Expr, carry int, x, y, z func(k int) *air.Expr) {
		for k := 0; k < 4; k++ {
			cin := air.Const(0)
			if k > 0 {
				cin = air.Col(carry + 2*(k-1)).Add(air.Col(carry + 2*(k-1) + 1).MulConst(2))
			}
			cout := air.Col(carry + 2*k).Add(air.Col(carry + 2*k + 1).MulConst(2))
			lhs := bitsByte(out, k).Add(cout.MulConst(256))
			b.AssertZero(gAct.Mul(lhs.Sub(x(k)).Sub(y(k)).Sub(z(k)).Sub(cin)))
		}
	}
	add2 := func(out []*air.Expr, carry int, x, y func(k int) *air.Expr) {
		for k := 0; k < 4; k++ {
			cin := air.Const(0)
			if k > 0 {
				cin = air.Col(carry + k - 1)
			}
			lhs := bitsByte(out, k).Add(air.Col(carry + k).MulConst(256))
			b.AssertZero(gAct.Mul(lhs.Sub(x(k)).Sub(y(k)).Sub(cin)))
		}
	}

	add3(a1B, c.cA1, aSel, func(k int) *air.Expr { return bitsByte(bInB, k) }, mxSel)
	add2(c1B, c.cC1, cSel, func(k int) *air.Expr { return byteOf(d1, k) })
	add3(a2B, c.cA2,
		func(k int) *air.Expr { return bitsByte(a1B, k) },
		func(k int) *air.Expr { return byteOf(b1, k) },
		mySel)
	for z := 0; z < 32; z++ {
		b.AssertZero(gAct.Mul(d2B[z].Sub(xorExpr(d1((z+8)%32), a2B[(z+8)%32]))))
	}
	add2(c2B, c.cC2,
		func(k int) *air.Expr { return bitsByte(c1B, k) },
		func(k int) *air.Expr { return bitsByte(d2B, k) })
	for z := 0; z < 32; z++ {
		b.AssertZero(gAct.Mul(b2B[z].Sub(xorExpr(b1((z+7)%32), c2B[(z+7)%32]))))
	}

	// State transition: the four touched words take the new values, the
	// rest copy, and output rows copy everything.
	hold := air.Const(1).Sub(last)
	for i := 0; i < 16; i++ {
		for k := 0; k < 4; k++ {
			upd := air.Const(0)
			for g := 0; g < 8; g++ {
				var src *air.Expr
				switch i {
				case blake3GIdx[g][0]:
					src = bitsByte(a2B, k)
				case blake3GIdx[g][1]:
					src = bitsByte(b2B, k)
				case blake3GIdx[g][2]:
					src = bitsByte(c2B, k)
				case blake3GIdx[g][3]:
					src = bitsByte(d2B, k)
				default:
					src = air.Col(c.v + 4*i + k)
				}
				upd = upd.Add(air.Pre(c.gsel + g).Mul(src))
			}
			keep := air.Const(1).Sub(gAct).Mul(air.Col(c.v + 4*i + k))
			b.AssertZeroTransition(hold.Mul(air.ColNext(c.v + 4*i + k).Sub(upd).Sub(keep)))
		}
	}
	for i := 0; i < 16; i++ {
		for k := 0; k < 4; k++ {
			cur := air.Col(c.m + 4*i + k)
			perm := air.Col(c.m + 4*int(executor.Blake3Perm[i]) + k)
			next := air.ColNext(c.m + 4*i + k)
			pf := air.Pre(c.permF)
			b.AssertZeroTransition(hold.Mul(next.Sub(pf.Mul(perm)).Sub(air.Const(1).Sub(pf).Mul(cur))))
		}
	}
	for i := 0; i < 32; i++ {
		b.AssertZeroTransition(hold.Mul(air.ColNext(c.cvc + i).Sub(air.Col(c.cvc + i))))
	}

	// Row 0 pins the initial state: cv in v[0..7], the IV prefix in
	// v[8..11]. v[12..15] are bound by the row 0 block reads.
	for j := 0; j < 8; j++ {
		for k := 0; k < 4; k++ {
			b.AssertZero(first.Mul(air.Col(c.v + 4*j + k).Sub(air.Col(c.cvc + 4*j + k))))
		}
	}
	for t := 0; t < 4; t++ {
		for k := 0; k < 4; k++ {
			iv := executor.Blake3IV[t] >> (8 * uint(k)) & 0xFF
			b.AssertZero(first.Mul(air.Col(c.v + 4*(8+t) + k).SubConst(uint64(iv))))
		}
	}

	// Reads: row 0 grabs the counter/len/flags tail of the block straight
	// into v[12..15], rows 1..2 the chaining value, rows 3..6 the message.
	rdAct := air.Const(0)
	for t := 0; t < 7; t++ {
		rdAct = rdAct.Add(air.Pre(c.rdF + t))
	}
	clk4 := air.Col(c.ev.clk).AddConst(4)
	clk5 := air.Col(c.ev.clk).AddConst(5)
	cvBase := pack(word(c.ev.ptrB))
	blkBase := pack(word(c.ev.ptrC))

	for g := 0; g < 4; g++ {
		addr := air.Pre(c.rdF).Mul(blkBase.AddConst(uint64(4 * (16 + g))))
		val := [4]*air.Expr{}
		for k := 0; k < 4; k++ {
			val[k] = air.Pre(c.rdF).Mul(air.Col(c.v + 4*(12+g) + k))
		}
		for t := 1; t <= 2; t++ {
			w := 4*(t-1) + g
			addr = addr.Add(air.Pre(c.rdF + t).Mul(cvBase.AddConst(uint64(4 * w))))
			for k := 0; k < 4; k++ {
				val[k] = val[k].Add(air.Pre(c.rdF + t).Mul(air.Col(c.cvc + 4*w + k)))
			}
		}
		for t := 3; t <= 6; t++ {
			w := 4*(t-3) + g
			addr = addr.Add(air.Pre(c.rdF + t).Mul(blkBase.AddConst(uint64(4 * w))))
			for k := 0; k < 4; k++ {
				val[k] = val[k].Add(air.Pre(c.rdF + t).Mul(air.Col(c.m + 4*w + k)))
			}
		}
		c.reads[g].eval(b, addr, clk4, val, isReal.Mul(rdAct))
	}

	// Output rows xor the halves through the freed operand bit spans.
	outAct := air.Const(0)
	for j := 0; j < 8; j++ {
		outAct = outAct.Add(air.Pre(c.outF + j))
	}
	for j := 0; j < 8; j++ {
		for k := 0; k < 4; k++ {
			b.AssertZero(air.Pre(c.outF + j).Mul(bitsByte(bInB, k).Sub(air.Col(c.v + 4*j + k))))
			b.AssertZero(air.Pre(c.outF + j).Mul(bitsByte(dInB, k).Sub(air.Col(c.v + 4*(j+8) + k))))
		}
	}
	var wval [4]*air.Expr
	for k := 0; k < 4; k++ {
		wval[k] = byteOf(func(z int) *air.Expr { return xorExpr(bInB[z], dInB[z]) }, k)
	}
	wAddr := cvBase.Add(air.Pre(c.sc.step).SubConst(56).MulConst(4))
	c.write.evalWrite(b, wAddr, clk5, wval, isReal.Mul(outAct))
}

func (c *Blake3CompressChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, SegmentHeight)
	c.sc.fill(m, blake3Slot)
	for g := 0; g < 8; g++ {
		g := g
		slotFlag(m, c.gsel+g, blake3Slot, func(s int) bool { return s < 56 && s%8 == g })
	}
	slotFlag(m, c.permF, blake3Slot, func(s int) bool { return s < 48 && s%8 == 7 })
	for t := 0; t < 7; t++ {
		t := t
		slotFlag(m, c.rdF+t, blake3Slot, func(s int) bool { return s == t })
	}
	for j := 0; j < 8; j++ {
		j := j
		slotFlag(m, c.outF+j, blake3Slot, func(s int) bool { return s == 56+j })
	}
	return m
}

func (c *Blake3CompressChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.Blake3CompressEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)*blake3Slot))
	for i := range events {
		ev := &events[i]
		row0 := i * blake3Slot
		c.ev.fill(m, row0, blake3Slot, ev.Clk, ev.CvPtr, ev.BlockPtr)

		var cv [8]uint32
		var block [20]uint32
		for j := range cv {
			cv[j] = ev.CvReads[j].Value
		}
		for j := range block {
			block[j] = ev.BlockReads[j].Value
		}
		var v, msg [16]uint32
		copy(msg[:], block[:16])
		copy(v[:8], cv[:])
		copy(v[8:12], executor.Blake3IV[:4])
		v[12], v[13], v[14], v[15] = block[16], block[17], block[18], block[19]

		setWordAt := func(row, base, idx int, w uint32) {
			for k := 0; k < 4; k++ {
				m.SetUint(row, base+4*idx+k, uint64(w>>(8*uint(k))&0xFF))
			}
		}
		fillState := func(row int) {
			for j := 0; j < 16; j++ {
				setWordAt(row, c.v, j, v[j])
				setWordAt(row, c.m, j, msg[j])
			}
			for j := 0; j < 8; j++ {
				setWordAt(row, c.cvc, j, cv[j])
			}
		}
		carry3 := func(row, base int, x, y, z uint32) {
			cin := uint32(0)
			for k := 0; k < 4; k++ {
				s := x>>(8*uint(k))&0xFF + y>>(8*uint(k))&0xFF + z>>(8*uint(k))&0xFF + cin
				cin = s >> 8
				m.SetUint(row, base+2*k, uint64(cin&1))
				m.SetUint(row, base+2*k+1, uint64(cin>>1))
			}
		}
		carry2 := func(row, base int, x, y uint32) {
			cin := uint32(0)
			for k := 0; k < 4; k++ {
				s := x>>(8*uint(k))&0xFF + y>>(8*uint(k))&0xFF + cin
				cin = s >> 8
				m.SetUint(row, base+k, uint64(cin))
			}
		}

		for round := 0; round < 7; round++ {
			for g := 0; g < 8; g++ {
				row := row0 + 8*round + g
				fillState(row)

				ia, ib, ic, id := blake3GIdx[g][0], blake3GIdx[g][1], blake3GIdx[g][2], blake3GIdx[g][3]
				a, bv, cw, d := v[ia], v[ib], v[ic], v[id]
				mx, my := msg[2*g], msg[2*g+1]

				setBits(m, row, c.bIn, bv, 32)
				setBits(m, row, c.dIn, d, 32)

				a1 := a + bv + mx
				d1 := bits.RotateLeft32(d^a1, -16)
				cw1 := cw + d1
				b1 := bits.RotateLeft32(bv^cw1, -12)
				a2 := a1 + b1 + my
				d2 := bits.RotateLeft32(d1^a2, -8)
				cw2 := cw1 + d2
				b2 := bits.RotateLeft32(b1^cw2, -7)

				setBits(m, row, c.a1b, a1, 32)
				setBits(m, row, c.c1b, cw1, 32)
				setBits(m, row, c.a2b, a2, 32)
				setBits(m, row, c.d2b, d2, 32)
				setBits(m, row, c.c2b, cw2, 32)
				setBits(m, row, c.b2b, b2, 32)
				carry3(row, c.cA1, a, bv, mx)
				carry2(row, c.cC1, cw, d1)
				carry3(row, c.cA2, a1, b1, my)
				carry2(row, c.cC2, cw1, d2)

				v[ia], v[ib], v[ic], v[id] = a2, b2, cw2, d2
			}
			if round < 6 {
				var p [16]uint32
				for j := 0; j < 16; j++ {
					p[j] = msg[executor.Blake3Perm[j]]
				}
				msg = p
			}
		}

		for g := 0; g < 4; g++ {
			c.reads[g].fill(m, row0, ev.BlockReads[16+g], bl)
			for t := 1; t <= 2; t++ {
				c.reads[g].fill(m, row0+t, ev.CvReads[4*(t-1)+g], bl)
			}
			for t := 3; t <= 6; t++ {
				c.reads[g].fill(m, row0+t, ev.BlockReads[4*(t-3)+g], bl)
			}
		}
		for j := 0; j < 8; j++ {
			row := row0 + 56 + j
			fillState(row)
			setBits(m, row, c.bIn, v[j], 32)
			setBits(m, row, c.dIn, v[j+8], 32)
			c.write.fillWrite(m, row, ev.CvWrites[j], bl)
		}
	}
	return m
}
