package chips

import (
	"math/bits"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// KeccakPermuteChip proves keccak-f[1600] in a 512-row slot: 24 rounds of 15
// rows each, then ten rows writing the state back. A round works column by
// column: rows 0..4 accumulate the theta parities, rows 5..9 apply theta and
// rho/pi into a second state copy, rows 10..14 run chi and iota row by row.
//
// The 25 lanes live as byte columns; each phase row decomposes the five
// lanes it touches into a shared span of bit columns, so the xor chains stay
// within degree while the carried state stays narrow.
type KeccakPermuteChip struct {
	sc    slotCols
	rowF  int // 15 one-hot flags for the position inside a round
	rdF   int // 10 one-hot flags for the read rows 0..9
	wrF   int // 10 one-hot flags for the write rows 360..369
	rcBit int // 64 iota constant bits, set on each round's row 10
	preW  int

	ev     eventCols
	aByte  int // 25 lanes x 8 bytes, the live state
	bByte  int // 25 lanes x 8 bytes, the post rho/pi state
	cByte  int // 5 parity lanes x 8 bytes
	local  int // 448 shared bit columns
	reads  [5]access
	writes [5]accessW
	width  int

	srcOf [25]int
	dstOf [25]int
	rotOf [25]int
}

const (
	keccakSlot      = 512
	keccakRoundRows = 15
	keccakWriteRow  = 24 * keccakRoundRows
)

func NewKeccakPermuteChip() *KeccakPermuteChip {
	var p span
	c := &KeccakPermuteChip{}
	c.sc = newSlotCols(&p)
	c.rowF = p.block(keccakRoundRows)
	c.rdF = p.block(10)
	c.wrF = p.block(10)
	c.rcBit = p.block(64)
	c.preW = p.width()

	var s span
	c.ev = newEventCols(&s)
	c.aByte = s.block(200)
	c.bByte = s.block(200)
	c.cByte = s.block(40)
	c.local = s.block(448)
	for g := range c.reads {
		c.reads[g] = newAccess(&s)
	}
	for g := range c.writes {
		c.writes[g] = newAccessW(&s)
	}
	c.width = s.width()

	// Unroll the rho/pi chain: lane Piln[i] receives the previous link,
	// starting from lane 1. Lane 0 stays in place unrotated.
	src := 1
	for i := 0; i < 24; i++ {
		dst := executor.KeccakPiln[i]
		c.srcOf[dst] = src
		c.rotOf[dst] = int(executor.KeccakRotc[i])
		src = dst
	}
	for dst := 1; dst < 25; dst++ {
		c.dstOf[c.srcOf[dst]] = dst
	}
	return c
}

func (c *KeccakPermuteChip) Name() string { return "keccak_permute" }

func (c *KeccakPermuteChip) MainWidth() int { return c.width }

func (c *KeccakPermuteChip) PreprocessedWidth() int { return c.preW }

// localByte recombines bits [8k, 8k+8) of local slice y into a byte.
func (c *KeccakPermuteChip) localByte(y, k int) *air.Expr {
	terms := make([]*air.Expr, 8)
	for i := 0; i < 8; i++ {
		terms[i] = air.Col(c.local + 64*y + 8*k + i).MulConst(1 << i)
	}
	return air.Sum(terms...)
}

func (c *KeccakPermuteChip) localBit(y, z int) *air.Expr {
	return air.Col(c.local + 64*y + z)
}

// wordByteCol maps memory word w of the 50-word state to the A column of
// its k-th byte. Lanes are split little-endian, low half first.
func (c *KeccakPermuteChip) wordByteCol(w, k int) int {
	return c.aByte + 8*(w/2) + 4*(w%2) + k
}

func (c *KeccakPermuteChip) Eval(b *air.Builder) {
	c.ev.eval(b, c.sc, executor.SyscallKeccakPermute)
	isReal := air.Col(c.ev.isReal)

	row := func(i int) *air.Expr { return air.Pre(c.rowF + i) }
	phase := func(lo, hi int) *air.Expr {
		e := row(lo)
		for i := lo + 1; i <= hi; i++ {
			e = e.Add(row(i))
		}
		return e
	}
	thetaC := phase(0, 4)
	thetaRP := phase(5, 9)
	chi := phase(10, 14)

	for i := 0; i < 448; i++ {
		b.AssertBool(air.Col(c.local + i))
	}

	// Both theta phases decompose the five lanes of column x into the
	// local span, slice y holding lane x+5y.
	for x := 0; x < 5; x++ {
		gate := row(x).Add(row(5 + x))
		for y := 0; y < 5; y++ {
			lane := x + 5*y
			for k := 0; k < 8; k++ {
				b.AssertZero(gate.Mul(c.localByte(y, k).Sub(air.Col(c.aByte + 8*lane + k))))
			}
		}
	}

	// Parity rows: slice 5 carries the xor of the column's first three
	// lanes, and the parity lane C[x] is pushed into the next row.
	for z := 0; z < 64; z++ {
		t1 := xor3Expr(c.localBit(0, z), c.localBit(1, z), c.localBit(2, z))
		b.AssertZero(thetaC.Mul(c.localBit(5, z).Sub(t1)))
	}
	for x := 0; x < 5; x++ {
		for k := 0; k < 8; k++ {
			terms := make([]*air.Expr, 8)
			for i := 0; i < 8; i++ {
				z := 8*k + i
				terms[i] = xor3Expr(c.localBit(5, z), c.localBit(3, z), c.localBit(4, z)).MulConst(1 << i)
			}
			b.AssertZeroTransition(row(x).Mul(air.ColNext(c.cByte + 8*x + k).Sub(air.Sum(terms...))))
		}
		keep := thetaC.Sub(row(x))
		for k := 0; k < 8; k++ {
			col := c.cByte + 8*x + k
			b.AssertZeroTransition(keep.Mul(air.ColNext(col).Sub(air.Col(col))))
		}
	}
	for i := 0; i < 40; i++ {
		col := c.cByte + i
		b.AssertZeroTransition(thetaRP.Mul(air.ColNext(col).Sub(air.Col(col))))
	}

	// Theta and rho/pi: row 5+x reads C[x-1] into slice 5 and C[x+1] into
	// slice 6, xors D into the column and rotates each lane to its pi
	// destination in the B copy.
	for x := 0; x < 5; x++ {
		m1 := (x + 4) % 5
		p1 := (x + 1) % 5
		for k := 0; k < 8; k++ {
			b.AssertZero(row(5 + x).Mul(c.localByte(5, k).Sub(air.Col(c.cByte + 8*m1 + k))))
			b.AssertZero(row(5 + x).Mul(c.localByte(6, k).Sub(air.Col(c.cByte + 8*p1 + k))))
		}
		for y := 0; y < 5; y++ {
			dst := c.dstOf[x+5*y]
			rot := c.rotOf[dst]
			for k := 0; k < 8; k++ {
				terms := make([]*air.Expr, 8)
				for i := 0; i < 8; i++ {
					z := (8*k + i - rot + 64) % 64
					d := xorExpr(c.localBit(5, z), c.localBit(6, (z+63)%64))
					terms[i] = xorExpr(c.localBit(y, z), d).MulConst(1 << i)
				}
				b.AssertZeroTransition(row(5 + x).Mul(air.ColNext(c.bByte + 8*dst + k).Sub(air.Sum(terms...))))
			}
		}
	}

	// B persists from its write row to the chi rows that consume it.
	for dst := 0; dst < 25; dst++ {
		srow := 5 + c.srcOf[dst]%5
		gate := air.Const(0)
		for i := 5; i <= 13; i++ {
			if i == srow {
				continue
			}
			gate = gate.Add(row(i))
		}
		for k := 0; k < 8; k++ {
			col := c.bByte + 8*dst + k
			b.AssertZeroTransition(gate.Mul(air.ColNext(col).Sub(air.Col(col))))
		}
	}

	// A is untouched during theta and, lane by lane, until its chi row.
	thetaHold := thetaC.Add(thetaRP)
	wHold := air.Const(0)
	for t := 0; t < 9; t++ {
		wHold = wHold.Add(air.Pre(c.wrF + t))
	}
	for l := 0; l < 25; l++ {
		y := l / 5
		chiKeep := chi.Sub(row(10 + y))
		for k := 0; k < 8; k++ {
			col := c.aByte + 8*l + k
			diff := air.ColNext(col).Sub(air.Col(col))
			b.AssertZeroTransition(thetaHold.Mul(diff))
			b.AssertZeroTransition(chiKeep.Mul(diff))
			b.AssertZeroTransition(wHold.Mul(diff))
		}
	}

	// Chi rows decompose B's row y into slices 0..4 by x.
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			lane := x + 5*y
			for k := 0; k < 8; k++ {
				b.AssertZero(row(10 + y).Mul(c.localByte(x, k).Sub(air.Col(c.bByte + 8*lane + k))))
			}
		}
	}

	chiBit := func(x, z int) *air.Expr {
		and := air.Const(1).Sub(c.localBit((x+1)%5, z)).Mul(c.localBit((x+2)%5, z))
		return xorExpr(c.localBit(x, z), and)
	}

	// Lane 0 takes the round constant; its chi output is materialized in
	// slice 5 so the iota xor stays in degree.
	for z := 0; z < 64; z++ {
		b.AssertZero(row(10).Mul(c.localBit(5, z).Sub(chiBit(0, z))))
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			lane := x + 5*y
			for k := 0; k < 8; k++ {
				terms := make([]*air.Expr, 8)
				for i := 0; i < 8; i++ {
					z := 8*k + i
					if lane == 0 {
						rc := isReal.Mul(air.Pre(c.rcBit + z))
						terms[i] = xorExpr(c.localBit(5, z), rc).MulConst(1 << i)
					} else {
						terms[i] = chiBit(x, z).MulConst(1 << i)
					}
				}
				b.AssertZeroTransition(row(10 + y).Mul(air.ColNext(c.aByte + 8*lane + k).Sub(air.Sum(terms...))))
			}
		}
	}

	// Memory traffic: five words per row, reads over rows 0..9 on tick
	// clk+4, writes over rows 360..369 on clk+5.
	rdAct := air.Const(0)
	for t := 0; t < 10; t++ {
		rdAct = rdAct.Add(air.Pre(c.rdF + t))
	}
	wrAct := air.Const(0)
	for t := 0; t < 10; t++ {
		wrAct = wrAct.Add(air.Pre(c.wrF + t))
	}
	clk4 := air.Col(c.ev.clk).AddConst(4)
	clk5 := air.Col(c.ev.clk).AddConst(5)
	base := pack(word(c.ev.ptrB))

	for g := 0; g < 5; g++ {
		var rval, wval [4]*air.Expr
		for k := 0; k < 4; k++ {
			rv := air.Const(0)
			wv := air.Const(0)
			for t := 0; t < 10; t++ {
				w := 5*t + g
				rv = rv.Add(air.Pre(c.rdF + t).Mul(air.Col(c.wordByteCol(w, k))))
				wv = wv.Add(air.Pre(c.wrF + t).Mul(air.Col(c.wordByteCol(w, k))))
			}
			rval[k] = rv
			wval[k] = wv
		}
		rAddr := base.Add(air.Pre(c.sc.step).MulConst(20)).AddConst(uint64(4 * g))
		wAddr := base.Add(air.Pre(c.sc.step).SubConst(keccakWriteRow).MulConst(20)).AddConst(uint64(4 * g))
		c.reads[g].eval(b, rAddr, clk4, rval, isReal.Mul(rdAct))
		c.writes[g].evalWrite(b, wAddr, clk5, wval, isReal.Mul(wrAct))
	}
}

func (c *KeccakPermuteChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, SegmentHeight)
	c.sc.fill(m, keccakSlot)
	for i := 0; i < keccakRoundRows; i++ {
		i := i
		slotFlag(m, c.rowF+i, keccakSlot, func(s int) bool {
			return s < keccakWriteRow && s%keccakRoundRows == i
		})
	}
	for t := 0; t < 10; t++ {
		t := t
		slotFlag(m, c.rdF+t, keccakSlot, func(s int) bool { return s == t })
		slotFlag(m, c.wrF+t, keccakSlot, func(s int) bool { return s == keccakWriteRow+t })
	}
	for z := 0; z < 64; z++ {
		z := z
		slotVal(m, c.rcBit+z, keccakSlot, func(s int) uint64 {
			if s < keccakWriteRow && s%keccakRoundRows == 10 {
				return executor.KeccakRC[s/keccakRoundRows] >> z & 1
			}
			return 0
		})
	}
	return m
}

func setBits64(m *air.Matrix, row, c int, v uint64) {
	for i := 0; i < 64; i++ {
		m.SetUint(row, c+i, v>>i&1)
	}
}

func (c *KeccakPermuteChip) setLane(m *air.Matrix, row, base, lane int, v uint64) {
	for k := 0; k < 8; k++ {
		m.SetUint(row, base+8*lane+k, v>>(8*uint(k))&0xFF)
	}
}

func (c *KeccakPermuteChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	events := rec.KeccakPermuteEvents
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(events)*keccakSlot))
	for i := range events {
		ev := &events[i]
		row0 := i * keccakSlot
		c.ev.fill(m, row0, keccakSlot, ev.Clk, ev.StatePtr, ev.A1)

		var cur [25]uint64
		for l := 0; l < 25; l++ {
			cur[l] = uint64(ev.Reads[2*l].Value) | uint64(ev.Reads[2*l+1].Value)<<32
		}
		for t := 0; t < 10; t++ {
			for g := 0; g < 5; g++ {
				c.reads[g].fill(m, row0+t, ev.Reads[5*t+g], bl)
			}
		}

		for r := 0; r < 24; r++ {
			base := row0 + keccakRoundRows*r

			var bc [5]uint64
			for x := 0; x < 5; x++ {
				bc[x] = cur[x] ^ cur[x+5] ^ cur[x+10] ^ cur[x+15] ^ cur[x+20]
			}
			var at [25]uint64
			for x := 0; x < 5; x++ {
				d := bc[(x+4)%5] ^ bits.RotateLeft64(bc[(x+1)%5], 1)
				for y := 0; y < 5; y++ {
					at[x+5*y] = cur[x+5*y] ^ d
				}
			}
			var bs [25]uint64
			bs[0] = at[0]
			for dst := 1; dst < 25; dst++ {
				bs[dst] = bits.RotateLeft64(at[c.srcOf[dst]], c.rotOf[dst])
			}
			var nxt [25]uint64
			for y := 0; y < 5; y++ {
				for x := 0; x < 5; x++ {
					nxt[x+5*y] = bs[x+5*y] ^ (^bs[(x+1)%5+5*y] & bs[(x+2)%5+5*y])
				}
			}
			nxt[0] ^= executor.KeccakRC[r]

			// Carried state: A switches to the new value row block by
			// row block as chi lands, C and B appear as their rows run.
			for rr := 0; rr < keccakRoundRows; rr++ {
				row := base + rr
				for l := 0; l < 25; l++ {
					v := cur[l]
					if rr >= 11 && l < 5*(rr-10) {
						v = nxt[l]
					}
					c.setLane(m, row, c.aByte, l, v)
				}
				for x := 0; x < 5; x++ {
					if rr >= x+1 && rr <= 10 {
						c.setLane(m, row, c.cByte, x, bc[x])
					}
				}
				for dst := 0; dst < 25; dst++ {
					if rr > 5+c.srcOf[dst]%5 {
						c.setLane(m, row, c.bByte, dst, bs[dst])
					}
				}
			}

			// Local decompositions per phase row.
			for x := 0; x < 5; x++ {
				row := base + x
				for y := 0; y < 5; y++ {
					setBits64(m, row, c.local+64*y, cur[x+5*y])
				}
				setBits64(m, row, c.local+64*5, cur[x]^cur[x+5]^cur[x+10])
			}
			for x := 0; x < 5; x++ {
				row := base + 5 + x
				for y := 0; y < 5; y++ {
					setBits64(m, row, c.local+64*y, cur[x+5*y])
				}
				setBits64(m, row, c.local+64*5, bc[(x+4)%5])
				setBits64(m, row, c.local+64*6, bc[(x+1)%5])
			}
			for y := 0; y < 5; y++ {
				row := base + 10 + y
				for x := 0; x < 5; x++ {
					setBits64(m, row, c.local+64*x, bs[x+5*y])
				}
			}
			setBits64(m, base+10, c.local+64*5, bs[0]^(^bs[1]&bs[2]))

			cur = nxt
		}

		for t := 0; t < 10; t++ {
			row := row0 + keccakWriteRow + t
			for l := 0; l < 25; l++ {
				c.setLane(m, row, c.aByte, l, cur[l])
			}
			for g := 0; g < 5; g++ {
				c.writes[g].fillWrite(m, row, ev.Writes[5*t+g], bl)
			}
		}
	}
	return m
}
