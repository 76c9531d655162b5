package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// access is the read gadget of the offline memory argument: receive the
// cell's previous state, send its new one and prove the clock strictly
// increased. Reads reuse the caller's value limbs for both sides.
//
// The clock gap clk - prevClk - 1 is decomposed into three byte limbs and a
// top limb below 0x40, bounding it under 2^30. The executor keeps every
// clock below 2^30, so honest gaps always fit.
type access struct {
	prevClk int
	gap     int // 4 limbs
}

func newAccess(s *span) access {
	return access{prevClk: s.next(), gap: s.word()}
}

func (g access) eval(b *air.Builder, addr, clk *air.Expr, val [4]*air.Expr, mult *air.Expr) {
	b.Receive(air.BusMemory, memFields(addr, air.Col(g.prevClk), val), mult)
	b.Send(air.BusMemory, memFields(addr, clk, val), mult)

	gap := word(g.gap)
	b.AssertZero(mult.Mul(pack(gap).Sub(clk.Sub(air.Col(g.prevClk)).SubConst(1))))
	for k := 0; k < 3; k++ {
		rangeU8(b, gap[k], mult)
	}
	byteLookup(b, ByteLTU, gap[3], air.Const(0x40), air.Const(1), air.Const(0), mult)
}

func (g access) fill(m *air.Matrix, row int, rec executor.MemoryRecord, bl *ByteLog) {
	m.SetUint(row, g.prevClk, uint64(rec.PrevClk))
	d := rec.Clk - rec.PrevClk - 1
	setWord(m, row, g.gap, d)
	for k := 0; k < 3; k++ {
		bl.U8(uint8(d >> (8 * k)))
	}
	bl.LTU(uint8(d>>24), 0x40)
}

// accessW extends access with previous value columns for writes, whose new
// value differs from the received one.
type accessW struct {
	access
	prevVal int // 4 limbs
}

func newAccessW(s *span) accessW {
	return accessW{access: newAccess(s), prevVal: s.word()}
}

func (g accessW) evalWrite(b *air.Builder, addr, clk *air.Expr, val [4]*air.Expr, mult *air.Expr) {
	b.Receive(air.BusMemory, memFields(addr, air.Col(g.prevClk), word(g.prevVal)), mult)
	b.Send(air.BusMemory, memFields(addr, clk, val), mult)

	gap := word(g.gap)
	b.AssertZero(mult.Mul(pack(gap).Sub(clk.Sub(air.Col(g.prevClk)).SubConst(1))))
	for k := 0; k < 3; k++ {
		rangeU8(b, gap[k], mult)
	}
	byteLookup(b, ByteLTU, gap[3], air.Const(0x40), air.Const(1), air.Const(0), mult)
}

func (g accessW) fillWrite(m *air.Matrix, row int, rec executor.MemoryRecord, bl *ByteLog) {
	g.access.fill(m, row, rec, bl)
	setWord(m, row, g.prevVal, rec.PrevValue)
}
