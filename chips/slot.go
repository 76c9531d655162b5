package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// Precompile chips schedule one event per fixed power-of-two row slot, so a
// segment trace holds SegmentHeight/size events at most. Preprocessed columns
// carry the within-slot schedule (row index, boundaries, per-row activity
// flags); the executor's per-segment row budget keeps honest traces inside
// the slot capacity.

// slotCols are the schedule columns every slotted chip carries.
type slotCols struct {
	step  int // row index within the slot
	first int // 1 on the slot's first row
	last  int // 1 on the slot's final row
}

func newSlotCols(s *span) slotCols {
	return slotCols{step: s.next(), first: s.next(), last: s.next()}
}

func (c slotCols) fill(m *air.Matrix, size int) {
	for row := 0; row < m.Height; row++ {
		step := row % size
		m.SetUint(row, c.step, uint64(step))
		if step == 0 {
			m.SetUint(row, c.first, 1)
		}
		if step == size-1 {
			m.SetUint(row, c.last, 1)
		}
	}
}

// slotFlag fills a preprocessed flag column from a per-step predicate.
func slotFlag(m *air.Matrix, col, size int, active func(step int) bool) {
	for row := 0; row < m.Height; row++ {
		if active(row % size) {
			m.SetUint(row, col, 1)
		}
	}
}

// slotVal fills a preprocessed column from a per-step value.
func slotVal(m *air.Matrix, col, size int, val func(step int) uint64) {
	for row := 0; row < m.Height; row++ {
		m.SetUint(row, col, val(row%size))
	}
}

// eventCols bind a slot to the syscall that produced its event. The chip
// receives the CPU's syscall message on the slot's first row; the clock and
// both pointer operands are held constant across the slot so every row can
// address memory relative to them.
type eventCols struct {
	isReal int
	clk    int
	ptrB   int // 4 limbs, first pointer operand
	ptrC   int // 4 limbs, second pointer operand
}

func newEventCols(s *span) eventCols {
	return eventCols{isReal: s.next(), clk: s.next(), ptrB: s.word(), ptrC: s.word()}
}

func (e eventCols) eval(b *air.Builder, sc slotCols, code executor.SyscallCode) {
	e.evalCode(b, sc, air.Const(uint64(code)), air.Const(uint64(code.Ticks())))
}

// evalCode is the variant for chips that serve several syscall codes and
// select the dispatched one per slot.
func (e eventCols) evalCode(b *air.Builder, sc slotCols, code, ticks *air.Expr) {
	isReal := air.Col(e.isReal)
	b.AssertBool(isReal)

	hold := air.Const(1).Sub(air.Pre(sc.last))
	b.AssertZeroTransition(hold.Mul(air.ColNext(e.isReal).Sub(isReal)))
	b.AssertZeroTransition(hold.Mul(air.ColNext(e.clk).Sub(air.Col(e.clk))))
	for k := 0; k < 4; k++ {
		b.AssertZeroTransition(hold.Mul(air.ColNext(e.ptrB + k).Sub(air.Col(e.ptrB + k))))
		b.AssertZeroTransition(hold.Mul(air.ColNext(e.ptrC + k).Sub(air.Col(e.ptrC + k))))
	}

	b.Receive(air.BusSyscall,
		syscallFields(code, ticks, air.Col(e.clk), word(e.ptrB), word(e.ptrC)),
		isReal.Mul(air.Pre(sc.first)))
}

// fill writes the event binding over every row of the slot starting at row0.
func (e eventCols) fill(m *air.Matrix, row0, size int, clk, a0, a1 uint32) {
	for r := row0; r < row0+size; r++ {
		m.SetUint(r, e.isReal, 1)
		m.SetUint(r, e.clk, uint64(clk))
		setWord(m, r, e.ptrB, a0)
		setWord(m, r, e.ptrC, a1)
	}
}

// Bit column helpers. Hash chips keep 32-bit quantities as one column per
// bit so rotations are free and xor stays low degree.

func colBits(c, n int) []*air.Expr {
	out := make([]*air.Expr, n)
	for i := range out {
		out[i] = air.Col(c + i)
	}
	return out
}

func colBitsNext(c, n int) []*air.Expr {
	out := make([]*air.Expr, n)
	for i := range out {
		out[i] = air.ColNext(c + i)
	}
	return out
}

// bitsByte recombines bits [8k, 8k+8) into the k-th byte of the word.
func bitsByte(bits []*air.Expr, k int) *air.Expr {
	terms := make([]*air.Expr, 8)
	for i := 0; i < 8; i++ {
		terms[i] = bits[8*k+i].MulConst(1 << i)
	}
	return air.Sum(terms...)
}

// bitsWord recombines 32 bits into the four bytes of a word.
func bitsWord(bits []*air.Expr) [4]*air.Expr {
	var w [4]*air.Expr
	for k := 0; k < 4; k++ {
		w[k] = bitsByte(bits, k)
	}
	return w
}

func setBits(m *air.Matrix, row, c int, v uint32, n int) {
	for i := 0; i < n; i++ {
		m.SetUint(row, c+i, uint64(v>>i&1))
	}
}

// xorExpr is the arithmetization of xor on boolean operands. Nesting it
// raises the degree by one per operand.
func xorExpr(x, y *air.Expr) *air.Expr {
	return x.Add(y).Sub(x.Mul(y).MulConst(2))
}

func xor3Expr(x, y, z *air.Expr) *air.Expr {
	return xorExpr(xorExpr(x, y), z)
}
