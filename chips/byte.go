package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// ByteOp tags a byte table operation on the byte bus.
type ByteOp uint8

const (
	// ByteU8 checks b is a byte. The c operand and both results are zero.
	ByteU8 ByteOp = iota + 1
	// ByteLTU yields r1 = (b < c).
	ByteLTU
	// ByteMSB yields r1 = b >> 7. The c operand is zero.
	ByteMSB
	// ByteAnd, ByteOr and ByteXor yield r1 = b op c.
	ByteAnd
	ByteOr
	ByteXor
	// ByteSll yields r1 = (b << s) mod 256 and r2 = b >> (8-s) for the
	// bit shift s = c mod 8.
	ByteSll
	// ByteShr yields r1 = b >> s and r2 = (b << (8-s)) mod 256 for the
	// bit shift s = c mod 8, with r2 = 0 when s = 0.
	ByteShr

	nbByteOps = int(ByteShr)
)

// ByteLog counts byte table lookups made during trace generation. Each
// method also computes the looked up result, so trace fills stay in sync
// with the multiplicities by construction.
type ByteLog struct {
	counts map[uint32]uint32
}

func NewByteLog() *ByteLog {
	return &ByteLog{counts: make(map[uint32]uint32)}
}

func (l *ByteLog) add(op ByteOp, b, c uint8) {
	l.counts[uint32(op)<<16|uint32(b)<<8|uint32(c)]++
}

// Merge folds the counts of other into l. Trace generation runs one log
// per chip so chips can fill in parallel; the logs merge before the byte
// table trace is built.
func (l *ByteLog) Merge(other *ByteLog) {
	for k, n := range other.counts {
		l.counts[k] += n
	}
}

// U8 records a range check of b.
func (l *ByteLog) U8(b uint8) { l.add(ByteU8, b, 0) }

// U8Word range checks all four limbs of v.
func (l *ByteLog) U8Word(v uint32) {
	for k := 0; k < 4; k++ {
		l.U8(uint8(v >> (8 * k)))
	}
}

// LTU records an unsigned byte comparison.
func (l *ByteLog) LTU(b, c uint8) bool {
	l.add(ByteLTU, b, c)
	return b < c
}

// MSB records a most significant bit extraction.
func (l *ByteLog) MSB(b uint8) uint8 {
	l.add(ByteMSB, b, 0)
	return b >> 7
}

func (l *ByteLog) And(b, c uint8) uint8 {
	l.add(ByteAnd, b, c)
	return b & c
}

func (l *ByteLog) Or(b, c uint8) uint8 {
	l.add(ByteOr, b, c)
	return b | c
}

func (l *ByteLog) Xor(b, c uint8) uint8 {
	l.add(ByteXor, b, c)
	return b ^ c
}

// Sll records a byte left shift by s in [0,8).
func (l *ByteLog) Sll(b, s uint8) (lo, carry uint8) {
	l.add(ByteSll, b, s)
	return byteSll(b, s)
}

// Shr records a byte right shift by s in [0,8).
func (l *ByteLog) Shr(b, s uint8) (lo, carry uint8) {
	l.add(ByteShr, b, s)
	return byteShr(b, s)
}

func byteSll(b, s uint8) (lo, carry uint8) {
	s &= 7
	v := uint16(b) << s
	return uint8(v), uint8(v >> 8)
}

func byteShr(b, s uint8) (lo, carry uint8) {
	s &= 7
	if s == 0 {
		return b, 0
	}
	return b >> s, b << (8 - s)
}

// Byte bus lookup helpers used by requesting chips.

func byteLookup(b *air.Builder, op ByteOp, x, y, r1, r2, mult *air.Expr) {
	b.Send(air.BusByte, []*air.Expr{air.Const(uint64(op)), x, y, r1, r2}, mult)
}

// rangeU8 checks x is a byte when mult is active.
func rangeU8(b *air.Builder, x, mult *air.Expr) {
	byteLookup(b, ByteU8, x, air.Const(0), air.Const(0), air.Const(0), mult)
}

// rangeWord checks all four limbs of the word.
func rangeWord(b *air.Builder, w [4]*air.Expr, mult *air.Expr) {
	for k := 0; k < 4; k++ {
		rangeU8(b, w[k], mult)
	}
}

// ByteChip is the shared byte table: 2^16 preprocessed rows enumerate every
// (b, c) pair and one multiplicity column per operation absorbs the lookups
// the rest of the machine sends.
type ByteChip struct {
	pre  byteTableCols
	mult int // first of nbByteOps multiplicity columns
}

type byteTableCols struct {
	b, c     int
	and      int
	or       int
	xor      int
	ltu      int
	msb      int
	sllLo    int
	sllCarry int
	shrLo    int
	shrCarry int
}

// ByteTableHeight is the byte table row count, and therefore the minimum
// trace height of any segment.
const ByteTableHeight = 1 << 16

func NewByteChip() *ByteChip {
	var s span
	pre := byteTableCols{
		b: s.next(), c: s.next(),
		and: s.next(), or: s.next(), xor: s.next(),
		ltu: s.next(), msb: s.next(),
		sllLo: s.next(), sllCarry: s.next(),
		shrLo: s.next(), shrCarry: s.next(),
	}
	return &ByteChip{pre: pre, mult: 0}
}

func (c *ByteChip) Name() string { return "byte" }

func (c *ByteChip) MainWidth() int { return nbByteOps }

func (c *ByteChip) PreprocessedWidth() int { return 11 }

func (c *ByteChip) Eval(b *air.Builder) {
	t := c.pre
	zero := air.Const(0)
	recv := func(op ByteOp, x, y, r1, r2 *air.Expr) {
		b.Receive(air.BusByte,
			[]*air.Expr{air.Const(uint64(op)), x, y, r1, r2},
			air.Col(c.mult+int(op)-1))
	}
	recv(ByteU8, air.Pre(t.b), zero, zero, zero)
	recv(ByteLTU, air.Pre(t.b), air.Pre(t.c), air.Pre(t.ltu), zero)
	recv(ByteMSB, air.Pre(t.b), zero, air.Pre(t.msb), zero)
	recv(ByteAnd, air.Pre(t.b), air.Pre(t.c), air.Pre(t.and), zero)
	recv(ByteOr, air.Pre(t.b), air.Pre(t.c), air.Pre(t.or), zero)
	recv(ByteXor, air.Pre(t.b), air.Pre(t.c), air.Pre(t.xor), zero)
	recv(ByteSll, air.Pre(t.b), air.Pre(t.c), air.Pre(t.sllLo), air.Pre(t.sllCarry))
	recv(ByteShr, air.Pre(t.b), air.Pre(t.c), air.Pre(t.shrLo), air.Pre(t.shrCarry))
}

func (c *ByteChip) Preprocessed(_ *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.PreprocessedWidth(), ByteTableHeight)
	t := c.pre
	for row := 0; row < ByteTableHeight; row++ {
		b := uint8(row >> 8)
		cc := uint8(row)
		m.SetUint(row, t.b, uint64(b))
		m.SetUint(row, t.c, uint64(cc))
		m.SetUint(row, t.and, uint64(b&cc))
		m.SetUint(row, t.or, uint64(b|cc))
		m.SetUint(row, t.xor, uint64(b^cc))
		if b < cc {
			m.SetUint(row, t.ltu, 1)
		}
		m.SetUint(row, t.msb, uint64(b>>7))
		lo, carry := byteSll(b, cc)
		m.SetUint(row, t.sllLo, uint64(lo))
		m.SetUint(row, t.sllCarry, uint64(carry))
		lo, carry = byteShr(b, cc)
		m.SetUint(row, t.shrLo, uint64(lo))
		m.SetUint(row, t.shrCarry, uint64(carry))
	}
	return m
}

// Trace ignores the record: the byte chip's main columns are the
// multiplicities accumulated while every other chip generated its trace, so
// the machine must call it last.
func (c *ByteChip) Trace(_ *executor.Program, _ *executor.Record, bl *ByteLog) *air.Matrix {
	m := air.NewMatrix(c.MainWidth(), ByteTableHeight)
	for key, count := range bl.counts {
		op := ByteOp(key >> 16)
		row := int(key & 0xFFFF)
		m.SetUint(row, c.mult+int(op)-1, uint64(count))
	}
	return m
}
