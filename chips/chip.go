package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// Chip couples a constraint system with its trace generation.
//
// Preprocessed columns depend only on the program and are committed once at
// setup; Trace fills the main columns from one segment record. Byte table
// lookups performed while filling must be counted in bl so the byte chip's
// multiplicities match.
type Chip interface {
	air.Chip

	// Preprocessed returns the fixed columns for the program, or nil when
	// PreprocessedWidth is zero.
	Preprocessed(p *executor.Program) *air.Matrix

	// Trace fills the main columns from one segment. The returned matrix has
	// the chip's natural height; the machine pads it to the segment height.
	Trace(p *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix
}

// SegmentHeight is the uniform trace height of every chip in a segment
// proof. The byte table pins it: its preprocessed rows enumerate all 2^16
// operand pairs.
const SegmentHeight = ByteTableHeight

// span hands out consecutive column indices. Chips lay out their columns in
// one pass at construction so the layout is a plain struct of offsets.
type span struct{ n int }

func (s *span) next() int { i := s.n; s.n++; return i }

func (s *span) word() int { i := s.n; s.n += 4; return i }

func (s *span) block(k int) int { i := s.n; s.n += k; return i }

func (s *span) width() int { return s.n }

// word returns the limb expressions of the word starting at main column c.
func word(c int) [4]*air.Expr {
	return [4]*air.Expr{air.Col(c), air.Col(c + 1), air.Col(c + 2), air.Col(c + 3)}
}

// preWord returns the limb expressions of the word starting at preprocessed
// column c.
func preWord(c int) [4]*air.Expr {
	return [4]*air.Expr{air.Pre(c), air.Pre(c + 1), air.Pre(c + 2), air.Pre(c + 3)}
}

// constWord returns the limbs of v as constant expressions.
func constWord(v uint32) [4]*air.Expr {
	return [4]*air.Expr{
		air.Const(uint64(v & 0xFF)),
		air.Const(uint64(v >> 8 & 0xFF)),
		air.Const(uint64(v >> 16 & 0xFF)),
		air.Const(uint64(v >> 24 & 0xFF)),
	}
}

// pack recombines byte limbs into a single field element expression. Only
// sound when the packed value is known to stay below the field modulus, so
// callers must bound the top limb first.
func pack(w [4]*air.Expr) *air.Expr {
	return w[0].
		Add(w[1].MulConst(1 << 8)).
		Add(w[2].MulConst(1 << 16)).
		Add(w[3].MulConst(1 << 24))
}

// setWord writes the limbs of v into four consecutive cells.
func setWord(m *air.Matrix, row, c int, v uint32) {
	m.SetUint(row, c, uint64(v&0xFF))
	m.SetUint(row, c+1, uint64(v>>8&0xFF))
	m.SetUint(row, c+2, uint64(v>>16&0xFF))
	m.SetUint(row, c+3, uint64(v>>24&0xFF))
}

// Bus message layouts. Every sender and receiver on a bus must agree on the
// exact field order or the lookup argument cannot cancel.

// memFields lays out a memory bus message: packed address, packed clock and
// the word limbs.
func memFields(addr, clk *air.Expr, v [4]*air.Expr) []*air.Expr {
	return []*air.Expr{addr, clk, v[0], v[1], v[2], v[3]}
}

// aluFields lays out an ALU bus message: opcode tag and the three operand
// words.
func aluFields(op *air.Expr, a, b, c [4]*air.Expr) []*air.Expr {
	f := make([]*air.Expr, 0, 13)
	f = append(f, op)
	f = append(f, a[:]...)
	f = append(f, b[:]...)
	f = append(f, c[:]...)
	return f
}

// programFields lays out an instruction fetch: pc, opcode tag, the A operand
// register index, the B and C operand words and the immediate flags.
func programFields(pc, op, opA *air.Expr, b, c [4]*air.Expr, immB, immC *air.Expr) []*air.Expr {
	f := make([]*air.Expr, 0, 13)
	f = append(f, pc, op, opA)
	f = append(f, b[:]...)
	f = append(f, c[:]...)
	f = append(f, immB, immC)
	return f
}

// syscallFields lays out a precompile dispatch: syscall code, the clock tick
// count the call occupies, the packed clock and the two pointer arguments.
func syscallFields(code, ticks, clk *air.Expr, b, c [4]*air.Expr) []*air.Expr {
	f := make([]*air.Expr, 0, 11)
	f = append(f, code, ticks, clk)
	f = append(f, b[:]...)
	f = append(f, c[:]...)
	return f
}

// opcodeExpr returns the opcode tag constant for op.
func opcodeExpr(op executor.Opcode) *air.Expr {
	return air.Const(uint64(op))
}
