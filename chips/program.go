package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
)

// ProgramChip is the preprocessed instruction table. The CPU sends one fetch
// message per executed instruction; this chip receives each table row with
// the multiplicity of its executions, so the CPU can only run instructions
// the verifier key commits to.
type ProgramChip struct {
	preReal int
	prePC   int
	preOp   int
	preOpA  int
	preB    int // 4 limbs: register index or immediate
	preC    int // 4 limbs
	preImmB int
	preImmC int
	preW    int

	mult int
}

func NewProgramChip() *ProgramChip {
	var pre span
	c := &ProgramChip{
		preReal: pre.next(),
		prePC:   pre.next(),
		preOp:   pre.next(),
		preOpA:  pre.next(),
		preB:    pre.word(),
		preC:    pre.word(),
		preImmB: pre.next(),
		preImmC: pre.next(),
	}
	c.preW = pre.width()
	c.mult = 0
	return c
}

func (c *ProgramChip) Name() string { return "program" }

func (c *ProgramChip) MainWidth() int { return 1 }

func (c *ProgramChip) PreprocessedWidth() int { return c.preW }

func (c *ProgramChip) Eval(b *air.Builder) {
	mult := air.Col(c.mult)
	// Padding rows have no instruction to fetch.
	b.AssertZero(mult.Mul(air.Const(1).Sub(air.Pre(c.preReal))))
	b.Receive(air.BusProgram, programFields(
		air.Pre(c.prePC),
		air.Pre(c.preOp),
		air.Pre(c.preOpA),
		preWord(c.preB),
		preWord(c.preC),
		air.Pre(c.preImmB),
		air.Pre(c.preImmC),
	), mult)
}

func (c *ProgramChip) Preprocessed(p *executor.Program) *air.Matrix {
	m := air.NewMatrix(c.preW, air.NextPowerOfTwo(len(p.Instructions)))
	for i, ins := range p.Instructions {
		m.SetUint(i, c.preReal, 1)
		m.SetUint(i, c.prePC, uint64(p.PCBase)+4*uint64(i))
		m.SetUint(i, c.preOp, uint64(ins.Opcode))
		m.SetUint(i, c.preOpA, uint64(ins.OpA))
		setWord(m, i, c.preB, ins.OpB)
		setWord(m, i, c.preC, ins.OpC)
		if ins.ImmB {
			m.SetUint(i, c.preImmB, 1)
		}
		if ins.ImmC {
			m.SetUint(i, c.preImmC, 1)
		}
	}
	return m
}

func (c *ProgramChip) Trace(p *executor.Program, rec *executor.Record, _ *ByteLog) *air.Matrix {
	m := air.NewMatrix(1, air.NextPowerOfTwo(len(p.Instructions)))
	counts := make(map[int]uint64)
	for i := range rec.CpuEvents {
		if idx, ok := p.FetchIndex(rec.CpuEvents[i].PC); ok {
			counts[idx]++
		}
	}
	for idx, n := range counts {
		m.SetUint(idx, c.mult, n)
	}
	return m
}
