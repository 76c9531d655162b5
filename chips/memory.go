package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// The offline memory argument. Three chips anchor every access chain:
//
//   - ProgramMemoryChip sends the program image and the zeroed commit window
//     at clock zero. Its rows are preprocessed, so the verifier key pins the
//     exact initial state; the sends activate only in the first segment.
//   - MemoryInitChip sends the dynamically initialized cells: host inputs
//     and every other cell first touched during execution, the latter forced
//     to value zero.
//   - MemoryFinalChip receives each cell's last state. Rows in the commit
//     window additionally bind their value to the public commit digest.
//
// Doubly initializing an address cannot balance: finalization rows within a
// trace have strictly increasing addresses, so the surplus send is never
// received.

// ProgramMemoryChip holds the preprocessed initial memory image.
type ProgramMemoryChip struct {
	preReal int
	preAddr int
	preVal  int
	active  int
}

func NewProgramMemoryChip() *ProgramMemoryChip {
	var pre span
	c := &ProgramMemoryChip{
		preReal: pre.next(),
		preAddr: pre.next(),
		preVal:  pre.word(),
	}
	c.active = 0
	return c
}

func (c *ProgramMemoryChip) Name() string { return "program_memory" }

func (c *ProgramMemoryChip) MainWidth() int { return 1 }

func (c *ProgramMemoryChip) PreprocessedWidth() int { return 6 }

func (c *ProgramMemoryChip) Eval(b *air.Builder) {
	b.SetPublicCount(NbPublics)
	active := air.Col(c.active)
	// The image initializes memory once, in the first segment.
	b.AssertZero(active.Sub(air.Pre(c.preReal).Mul(air.Public(PubIsFirst))))
	b.Send(air.BusMemory, memFields(air.Pre(c.preAddr), air.Const(0), preWord(c.preVal)), active)
}

func (c *ProgramMemoryChip) Preprocessed(p *executor.Program) *air.Matrix {
	cells := p.PreInitCells()
	m := air.NewMatrix(c.PreprocessedWidth(), air.NextPowerOfTwo(len(cells)))
	for row, cell := range cells {
		m.SetUint(row, c.preReal, 1)
		m.SetUint(row, c.preAddr, uint64(cell.Addr))
		setWord(m, row, c.preVal, cell.Value)
	}
	return m
}

func (c *ProgramMemoryChip) Trace(p *executor.Program, rec *executor.Record, _ *ByteLog) *air.Matrix {
	cells := p.PreInitCells()
	m := air.NewMatrix(1, air.NextPowerOfTwo(len(cells)))
	if rec.Public.IsFirst {
		// The activity constraint zeroes the column wherever the preprocessed
		// realness flag does, so padding rows after machine resize stay inert.
		for row := range cells {
			m.SetUint(row, c.active, 1)
		}
	}
	return m
}

// MemoryInitChip sends dynamically initialized cells at clock zero.
type MemoryInitChip struct {
	isReal  int
	addr    int // 4 limbs
	val     int // 4 limbs
	isInput int
	inpInv  int
	gap     int // 4 limbs, strict address increase
	width   int
}

func NewMemoryInitChip() *MemoryInitChip {
	var s span
	c := &MemoryInitChip{
		isReal:  s.next(),
		addr:    s.word(),
		val:     s.word(),
		isInput: s.next(),
		inpInv:  s.next(),
		gap:     s.word(),
	}
	c.width = s.width()
	return c
}

func (c *MemoryInitChip) Name() string { return "memory_init" }

func (c *MemoryInitChip) MainWidth() int { return c.width }

func (c *MemoryInitChip) PreprocessedWidth() int { return 0 }

func (c *MemoryInitChip) Eval(b *air.Builder) {
	isReal := air.Col(c.isReal)
	addr := word(c.addr)
	val := word(c.val)
	isInput := air.Col(c.isInput)

	b.AssertBool(isReal)
	b.AssertZeroTransition(air.Const(1).Sub(isReal).Mul(air.ColNext(c.isReal)))

	rangeWord(b, addr, isReal)
	byteLookup(b, ByteLTU, addr[3], air.Const(0x21), air.Const(1), air.Const(0), isReal)
	rangeWord(b, val, isReal)

	// Host input regions are recognizable by their top address limb; all
	// other dynamic cells initialize to zero.
	b.AssertBool(isInput)
	b.AssertZero(isInput.Mul(addr[3].SubConst(0x1E)))
	b.AssertZero(isReal.Mul(isInput.Add(addr[3].SubConst(0x1E).Mul(air.Col(c.inpInv))).SubConst(1)))
	for k := 0; k < 4; k++ {
		b.AssertZero(isReal.Sub(isInput).Mul(val[k]))
	}

	c.strictIncrease(b)

	b.Send(air.BusMemory, memFields(pack(addr), air.Const(0), val), isReal)
}

func (c *MemoryInitChip) strictIncrease(b *air.Builder) {
	isRealNext := air.ColNext(c.isReal)
	cur := pack(word(c.addr))
	var next [4]*air.Expr
	var gapNext [4]*air.Expr
	for k := 0; k < 4; k++ {
		next[k] = air.ColNext(c.addr + k)
		gapNext[k] = air.ColNext(c.gap + k)
	}
	b.AssertZeroTransition(isRealNext.Mul(pack(gapNext).Sub(pack(next).Sub(cur).SubConst(1))))
	gap := word(c.gap)
	for k := 0; k < 3; k++ {
		rangeU8(b, gap[k], air.Col(c.isReal))
	}
	byteLookup(b, ByteLTU, gap[3], air.Const(0x40), air.Const(1), air.Const(0), air.Col(c.isReal))
}

func (c *MemoryInitChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *MemoryInitChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	entries := rec.MemoryInit
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(entries)))
	for row, e := range entries {
		m.SetUint(row, c.isReal, 1)
		setWord(m, row, c.addr, e.Addr)
		setWord(m, row, c.val, e.Value)
		bl.U8Word(e.Addr)
		bl.LTU(uint8(e.Addr>>24), 0x21)
		bl.U8Word(e.Value)
		if e.Addr>>24 == 0x1E {
			m.SetUint(row, c.isInput, 1)
		} else {
			d := field.NewFelt(uint64(e.Addr >> 24 & 0xFF))
			t := field.NewFelt(0x1E)
			d.Sub(&d, &t)
			m.Set(row, c.inpInv, invFelt(d))
		}
		g := uint32(0)
		if row > 0 {
			g = e.Addr - entries[row-1].Addr - 1
			setWord(m, row, c.gap, g)
		}
		for k := 0; k < 3; k++ {
			bl.U8(uint8(g >> (8 * k)))
		}
		bl.LTU(uint8(g>>24), 0x40)
	}
	return m
}

// MemoryFinalChip receives each cell's final state and binds the commit
// window to the public values.
type MemoryFinalChip struct {
	isReal int
	addr   int // 4 limbs
	clk    int
	val    int // 4 limbs
	gap    int // 4 limbs
	cFlag  int // 8 one-hot commit window markers
	cInv   int // 8 inverse witnesses
	width  int
}

func NewMemoryFinalChip() *MemoryFinalChip {
	var s span
	c := &MemoryFinalChip{
		isReal: s.next(),
		addr:   s.word(),
		clk:    s.next(),
		val:    s.word(),
		gap:    s.word(),
		cFlag:  s.block(8),
		cInv:   s.block(8),
	}
	c.width = s.width()
	return c
}

func (c *MemoryFinalChip) Name() string { return "memory_final" }

func (c *MemoryFinalChip) MainWidth() int { return c.width }

func (c *MemoryFinalChip) PreprocessedWidth() int { return 0 }

func (c *MemoryFinalChip) Eval(b *air.Builder) {
	b.SetPublicCount(NbPublics)
	isReal := air.Col(c.isReal)
	addr := word(c.addr)
	val := word(c.val)
	packedAddr := pack(addr)

	b.AssertBool(isReal)
	b.AssertZeroTransition(air.Const(1).Sub(isReal).Mul(air.ColNext(c.isReal)))

	rangeWord(b, addr, isReal)
	byteLookup(b, ByteLTU, addr[3], air.Const(0x21), air.Const(1), air.Const(0), isReal)

	// Strict address increase within the trace.
	isRealNext := air.ColNext(c.isReal)
	var next [4]*air.Expr
	var gapNext [4]*air.Expr
	for k := 0; k < 4; k++ {
		next[k] = air.ColNext(c.addr + k)
		gapNext[k] = air.ColNext(c.gap + k)
	}
	b.AssertZeroTransition(isRealNext.Mul(pack(gapNext).Sub(pack(next).Sub(packedAddr).SubConst(1))))
	gap := word(c.gap)
	for k := 0; k < 3; k++ {
		rangeU8(b, gap[k], isReal)
	}
	byteLookup(b, ByteLTU, gap[3], air.Const(0x40), air.Const(1), air.Const(0), isReal)

	// Commit window rows expose their value as public output.
	for j := 0; j < 8; j++ {
		flag := air.Col(c.cFlag + j)
		d := packedAddr.SubConst(uint64(executor.CommitAddr(uint32(j))))
		b.AssertZero(flag.Mul(d))
		b.AssertZero(isReal.Mul(flag.Add(d.Mul(air.Col(c.cInv + j))).SubConst(1)))
		for k := 0; k < 4; k++ {
			b.AssertZero(flag.Mul(val[k].Sub(air.Public(PubCommit + 4*j + k))))
		}
	}

	b.Receive(air.BusMemory, memFields(packedAddr, air.Col(c.clk), val), isReal)
}

func (c *MemoryFinalChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *MemoryFinalChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	cells := rec.MemoryFinal
	m := air.NewMatrix(c.width, air.NextPowerOfTwo(len(cells)))
	for row, cell := range cells {
		m.SetUint(row, c.isReal, 1)
		setWord(m, row, c.addr, cell.Addr)
		m.SetUint(row, c.clk, uint64(cell.Clk))
		setWord(m, row, c.val, cell.Value)
		bl.U8Word(cell.Addr)
		bl.LTU(uint8(cell.Addr>>24), 0x21)
		g := uint32(0)
		if row > 0 {
			g = cell.Addr - cells[row-1].Addr - 1
			setWord(m, row, c.gap, g)
		}
		for k := 0; k < 3; k++ {
			bl.U8(uint8(g >> (8 * k)))
		}
		bl.LTU(uint8(g>>24), 0x40)

		for j := uint32(0); j < 8; j++ {
			ca := executor.CommitAddr(j)
			if cell.Addr == ca {
				m.SetUint(row, c.cFlag+int(j), 1)
			} else {
				d := field.NewFelt(uint64(cell.Addr))
				t := field.NewFelt(uint64(ca))
				d.Sub(&d, &t)
				m.Set(row, c.cInv+int(j), invFelt(d))
			}
		}
	}
	return m
}
