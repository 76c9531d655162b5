package chips

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// numSelectors covers every executable opcode, ADD through ECALL. EBREAK and
// UNIMP fault in the executor and never reach a trace.
const numSelectors = int(executor.ECALL) + 1

// CpuChip proves instruction semantics: one row per executed instruction.
//
// The row fetches its instruction from the program table, resolves operands
// through the memory argument, and delegates every 32-bit computation (sums,
// comparisons, products) to the ALU chips over the ALU bus. What remains
// local is control flow, subword load/store wiring and the ECALL services.
//
// Because padding must keep the boundary constraints meaningful, padding
// rows repeat the final pc, clk and halt count instead of being zero, and
// Trace returns a full-height matrix.
type CpuChip struct {
	isReal int
	sel    int // numSelectors one-hot opcode flags
	pc     int // 4 limbs
	npc    int // 4 limbs
	clk    int
	hc     int // running halt count

	opA  int
	bOp  int // 4 limbs: register index or immediate
	cOp  int // 4 limbs
	immB int
	immC int

	bVal int // 4
	cVal int // 4
	aVal int // 4: value written to or read from operand A
	res  int // 4: true result before the x0 write mask

	accB access
	accC access
	accA accessW
	accM accessW
	mVal int // 4: memory word after the access

	addr    int // 4: unmasked b+c for loads, stores and JALR
	addrQ   int // addr limb 0 divided by 4
	offBit0 int
	offBit1 int
	sgn     int // msb of the loaded subword, for sign extension

	isX0 int
	invA int

	brEq   int
	brInv  int
	cmpRes int

	ecHalt   int
	ecWrite  int
	ecCommit int
	ecPre    int
	sysTicks int

	width int
}

func NewCpuChip() *CpuChip {
	var s span
	c := &CpuChip{
		isReal:   s.next(),
		sel:      s.block(numSelectors),
		pc:       s.word(),
		npc:      s.word(),
		clk:      s.next(),
		hc:       s.next(),
		opA:      s.next(),
		bOp:      s.word(),
		cOp:      s.word(),
		immB:     s.next(),
		immC:     s.next(),
		bVal:     s.word(),
		cVal:     s.word(),
		aVal:     s.word(),
		res:      s.word(),
		accB:     newAccess(&s),
		accC:     newAccess(&s),
		accA:     newAccessW(&s),
		accM:     newAccessW(&s),
		mVal:     s.word(),
		addr:     s.word(),
		addrQ:    s.next(),
		offBit0:  s.next(),
		offBit1:  s.next(),
		sgn:      s.next(),
		isX0:     s.next(),
		invA:     s.next(),
		brEq:     s.next(),
		brInv:    s.next(),
		cmpRes:   s.next(),
		ecHalt:   s.next(),
		ecWrite:  s.next(),
		ecCommit: s.next(),
		ecPre:    s.next(),
		sysTicks: s.next(),
	}
	c.width = s.width()
	return c
}

func (c *CpuChip) Name() string { return "cpu" }

func (c *CpuChip) MainWidth() int { return c.width }

func (c *CpuChip) PreprocessedWidth() int { return 0 }

// sl returns the selector expression of one opcode.
func (c *CpuChip) sl(op executor.Opcode) *air.Expr {
	return air.Col(c.sel + int(op))
}

// selRange sums the selectors of ops lo..hi inclusive.
func (c *CpuChip) selRange(lo, hi executor.Opcode) *air.Expr {
	e := c.sl(lo)
	for op := lo + 1; op <= hi; op++ {
		e = e.Add(c.sl(op))
	}
	return e
}

func (c *CpuChip) Eval(b *air.Builder) {
	b.SetPublicCount(NbPublics)

	isReal := air.Col(c.isReal)
	b.AssertBool(isReal)
	// Real rows form a prefix of the trace.
	b.AssertZeroTransition(air.Const(1).Sub(isReal).Mul(air.ColNext(c.isReal)))

	selSum := c.sl(0)
	for k := 1; k < numSelectors; k++ {
		b.AssertBool(air.Col(c.sel + k))
		selSum = selSum.Add(air.Col(c.sel + k))
	}
	b.AssertBool(c.sl(0))
	b.AssertZero(selSum.Sub(isReal))

	c.evalFetch(b, isReal)
	c.evalOperands(b, isReal)
	c.evalResult(b, isReal)
	c.evalMemOps(b, isReal)
	c.evalControl(b, isReal)
	c.evalEcall(b, isReal)
	c.evalClock(b, isReal)
}

// evalFetch sends the instruction fetch and range checks the pc limbs.
func (c *CpuChip) evalFetch(b *air.Builder, isReal *air.Expr) {
	op := c.sl(1)
	for k := 2; k < numSelectors; k++ {
		op = op.Add(c.sl(executor.Opcode(k)).MulConst(uint64(k)))
	}
	pc := word(c.pc)
	b.Send(air.BusProgram, programFields(
		pack(pc), op, air.Col(c.opA),
		word(c.bOp), word(c.cOp),
		air.Col(c.immB), air.Col(c.immC),
	), isReal)

	for k := 0; k < 3; k++ {
		rangeU8(b, pc[k], isReal)
	}
	byteLookup(b, ByteLTU, pc[3], air.Const(0x20), air.Const(1), air.Const(0), isReal)
}

// evalOperands binds immediates and reads register operands.
func (c *CpuChip) evalOperands(b *air.Builder, isReal *air.Expr) {
	immB, immC := air.Col(c.immB), air.Col(c.immC)
	bOp, cOp := word(c.bOp), word(c.cOp)
	bv, cv := word(c.bVal), word(c.cVal)
	for k := 0; k < 4; k++ {
		b.AssertZero(immB.Mul(bv[k].Sub(bOp[k])))
		b.AssertZero(immC.Mul(cv[k].Sub(cOp[k])))
	}
	clk := air.Col(c.clk)
	c.accB.eval(b, regAddr(bOp[0]), clk, bv, isReal.Mul(air.Const(1).Sub(immB)))
	c.accC.eval(b, regAddr(cOp[0]), clk.AddConst(1), cv, isReal.Mul(air.Const(1).Sub(immC)))
}

// evalResult handles the operand A access, the x0 write mask and the result
// sources that need no memory wiring: the ALU bus, LUI and the jump link.
func (c *CpuChip) evalResult(b *air.Builder, isReal *air.Expr) {
	av, res := word(c.aVal), word(c.res)
	isX0, invA := air.Col(c.isX0), air.Col(c.invA)
	opA := air.Col(c.opA)

	b.AssertZero(isX0.Mul(opA))
	b.AssertZero(isReal.Mul(isX0.Add(opA.Mul(invA)).SubConst(1)))

	clk := air.Col(c.clk)
	c.accA.evalWrite(b, regAddr(opA), clk.AddConst(3), av, isReal)

	isARead := c.selRange(executor.BEQ, executor.BGEU).
		Add(c.selRange(executor.SB, executor.SW)).
		Add(c.sl(executor.ECALL))
	prevA := word(c.accA.prevVal)
	for k := 0; k < 4; k++ {
		b.AssertZero(isARead.Mul(prevA[k].Sub(av[k])))
	}

	isWrite := c.selRange(executor.ADD, executor.LHU).
		Add(c.selRange(executor.JAL, executor.AUIPC))
	for k := 0; k < 4; k++ {
		// Writes to x0 store zero; everything else stores the true result.
		b.AssertZero(isWrite.Mul(av[k].Sub(res[k]).Add(isX0.Mul(res[k]))))
	}

	for k := 0; k < 4; k++ {
		b.AssertZero(c.sl(executor.LUI).Mul(res[k].Sub(air.Col(c.bVal + k))))
	}

	isAlu := c.selRange(executor.ADD, executor.REMU)
	aluOp := air.Const(0)
	for op := executor.SUB; op <= executor.REMU; op++ {
		aluOp = aluOp.Add(c.sl(op).MulConst(uint64(op)))
	}
	b.Send(air.BusAlu, aluFields(aluOp, res, word(c.bVal), word(c.cVal)), isAlu)

	// Jump link: res = pc + 4, verified by the adder.
	pc := word(c.pc)
	b.Send(air.BusAlu, aluFields(air.Const(0), res, pc, constWord(4)),
		c.sl(executor.JAL).Add(c.sl(executor.JALR)))
}

// evalMemOps constrains the data access address and the subword wiring of
// loads and stores. COMMIT shares the access since it is a plain word write
// into the commit window.
func (c *CpuChip) evalMemOps(b *air.Builder, isReal *air.Expr) {
	one := air.Const(1)
	isLoad := c.selRange(executor.LB, executor.LHU)
	isStore := c.selRange(executor.SB, executor.SW)
	isMem := isLoad.Add(isStore)
	isAddrOp := isMem.Add(c.sl(executor.JALR))
	ecCommit := air.Col(c.ecCommit)

	addr := word(c.addr)
	off0, off1 := air.Col(c.offBit0), air.Col(c.offBit1)
	addrQ := air.Col(c.addrQ)
	b.AssertBool(off0)
	b.AssertBool(off1)
	b.AssertZero(isAddrOp.Mul(addr[0].Sub(addrQ.MulConst(4)).Sub(off1.MulConst(2)).Sub(off0)))
	byteLookup(b, ByteLTU, addrQ, air.Const(0x40), air.Const(1), air.Const(0), isAddrOp)
	byteLookup(b, ByteLTU, addr[3], air.Const(0x20), air.Const(1), air.Const(0), isMem)

	// Alignment. JALR may carry a stray low bit, which the target drops.
	b.AssertZero(c.sl(executor.LH).Add(c.sl(executor.LHU)).Add(c.sl(executor.SH)).
		Add(c.sl(executor.LW)).Add(c.sl(executor.SW)).Mul(off0))
	b.AssertZero(c.sl(executor.LW).Add(c.sl(executor.SW)).Add(c.sl(executor.JALR)).Mul(off1))

	wordAddr := isMem.Mul(pack(addr).Sub(off0).Sub(off1.MulConst(2))).
		Add(ecCommit.Mul(air.Col(c.bVal).MulConst(4).AddConst(uint64(executor.CommitBase))))
	mv := word(c.mVal)
	clk := air.Col(c.clk)
	c.accM.evalWrite(b, wordAddr, clk.AddConst(2), mv, isMem.Add(ecCommit))

	pv := word(c.accM.prevVal)
	for k := 0; k < 4; k++ {
		b.AssertZero(isLoad.Mul(mv[k].Sub(pv[k])))
		b.AssertZero(ecCommit.Mul(mv[k].Sub(air.Col(c.cVal + k))))
	}

	// One-hot byte offset.
	osel := [4]*air.Expr{
		one.Sub(off0).Mul(one.Sub(off1)),
		off0.Mul(one.Sub(off1)),
		one.Sub(off0).Mul(off1),
		off0.Mul(off1),
	}
	sb := air.Sum(osel[0].Mul(mv[0]), osel[1].Mul(mv[1]), osel[2].Mul(mv[2]), osel[3].Mul(mv[3]))
	halfLo := one.Sub(off1).Mul(mv[0]).Add(off1.Mul(mv[2]))
	halfHi := one.Sub(off1).Mul(mv[1]).Add(off1.Mul(mv[3]))

	sgn := air.Col(c.sgn)
	signByte := c.sl(executor.LB).Mul(sb).Add(c.sl(executor.LH).Mul(halfHi))
	byteLookup(b, ByteMSB, signByte, air.Const(0), sgn, air.Const(0),
		c.sl(executor.LB).Add(c.sl(executor.LH)))

	res := word(c.res)
	byteSel := c.sl(executor.LB).Add(c.sl(executor.LBU))
	halfSel := c.sl(executor.LH).Add(c.sl(executor.LHU))
	signSel := c.sl(executor.LB).Add(c.sl(executor.LH))
	lw := c.sl(executor.LW)
	ext := sgn.MulConst(255)
	b.AssertZero(isLoad.Mul(res[0]).Sub(byteSel.Mul(sb)).Sub(halfSel.Mul(halfLo)).Sub(lw.Mul(mv[0])))
	b.AssertZero(isLoad.Mul(res[1]).Sub(c.sl(executor.LB).Mul(ext)).Sub(halfSel.Mul(halfHi)).Sub(lw.Mul(mv[1])))
	b.AssertZero(isLoad.Mul(res[2]).Sub(signSel.Mul(ext)).Sub(lw.Mul(mv[2])))
	b.AssertZero(isLoad.Mul(res[3]).Sub(signSel.Mul(ext)).Sub(lw.Mul(mv[3])))

	// Stores fold the source subword into the previous memory word.
	av := word(c.aVal)
	for j := 0; j < 4; j++ {
		b.AssertZero(c.sl(executor.SB).Mul(mv[j].Sub(osel[j].Mul(av[0])).Sub(one.Sub(osel[j]).Mul(pv[j]))))
	}
	sh := c.sl(executor.SH)
	b.AssertZero(sh.Mul(mv[0].Sub(one.Sub(off1).Mul(av[0])).Sub(off1.Mul(pv[0]))))
	b.AssertZero(sh.Mul(mv[1].Sub(one.Sub(off1).Mul(av[1])).Sub(off1.Mul(pv[1]))))
	b.AssertZero(sh.Mul(mv[2].Sub(off1.Mul(av[0])).Sub(one.Sub(off1).Mul(pv[2]))))
	b.AssertZero(sh.Mul(mv[3].Sub(off1.Mul(av[1])).Sub(one.Sub(off1).Mul(pv[3]))))
	for k := 0; k < 4; k++ {
		b.AssertZero(c.sl(executor.SW).Mul(mv[k].Sub(av[k])))
	}
}

// evalControl binds the next pc for every opcode class and sends the derived
// 32-bit computations: effective addresses, jump targets and branch
// comparisons.
func (c *CpuChip) evalControl(b *air.Builder, isReal *air.Expr) {
	one := air.Const(1)
	pc, npc := word(c.pc), word(c.npc)
	pcF, npcF := pack(pc), pack(npc)
	av, bv, cv := word(c.aVal), word(c.bVal), word(c.cVal)

	// BEQ/BNE equality over limbs. The squared limb difference sum stays far
	// below the modulus, so it vanishes only on true equality.
	isBr2 := c.sl(executor.BEQ).Add(c.sl(executor.BNE))
	brEq, brInv := air.Col(c.brEq), air.Col(c.brInv)
	var sumSq *air.Expr = air.Const(0)
	for k := 0; k < 4; k++ {
		d := av[k].Sub(bv[k])
		b.AssertZero(isBr2.Mul(brEq).Mul(d))
		sumSq = sumSq.Add(d.Mul(d))
	}
	b.AssertZero(isBr2.Mul(brEq.Add(sumSq.Mul(brInv)).SubConst(1)))

	cmpRes := air.Col(c.cmpRes)
	isSlt := c.sl(executor.BLT).Add(c.sl(executor.BGE))
	isSltu := c.sl(executor.BLTU).Add(c.sl(executor.BGEU))
	isCmp := isSlt.Add(isSltu)

	taken := air.Sum(
		c.sl(executor.BEQ).Mul(brEq),
		c.sl(executor.BNE).Mul(one.Sub(brEq)),
		c.sl(executor.BLT).Add(c.sl(executor.BLTU)).Mul(cmpRes),
		c.sl(executor.BGE).Add(c.sl(executor.BGEU)).Mul(one.Sub(cmpRes)),
	)
	isBranch := c.selRange(executor.BEQ, executor.BGEU)
	b.AssertZero(isBranch.Mul(one.Sub(taken)).Mul(npcF.Sub(pcF).SubConst(4)))
	b.Send(air.BusAlu, aluFields(air.Const(0), npc, pc, cv), taken)

	// Shared auxiliary computation: ADD for addresses and jump targets, SLT
	// or SLTU for branch comparisons.
	isLoad := c.selRange(executor.LB, executor.LHU)
	isStore := c.selRange(executor.SB, executor.SW)
	isAddrOp := isLoad.Add(isStore).Add(c.sl(executor.JALR))
	jal, auipc := c.sl(executor.JAL), c.sl(executor.AUIPC)
	addr := word(c.addr)
	res := word(c.res)

	auxOp := isSlt.MulConst(uint64(executor.SLT)).Add(isSltu.MulConst(uint64(executor.SLTU)))
	var auxA, auxB, auxC [4]*air.Expr
	for k := 0; k < 4; k++ {
		auxA[k] = isAddrOp.Mul(addr[k]).Add(jal.Mul(npc[k])).Add(auipc.Mul(res[k]))
		auxB[k] = isAddrOp.Mul(bv[k]).Add(jal.Add(auipc).Mul(pc[k])).Add(isCmp.Mul(av[k]))
		auxC[k] = isAddrOp.Mul(cv[k]).Add(jal.Add(auipc).Mul(bv[k])).Add(isCmp.Mul(bv[k]))
	}
	auxA[0] = auxA[0].Add(isCmp.Mul(cmpRes))
	b.Send(air.BusAlu, aluFields(auxOp, auxA, auxB, auxC),
		isAddrOp.Add(jal).Add(auipc).Add(isCmp))

	// JALR jumps to the computed sum with the low bit dropped; bit 1 must be
	// clear, which evalMemOps already enforces.
	jalr := c.sl(executor.JALR)
	b.AssertZero(jalr.Mul(npc[0].Sub(air.Col(c.addrQ).MulConst(4))))
	for k := 1; k < 4; k++ {
		b.AssertZero(jalr.Mul(npc[k].Sub(addr[k])))
	}

	// Sequential flow for everything that neither jumps nor halts.
	seq := c.selRange(executor.ADD, executor.SW).
		Add(c.sl(executor.LUI)).Add(auipc).
		Add(air.Col(c.ecWrite)).Add(air.Col(c.ecCommit)).Add(air.Col(c.ecPre))
	b.AssertZero(seq.Mul(npcF.Sub(pcF).SubConst(4)))

	for k := 0; k < 4; k++ {
		b.AssertZero(air.Col(c.ecHalt).Mul(npc[k]))
	}
}

// evalEcall splits ECALL into its services and binds their effects.
func (c *CpuChip) evalEcall(b *air.Builder, isReal *air.Expr) {
	ecall := c.sl(executor.ECALL)
	halt, write := air.Col(c.ecHalt), air.Col(c.ecWrite)
	commit, pre := air.Col(c.ecCommit), air.Col(c.ecPre)
	for _, f := range []*air.Expr{halt, write, commit, pre} {
		b.AssertBool(f)
	}
	b.AssertZero(ecall.Sub(halt).Sub(write).Sub(commit).Sub(pre))

	// The syscall code arrives in t0 through the A operand; every service
	// code fits one byte.
	av := word(c.aVal)
	for k := 1; k < 4; k++ {
		b.AssertZero(ecall.Mul(av[k]))
	}
	b.AssertZero(halt.Mul(av[0]))
	b.AssertZero(write.Mul(av[0].SubConst(uint64(executor.SyscallWrite))))
	b.AssertZero(commit.Mul(av[0].SubConst(uint64(executor.SyscallCommit))))

	// HALT publishes the exit code from a0.
	bv := word(c.bVal)
	for k := 0; k < 4; k++ {
		b.AssertZero(halt.Mul(bv[k].Sub(air.Public(PubExit + k))))
	}

	// COMMIT indexes one of the 8 window words.
	byteLookup(b, ByteLTU, bv[0], air.Const(8), air.Const(1), air.Const(0), commit)
	for k := 1; k < 4; k++ {
		b.AssertZero(commit.Mul(bv[k]))
	}

	// Only precompiles consume extra ticks and reach the syscall bus.
	ticks := air.Col(c.sysTicks)
	b.AssertZero(isReal.Sub(pre).Mul(ticks))
	b.Send(air.BusSyscall, syscallFields(av[0], ticks, air.Col(c.clk), bv, word(c.cVal)), pre)

	// Exactly the final segment halts, exactly once, and nothing executes
	// after the halt row.
	hc := air.Col(c.hc)
	b.AssertZeroFirst(hc.Sub(halt))
	b.AssertZeroTransition(air.ColNext(c.hc).Sub(hc).Sub(air.ColNext(c.ecHalt)))
	b.AssertZeroLast(hc.Sub(air.Public(PubIsLast)))
	b.AssertZeroTransition(air.ColNext(c.isReal).Mul(halt))
}

// evalClock advances the clock, carries pc into the next row and pins the
// segment boundary to the public values.
func (c *CpuChip) evalClock(b *air.Builder, isReal *air.Expr) {
	one := air.Const(1)
	clk := air.Col(c.clk)
	ticks := air.Col(c.sysTicks)
	step := ticks.AddConst(4)

	b.AssertZeroTransition(air.ColNext(c.clk).Sub(clk).Sub(isReal.Mul(step)))
	for k := 0; k < 4; k++ {
		b.AssertZeroTransition(air.ColNext(c.pc + k).
			Sub(isReal.Mul(air.Col(c.npc + k))).
			Sub(one.Sub(isReal).Mul(air.Col(c.pc + k))))
	}

	pcF, npcF := pack(word(c.pc)), pack(word(c.npc))
	b.AssertZeroFirst(pcF.Sub(air.Public(PubPCStart)))
	b.AssertZeroFirst(clk.Sub(air.Public(PubClkStart)))
	b.AssertZeroLast(isReal.Mul(npcF).Add(one.Sub(isReal).Mul(pcF)).Sub(air.Public(PubPCEnd)))
	b.AssertZeroLast(clk.Add(isReal.Mul(step)).Sub(air.Public(PubClkEnd)))
}

// regAddr maps a register index expression to its backing memory address.
func regAddr(idx *air.Expr) *air.Expr {
	return idx.MulConst(4).AddConst(uint64(executor.RegisterBase))
}

func (c *CpuChip) Preprocessed(_ *executor.Program) *air.Matrix { return nil }

func (c *CpuChip) Trace(_ *executor.Program, rec *executor.Record, bl *ByteLog) *air.Matrix {
	m := air.NewMatrix(c.width, SegmentHeight)
	hc := uint64(0)
	for row := range rec.CpuEvents {
		ev := &rec.CpuEvents[row]
		ins := ev.Instr
		m.SetUint(row, c.isReal, 1)
		m.SetUint(row, c.sel+int(ins.Opcode), 1)
		setWord(m, row, c.pc, ev.PC)
		setWord(m, row, c.npc, ev.NextPC)
		m.SetUint(row, c.clk, uint64(ev.Clk))
		m.SetUint(row, c.opA, uint64(ins.OpA))
		setWord(m, row, c.bOp, ins.OpB)
		setWord(m, row, c.cOp, ins.OpC)
		setWord(m, row, c.bVal, ev.B)
		setWord(m, row, c.cVal, ev.C)
		setWord(m, row, c.aVal, ev.A)
		setWord(m, row, c.res, cpuResult(ev))

		bl.U8(uint8(ev.PC))
		bl.U8(uint8(ev.PC >> 8))
		bl.U8(uint8(ev.PC >> 16))
		bl.LTU(uint8(ev.PC>>24), 0x20)

		if ins.ImmB {
			m.SetUint(row, c.immB, 1)
		} else {
			c.accB.fill(m, row, ev.BRecord, bl)
		}
		if ins.ImmC {
			m.SetUint(row, c.immC, 1)
		} else {
			c.accC.fill(m, row, ev.CRecord, bl)
		}
		c.accA.fillWrite(m, row, ev.ARecord, bl)
		if ev.HasMem {
			c.accM.fillWrite(m, row, ev.MemRecord, bl)
			setWord(m, row, c.mVal, ev.MemRecord.Value)
		}

		if ins.OpA == 0 {
			m.SetUint(row, c.isX0, 1)
		} else {
			m.Set(row, c.invA, invFelt(field.NewFelt(uint64(ins.OpA))))
		}

		c.fillAddress(m, row, ev, bl)
		c.fillBranch(m, row, ev)

		if ins.Opcode == executor.ECALL {
			code := executor.SyscallCode(ev.A)
			switch code {
			case executor.SyscallHalt:
				m.SetUint(row, c.ecHalt, 1)
				hc++
			case executor.SyscallWrite:
				m.SetUint(row, c.ecWrite, 1)
			case executor.SyscallCommit:
				m.SetUint(row, c.ecCommit, 1)
				bl.LTU(uint8(ev.B), 8)
			default:
				m.SetUint(row, c.ecPre, 1)
				m.SetUint(row, c.sysTicks, uint64(code.Ticks()))
			}
		}
		m.SetUint(row, c.hc, hc)
	}

	// Padding repeats the boundary state so the transition and last-row
	// constraints close over it.
	for row := len(rec.CpuEvents); row < SegmentHeight; row++ {
		setWord(m, row, c.pc, rec.Public.PCEnd)
		m.SetUint(row, c.clk, uint64(rec.Public.ClkEnd))
		m.SetUint(row, c.hc, hc)
	}
	return m
}

// cpuResult recomputes the destination value before the x0 mask.
func cpuResult(ev *executor.CpuEvent) uint32 {
	op := ev.Instr.Opcode
	switch {
	case op.IsAlu():
		return executor.AluCompute(op, ev.B, ev.C)
	case op.IsLoad():
		return executor.ExtractLoad(op, ev.MemRecord.Value, ev.B+ev.C)
	case op.IsJump():
		return ev.PC + 4
	case op == executor.LUI:
		return ev.B
	case op == executor.AUIPC:
		return ev.PC + ev.B
	}
	return 0
}

func (c *CpuChip) fillAddress(m *air.Matrix, row int, ev *executor.CpuEvent, bl *ByteLog) {
	op := ev.Instr.Opcode
	if !op.IsLoad() && !op.IsStore() && op != executor.JALR {
		return
	}
	addr := ev.B + ev.C
	setWord(m, row, c.addr, addr)
	m.SetUint(row, c.addrQ, uint64(addr&0xFF)>>2)
	m.SetUint(row, c.offBit0, uint64(addr&1))
	m.SetUint(row, c.offBit1, uint64(addr>>1&1))
	bl.LTU(uint8(addr&0xFF)>>2, 0x40)
	if op == executor.JALR {
		return
	}
	bl.LTU(uint8(addr>>24), 0x20)
	if op == executor.LB || op == executor.LH {
		sb := signedByte(op, ev.MemRecord.Value, addr)
		m.SetUint(row, c.sgn, uint64(sb>>7))
		bl.MSB(sb)
	}
}

// signedByte picks the byte whose top bit drives sign extension.
func signedByte(op executor.Opcode, word, addr uint32) uint8 {
	off := addr % 4
	if op == executor.LH {
		off++
	}
	return uint8(word >> (8 * off))
}

func (c *CpuChip) fillBranch(m *air.Matrix, row int, ev *executor.CpuEvent) {
	switch ev.Instr.Opcode {
	case executor.BEQ, executor.BNE:
		var sumSq uint64
		for k := 0; k < 4; k++ {
			d := int64(ev.A>>(8*k)&0xFF) - int64(ev.B>>(8*k)&0xFF)
			sumSq += uint64(d * d)
		}
		if sumSq == 0 {
			m.SetUint(row, c.brEq, 1)
		} else {
			m.Set(row, c.brInv, invFelt(field.NewFelt(sumSq)))
		}
	case executor.BLT, executor.BGE:
		if int32(ev.A) < int32(ev.B) {
			m.SetUint(row, c.cmpRes, 1)
		}
	case executor.BLTU, executor.BGEU:
		if ev.A < ev.B {
			m.SetUint(row, c.cmpRes, 1)
		}
	}
}
