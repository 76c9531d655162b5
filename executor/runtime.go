package executor

import (
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"
	"github.com/volta-zk/volta/logger"
)

// Options bounds an execution. Segment caps exist so that every chip's trace
// fits the uniform trace height; the defaults leave headroom for derived
// events (a DIV contributes rows to the multiplier and comparator chips).
type Options struct {
	// MaxCycles faults the execution when exceeded. The global clock is
	// capped separately at maxClk so access clocks stay below 2^30.
	MaxCycles uint64

	// SegmentCycles is the instruction count at which a segment is cut.
	SegmentCycles uint32

	// SegmentPrecompileRows caps the trace rows any single precompile chip
	// accumulates within one segment.
	SegmentPrecompileRows uint32

	// TouchedLimit caps the distinct memory cells the whole execution may
	// touch, since initialization and finalization each fit one trace.
	TouchedLimit int

	// Stdout receives WRITE syscall bytes. Defaults to io.Discard.
	Stdout io.Writer
}

// DefaultOptions returns the caps used by the prover's standard machine.
func DefaultOptions() *Options {
	return &Options{
		MaxCycles:             1 << 26,
		SegmentCycles:         1 << 15,
		SegmentPrecompileRows: 1 << 15,
		TouchedLimit:          1 << 16,
		Stdout:                io.Discard,
	}
}

func (o *Options) normalize() *Options {
	n := *o
	d := DefaultOptions()
	if n.MaxCycles == 0 || n.MaxCycles > d.MaxCycles {
		n.MaxCycles = d.MaxCycles
	}
	if n.SegmentCycles == 0 || n.SegmentCycles > d.SegmentCycles {
		n.SegmentCycles = d.SegmentCycles
	}
	if n.SegmentPrecompileRows == 0 || n.SegmentPrecompileRows > d.SegmentPrecompileRows {
		n.SegmentPrecompileRows = d.SegmentPrecompileRows
	}
	if n.TouchedLimit == 0 || n.TouchedLimit > d.TouchedLimit {
		n.TouchedLimit = d.TouchedLimit
	}
	if n.Stdout == nil {
		n.Stdout = io.Discard
	}
	return &n
}

// maxInputBytes bounds each mapped input region, leaving room for the length
// word inside the 8 MiB window reserved per region.
const maxInputBytes = 1 << 22

// startClk is the clock of the first instruction. Clock zero is reserved for
// memory initialization.
const startClk = 4

// maxClk caps the global clock so every access clock fits the 30-bit range
// the gap checks assume, with headroom for one instruction's tick window.
const maxClk = 1<<30 - 64

// Runtime executes a program and produces one event record per segment.
type Runtime struct {
	program *Program
	opts    *Options
	log     zerolog.Logger

	mem     *Memory
	image   map[uint32]uint32 // every preloaded cell: image, inputs, commit window
	preInit map[uint32]bool   // cells initialized by the preprocessed trace

	pc    uint32
	clk   uint32
	cycle uint64

	records []*Record
	cur     *Record
	preRows map[SyscallCode]uint32

	halted    bool
	exitCode  uint32
	committed [8]uint32
}

// Run executes the program to completion and returns the per-segment
// records, with memory initialization and finalization attached to the first
// and last segments and public values chained across all of them. Executions
// that fault return the *Fault.
func Run(p *Program, publicInput, privateInput []byte, opts *Options) ([]*Record, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	rt := &Runtime{
		program: p,
		opts:    opts.normalize(),
		log:     logger.Logger().With().Str("component", "executor").Logger(),
		mem:     NewMemory(),
		image:   make(map[uint32]uint32, len(p.Image)+8),
		preInit: make(map[uint32]bool, len(p.Image)+8),
		pc:      p.PCStart,
		clk:     startClk,
		preRows: make(map[SyscallCode]uint32),
	}
	if err := rt.setup(publicInput, privateInput); err != nil {
		return nil, err
	}
	rt.openSegment()
	if err := rt.run(); err != nil {
		return nil, err
	}
	return rt.records, rt.finalize()
}

func (rt *Runtime) setup(publicInput, privateInput []byte) error {
	if err := rt.program.Validate(); err != nil {
		return err
	}
	for _, cell := range rt.program.PreInitCells() {
		if cell.Addr >= PublicInputBase && cell.Addr < InputRegionEnd {
			return &Fault{Code: FaultInvalidProgram, Detail: fmt.Sprintf("image word at reserved address 0x%x", cell.Addr)}
		}
		rt.image[cell.Addr] = cell.Value
		rt.preInit[cell.Addr] = true
	}
	if err := rt.mapInput(PublicInputBase, publicInput); err != nil {
		return err
	}
	if err := rt.mapInput(PrivateInputBase, privateInput); err != nil {
		return err
	}
	for addr, v := range rt.image {
		rt.mem.Preload(addr, v)
	}
	return nil
}

// mapInput lays a byte buffer into memory as a length word followed by
// little-endian packed words. The region participates in memory
// initialization exactly like the program image.
func (rt *Runtime) mapInput(base uint32, data []byte) error {
	if len(data) > maxInputBytes {
		return &Fault{Code: FaultMemoryOutOfBounds, Detail: fmt.Sprintf("input of %d bytes exceeds the %d byte region", len(data), maxInputBytes)}
	}
	rt.image[base] = uint32(len(data))
	for i := 0; i < len(data); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(data); j++ {
			w |= uint32(data[i+j]) << (8 * j)
		}
		rt.image[base+4+uint32(i)] = w
	}
	return nil
}

func (rt *Runtime) openSegment() {
	rt.cur = &Record{Public: PublicValues{
		SegmentIndex: uint32(len(rt.records)),
		PCStart:      rt.pc,
		ClkStart:     rt.clk,
	}}
	rt.preRows = make(map[SyscallCode]uint32)
}

func (rt *Runtime) sealSegment() {
	rt.cur.Public.PCEnd = rt.pc
	rt.cur.Public.ClkEnd = rt.clk
	rt.log.Debug().
		Uint32("segment", rt.cur.Public.SegmentIndex).
		Int("cycles", rt.cur.Cycles()).
		Uint32("clk", rt.clk).
		Msg("segment sealed")
	rt.records = append(rt.records, rt.cur)
	rt.cur = nil
}

func (rt *Runtime) run() error {
	for !rt.halted {
		if rt.cycle >= rt.opts.MaxCycles || rt.clk >= maxClk {
			return &Fault{Code: FaultCycleLimit, PC: rt.pc, Cycle: rt.cycle}
		}
		if rt.cur.Cycles() >= int(rt.opts.SegmentCycles) || rt.precompileCutNeeded() {
			rt.sealSegment()
			rt.openSegment()
		}
		idx, ok := rt.program.FetchIndex(rt.pc)
		if !ok {
			return &Fault{Code: FaultInvalidProgram, PC: rt.pc, Cycle: rt.cycle, Detail: "program counter outside program"}
		}
		if err := rt.step(rt.program.Instructions[idx]); err != nil {
			return err
		}
		rt.cycle++
	}
	rt.sealSegment()
	return nil
}

// precompileCutNeeded peeks at the upcoming instruction and cuts the segment
// early when executing it would overflow a precompile chip's row budget.
func (rt *Runtime) precompileCutNeeded() bool {
	if rt.cur.Cycles() == 0 {
		return false
	}
	idx, ok := rt.program.FetchIndex(rt.pc)
	if !ok || rt.program.Instructions[idx].Opcode != ECALL {
		return false
	}
	code := SyscallCode(rt.mem.Peek(RegisterAddr(RegT0)))
	if !code.IsPrecompile() {
		return false
	}
	return rt.preRows[precompileChipKey(code)]+precompileRowWeight(code) > rt.opts.SegmentPrecompileRows
}

// precompileRowWeight is the number of trace rows one event occupies in its
// chip. Chips schedule events in fixed power-of-two row slots, so the weight
// is the slot size, not the bare round count.
func precompileRowWeight(code SyscallCode) uint32 {
	switch code {
	case SyscallShaExtend:
		return 64
	case SyscallShaCompress:
		return 128
	case SyscallKeccakPermute:
		return 512
	case SyscallBlake3Compress:
		return 64
	default:
		return 32
	}
}

// precompileChipKey folds syscall codes that land in the same chip onto one
// budget counter. The four big integer operations share the field op chip.
func precompileChipKey(code SyscallCode) SyscallCode {
	switch code {
	case SyscallEdAdd, SyscallP256Add, SyscallP256Double, SyscallBigIntMulMod:
		return SyscallEdAdd
	default:
		return code
	}
}

func (rt *Runtime) fault(code FaultCode, format string, args ...any) *Fault {
	return &Fault{Code: code, PC: rt.pc, Cycle: rt.cycle, Detail: fmt.Sprintf(format, args...)}
}

// checkDataAddr validates an address computed by a load, store or precompile
// pointer. The register window is reachable only through register operands.
func (rt *Runtime) checkDataAddr(addr uint32, align uint32) error {
	if addr >= RegisterBase {
		return rt.fault(FaultMemoryOutOfBounds, "address 0x%x", addr)
	}
	if align > 1 && addr%align != 0 {
		return rt.fault(FaultUnalignedAccess, "address 0x%x requires %d byte alignment", addr, align)
	}
	return nil
}

func (rt *Runtime) readReg(reg uint32, clk uint32) MemoryRecord {
	return rt.mem.Read(RegisterAddr(reg), clk)
}

// writeReg writes a register at the instruction's operand-A tick. Writes to
// x0 store zero so the memory argument keeps x0 constant.
func (rt *Runtime) writeReg(reg uint32, clk, value uint32) MemoryRecord {
	if reg == 0 {
		value = 0
	}
	return rt.mem.Write(RegisterAddr(reg), clk, value)
}

// Operand access ticks within an instruction's clock window.
const (
	tickB       = 0
	tickC       = 1
	tickMem     = 2
	tickA       = 3
	tickSyscall = 4
)

func (rt *Runtime) step(ins Instruction) error {
	ev := CpuEvent{Clk: rt.clk, PC: rt.pc, Instr: ins}
	clkBase := rt.clk

	if ins.ImmB {
		ev.B = ins.OpB
	} else {
		ev.BRecord = rt.readReg(ins.OpB, clkBase+tickB)
		ev.B = ev.BRecord.Value
	}
	if ins.ImmC {
		ev.C = ins.OpC
	} else {
		ev.CRecord = rt.readReg(ins.OpC, clkBase+tickC)
		ev.C = ev.CRecord.Value
	}

	nextPC := rt.pc + 4
	ticks := uint32(0)
	b, c := ev.B, ev.C

	switch {
	case ins.Opcode.IsAlu():
		a := AluCompute(ins.Opcode, b, c)
		ev.A = a
		rt.emitAlu(ins.Opcode, clkBase, a, b, c)
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, a)

	case ins.Opcode.IsLoad():
		addr := b + c
		if err := rt.checkDataAddr(addr, loadAlign(ins.Opcode)); err != nil {
			return err
		}
		rt.emitAlu(ADD, clkBase, addr, b, c)
		ev.HasMem = true
		ev.MemRecord = rt.mem.Read(addr&^3, clkBase+tickMem)
		a := ExtractLoad(ins.Opcode, ev.MemRecord.Value, addr)
		ev.A = a
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, a)

	case ins.Opcode.IsStore():
		addr := b + c
		if err := rt.checkDataAddr(addr, loadAlign(ins.Opcode)); err != nil {
			return err
		}
		rt.emitAlu(ADD, clkBase, addr, b, c)
		ev.ARecord = rt.readReg(ins.OpA, clkBase+tickA)
		ev.A = ev.ARecord.Value
		merged := mergeStore(ins.Opcode, rt.mem.Peek(addr&^3), ev.A, addr)
		ev.HasMem = true
		ev.MemRecord = rt.mem.Write(addr&^3, clkBase+tickMem, merged)

	case ins.Opcode.IsBranch():
		ev.ARecord = rt.readReg(ins.OpA, clkBase+tickA)
		ev.A = ev.ARecord.Value
		taken, err := rt.evalBranch(ins.Opcode, clkBase, ev.A, b)
		if err != nil {
			return err
		}
		if taken {
			// The target addition wraps mod 2^32 for negative offsets, so it
			// is delegated to the adder like any other 32-bit sum.
			nextPC = rt.pc + c
			rt.emitAlu(ADD, clkBase, nextPC, rt.pc, c)
		}

	case ins.Opcode == JAL:
		link := rt.pc + 4
		ev.A = link
		rt.emitAlu(ADD, clkBase, link, rt.pc, 4)
		nextPC = rt.pc + b
		rt.emitAlu(ADD, clkBase, nextPC, rt.pc, b)
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, link)

	case ins.Opcode == JALR:
		link := rt.pc + 4
		ev.A = link
		rt.emitAlu(ADD, clkBase, link, rt.pc, 4)
		sum := b + c
		rt.emitAlu(ADD, clkBase, sum, b, c)
		target := sum &^ 1
		if target%4 != 0 {
			return rt.fault(FaultUnalignedAccess, "jalr target 0x%x", target)
		}
		nextPC = target
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, link)

	case ins.Opcode == LUI:
		ev.A = b
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, b)

	case ins.Opcode == AUIPC:
		a := rt.pc + b
		ev.A = a
		rt.emitAlu(ADD, clkBase, a, rt.pc, b)
		ev.ARecord = rt.writeReg(ins.OpA, clkBase+tickA, a)

	case ins.Opcode == ECALL:
		ev.ARecord = rt.readReg(ins.OpA, clkBase+tickA)
		ev.A = ev.ARecord.Value
		var memRec *MemoryRecord
		var err error
		nextPC, ticks, memRec, err = rt.syscall(SyscallCode(ev.A), clkBase, b, c)
		if err != nil {
			return err
		}
		if memRec != nil {
			ev.HasMem = true
			ev.MemRecord = *memRec
		}

	case ins.Opcode == EBREAK:
		return rt.fault(FaultBreakpoint, "ebreak")

	default:
		return rt.fault(FaultInvalidOpcode, "%s", ins.Opcode)
	}

	ev.NextPC = nextPC
	rt.cur.CpuEvents = append(rt.cur.CpuEvents, ev)
	rt.pc = nextPC
	rt.clk = clkBase + tickSyscall + ticks
	return nil
}

func (rt *Runtime) emitAlu(op Opcode, clk, a, b, c uint32) {
	rt.cur.addAlu(AluEvent{Clk: clk, Opcode: op, A: a, B: b, C: c})
	if op == DIV || op == DIVU || op == REM || op == REMU {
		rt.emitDivRemWitness(op, clk, b, c)
	}
}

// emitDivRemWitness adds the multiplier and comparator rows the division
// chip's cross-chip checks consume: b = lo(q*c) + r with a matching high
// half, and |r| < |c| when c is nonzero.
func (rt *Runtime) emitDivRemWitness(op Opcode, clk, b, c uint32) {
	signed := op == DIV || op == REM
	q := DivQuotient(op, b, c)
	prod := uint64(q) * uint64(c)
	lo := uint32(prod)
	var hi uint32
	hiOp := MULHU
	if signed {
		hiOp = MULH
		hi = uint32(uint64(int64(int32(q))*int64(int32(c))) >> 32)
	} else {
		hi = uint32(prod >> 32)
	}
	rt.cur.addAlu(AluEvent{Clk: clk, Opcode: MUL, A: lo, B: q, C: c})
	rt.cur.addAlu(AluEvent{Clk: clk, Opcode: hiOp, A: hi, B: q, C: c})
	if c != 0 {
		r := DivRemainder(op, b, c)
		rAbs, cAbs := r, c
		if signed {
			rAbs = absInt32(r)
			cAbs = absInt32(c)
		}
		lt := uint32(0)
		if rAbs < cAbs {
			lt = 1
		}
		rt.cur.addAlu(AluEvent{Clk: clk, Opcode: SLTU, A: lt, B: rAbs, C: cAbs})
	}
}

func (rt *Runtime) evalBranch(op Opcode, clk, a, b uint32) (bool, error) {
	switch op {
	case BEQ:
		return a == b, nil
	case BNE:
		return a != b, nil
	case BLT, BGE:
		res := uint32(0)
		if int32(a) < int32(b) {
			res = 1
		}
		rt.cur.addAlu(AluEvent{Clk: clk, Opcode: SLT, A: res, B: a, C: b})
		return (res == 1) == (op == BLT), nil
	case BLTU, BGEU:
		res := uint32(0)
		if a < b {
			res = 1
		}
		rt.cur.addAlu(AluEvent{Clk: clk, Opcode: SLTU, A: res, B: a, C: b})
		return (res == 1) == (op == BLTU), nil
	}
	return false, rt.fault(FaultInvalidOpcode, "%s is not a branch", op)
}

func (rt *Runtime) syscall(code SyscallCode, clkBase, a0, a1 uint32) (nextPC uint32, ticks uint32, memRec *MemoryRecord, err error) {
	nextPC = rt.pc + 4
	switch code {
	case SyscallHalt:
		rt.halted = true
		rt.exitCode = a0
		nextPC = 0
		rt.cur.SyscallEvents = append(rt.cur.SyscallEvents, SyscallEvent{Clk: clkBase, Code: code, A0: a0, A1: a1})

	case SyscallWrite:
		rt.hostWrite(a0, a1)
		rt.cur.SyscallEvents = append(rt.cur.SyscallEvents, SyscallEvent{Clk: clkBase, Code: code, A0: a0, A1: a1})

	case SyscallCommit:
		if a0 >= 8 {
			return 0, 0, nil, rt.fault(FaultInvalidSyscall, "commit index %d", a0)
		}
		rt.committed[a0] = a1
		rec := rt.mem.Write(CommitAddr(a0), clkBase+tickMem, a1)
		memRec = &rec
		rt.cur.SyscallEvents = append(rt.cur.SyscallEvents, SyscallEvent{Clk: clkBase, Code: code, A0: a0, A1: a1})

	default:
		if !code.IsPrecompile() {
			return 0, 0, nil, rt.fault(FaultInvalidSyscall, "unknown syscall %s", code)
		}
		if rt.preRows[precompileChipKey(code)]+precompileRowWeight(code) > rt.opts.SegmentPrecompileRows {
			return 0, 0, nil, rt.fault(FaultSegmentLimit, "%s exceeds the per-segment row budget", code)
		}
		if err := rt.precompile(code, clkBase, a0, a1); err != nil {
			return 0, 0, nil, err
		}
		rt.preRows[precompileChipKey(code)] += precompileRowWeight(code)
		ticks = code.Ticks()
	}
	return nextPC, ticks, memRec, nil
}

// hostWrite copies a guest buffer to the host. The buffer and the length in
// a2 are peeked without access records: the transfer is unproved.
func (rt *Runtime) hostWrite(fd, ptr uint32) {
	n := rt.mem.Peek(RegisterAddr(RegA2))
	if n > maxInputBytes || fd == 0 {
		return
	}
	buf := make([]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		w := rt.mem.Peek((ptr + i) &^ 3)
		buf = append(buf, byte(w>>(8*((ptr+i)%4))))
	}
	_, _ = rt.opts.Stdout.Write(buf)
}

// finalize attaches the initialization and finalization multisets and chains
// public values across segments.
func (rt *Runtime) finalize() error {
	touched := rt.mem.Touched()
	finalCells := make(map[uint32]TouchedCell, len(touched)+len(rt.image))
	for _, cell := range touched {
		finalCells[cell.Addr] = cell
	}
	for addr, v := range rt.image {
		if _, ok := finalCells[addr]; !ok {
			finalCells[addr] = TouchedCell{Addr: addr, Value: v}
		}
	}
	if len(finalCells) > rt.opts.TouchedLimit {
		return &Fault{Code: FaultSegmentLimit, Detail: fmt.Sprintf("%d touched cells exceed the limit of %d", len(finalCells), rt.opts.TouchedLimit)}
	}

	first := rt.records[0]
	last := rt.records[len(rt.records)-1]
	first.MemoryInit = make([]MemoryInitEntry, 0, len(finalCells))
	last.MemoryFinal = make([]TouchedCell, 0, len(finalCells))
	for _, cell := range sortedCells(finalCells) {
		// Cells initialized by the preprocessed trace are excluded here;
		// repeating them would double-initialize the address.
		if !rt.preInit[cell.Addr] {
			first.MemoryInit = append(first.MemoryInit, MemoryInitEntry{Addr: cell.Addr, Value: rt.image[cell.Addr]})
		}
		last.MemoryFinal = append(last.MemoryFinal, cell)
	}

	for i, r := range rt.records {
		r.Public.ExitCode = rt.exitCode
		r.Public.Committed = rt.committed
		r.Public.IsFirst = i == 0
		r.Public.IsLast = i == len(rt.records)-1
	}
	rt.log.Debug().
		Int("segments", len(rt.records)).
		Uint64("cycles", rt.cycle).
		Int("cells", len(finalCells)).
		Uint32("exitCode", rt.exitCode).
		Msg("execution complete")
	return nil
}

func sortedCells(m map[uint32]TouchedCell) []TouchedCell {
	out := make([]TouchedCell, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
