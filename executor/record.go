package executor

// PublicValues is the per-segment statement exposed to the verifier. Clock
// and program-counter boundaries chain consecutive segments; the committed
// digest and exit code are meaningful on the final segment only and are
// echoed unchanged by every earlier one.
type PublicValues struct {
	SegmentIndex uint32
	PCStart      uint32
	PCEnd        uint32
	ClkStart     uint32
	ClkEnd       uint32
	ExitCode     uint32
	Committed    [8]uint32
	IsFirst      bool
	IsLast       bool
}

// Record holds every event of one execution segment, grouped by the chip
// that proves it.
type Record struct {
	Public PublicValues

	CpuEvents []CpuEvent

	AddSubEvents     []AluEvent
	BitwiseEvents    []AluEvent
	ShiftLeftEvents  []AluEvent
	ShiftRightEvents []AluEvent
	LtEvents         []AluEvent
	MulEvents        []AluEvent
	DivRemEvents     []AluEvent

	SyscallEvents []SyscallEvent

	ShaExtendEvents      []ShaExtendEvent
	ShaCompressEvents    []ShaCompressEvent
	KeccakPermuteEvents  []KeccakPermuteEvent
	Blake3CompressEvents []Blake3CompressEvent
	EdAddEvents          []EdAddEvent
	P256AddEvents        []P256AddEvent
	P256DoubleEvents     []P256DoubleEvent
	BigIntMulModEvents   []BigIntMulModEvent

	// MemoryInit is populated on the first segment only, MemoryFinal on the
	// last, after the whole execution is known.
	MemoryInit  []MemoryInitEntry
	MemoryFinal []TouchedCell
}

// addAlu routes an ALU event to the list of the chip that proves the opcode.
func (r *Record) addAlu(ev AluEvent) {
	switch ev.Opcode {
	case ADD, SUB:
		r.AddSubEvents = append(r.AddSubEvents, ev)
	case XOR, OR, AND:
		r.BitwiseEvents = append(r.BitwiseEvents, ev)
	case SLL:
		r.ShiftLeftEvents = append(r.ShiftLeftEvents, ev)
	case SRL, SRA:
		r.ShiftRightEvents = append(r.ShiftRightEvents, ev)
	case SLT, SLTU:
		r.LtEvents = append(r.LtEvents, ev)
	case MUL, MULH, MULHU, MULHSU:
		r.MulEvents = append(r.MulEvents, ev)
	case DIV, DIVU, REM, REMU:
		r.DivRemEvents = append(r.DivRemEvents, ev)
	default:
		panic("executor: not an ALU opcode: " + ev.Opcode.String())
	}
}

// Cycles returns the number of instructions executed in the segment.
func (r *Record) Cycles() int { return len(r.CpuEvents) }
