package executor

// MemoryRecord is one proved memory access. The offline memory argument
// receives (Addr, PrevClk, PrevValue) and sends (Addr, Clk, Value), so the
// pair must chain exactly: every access names the access that preceded it.
// Reads carry Value == PrevValue.
type MemoryRecord struct {
	Addr      uint32
	Value     uint32
	PrevValue uint32
	Clk       uint32
	PrevClk   uint32
}

// CpuEvent is one executed instruction. Operand A always has an access
// record (a register read for branches, stores and ECALL, a write
// otherwise); B and C have records only when the operand is a register.
type CpuEvent struct {
	Clk    uint32
	PC     uint32
	NextPC uint32
	Instr  Instruction

	// Resolved operand values. For writes A is the value written, already
	// forced to zero when the destination is x0.
	A, B, C uint32

	ARecord MemoryRecord
	BRecord MemoryRecord
	CRecord MemoryRecord

	// Load/store data access.
	HasMem    bool
	MemRecord MemoryRecord
}

// AluEvent is one arithmetic operation delegated to an ALU chip. A is the
// true result even when the CPU-side destination is x0, and for branch
// comparisons where it never reaches a register.
type AluEvent struct {
	Clk    uint32
	Opcode Opcode
	A      uint32
	B      uint32
	C      uint32
}

// SyscallEvent is one non-precompile ECALL (HALT, WRITE or COMMIT).
type SyscallEvent struct {
	Clk  uint32
	Code SyscallCode
	A0   uint32
	A1   uint32
}

// ShaExtendStep is one message-schedule step i in 16..63: four reads of
// earlier w words and the write of w[i], all on the same tick.
type ShaExtendStep struct {
	Reads [4]MemoryRecord // w[i-15], w[i-2], w[i-16], w[i-7]
	Write MemoryRecord    // w[i]
}

// ShaExtendEvent extends a SHA-256 message schedule in place.
// a0 points to 64 words w[0..64); a1 is unused but still part of the
// dispatch message, so its value at call time is kept.
type ShaExtendEvent struct {
	Clk   uint32
	WPtr  uint32
	A1    uint32
	Steps [48]ShaExtendStep
}

// ShaCompressEvent runs the SHA-256 compression function.
// a0 points to the 8-word state h, a1 to the 64-word schedule w.
type ShaCompressEvent struct {
	Clk     uint32
	HPtr    uint32
	WPtr    uint32
	HReads  [8]MemoryRecord
	WReads  [64]MemoryRecord
	HWrites [8]MemoryRecord
}

// KeccakPermuteEvent applies keccak-f[1600] to a 25-lane state.
// a0 points to 50 words, each lane split little-endian (lo, hi).
type KeccakPermuteEvent struct {
	Clk      uint32
	StatePtr uint32
	A1       uint32
	Reads    [50]MemoryRecord
	Writes   [50]MemoryRecord
}

// Blake3CompressEvent runs the BLAKE3 compression function truncated to the
// 8-word chaining value. a0 points to the 8-word cv (read and overwritten),
// a1 to a 20-word block: m[0..16), counterLo, counterHi, blockLen, flags.
type Blake3CompressEvent struct {
	Clk        uint32
	CvPtr      uint32
	BlockPtr   uint32
	CvReads    [8]MemoryRecord
	BlockReads [20]MemoryRecord
	CvWrites   [8]MemoryRecord
}

// EdAddEvent adds two affine edwards25519 points in place: p += q.
// Each point is 16 words: x then y, 256-bit little-endian limbs.
type EdAddEvent struct {
	Clk     uint32
	PPtr    uint32
	QPtr    uint32
	PReads  [16]MemoryRecord
	QReads  [16]MemoryRecord
	PWrites [16]MemoryRecord
}

// P256AddEvent adds two distinct affine P-256 points in place: p += q.
type P256AddEvent struct {
	Clk     uint32
	PPtr    uint32
	QPtr    uint32
	PReads  [16]MemoryRecord
	QReads  [16]MemoryRecord
	PWrites [16]MemoryRecord
}

// P256DoubleEvent doubles an affine P-256 point in place.
type P256DoubleEvent struct {
	Clk     uint32
	PPtr    uint32
	A1      uint32
	PReads  [16]MemoryRecord
	PWrites [16]MemoryRecord
}

// BigIntMulModEvent computes x = x*y mod m over 256-bit operands.
// a0 points to the 8-word x, a1 to 16 words holding y then m.
type BigIntMulModEvent struct {
	Clk     uint32
	XPtr    uint32
	YMPtr   uint32
	XReads  [8]MemoryRecord
	YMReads [16]MemoryRecord
	XWrites [8]MemoryRecord
}

// MemoryInitEntry seeds one address in the first segment's initialization
// multiset: the union of the program image, the mapped inputs and every
// address first touched by a read.
type MemoryInitEntry struct {
	Addr  uint32
	Value uint32
}
