package executor

import "fmt"

// Instruction is one decoded operation. OpA names the destination register
// (or the condition/source register for branches and stores); OpB and OpC
// are source registers, or literal values when the matching Imm flag is
// set. This mirrors the three-operand form the CPU chip commits to, so the
// executor and the arithmetization never disagree on decoding.
type Instruction struct {
	Opcode Opcode
	OpA    uint32
	OpB    uint32
	OpC    uint32
	ImmB   bool
	ImmC   bool
}

// R builds a register-register instruction a <- b op c.
func R(op Opcode, rd, rs1, rs2 uint32) Instruction {
	return Instruction{Opcode: op, OpA: rd, OpB: rs1, OpC: rs2}
}

// I builds a register-immediate instruction a <- b op imm.
func I(op Opcode, rd, rs1, imm uint32) Instruction {
	return Instruction{Opcode: op, OpA: rd, OpB: rs1, OpC: imm, ImmC: true}
}

// U builds an upper-immediate instruction (LUI, AUIPC): a <- imm.
func U(op Opcode, rd, imm uint32) Instruction {
	return Instruction{Opcode: op, OpA: rd, OpB: imm, ImmB: true, ImmC: true}
}

// B builds a branch: compare a and b, jump by offset c.
func B(op Opcode, rs1, rs2, offset uint32) Instruction {
	return Instruction{Opcode: op, OpA: rs1, OpB: rs2, OpC: offset, ImmC: true}
}

// S builds a store: write register a to memory at b + offset c.
func S(op Opcode, rs2, rs1, offset uint32) Instruction {
	return Instruction{Opcode: op, OpA: rs2, OpB: rs1, OpC: offset, ImmC: true}
}

// J builds JAL: link into a, jump by offset b.
func J(rd, offset uint32) Instruction {
	return Instruction{Opcode: JAL, OpA: rd, OpB: offset, ImmB: true, ImmC: true}
}

// Ecall builds an environment call. The operands name the ABI registers so
// the ordinary operand machinery reads the syscall code from t0 and the
// arguments from a0 and a1.
func Ecall() Instruction {
	return Instruction{Opcode: ECALL, OpA: RegT0, OpB: RegA0, OpC: RegA1}
}

func (i Instruction) String() string {
	b := fmt.Sprintf("x%d", i.OpB)
	if i.ImmB {
		b = fmt.Sprintf("%d", int32(i.OpB))
	}
	c := fmt.Sprintf("x%d", i.OpC)
	if i.ImmC {
		c = fmt.Sprintf("%d", int32(i.OpC))
	}
	return fmt.Sprintf("%s x%d, %s, %s", i.Opcode, i.OpA, b, c)
}

// Registers used by the syscall ABI.
const (
	RegZero uint32 = 0  // x0, hardwired zero
	RegRA   uint32 = 1  // x1, link register
	RegSP   uint32 = 2  // x2, stack pointer
	RegT0   uint32 = 5  // x5, syscall code
	RegA0   uint32 = 10 // x10, first argument / exit code
	RegA1   uint32 = 11 // x11, second argument
	RegA2   uint32 = 12 // x12, third argument
)
