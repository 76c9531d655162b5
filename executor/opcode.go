package executor

import "fmt"

// Opcode enumerates the RV32IM operations the executor implements. Register
// and immediate addressing is carried by the instruction, not the opcode, so
// e.g. ADD covers ADD, ADDI and synthesized MV.
type Opcode uint8

const (
	// ALU
	ADD Opcode = iota
	SUB
	XOR
	OR
	AND
	SLL
	SRL
	SRA
	SLT
	SLTU

	// M extension
	MUL
	MULH
	MULHU
	MULHSU
	DIV
	DIVU
	REM
	REMU

	// Loads and stores
	LB
	LH
	LW
	LBU
	LHU
	SB
	SH
	SW

	// Control flow
	BEQ
	BNE
	BLT
	BGE
	BLTU
	BGEU
	JAL
	JALR

	// Upper immediates
	LUI
	AUIPC

	// System
	ECALL
	EBREAK

	// UNIMP marks an instruction slot the loader could not decode.
	// Executing it is a fault.
	UNIMP
)

var opcodeNames = [...]string{
	ADD: "add", SUB: "sub", XOR: "xor", OR: "or", AND: "and",
	SLL: "sll", SRL: "srl", SRA: "sra", SLT: "slt", SLTU: "sltu",
	MUL: "mul", MULH: "mulh", MULHU: "mulhu", MULHSU: "mulhsu",
	DIV: "div", DIVU: "divu", REM: "rem", REMU: "remu",
	LB: "lb", LH: "lh", LW: "lw", LBU: "lbu", LHU: "lhu",
	SB: "sb", SH: "sh", SW: "sw",
	BEQ: "beq", BNE: "bne", BLT: "blt", BGE: "bge", BLTU: "bltu", BGEU: "bgeu",
	JAL: "jal", JALR: "jalr",
	LUI: "lui", AUIPC: "auipc",
	ECALL: "ecall", EBREAK: "ebreak",
	UNIMP: "unimp",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// NumOpcodes is the size of the opcode space, used by trace selectors.
const NumOpcodes = int(UNIMP) + 1

// IsAlu reports whether op is verified by one of the ALU chips.
func (op Opcode) IsAlu() bool {
	return op <= REMU
}

// IsLoad reports whether op reads memory.
func (op Opcode) IsLoad() bool {
	return op >= LB && op <= LHU
}

// IsStore reports whether op writes memory.
func (op Opcode) IsStore() bool {
	return op >= SB && op <= SW
}

// IsBranch reports whether op is a conditional branch.
func (op Opcode) IsBranch() bool {
	return op >= BEQ && op <= BGEU
}

// IsJump reports whether op is JAL or JALR.
func (op Opcode) IsJump() bool {
	return op == JAL || op == JALR
}
