package executor

// AluCompute evaluates a register-register or register-immediate operation
// with RV32IM semantics, including the division special cases: division by
// zero and signed overflow produce the values the ISA prescribes instead of
// trapping.
func AluCompute(op Opcode, b, c uint32) uint32 {
	switch op {
	case ADD:
		return b + c
	case SUB:
		return b - c
	case XOR:
		return b ^ c
	case OR:
		return b | c
	case AND:
		return b & c
	case SLL:
		return b << (c & 31)
	case SRL:
		return b >> (c & 31)
	case SRA:
		return uint32(int32(b) >> (c & 31))
	case SLT:
		if int32(b) < int32(c) {
			return 1
		}
		return 0
	case SLTU:
		if b < c {
			return 1
		}
		return 0
	case MUL:
		return b * c
	case MULH:
		return uint32(uint64(int64(int32(b))*int64(int32(c))) >> 32)
	case MULHU:
		return uint32(uint64(b) * uint64(c) >> 32)
	case MULHSU:
		return uint32(uint64(int64(int32(b))*int64(uint32(c))) >> 32)
	case DIV, DIVU:
		return DivQuotient(op, b, c)
	case REM, REMU:
		return DivRemainder(op, b, c)
	}
	panic("executor: not an ALU opcode: " + op.String())
}

// DivQuotient returns the RV32M quotient of b by c, with the division by
// zero and signed overflow conventions applied. The division chip recomputes
// it when witnessing quotients.
func DivQuotient(op Opcode, b, c uint32) uint32 {
	switch op {
	case DIV, REM:
		if c == 0 {
			return 0xFFFF_FFFF
		}
		if b == 0x8000_0000 && c == 0xFFFF_FFFF {
			return b
		}
		return uint32(int32(b) / int32(c))
	case DIVU, REMU:
		if c == 0 {
			return 0xFFFF_FFFF
		}
		return b / c
	}
	panic("executor: not a division opcode: " + op.String())
}

// DivRemainder returns the RV32M remainder counterpart of DivQuotient.
func DivRemainder(op Opcode, b, c uint32) uint32 {
	switch op {
	case DIV, REM:
		if c == 0 {
			return b
		}
		if b == 0x8000_0000 && c == 0xFFFF_FFFF {
			return 0
		}
		return uint32(int32(b) % int32(c))
	case DIVU, REMU:
		if c == 0 {
			return b
		}
		return b % c
	}
	panic("executor: not a division opcode: " + op.String())
}

func absInt32(v uint32) uint32 {
	if int32(v) < 0 {
		return uint32(-int32(v))
	}
	return v
}

func loadAlign(op Opcode) uint32 {
	switch op {
	case LW, SW:
		return 4
	case LH, LHU, SH:
		return 2
	default:
		return 1
	}
}

func signExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// ExtractLoad picks the addressed subword out of an aligned memory word.
func ExtractLoad(op Opcode, word, addr uint32) uint32 {
	switch op {
	case LW:
		return word
	case LB:
		return signExtend(word>>(8*(addr%4))&0xFF, 8)
	case LBU:
		return word >> (8 * (addr % 4)) & 0xFF
	case LH:
		return signExtend(word>>(8*(addr%4))&0xFFFF, 16)
	case LHU:
		return word >> (8 * (addr % 4)) & 0xFFFF
	}
	panic("executor: not a load opcode: " + op.String())
}

// mergeStore folds the stored subword into the previous memory word.
func mergeStore(op Opcode, prev, data, addr uint32) uint32 {
	switch op {
	case SW:
		return data
	case SB:
		shift := 8 * (addr % 4)
		return prev&^(0xFF<<shift) | (data&0xFF)<<shift
	case SH:
		shift := 8 * (addr % 4)
		return prev&^(0xFFFF<<shift) | (data&0xFFFF)<<shift
	}
	panic("executor: not a store opcode: " + op.String())
}
