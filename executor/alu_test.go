package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAluComputeRV32IM(t *testing.T) {
	cases := []struct {
		op      Opcode
		b, c, a uint32
	}{
		{ADD, 3, 4, 7},
		{ADD, 0xFFFF_FFFF, 1, 0},
		{SUB, 3, 4, 0xFFFF_FFFF},
		{SUB, 0, 0x8000_0000, 0x8000_0000},
		{XOR, 0b1100, 0b1010, 0b0110},
		{OR, 0b1100, 0b1010, 0b1110},
		{AND, 0b1100, 0b1010, 0b1000},
		{SLL, 1, 31, 0x8000_0000},
		{SLL, 1, 32, 1}, // shift amount is mod 32
		{SRL, 0x8000_0000, 31, 1},
		{SRA, 0x8000_0000, 31, 0xFFFF_FFFF},
		{SRA, 0x7FFF_FFFF, 1, 0x3FFF_FFFF},
		{SLT, 0xFFFF_FFFF, 0, 1}, // -1 < 0 signed
		{SLT, 0, 0xFFFF_FFFF, 0},
		{SLTU, 0xFFFF_FFFF, 0, 0},
		{SLTU, 0, 1, 1},
		{MUL, 7, 6, 42},
		{MUL, 0x8000_0000, 2, 0},
		{MULH, 0xFFFF_FFFF, 0xFFFF_FFFF, 0}, // (-1)*(-1) = 1, high half 0
		{MULHU, 0xFFFF_FFFF, 0xFFFF_FFFF, 0xFFFF_FFFE},
		{MULHSU, 0xFFFF_FFFF, 0xFFFF_FFFF, 0xFFFF_FFFF}, // -1 * max unsigned
		{DIV, 7, 2, 3},
		{DIV, 0xFFFF_FFF9, 2, 0xFFFF_FFFD}, // -7 / 2 = -3
		{DIV, 7, 0, 0xFFFF_FFFF},           // div by zero
		{DIV, 0x8000_0000, 0xFFFF_FFFF, 0x8000_0000}, // overflow
		{DIVU, 7, 0, 0xFFFF_FFFF},
		{DIVU, 0xFFFF_FFFF, 2, 0x7FFF_FFFF},
		{REM, 7, 2, 1},
		{REM, 0xFFFF_FFF9, 2, 0xFFFF_FFFF}, // -7 % 2 = -1
		{REM, 7, 0, 7},
		{REM, 0x8000_0000, 0xFFFF_FFFF, 0},
		{REMU, 7, 0, 7},
		{REMU, 0xFFFF_FFFF, 10, 5},
	}
	for _, tc := range cases {
		require.Equal(t, tc.a, AluCompute(tc.op, tc.b, tc.c),
			"%s(%#x, %#x)", tc.op, tc.b, tc.c)
	}
}

func TestDivisionIdentity(t *testing.T) {
	// b = lo(q*c) + r must hold for every operand pair, including the
	// special cases, since the division chip relies on it.
	ops := []Opcode{DIV, DIVU, REM, REMU}
	values := []uint32{0, 1, 2, 7, 0x7FFF_FFFF, 0x8000_0000, 0xFFFF_FFF9, 0xFFFF_FFFF}
	for _, op := range ops {
		for _, b := range values {
			for _, c := range values {
				q := DivQuotient(op, b, c)
				r := DivRemainder(op, b, c)
				require.Equal(t, b, q*c+r, "%s b=%#x c=%#x q=%#x r=%#x", op, b, c, q, r)
			}
		}
	}
}

func TestLoadStoreSubword(t *testing.T) {
	word := uint32(0x8091_A2B3)
	require.Equal(t, uint32(0xFFFF_FFB3), ExtractLoad(LB, word, 0x100))
	require.Equal(t, uint32(0x0000_00B3), ExtractLoad(LBU, word, 0x100))
	require.Equal(t, uint32(0xFFFF_FF80), ExtractLoad(LB, word, 0x103))
	require.Equal(t, uint32(0x0000_0080), ExtractLoad(LBU, word, 0x103))
	require.Equal(t, uint32(0xFFFF_A2B3), ExtractLoad(LH, word, 0x100))
	require.Equal(t, uint32(0x0000_A2B3), ExtractLoad(LHU, word, 0x100))
	require.Equal(t, uint32(0xFFFF_8091), ExtractLoad(LH, word, 0x102))
	require.Equal(t, word, ExtractLoad(LW, word, 0x100))

	prev := uint32(0x1122_3344)
	require.Equal(t, uint32(0x1122_33FF), mergeStore(SB, prev, 0xABFF, 0x200))
	require.Equal(t, uint32(0x11FF_3344), mergeStore(SB, prev, 0xFF, 0x202))
	require.Equal(t, uint32(0x1122_BEEF), mergeStore(SH, prev, 0xBEEF, 0x200))
	require.Equal(t, uint32(0xBEEF_3344), mergeStore(SH, prev, 0xBEEF, 0x202))
	require.Equal(t, uint32(0xDEAD_BEEF), mergeStore(SW, prev, 0xDEAD_BEEF, 0x200))
}
