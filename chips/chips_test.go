package chips

import (
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// aluGuest touches every ALU opcode, each subword memory access and both
// outcomes of every branch flavor. Register x0 is never written.
func aluGuest() []executor.Instruction {
	prog := []executor.Instruction{
		li(1, 0x1234),
		li(2, 0xABCD),
		executor.R(executor.ADD, 3, 1, 2),
		executor.R(executor.SUB, 4, 2, 1),
		executor.R(executor.XOR, 6, 1, 2),
		executor.R(executor.OR, 7, 1, 2),
		executor.R(executor.AND, 8, 1, 2),
		executor.I(executor.SLL, 9, 1, 5),
		li(11, 7),
		executor.R(executor.SLL, 9, 1, 11),
		executor.I(executor.SRL, 12, 2, 3),
		executor.R(executor.SRA, 13, 2, 11),
		li(14, 0),
		li(15, 1),
		executor.R(executor.SUB, 14, 14, 15), // x14 = -1
		executor.I(executor.SLL, 16, 15, 31), // x16 = 1 << 31
		executor.R(executor.SRA, 17, 16, 11), // sign-extending shift
		executor.R(executor.SLT, 18, 14, 15),
		executor.R(executor.SLTU, 19, 14, 15),
		executor.I(executor.SLT, 18, 16, 100),
		executor.R(executor.MUL, 20, 1, 2),
		executor.R(executor.MULH, 21, 14, 2),
		executor.R(executor.MULHU, 22, 14, 2),
		executor.R(executor.MULHSU, 23, 14, 2),
		li(24, 100),
		li(25, 7),
		executor.R(executor.DIV, 26, 24, 25),
		executor.R(executor.REM, 27, 24, 25),
		executor.R(executor.DIVU, 26, 24, 25),
		executor.R(executor.REMU, 27, 24, 25),
		executor.R(executor.DIV, 26, 24, 14), // 100 / -1
		li(28, 0),
		executor.R(executor.DIV, 26, 24, 28),  // division by zero
		executor.R(executor.REM, 27, 24, 28),  // remainder by zero
		executor.R(executor.DIV, 26, 16, 14),  // INT_MIN / -1 overflow
		executor.R(executor.REM, 27, 16, 14),  // overflow remainder
		executor.R(executor.DIVU, 26, 24, 28), // unsigned division by zero

		// Subword loads and stores, including sign extension and a read of a
		// never-written cell.
		li(5, 0x20000),
		executor.S(executor.SW, 3, 5, 0),
		executor.I(executor.LW, 29, 5, 0),
		executor.S(executor.SB, 2, 5, 5),
		executor.I(executor.LBU, 30, 5, 5),
		executor.I(executor.LB, 31, 5, 5),
		executor.S(executor.SH, 2, 5, 6),
		executor.I(executor.LHU, 30, 5, 6),
		executor.I(executor.LH, 31, 5, 6),
		executor.S(executor.SB, 14, 5, 11),
		executor.I(executor.LB, 30, 5, 11),
		executor.I(executor.LW, 8, 5, 0x100),

		// Taken branches skip exactly one instruction.
		executor.B(executor.BEQ, 1, 1, 8),
		li(9, 0x111),
		executor.B(executor.BNE, 1, 1, 8),
		li(9, 0x222),
		executor.B(executor.BLT, 14, 15, 8),
		li(9, 0x333),
		executor.B(executor.BLTU, 14, 15, 8),
		li(9, 0x444),
		executor.B(executor.BGE, 15, 14, 8),
		li(9, 0x555),
		executor.B(executor.BGEU, 15, 14, 8),
		li(9, 0x666),

		executor.J(12, 8), // x12 links to the skipped li
		li(9, 0x777),
		executor.I(executor.JALR, 13, 12, 12),
		li(9, 0x888),
		executor.U(executor.AUIPC, 22, 0x2000),
		executor.U(executor.LUI, 23, 0xFEDC0000),
	}
	return append(prog, haltWith(0)...)
}

func TestChipsAluGuest(t *testing.T) {
	// One image word the guest never touches chains init directly to final.
	image := map[uint32]uint32{0x50000: 0xDEAD}
	p, records := runGuest(t, aluGuest(), image, nil, nil, nil)
	require.Len(t, records, 1)
	checkSegments(t, p, records)
}

func shaGuest() ([]executor.Instruction, map[uint32]uint32) {
	const w = 0x30000
	const h = 0x40000
	image := map[uint32]uint32{
		w:      0x61626380, // "abc" + padding bit
		w + 60: 0x18,       // bit length 24
	}
	iv := [8]uint32{0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a, 0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19}
	for i, v := range iv {
		image[h+4*uint32(i)] = v
	}
	prog := []executor.Instruction{
		li(executor.RegT0, uint32(executor.SyscallShaExtend)),
		li(executor.RegA0, w),
		executor.Ecall(),
		li(executor.RegT0, uint32(executor.SyscallShaCompress)),
		li(executor.RegA0, h),
		li(executor.RegA1, w),
		executor.Ecall(),
		li(20, h),
	}
	for i := uint32(0); i < 8; i++ {
		prog = append(prog,
			li(executor.RegT0, uint32(executor.SyscallCommit)),
			li(executor.RegA0, i),
			executor.I(executor.LW, executor.RegA1, 20, 4*i),
			executor.Ecall(),
		)
	}
	return append(prog, haltWith(0)...), image
}

func TestChipsSha256Guest(t *testing.T) {
	prog, image := shaGuest()
	p, records := runGuest(t, prog, image, nil, nil, nil)

	want := sha256.Sum256([]byte("abc"))
	got := records[len(records)-1].Public.Committed
	for i := 0; i < 8; i++ {
		require.Equal(t, binary.BigEndian.Uint32(want[4*i:]), got[i], "digest word %d", i)
	}
	checkSegments(t, p, records)
}

func TestChipsKeccakGuest(t *testing.T) {
	// keccak256("") is a single permutation of the padded empty block.
	const s = 0x30000
	image := map[uint32]uint32{
		s:        0x01,
		s + 4*33: 0x8000_0000,
	}
	prog := []executor.Instruction{
		li(executor.RegT0, uint32(executor.SyscallKeccakPermute)),
		li(executor.RegA0, s),
		executor.Ecall(),
	}
	prog = append(prog, haltWith(0)...)
	p, records := runGuest(t, prog, image, nil, nil, nil)

	want := sha3.NewLegacyKeccak256().Sum(nil)
	got := memFinalWords(t, records, s, 8)
	for i := 0; i < 8; i++ {
		require.Equal(t, binary.LittleEndian.Uint32(want[4*i:]), got[i], "digest word %d", i)
	}
	checkSegments(t, p, records)
}

func TestChipsBlake3Guest(t *testing.T) {
	const cv = 0x30000
	const blk = 0x40000
	image := map[uint32]uint32{}
	for i, v := range executor.Blake3IV {
		image[cv+4*uint32(i)] = v
	}
	image[blk+4*19] = 0x0B // CHUNK_START | CHUNK_END | ROOT
	prog := []executor.Instruction{
		li(executor.RegT0, uint32(executor.SyscallBlake3Compress)),
		li(executor.RegA0, cv),
		li(executor.RegA1, blk),
		executor.Ecall(),
	}
	prog = append(prog, haltWith(0)...)
	p, records := runGuest(t, prog, image, nil, nil, nil)

	want, err := hex.DecodeString("af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262")
	require.NoError(t, err)
	got := memFinalWords(t, records, cv, 8)
	for i := 0; i < 8; i++ {
		require.Equal(t, binary.LittleEndian.Uint32(want[4*i:]), got[i], "cv word %d", i)
	}
	checkSegments(t, p, records)
}

func pointImage(image map[uint32]uint32, base uint32, x, y *big.Int) {
	for i, w := range executor.BigToWords(x, 8) {
		image[base+4*uint32(i)] = w
	}
	for i, w := range executor.BigToWords(y, 8) {
		image[base+32+4*uint32(i)] = w
	}
}

// TestChipsFieldOpsGuest runs one event of each field operation through a
// single guest so all four identity tables of the field_op chip get rows.
func TestChipsFieldOpsGuest(t *testing.T) {
	bx, _ := new(big.Int).SetString("15112221349535400772501151409588531511454012693041857206046113283949847762202", 10)
	by, _ := new(big.Int).SetString("46316835694926478169428394003475163141307993866256225615783033603165251855960", 10)

	curve := elliptic.P256()
	gx, gy := curve.Params().Gx, curve.Params().Gy
	want2X, want2Y := curve.Double(gx, gy)
	want3X, want3Y := curve.Add(want2X, want2Y, gx, gy)

	mx, _ := new(big.Int).SetString("deadbeefcafebabe1122334455667788", 16)
	my := new(big.Int).Lsh(big.NewInt(0x71077345), 130)
	mm, _ := new(big.Int).SetString("fffffffffffffffffffffffffffffffeffffffffffffffffffffffffffffffff", 16)

	const edP, edQ = 0x30000, 0x40000
	const pP, pQ = 0x50000, 0x60000
	const xp, ymp = 0x70000, 0x80000
	image := map[uint32]uint32{}
	pointImage(image, edP, bx, by)
	pointImage(image, edQ, bx, by)
	pointImage(image, pP, gx, gy)
	pointImage(image, pQ, gx, gy)
	for i, w := range executor.BigToWords(mx, 8) {
		image[xp+4*uint32(i)] = w
	}
	for i, w := range executor.BigToWords(my, 8) {
		image[ymp+4*uint32(i)] = w
	}
	for i, w := range executor.BigToWords(mm, 8) {
		image[ymp+32+4*uint32(i)] = w
	}

	prog := []executor.Instruction{
		li(executor.RegT0, uint32(executor.SyscallEdAdd)),
		li(executor.RegA0, edP),
		li(executor.RegA1, edQ),
		executor.Ecall(),
		li(executor.RegT0, uint32(executor.SyscallP256Double)),
		li(executor.RegA0, pP),
		executor.Ecall(),
		li(executor.RegT0, uint32(executor.SyscallP256Add)),
		li(executor.RegA0, pP),
		li(executor.RegA1, pQ),
		executor.Ecall(),
		li(executor.RegT0, uint32(executor.SyscallBigIntMulMod)),
		li(executor.RegA0, xp),
		li(executor.RegA1, ymp),
		executor.Ecall(),
	}
	prog = append(prog, haltWith(0)...)
	p, records := runGuest(t, prog, image, nil, nil, nil)

	out := memFinalWords(t, records, pP, 16)
	require.Zero(t, executor.WordsToBig(out[:8]).Cmp(want3X))
	require.Zero(t, executor.WordsToBig(out[8:]).Cmp(want3Y))

	ed := memFinalWords(t, records, edP, 16)
	require.NotZero(t, executor.WordsToBig(ed[:8]).Cmp(bx), "doubling must move the point")

	wantR := new(big.Int).Mul(mx, my)
	wantR.Mod(wantR, mm)
	require.Zero(t, executor.WordsToBig(memFinalWords(t, records, xp, 8)).Cmp(wantR))

	checkSegments(t, p, records)
}

// TestChipsMultiSegment cuts a countdown loop into many segments and checks
// that the memory argument chains across them: init rows appear only in the
// first segment, final rows only in the last, and the buses still balance
// globally.
func TestChipsMultiSegment(t *testing.T) {
	prog := []executor.Instruction{
		li(1, 100),
		li(2, 1),
		executor.R(executor.SUB, 1, 1, 2),
		executor.B(executor.BNE, 1, 0, 0xFFFFFFFC),
	}
	prog = append(prog, haltWith(0)...)
	p, records := runGuest(t, prog, nil, nil, nil, &executor.Options{SegmentCycles: 32})
	require.Greater(t, len(records), 2)

	for i, rec := range records {
		if i > 0 {
			require.Empty(t, rec.MemoryInit, "segment %d", i)
		}
		if i < len(records)-1 {
			require.Empty(t, rec.MemoryFinal, "segment %d", i)
		}
	}
	checkSegments(t, p, records)
}

func TestChipsInputRegionAndWrite(t *testing.T) {
	pub := []byte{1, 2, 3, 4, 5}
	prog := []executor.Instruction{
		li(20, executor.PublicInputBase),
		executor.I(executor.LW, 1, 20, 0), // length word
		executor.I(executor.LW, 2, 20, 4),
		executor.I(executor.LW, 3, 20, 8),
		executor.R(executor.ADD, 4, 1, 2),
		executor.R(executor.ADD, 4, 4, 3),
		li(5, 0x20000),
		li(6, 0x6968), // "hi"
		executor.S(executor.SW, 6, 5, 0),
		li(executor.RegT0, uint32(executor.SyscallWrite)),
		li(executor.RegA0, 1),
		li(executor.RegA1, 0x20000),
		li(executor.RegA2, 2),
		executor.Ecall(),
	}
	prog = append(prog, haltWith(4)...)
	p, records := runGuest(t, prog, nil, pub, nil, nil)

	require.Equal(t, uint32(5+0x04030201+5), records[len(records)-1].Public.ExitCode)
	checkSegments(t, p, records)
}

// TestChipsTamperedTrace flips one cell of a generated ALU trace and checks
// that the sweep catches it, either as a broken constraint or as a bus that
// no longer balances.
func TestChipsTamperedTrace(t *testing.T) {
	p, records := runGuest(t, aluGuest(), nil, nil, nil, nil)
	runs := buildSegment(p, records[0])

	var tampered bool
	for _, run := range runs {
		if run.chip.Name() != "add_sub" {
			continue
		}
		for col := 0; col < run.main.Width; col++ {
			if v := run.main.Get(0, col); !v.IsZero() {
				one := field.NewFelt(1)
				v.Add(&v, &one)
				run.main.Set(0, col, v)
				tampered = true
				break
			}
		}
	}
	require.True(t, tampered, "add_sub trace has no event row")

	ledger := newBusLedger()
	publics := publicExts(&records[0].Public)
	violations := 0
	for _, run := range runs {
		violations += len(sweep(run, publics, ledger))
	}
	require.True(t, violations > 0 || len(ledger.sums) > 0,
		"tampered trace passed constraints and balanced the buses")
}

// TestChipsTamperedPublics corrupts the claimed final program counter and
// checks the cpu chip rejects it. The padding rows repeat the claimed
// boundary state, so the wrong claim surfaces where the real rows meet the
// padded tail, not on the last row itself.
func TestChipsTamperedPublics(t *testing.T) {
	p, records := runGuest(t, aluGuest(), nil, nil, nil, nil)
	rec := records[0]
	rec.Public.PCEnd += 4

	ledger := newBusLedger()
	publics := publicExts(&rec.Public)
	for _, run := range buildSegment(p, rec) {
		if run.chip.Name() != "cpu" {
			continue
		}
		viols := sweep(run, publics, ledger)
		require.NotEmpty(t, viols, "cpu chip accepted a wrong final pc")
		require.Equal(t, len(rec.CpuEvents)-1, viols[0].row)
	}
}
