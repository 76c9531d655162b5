package machine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/profile"
	"github.com/volta-zk/volta/stark"
)

func li(rd, v uint32) executor.Instruction  { return executor.I(executor.ADD, rd, 0, v) }
func mv(rd, rs uint32) executor.Instruction { return executor.R(executor.ADD, rd, rs, 0) }

func halt(code uint32) []executor.Instruction {
	return []executor.Instruction{
		li(executor.RegA0, code),
		li(executor.RegT0, uint32(executor.SyscallHalt)),
		executor.Ecall(),
	}
}

// shaGuest hashes a one-block message with the extend and compress
// precompiles and commits the first state word.
func shaGuest() ([]executor.Instruction, map[uint32]uint32) {
	const hPtr, wPtr = 0x2000, 0x2100
	image := map[uint32]uint32{}
	iv := [8]uint32{0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a, 0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19}
	for i, v := range iv {
		image[hPtr+4*uint32(i)] = v
	}
	// "abc" padded to one block
	image[wPtr] = 0x61626380
	image[wPtr+60] = 24

	instrs := []executor.Instruction{
		li(executor.RegA0, wPtr),
		li(executor.RegT0, uint32(executor.SyscallShaExtend)),
		executor.Ecall(),
		li(executor.RegA0, hPtr),
		li(executor.RegA1, wPtr),
		li(executor.RegT0, uint32(executor.SyscallShaCompress)),
		executor.Ecall(),
		executor.I(executor.LW, executor.RegA1, 0, hPtr),
		li(executor.RegA0, 0),
		li(executor.RegT0, uint32(executor.SyscallCommit)),
		executor.Ecall(),
	}
	return append(instrs, halt(0)...), image
}

func runGuest(t *testing.T, instrs []executor.Instruction, image map[uint32]uint32, opts *executor.Options) (*executor.Program, []*executor.Record) {
	t.Helper()
	p := executor.NewProgram(instrs, 0x1000, 0x1000)
	for a, v := range image {
		p.SetImageWord(a, v)
	}
	records, err := executor.Run(p, nil, nil, opts)
	require.NoError(t, err)
	return p, records
}

func TestRegistryDigestStable(t *testing.T) {
	a := New()
	b := New()
	require.Equal(t, a.Registry(), b.Registry())
	require.NotEqual(t, [32]byte{}, a.Registry())
}

func TestValidateRecordsAcceptsHonestRun(t *testing.T) {
	instrs, image := shaGuest()
	_, records := runGuest(t, instrs, image, nil)
	require.NoError(t, New().ValidateRecords(records))
}

func TestValidateRecordsRejectsForgedAlu(t *testing.T) {
	_, records := runGuest(t, append([]executor.Instruction{
		li(1, 20),
		li(2, 22),
		executor.R(executor.ADD, 3, 1, 2),
	}, halt(0)...), nil, nil)

	require.NotEmpty(t, records[0].AddSubEvents)
	records[0].AddSubEvents[0].A++
	err := New().ValidateRecords(records)
	var ae *ArithmetizationError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "add_sub", ae.Chip)
}

func TestValidateRecordsRejectsForgedDigest(t *testing.T) {
	// The record claims a different compression output than the recomputed
	// one, as if relabeling the trace to attest a digest that never happened.
	instrs, image := shaGuest()
	_, records := runGuest(t, instrs, image, nil)

	rec := records[len(records)-1]
	require.NotEmpty(t, rec.ShaCompressEvents)
	rec.ShaCompressEvents[0].HWrites[0].Value ^= 1
	err := New().ValidateRecords(records)
	var ae *ArithmetizationError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "sha_compress", ae.Chip)
}

func TestCheckChain(t *testing.T) {
	good := []executor.PublicValues{
		{SegmentIndex: 0, IsFirst: true, PCStart: 0x1000, PCEnd: 0x1400, ClkStart: 4, ClkEnd: 400, ExitCode: 7},
		{SegmentIndex: 1, IsLast: true, PCStart: 0x1400, PCEnd: 0, ClkStart: 400, ClkEnd: 800, ExitCode: 7},
	}
	require.NoError(t, CheckChain(good))

	cases := map[string]func(pv []executor.PublicValues){
		"clock gap":       func(pv []executor.PublicValues) { pv[1].ClkStart++ },
		"pc gap":          func(pv []executor.PublicValues) { pv[1].PCStart += 4 },
		"index skip":      func(pv []executor.PublicValues) { pv[1].SegmentIndex = 2 },
		"missing last":    func(pv []executor.PublicValues) { pv[1].IsLast = false },
		"stale exit code": func(pv []executor.PublicValues) { pv[0].ExitCode = 0 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			pv := append([]executor.PublicValues(nil), good...)
			mut(pv)
			require.ErrorIs(t, CheckChain(pv), stark.ErrInvalidProof)
		})
	}
}

func TestProveVerifyEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full segment proof")
	}
	instrs, image := shaGuest()
	p, records := runGuest(t, instrs, image, nil)

	m := New()
	cfg, err := stark.NewConfig(stark.WithQueries(30))
	require.NoError(t, err)
	pk, vk, err := m.Setup(cfg, p)
	require.NoError(t, err)

	proof, err := m.Prove(pk, p, records)
	require.NoError(t, err)

	publics := make([]executor.PublicValues, len(records))
	for s, rec := range records {
		publics[s] = rec.Public
	}
	require.NoError(t, m.Verify(vk, proof, publics))

	// A different exit code must be rejected.
	forged := append([]executor.PublicValues(nil), publics...)
	for s := range forged {
		forged[s].ExitCode = 1
	}
	require.ErrorIs(t, m.Verify(vk, proof, forged), stark.ErrInvalidProof)
}

func TestProveRejectsTamperedRecord(t *testing.T) {
	_, records := runGuest(t, append([]executor.Instruction{
		executor.R(executor.MUL, 3, 1, 2),
	}, halt(0)...), nil, nil)

	require.NotEmpty(t, records[0].MulEvents)
	records[0].MulEvents[0].A = 12345
	m := New()
	var ae *ArithmetizationError
	require.ErrorAs(t, m.ValidateRecords(records), &ae)
	require.Equal(t, "mul", ae.Chip)
}

func TestMachineFeedsActiveProfile(t *testing.T) {
	p := profile.Start(profile.WithNoOutput())
	m := New()
	require.NoError(t, p.Stop())

	total := 0
	for _, b := range m.builders {
		total += len(b.Constraints())
	}
	require.Equal(t, total, p.NbConstraints())

	// A machine built after Stop leaves the session untouched.
	New()
	require.Equal(t, total, p.NbConstraints())
}
