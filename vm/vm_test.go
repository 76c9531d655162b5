package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	volta "github.com/volta-zk/volta"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/stark"
)

// guest returns a small straight-line program that commits a0 and halts
// with the given exit code.
func guest(exit uint32) *executor.Program {
	var instrs []executor.Instruction
	for i := 0; i < 40; i++ {
		instrs = append(instrs, executor.I(executor.ADD, 5, 5, 1))
	}
	instrs = append(instrs,
		executor.I(executor.ADD, executor.RegA0, 0, exit),
		executor.I(executor.ADD, executor.RegT0, 0, uint32(executor.SyscallHalt)),
		executor.Ecall(),
	)
	return executor.NewProgram(instrs, 0x1000, 0x1000)
}

func TestOptionsValidation(t *testing.T) {
	_, _, err := Run(guest(0), nil, nil, WithProofMode(Mode(9)))
	require.Error(t, err)
}

func TestVerifyRejectsUnknownArtifacts(t *testing.T) {
	bad := &Proof{Version: "99.0.0", Mode: ModeLeaf}
	require.ErrorIs(t, Verify([32]byte{}, bad), stark.ErrProofMalformed)

	unknown := &Proof{Version: volta.Version.String(), Mode: Mode(9)}
	require.ErrorIs(t, Verify([32]byte{}, unknown), stark.ErrProofMalformed)

	hollow := &Proof{Version: volta.Version.String(), Mode: ModeLeaf}
	require.ErrorIs(t, Verify([32]byte{}, hollow), stark.ErrProofMalformed)

	var garbage Proof
	_, err := garbage.ReadFrom(bytes.NewReader([]byte{0xFF}))
	require.ErrorIs(t, err, stark.ErrProofMalformed)
}

func TestRunLeafRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("full segment proof")
	}
	p := guest(5)
	pv, proof, err := Run(p, nil, nil, WithQueries(30), WithSegmentSize(16))
	require.NoError(t, err)
	require.Equal(t, uint32(5), pv.ExitCode)
	require.Equal(t, ModeLeaf, proof.Mode)
	require.Greater(t, len(proof.Publics), 1)

	commitment, err := Commitment(proof.Conf, p)
	require.NoError(t, err)
	require.NoError(t, Verify(commitment, proof))

	var buf bytes.Buffer
	_, err = proof.WriteTo(&buf)
	require.NoError(t, err)
	var back Proof
	_, err = back.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, Verify(commitment, &back))

	// Another program's commitment must not accept this proof.
	other, err := Commitment(proof.Conf, guest(6))
	require.NoError(t, err)
	require.ErrorIs(t, Verify(other, proof), stark.ErrInvalidProof)

	// A stale protocol version is rejected before any payload parsing.
	stale := back
	stale.Version = "99.0.0"
	require.ErrorIs(t, Verify(commitment, &stale), stark.ErrProofMalformed)
}

func TestRunReduced(t *testing.T) {
	if testing.Short() {
		t.Skip("full reduce tree")
	}
	p := guest(3)
	pv, proof, err := Run(p, nil, nil, WithQueries(30), WithSegmentSize(16), WithProofMode(ModeReduced))
	require.NoError(t, err)
	require.Equal(t, uint32(3), pv.ExitCode)
	require.NotNil(t, proof.Reduced)
	require.Equal(t, uint32(3), proof.Reduced.Statement.ExitCode)

	commitment, err := Commitment(proof.Conf, p)
	require.NoError(t, err)
	require.NoError(t, Verify(commitment, proof))

	forged := *proof
	st := *proof.Reduced
	st.Statement.ExitCode = 0
	forged.Reduced = &st
	require.ErrorIs(t, Verify(commitment, &forged), stark.ErrInvalidProof)
}

func TestRunWrapped(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline with groth16 wrap")
	}
	p := guest(7)
	pv, proof, err := Run(p, nil, nil, WithQueries(30), WithSegmentSize(16), WithProofMode(ModeWrapped))
	require.NoError(t, err)
	require.Equal(t, uint32(7), pv.ExitCode)
	require.NotEmpty(t, proof.Wrapped)
	require.NotNil(t, proof.Reduced)

	commitment, err := Commitment(proof.Conf, p)
	require.NoError(t, err)
	require.NoError(t, Verify(commitment, proof))

	var buf bytes.Buffer
	_, err = proof.WriteTo(&buf)
	require.NoError(t, err)
	var back Proof
	_, err = back.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, Verify(commitment, &back))

	forged := *proof
	st := *proof.Reduced
	st.Statement.ExitCode = 0
	forged.Reduced = &st
	require.ErrorIs(t, Verify(commitment, &forged), stark.ErrInvalidProof)

	hollow := *proof
	hollow.Reduced = nil
	require.ErrorIs(t, Verify(commitment, &hollow), stark.ErrProofMalformed)
}
