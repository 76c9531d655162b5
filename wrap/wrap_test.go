package wrap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/recursion"
	"github.com/volta-zk/volta/stark"
)

func testPublics() []field.Felt {
	out := make([]field.Felt, recursion.NbPublics)
	for i := range out {
		out[i] = field.NewFelt(uint64(3*i + 1))
	}
	return out
}

func TestDigestsDeterministic(t *testing.T) {
	publics := testPublics()
	require.Equal(t, PublicDigest(publics), PublicDigest(publics))

	other := append([]field.Felt(nil), publics...)
	other[5] = field.NewFelt(999)
	require.NotEqual(t, PublicDigest(publics), PublicDigest(other))

	require.Equal(t, KeyDigest([32]byte{1}, [32]byte{2}), KeyDigest([32]byte{1}, [32]byte{2}))
	require.NotEqual(t, KeyDigest([32]byte{1}, [32]byte{2}), KeyDigest([32]byte{2}, [32]byte{1}))
}

func TestCompactProofRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup")
	}
	publics := testPublics()
	cp, err := proveCompact([32]byte{0xA1}, publics, [32]byte{0xB2})
	require.NoError(t, err)

	require.Equal(t, KeyDigest([32]byte{0xA1}, [32]byte{0xB2}), cp.VKDigest)
	require.Equal(t, PublicDigest(publics), cp.PVDigest)
	require.NoError(t, VerifyWrapped(cp, cp.VKDigest, cp.PVDigest))

	bad := cp.PVDigest
	bad[0] ^= 1
	require.ErrorIs(t, VerifyWrapped(cp, cp.VKDigest, bad), stark.ErrInvalidProof)
	badVK := cp.VKDigest
	badVK[31] ^= 1
	require.ErrorIs(t, VerifyWrapped(cp, badVK, cp.PVDigest), stark.ErrInvalidProof)

	var buf bytes.Buffer
	_, err = cp.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.Bytes()

	// The deserialized proof carries its own verifying key, so checking it
	// touches no process-local setup state.
	var back CompactProof
	_, err = back.ReadFrom(bytes.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, back.VK)
	require.NoError(t, VerifyWrapped(&back, cp.VKDigest, cp.PVDigest))

	var truncated CompactProof
	_, err = truncated.ReadFrom(bytes.NewReader(raw[:40]))
	require.ErrorIs(t, err, stark.ErrProofMalformed)
}

func TestProveCompactRejectsBadShape(t *testing.T) {
	_, err := proveCompact([32]byte{1}, make([]field.Felt, 3), [32]byte{2})
	require.Error(t, err)
}
