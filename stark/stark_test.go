package stark

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
)

// The fixture machine has two tables exchanging messages over one bus: the
// work table sends its input column, the range table receives each value with
// a committed multiplicity. The work table also exercises every row domain
// with a row counter and binds its first input to a public value.

const fixtureLog = 3

func fixtureRegistry() [32]byte {
	return sha256.Sum256([]byte("range+work"))
}

func rangeTable(n int) Table {
	b := air.NewBuilder("range", 1, 1, 1)
	b.Receive(air.BusRange, []*air.Expr{air.Pre(0)}, air.Col(0))
	pre := air.NewMatrix(1, n)
	for i := 0; i < n; i++ {
		pre.SetUint(i, 0, uint64(i))
	}
	return NewTable(b, pre)
}

func workTable() Table {
	b := air.NewBuilder("work", 3, 0, 1)
	// y = x^2
	b.AssertZero(air.Col(1).Sub(air.Col(0).Mul(air.Col(0))))
	// z counts rows
	b.AssertZeroFirst(air.Col(2))
	b.AssertZeroTransition(air.ColNext(2).Sub(air.Col(2)).SubConst(1))
	b.AssertZeroLast(air.Col(2).SubConst((1 << fixtureLog) - 1))
	// the first input is public
	b.AssertZeroFirst(air.Col(0).Sub(air.Public(0)))
	b.Send(air.BusRange, []*air.Expr{air.Col(0)}, air.Const(1))
	return NewTable(b, nil)
}

// workTrace fills the work table with x = i mod 4.
func workTrace(n int) *air.Matrix {
	m := air.NewMatrix(3, n)
	for i := 0; i < n; i++ {
		x := uint64(i % 4)
		m.SetUint(i, 0, x)
		m.SetUint(i, 1, x*x)
		m.SetUint(i, 2, uint64(i))
	}
	return m
}

// rangeTrace fills the multiplicity column so the bus cancels against scale
// work-table segments with the fixture trace.
func rangeTrace(n, scale int) *air.Matrix {
	m := air.NewMatrix(1, n)
	for x := 0; x < 4; x++ {
		m.SetUint(x, 0, uint64(scale*n/4))
	}
	return m
}

func fixtureSetup(t *testing.T, opts ...Option) (*ProvingKey, *VerifierKey, []Table) {
	t.Helper()
	n := 1 << fixtureLog
	tables := []Table{rangeTable(n), workTable()}
	cfg, err := NewConfig(append([]Option{WithQueries(10), WithPow(4)}, opts...)...)
	require.NoError(t, err)
	pk, vk, err := Setup(cfg, "test", fixtureRegistry(), fixtureLog, 1, tables)
	require.NoError(t, err)
	return pk, vk, tables
}

func fixtureSegment(n, scale int) *Witness {
	return &Witness{
		Main:    []*air.Matrix{rangeTrace(n, scale), workTrace(n)},
		Publics: []field.Felt{field.NewFelt(0)},
	}
}

func TestProveVerifyRoundTrip(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	proof, err := Prove(pk, tables, []*Witness{fixtureSegment(n, 1)})
	require.NoError(t, err)
	require.Len(t, proof.Segments, 1)

	publics := [][]field.Felt{{field.NewFelt(0)}}
	require.NoError(t, Verify(vk, tables, proof, publics))
}

func TestProveVerifyMultiSegment(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	// Segment 0 only sends; segment 1 receives for both. The per-segment
	// lookup sums are nonzero but cancel across the execution.
	seg0 := &Witness{
		Main:    []*air.Matrix{rangeTrace(n, 0), workTrace(n)},
		Publics: []field.Felt{field.NewFelt(0)},
	}
	seg1 := fixtureSegment(n, 2)

	proof, err := Prove(pk, tables, []*Witness{seg0, seg1})
	require.NoError(t, err)

	sum0, sum1 := proof.Segments[0].LookupSum(), proof.Segments[1].LookupSum()
	require.False(t, sum0.IsZero())
	require.False(t, sum1.IsZero())

	publics := [][]field.Felt{{field.NewFelt(0)}, {field.NewFelt(0)}}
	require.NoError(t, Verify(vk, tables, proof, publics))

	// Dropping a segment breaks the global cancellation.
	short := &Proof{Version: proof.Version, Registry: proof.Registry, Segments: proof.Segments[:1]}
	err = Verify(vk, tables, short, publics[:1])
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestProofSerializationRoundTrip(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	proof, err := Prove(pk, tables, []*Witness{fixtureSegment(n, 1)})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = proof.WriteTo(&buf)
	require.NoError(t, err)

	var back Proof
	_, err = back.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	publics := [][]field.Felt{{field.NewFelt(0)}}
	require.NoError(t, Verify(vk, tables, &back, publics))
}

func TestProofMalformedDecode(t *testing.T) {
	var p Proof
	_, err := p.ReadFrom(bytes.NewReader([]byte{0xff, 0x00, 0x01}))
	require.ErrorIs(t, err, ErrProofMalformed)
}

func TestVerifyRejectsTamper(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	proof, err := Prove(pk, tables, []*Witness{fixtureSegment(n, 1)})
	require.NoError(t, err)
	publics := [][]field.Felt{{field.NewFelt(0)}}

	reencode := func(mut func(p *Proof)) *Proof {
		var buf bytes.Buffer
		_, err := proof.WriteTo(&buf)
		require.NoError(t, err)
		var cp Proof
		_, err = cp.ReadFrom(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		mut(&cp)
		return &cp
	}

	cases := map[string]func(p *Proof){
		"claimed sum": func(p *Proof) {
			p.Segments[0].Claimed[0] ^= 1
		},
		"opening": func(p *Proof) {
			p.Segments[0].Openings[3] ^= 1
		},
		"main leaf": func(p *Proof) {
			p.Segments[0].MainQ[1].Leaves[0][0] ^= 1
		},
		"pow nonce": func(p *Proof) {
			p.Segments[0].PowNonce++
		},
		"final polynomial": func(p *Proof) {
			p.Segments[0].FriFinal[0] ^= 1
		},
		"quotient root": func(p *Proof) {
			p.Segments[0].QuotientRoot[0] ^= 1
		},
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			err := Verify(vk, tables, reencode(mut), publics)
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrProofGeneration)
		})
	}

	t.Run("wrong public value", func(t *testing.T) {
		err := Verify(vk, tables, proof, [][]field.Felt{{field.NewFelt(1)}})
		require.ErrorIs(t, err, ErrInvalidProof)
	})
	t.Run("wrong version", func(t *testing.T) {
		bad := reencode(func(p *Proof) { p.Version = "other" })
		err := Verify(vk, tables, bad, publics)
		require.ErrorIs(t, err, ErrProofMalformed)
	})
}

func TestVerifyRejectsBrokenConstraint(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	// y = x^2 broken on one padding-free row.
	wit := fixtureSegment(n, 1)
	wit.Main[1].SetUint(5, 1, 999)

	proof, err := Prove(pk, tables, []*Witness{wit})
	require.NoError(t, err)
	err = Verify(vk, tables, proof, [][]field.Felt{{field.NewFelt(0)}})
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestVerifyRejectsUnbalancedLookup(t *testing.T) {
	pk, vk, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	// One multiplicity short: the bus does not cancel.
	wit := fixtureSegment(n, 1)
	wit.Main[0].SetUint(0, 0, uint64(n/4-1))

	proof, err := Prove(pk, tables, []*Witness{wit})
	require.NoError(t, err)
	err = Verify(vk, tables, proof, [][]field.Felt{{field.NewFelt(0)}})
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestSetupRejectsBadShapes(t *testing.T) {
	n := 1 << fixtureLog
	cfg, err := NewConfig()
	require.NoError(t, err)

	// pre matrix height mismatch
	tb := rangeTable(n / 2)
	_, _, err = Setup(cfg, "test", fixtureRegistry(), fixtureLog, 1, []Table{tb})
	require.Error(t, err)

	// height too large for the field's two-adicity
	_, _, err = Setup(cfg, "test", fixtureRegistry(), field.TwoAdicity, 1, []Table{workTable()})
	require.Error(t, err)
}

func TestProveRejectsBadWitness(t *testing.T) {
	pk, _, tables := fixtureSetup(t)
	n := 1 << fixtureLog

	_, err := Prove(pk, tables, nil)
	require.ErrorIs(t, err, ErrProofGeneration)

	wit := fixtureSegment(n, 1)
	wit.Publics = nil
	_, err = Prove(pk, tables, []*Witness{wit})
	require.ErrorIs(t, err, ErrProofGeneration)

	wit = fixtureSegment(n/2, 1)
	_, err = Prove(pk, tables, []*Witness{wit})
	require.ErrorIs(t, err, ErrProofGeneration)
}

func TestVerifierKeyDigestBindsParameters(t *testing.T) {
	_, vk1, _ := fixtureSetup(t)
	_, vk2, _ := fixtureSetup(t)
	require.Equal(t, vk1.Digest(), vk2.Digest())

	_, vk3, _ := fixtureSetup(t, WithQueries(11))
	require.NotEqual(t, vk1.Digest(), vk3.Digest())

	vk4 := *vk1
	vk4.Version = "other"
	require.NotEqual(t, vk1.Digest(), vk4.Digest())
}

func TestChallengerDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	sample := func(data []byte) field.Ext {
		ch := newChallenger(cfg.Hash.New(), 2, 2)
		ch.bind("gamma", data)
		v := ch.sampleExt("gamma")
		require.NoError(t, ch.Err())
		return v
	}
	a := sample([]byte("payload"))
	b := sample([]byte("payload"))
	c := sample([]byte("payload!"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestPowGrindAndCheck(t *testing.T) {
	cfg := DefaultConfig()
	seed := []byte("grinding seed")
	nonce := grind(cfg.Hash.New, seed, 8)
	require.True(t, powValid(powDigest(cfg.Hash.New(), seed, nonce), 8))
	require.False(t, powValid(powDigest(cfg.Hash.New(), seed, nonce+1), 30))
}
