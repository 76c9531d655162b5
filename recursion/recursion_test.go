package recursion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/machine"
	"github.com/volta-zk/volta/stark"
)

// chainOf builds a contiguous run of child statements under one key.
func chainOf(n int, vk [32]byte) []Statement {
	out := make([]Statement, n)
	for i := range out {
		out[i] = Statement{
			PCStart:   0x1000 + 16*uint32(i),
			PCEnd:     0x1000 + 16*uint32(i+1),
			ClkStart:  100 * uint32(i),
			ClkEnd:    100 * uint32(i+1),
			SegFirst:  uint32(i),
			SegLast:   uint32(i),
			IsFirst:   i == 0,
			IsLast:    i == n-1,
			ExitCode:  7,
			Committed: [8]uint32{1, 2, 3, 4, 5, 6, 7, 8},
			VK:        vk,
		}
	}
	return out
}

func TestMergeStatements(t *testing.T) {
	vk := [32]byte{9}
	children := chainOf(5, vk)
	parent, err := mergeStatements(children)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), parent.PCStart)
	require.Equal(t, uint32(0x1000+16*5), parent.PCEnd)
	require.Equal(t, uint32(0), parent.SegFirst)
	require.Equal(t, uint32(4), parent.SegLast)
	require.True(t, parent.IsFirst)
	require.True(t, parent.IsLast)
	require.Equal(t, children[4].Committed, parent.Committed)

	cases := map[string]func(s []Statement){
		"pc gap":           func(s []Statement) { s[2].PCStart += 4 },
		"clock gap":        func(s []Statement) { s[3].ClkStart++ },
		"segment skip":     func(s []Statement) { s[1].SegFirst++; s[1].SegLast++ },
		"inner first flag": func(s []Statement) { s[2].IsFirst = true },
		"inner last flag":  func(s []Statement) { s[2].IsLast = true },
		"mixed keys":       func(s []Statement) { s[1].VK[0] ^= 1 },
		"stale exit code":  func(s []Statement) { s[0].ExitCode = 0 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			s := chainOf(5, vk)
			mut(s)
			_, err := mergeStatements(s)
			require.Error(t, err)
		})
	}
}

// sweepReduce evaluates every chain and digest constraint on every row of the
// reduce trace and returns the violation count, checking the digest bus
// balances along the way.
func sweepReduce(t *testing.T, children []Statement, parent Statement, childVK [32]byte) int {
	t.Helper()
	chain, digest := reduceTraces(children, childVK)
	felts := PublicVector(&parent, childVK)
	publics := make([]field.Ext, len(felts))
	for i, fe := range felts {
		publics[i] = field.ExtFromFelt(fe)
	}

	cs := []air.Chip{chainChip{}, digestChip{}}
	mains := []*air.Matrix{chain, digest}
	bus := map[string]int{}
	viols := 0
	for ci, c := range cs {
		b := air.NewBuilder(c.Name(), c.MainWidth(), c.PreprocessedWidth(), NbPublics)
		c.Eval(b)
		f := &air.Frame{
			Main:     make([]field.Ext, c.MainWidth()),
			MainNext: make([]field.Ext, c.MainWidth()),
			Publics:  publics,
		}
		for r := 0; r < reduceHeight; r++ {
			for i := range f.Main {
				f.Main[i] = field.ExtFromFelt(mains[ci].Get(r, i))
				f.MainNext[i] = field.ExtFromFelt(mains[ci].Get((r+1)%reduceHeight, i))
			}
			viols += len(b.EvalConstraints(f, func(d air.Domain) bool {
				switch d {
				case air.FirstRow:
					return r == 0
				case air.LastRow:
					return r == reduceHeight-1
				case air.Transition:
					return r != reduceHeight-1
				default:
					return true
				}
			}))
			for _, it := range b.Interactions() {
				mult := it.Mult.Eval(f)
				if mult.IsZero() {
					continue
				}
				var key []byte
				for _, fe := range it.Fields {
					v := fe.Eval(f)
					key = field.ExtMarshal(&v, key)
				}
				if it.IsSend {
					bus[string(key)]++
				} else {
					bus[string(key)]--
				}
			}
		}
	}
	for k, n := range bus {
		require.Zero(t, n, "unbalanced digest tuple %x", k)
	}
	return viols
}

func TestReduceTraceSatisfiesConstraints(t *testing.T) {
	vk := [32]byte{1, 2, 3}
	for _, n := range []int{1, 3, reduceArity} {
		children := chainOf(n, vk)
		parent, err := mergeStatements(children)
		require.NoError(t, err)
		parent.VK = [32]byte{0xAA}
		require.Zero(t, sweepReduce(t, children, parent, vk), "n=%d", n)
	}
}

func TestReduceTraceRejectsBrokenChain(t *testing.T) {
	vk := [32]byte{1, 2, 3}
	children := chainOf(4, vk)
	parent, err := mergeStatements(children)
	require.NoError(t, err)

	forged := append([]Statement(nil), children...)
	forged[2].ClkStart += 5
	forged[2].ClkEnd += 5
	forged[3].ClkStart += 5
	forged[3].ClkEnd += 5
	require.NotZero(t, sweepReduce(t, forged, parent, vk))
}

func TestPublicFeltsLayout(t *testing.T) {
	var vk [32]byte
	for i := range vk {
		vk[i] = byte(i)
	}
	s := Statement{PCStart: 0x1234, ExitCode: 0x0102, IsLast: true}
	felts := PublicVector(&s, vk)
	require.Len(t, felts, NbPublics)
	require.Equal(t, field.NewFelt(0x1234), felts[pubPCStart])
	require.Equal(t, field.One(), felts[pubIsLast])
	require.Equal(t, field.NewFelt(0x02), felts[pubExit])
	require.Equal(t, field.NewFelt(0x01), felts[pubExit+1])
	require.Equal(t, field.NewFelt(0x0001), felts[pubVK])
	require.Equal(t, field.NewFelt(0x1E1F), felts[pubVK+15])
}

func TestAggregatedProofSerialization(t *testing.T) {
	p := &AggregatedProof{
		Statement: chainOf(1, [32]byte{5})[0],
		ChildVK:   [32]byte{5},
		Proof:     &stark.Proof{Version: "0.0.0-test", Registry: [32]byte{7}},
	}
	var buf bytes.Buffer
	_, err := p.WriteTo(&buf)
	require.NoError(t, err)

	var back AggregatedProof
	_, err = back.ReadFrom(&buf)
	require.NoError(t, err)
	require.Equal(t, p.Statement, back.Statement)
	require.Equal(t, p.ChildVK, back.ChildVK)
	require.Equal(t, p.Proof.Version, back.Proof.Version)

	var garbage AggregatedProof
	_, err = garbage.ReadFrom(bytes.NewReader([]byte{0xFF, 0x00}))
	require.ErrorIs(t, err, stark.ErrProofMalformed)
}

// A reduce proof is only a summary: anyone holding the public reduce key can
// prove a fabricated statement, so Verify must insist on the base machine
// proof behind it.
func TestVerifyRejectsFabricatedStatement(t *testing.T) {
	if testing.Short() {
		t.Skip("full reduce proof")
	}
	cfg, err := stark.NewConfig(stark.WithQueries(30))
	require.NoError(t, err)
	agg, err := NewAggregator(cfg)
	require.NoError(t, err)

	programVK := [32]byte{0xC4}
	leaf := Statement{
		PCStart:   0x1000,
		ClkEnd:    64,
		IsFirst:   true,
		IsLast:    true,
		ExitCode:  3,
		Committed: [8]uint32{0xDEAD, 0xBEEF, 1, 2, 3, 4, 5, 6},
		VK:        programVK,
	}
	p, err := agg.reduce([]Statement{leaf})
	require.NoError(t, err)
	require.ErrorIs(t, agg.Verify(p, programVK), stark.ErrProofMalformed)
}

func TestAggregateEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full reduce tree")
	}
	// Straight-line guest cut into several segments by a small cycle cap.
	var instrs []executor.Instruction
	for i := 0; i < 48; i++ {
		instrs = append(instrs, executor.I(executor.ADD, 5, 5, 1))
	}
	instrs = append(instrs,
		executor.I(executor.ADD, executor.RegA0, 0, 3),
		executor.I(executor.ADD, executor.RegT0, 0, uint32(executor.SyscallHalt)),
		executor.Ecall(),
	)
	prog := executor.NewProgram(instrs, 0x1000, 0x1000)
	records, err := executor.Run(prog, nil, nil, &executor.Options{SegmentCycles: 16})
	require.NoError(t, err)
	require.Greater(t, len(records), 1)

	m := machine.New()
	cfg, err := stark.NewConfig(stark.WithQueries(30))
	require.NoError(t, err)
	pk, vk, err := m.Setup(cfg, prog)
	require.NoError(t, err)
	proof, err := m.Prove(pk, prog, records)
	require.NoError(t, err)

	publics := make([]executor.PublicValues, len(records))
	for s, rec := range records {
		publics[s] = rec.Public
	}

	agg, err := NewAggregator(cfg)
	require.NoError(t, err)
	ap, err := agg.Aggregate(m, vk, proof, publics)
	require.NoError(t, err)

	require.Equal(t, uint32(3), ap.Statement.ExitCode)
	require.True(t, ap.Statement.IsFirst)
	require.True(t, ap.Statement.IsLast)
	require.NoError(t, agg.Verify(ap, vk.Digest()))

	// A proof for some other program must not verify against this key.
	other := vk.Digest()
	other[0] ^= 1
	require.ErrorIs(t, agg.Verify(ap, other), stark.ErrInvalidProof)

	// A forged exit code invalidates the proof.
	forged := *ap
	forged.Statement.ExitCode = 0
	require.ErrorIs(t, agg.Verify(&forged, vk.Digest()), stark.ErrInvalidProof)

	// Stripping the base payload leaves an unverifiable summary.
	hollow := *ap
	hollow.Core = nil
	require.ErrorIs(t, agg.Verify(&hollow, vk.Digest()), stark.ErrProofMalformed)

	// A forged commitment must not survive the statement recomputation.
	tampered := *ap
	tampered.Statement.Committed[0] ^= 1
	require.ErrorIs(t, agg.Verify(&tampered, vk.Digest()), stark.ErrInvalidProof)
}
