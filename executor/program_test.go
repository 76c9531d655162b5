package executor

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func randomProgram(rng *rand.Rand) *Program {
	n := 1 + rng.Intn(200)
	p := NewProgram(nil, 0x1000, 0x1000)
	for i := 0; i < n; i++ {
		ins := Instruction{
			Opcode: Opcode(rng.Intn(NumOpcodes)),
			OpA:    uint32(rng.Intn(32)),
			ImmB:   rng.Intn(2) == 1,
			ImmC:   rng.Intn(2) == 1,
		}
		if ins.ImmB {
			ins.OpB = rng.Uint32()
		} else {
			ins.OpB = uint32(rng.Intn(32))
		}
		if ins.ImmC {
			ins.OpC = rng.Uint32()
		} else {
			ins.OpC = uint32(rng.Intn(32))
		}
		p.Instructions = append(p.Instructions, ins)
	}
	p.PCStart = p.PCBase + 4*uint32(rng.Intn(n))
	for i := 0; i < rng.Intn(50); i++ {
		p.SetImageWord(uint32(rng.Intn(1<<20))*4, rng.Uint32())
	}
	return p
}

func TestProgramCodecRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("serialize then deserialize is identity", prop.ForAll(
		func(seed int64) bool {
			p := randomProgram(rand.New(rand.NewSource(seed)))
			var buf bytes.Buffer
			if _, err := p.WriteTo(&buf); err != nil {
				return false
			}
			q := new(Program)
			if _, err := q.ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
				return false
			}
			if len(q.Image) == 0 {
				q.Image = nil
			}
			if len(p.Image) == 0 {
				p.Image = nil
			}
			return p.PCBase == q.PCBase && p.PCStart == q.PCStart &&
				slicesEqual(p.Instructions, q.Instructions) && mapsEqual(p.Image, q.Image)
		},
		gen.Int64(),
	))
	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func slicesEqual(a, b []Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[uint32]uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func TestProgramCodecRejectsGarbage(t *testing.T) {
	p := NewProgram([]Instruction{R(ADD, 1, 2, 3)}, 0x1000, 0x1000)
	var buf bytes.Buffer
	_, err := p.WriteTo(&buf)
	require.NoError(t, err)

	corrupted := append([]byte(nil), buf.Bytes()...)
	corrupted[0] ^= 0xFF
	q := new(Program)
	_, err = q.ReadFrom(bytes.NewReader(corrupted))
	require.Error(t, err)

	_, err = q.ReadFrom(bytes.NewReader(buf.Bytes()[:8]))
	require.Error(t, err)
}

func TestProgramValidate(t *testing.T) {
	adds := []Instruction{R(ADD, 1, 2, 3)}
	require.NoError(t, NewProgram(adds, 0x1000, 0x1000).Validate())

	require.Error(t, NewProgram(adds, 0x1001, 0x1001).Validate())

	require.Error(t, NewProgram(adds, 0x1000, 0x2000).Validate(), "entry point outside program")

	bad := NewProgram([]Instruction{{Opcode: ADD, OpA: 32}}, 0x1000, 0x1000)
	require.Error(t, bad.Validate(), "register index out of range")

	bad = NewProgram(adds, 0x1000, 0x1000)
	bad.SetImageWord(AddressLimit, 7)
	require.Error(t, bad.Validate(), "image beyond address limit")
}

func TestProgramDigestStable(t *testing.T) {
	p := NewProgram([]Instruction{R(ADD, 1, 2, 3), I(ADD, 4, 0, 99)}, 0x1000, 0x1000)
	p.SetImageWord(0x8000, 42)

	d1, err := p.Digest()
	require.NoError(t, err)
	d2, err := p.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	p.SetImageWord(0x8000, 43)
	d3, err := p.Digest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}
