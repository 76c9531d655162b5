package field

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestModulusShape(t *testing.T) {
	// p = 2^31 - 2^24 + 1
	expected := new(big.Int).Lsh(big.NewInt(1), 31)
	expected.Sub(expected, new(big.Int).Lsh(big.NewInt(1), 24))
	expected.Add(expected, big.NewInt(1))
	require.Equal(t, 0, Modulus().Cmp(expected))

	// two-adicity of p-1
	pMinus1 := new(big.Int).Sub(Modulus(), big.NewInt(1))
	require.Equal(t, TwoAdicity, int(pMinus1.TrailingZeroBits()))
}

func TestBatchInvert(t *testing.T) {
	in := make([]Felt, 17)
	for i := range in {
		in[i] = NewFelt(uint64(3*i + 1))
	}
	in[5].SetZero()

	out := BatchInvert(in)
	one := One()
	for i := range in {
		if in[i].IsZero() {
			require.True(t, out[i].IsZero())
			continue
		}
		var p Felt
		p.Mul(&in[i], &out[i])
		require.True(t, p.Equal(&one), "index %d", i)
	}
}

func TestExtTowerLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	genExt := gen.UInt64().Map(func(uint64) Ext {
		var e Ext
		e.MustSetRandom()
		return e
	})

	properties.Property("mul distributes over add", prop.ForAll(
		func(a, b, c Ext) bool {
			var l, r, t1, t2 Ext
			t1.Add(&a, &b)
			l.Mul(&t1, &c)
			t1.Mul(&a, &c)
			t2.Mul(&b, &c)
			r.Add(&t1, &t2)
			return l == r
		},
		genExt, genExt, genExt,
	))

	properties.Property("nonzero elements have inverses", prop.ForAll(
		func(a Ext) bool {
			if a.IsZero() {
				return true
			}
			var inv, p Ext
			inv.Inverse(&a)
			p.Mul(&a, &inv)
			return p == ExtOne()
		},
		genExt,
	))

	properties.Property("embedding commutes with base multiplication", prop.ForAll(
		func(x, y uint64) bool {
			a := NewFelt(x)
			b := NewFelt(y)
			var ab Felt
			ab.Mul(&a, &b)

			ea := ExtFromFelt(a)
			var prod Ext
			prod.MulByElement(&ea, &b)
			return prod == ExtFromFelt(ab)
		},
		gen.UInt64(), gen.UInt64(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestExtMarshalRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("unmarshal(marshal(e)) == e", prop.ForAll(
		func(uint64) bool {
			var e Ext
			e.MustSetRandom()
			buf := ExtMarshal(&e, nil)
			if len(buf) != ExtBytes {
				return false
			}
			got := ExtUnmarshal(buf)
			return got == e
		},
		gen.UInt64(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestExtExp(t *testing.T) {
	var x Ext
	x.MustSetRandom()

	// x^5 by repeated multiplication
	want := ExtOne()
	for i := 0; i < 5; i++ {
		want.Mul(&want, &x)
	}
	got := ExtExp(x, big.NewInt(5))
	require.Equal(t, want, got)

	require.Equal(t, ExtOne(), ExtExp(x, big.NewInt(0)))
	require.Equal(t, want, ExtExpUint(x, 5))
}

func TestBatchInvertExt(t *testing.T) {
	in := make([]Ext, 9)
	for i := range in {
		if i == 3 {
			continue // leave a zero in the middle
		}
		in[i].MustSetRandom()
	}

	out := BatchInvertExt(in)
	for i := range in {
		if in[i].IsZero() {
			require.True(t, out[i].IsZero())
			continue
		}
		var p Ext
		p.Mul(&in[i], &out[i])
		require.Equal(t, ExtOne(), p, "index %d", i)
	}
}

func TestEvalPolyExt(t *testing.T) {
	// p(x) = 7 + 3x + x^2 evaluated at 2 is 7 + 6 + 4 = 17
	p := []Ext{ExtFromUint64(7), ExtFromUint64(3), ExtFromUint64(1)}
	at := ExtFromUint64(2)
	require.Equal(t, ExtFromUint64(17), EvalPolyExt(p, &at))

	empty := EvalPolyExt(nil, &at)
	require.True(t, empty.IsZero())
}
