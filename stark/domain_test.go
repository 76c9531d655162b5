package stark

import (
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/volta-zk/volta/field"
)

func randFelts(rng *rand.Rand, n int) []field.Felt {
	out := make([]field.Felt, n)
	for i := range out {
		out[i] = field.NewFelt(rng.Uint64())
	}
	return out
}

// evalPoly is the reference Horner evaluation of base coefficients.
func evalPoly(coeffs []field.Felt, at field.Felt) field.Felt {
	var acc field.Felt
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(&acc, &at)
		acc.Add(&acc, &coeffs[i])
	}
	return acc
}

func TestDomainGenerator(t *testing.T) {
	d := NewDomain(10, field.One())

	// gen has exact order 2^10
	x := powUint(d.Gen, 1<<10)
	require.True(t, x.IsOne())
	x = powUint(d.Gen, 1<<9)
	require.False(t, x.IsOne())

	// the largest two-adic subgroup exists
	top := NewDomain(field.TwoAdicity, field.One())
	x = powUint(top.Gen, 1<<field.TwoAdicity)
	require.True(t, x.IsOne())

	require.Panics(t, func() { NewDomain(field.TwoAdicity+1, field.One()) })
}

func TestFFTMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	d := NewDomain(4, field.One())
	coeffs := randFelts(rng, d.Size)

	evals := make([]field.Felt, d.Size)
	copy(evals, coeffs)
	d.CosetFFT(evals)

	for i := 0; i < d.Size; i++ {
		require.Equal(t, evalPoly(coeffs, d.Element(i)), evals[i], "point %d", i)
	}
}

func TestCosetFFTMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	d := NewDomain(4, field.NewFelt(mulGen))
	coeffs := randFelts(rng, d.Size)

	evals := make([]field.Felt, d.Size)
	copy(evals, coeffs)
	d.CosetFFT(evals)

	for i := 0; i < d.Size; i += 3 {
		require.Equal(t, evalPoly(coeffs, d.Element(i)), evals[i], "point %d", i)
	}
}

func TestFFTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for _, log := range []int{1, 3, 8} {
		for _, shift := range []field.Felt{field.One(), field.NewFelt(mulGen)} {
			d := NewDomain(log, shift)
			want := randFelts(rng, d.Size)
			got := make([]field.Felt, d.Size)
			copy(got, want)
			d.CosetFFT(got)
			d.CosetIFFT(got)
			require.Equal(t, want, got, "log=%d shift=%v", log, shift)
		}
	}
}

func TestExtend(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	src := NewDomain(3, field.One())
	dst := NewDomain(5, field.NewFelt(mulGen))
	values := randFelts(rng, src.Size)

	coeffs, evals := Extend(src, dst, values)
	require.Len(t, coeffs, src.Size)

	// extension agrees with direct evaluation
	for i := 0; i < dst.Size; i += 5 {
		require.Equal(t, evalPoly(coeffs, dst.Element(i)), evals[i])
	}

	// and restricts back to the source values
	check := make([]field.Felt, src.Size)
	copy(check, coeffs)
	src.CosetFFT(check)
	require.Equal(t, values, check)
}

func TestCosetIFFTExt(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	d := NewDomain(3, field.NewFelt(mulGen))

	coeffs := make([]field.Ext, d.Size)
	for i := range coeffs {
		coeffs[i] = field.ExtFromLimbs(
			field.NewFelt(rng.Uint64()), field.NewFelt(rng.Uint64()),
			field.NewFelt(rng.Uint64()), field.NewFelt(rng.Uint64()))
	}

	evals := make([]field.Ext, d.Size)
	for i := range evals {
		at := field.ExtFromFelt(d.Element(i))
		evals[i] = field.EvalPolyExt(coeffs, &at)
	}

	d.cosetIFFTExt(evals)
	require.Equal(t, coeffs, evals)
}

func TestVanishingInvEvals(t *testing.T) {
	n := 8
	ld := NewDomain(5, field.NewFelt(mulGen))
	invs := vanishingInvEvals(ld, n)
	require.Len(t, invs, ld.Size)

	nBig := big.NewInt(int64(n))
	one := field.One()
	for i := 0; i < ld.Size; i += 7 {
		x := ld.Element(i)
		var zh field.Felt
		zh.Exp(x, nBig)
		zh.Sub(&zh, &one)
		zh.Mul(&zh, &invs[i])
		require.True(t, zh.IsOne(), "point %d", i)
	}
}
