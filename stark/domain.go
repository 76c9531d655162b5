package stark

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/volta-zk/volta/field"
)

// mulGen generates the multiplicative group of the base field. Its odd order
// component keeps every coset it shifts disjoint from the two-adic
// subgroups, and mulGen^((p-1)/2^24) generates the largest of those.
const mulGen = 3

// Domain is a multiplicative coset s*<g> of power-of-two order used for
// polynomial evaluation. The trace lives on the unshifted subgroup; low
// degree extensions live on a coset shifted by the field generator so the
// vanishing polynomial of the trace domain is invertible everywhere.
type Domain struct {
	Log     int
	Size    int
	Gen     field.Felt
	GenInv  field.Felt
	Shift   field.Felt
	sizeInv field.Felt
	// stage roots: roots[s] has order 2^s, roots[Log] = Gen
	roots    []field.Felt
	rootsInv []field.Felt
}

// NewDomain returns the subgroup domain of size 2^log shifted by shift. Use
// field.One() for the canonical trace domain.
func NewDomain(log int, shift field.Felt) *Domain {
	if log < 1 || log > field.TwoAdicity {
		panic(fmt.Sprintf("stark: domain log size %d out of range [1,%d]", log, field.TwoAdicity))
	}
	d := &Domain{Log: log, Size: 1 << log, Shift: shift}

	g := field.NewFelt(mulGen)
	ord := new(big.Int).Sub(field.Modulus(), big.NewInt(1))
	ord.Rsh(ord, uint(log))
	d.Gen.Exp(g, ord)
	d.GenInv.Inverse(&d.Gen)
	d.sizeInv = field.NewFelt(uint64(d.Size))
	d.sizeInv.Inverse(&d.sizeInv)

	d.roots = make([]field.Felt, log+1)
	d.rootsInv = make([]field.Felt, log+1)
	d.roots[log] = d.Gen
	d.rootsInv[log] = d.GenInv
	for s := log - 1; s >= 0; s-- {
		d.roots[s].Square(&d.roots[s+1])
		d.rootsInv[s].Square(&d.rootsInv[s+1])
	}
	return d
}

// Element returns the domain point shift*gen^i.
func (d *Domain) Element(i int) field.Felt {
	e := d.Shift
	p := powUint(d.Gen, uint64(i&(d.Size-1)))
	e.Mul(&e, &p)
	return e
}

func powUint(x field.Felt, k uint64) field.Felt {
	return *new(field.Felt).Exp(x, new(big.Int).SetUint64(k))
}

func bitReverse[T any](a []T) {
	n := uint64(len(a))
	shift := 64 - uint64(bits.TrailingZeros64(n))
	for i := uint64(0); i < n; i++ {
		j := bits.Reverse64(i) >> shift
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
}

// fft transforms coefficients to evaluations over the unshifted subgroup,
// in place, natural order in and out.
func (d *Domain) fft(a []field.Felt) {
	if len(a) != d.Size {
		panic("stark: fft length mismatch")
	}
	bitReverse(a)
	var t, u field.Felt
	for s := 1; s <= d.Log; s++ {
		m := 1 << s
		half := m >> 1
		wm := d.roots[s]
		for k := 0; k < d.Size; k += m {
			w := field.One()
			for j := 0; j < half; j++ {
				t.Mul(&w, &a[k+j+half])
				u = a[k+j]
				a[k+j].Add(&u, &t)
				a[k+j+half].Sub(&u, &t)
				w.Mul(&w, &wm)
			}
		}
	}
}

// ifft transforms evaluations over the unshifted subgroup to coefficients.
func (d *Domain) ifft(a []field.Felt) {
	if len(a) != d.Size {
		panic("stark: ifft length mismatch")
	}
	bitReverse(a)
	var t, u field.Felt
	for s := 1; s <= d.Log; s++ {
		m := 1 << s
		half := m >> 1
		wm := d.rootsInv[s]
		for k := 0; k < d.Size; k += m {
			w := field.One()
			for j := 0; j < half; j++ {
				t.Mul(&w, &a[k+j+half])
				u = a[k+j]
				a[k+j].Add(&u, &t)
				a[k+j+half].Sub(&u, &t)
				w.Mul(&w, &wm)
			}
		}
	}
	for i := range a {
		a[i].Mul(&a[i], &d.sizeInv)
	}
}

// CosetFFT evaluates the coefficients a over the domain, accounting for the
// shift. In place, natural order.
func (d *Domain) CosetFFT(a []field.Felt) {
	if !d.Shift.IsOne() {
		scalePowers(a, d.Shift)
	}
	d.fft(a)
}

// CosetIFFT interpolates evaluations over the domain back to coefficients.
func (d *Domain) CosetIFFT(a []field.Felt) {
	d.ifft(a)
	if !d.Shift.IsOne() {
		var inv field.Felt
		inv.Inverse(&d.Shift)
		scalePowers(a, inv)
	}
}

func scalePowers(a []field.Felt, s field.Felt) {
	acc := field.One()
	for i := 1; i < len(a); i++ {
		acc.Mul(&acc, &s)
		a[i].Mul(&a[i], &acc)
	}
}

// Extend interpolates values over src and evaluates them over dst, returning
// the coefficients and the extended evaluations. Values is not modified.
func Extend(src, dst *Domain, values []field.Felt) (coeffs, evals []field.Felt) {
	coeffs = make([]field.Felt, src.Size)
	copy(coeffs, values)
	src.CosetIFFT(coeffs)

	evals = make([]field.Felt, dst.Size)
	copy(evals, coeffs)
	dst.CosetFFT(evals)
	return coeffs, evals
}

// cosetIFFTExt interpolates challenge field evaluations over the domain,
// used for the quotient and the FRI final polynomial.
func (d *Domain) cosetIFFTExt(a []field.Ext) {
	if len(a) != d.Size {
		panic("stark: ifft length mismatch")
	}
	bitReverse(a)
	var t, u field.Ext
	for s := 1; s <= d.Log; s++ {
		m := 1 << s
		half := m >> 1
		wm := d.rootsInv[s]
		for k := 0; k < d.Size; k += m {
			w := field.One()
			for j := 0; j < half; j++ {
				t = field.ExtScale(&a[k+j+half], w)
				u = a[k+j]
				a[k+j].Add(&u, &t)
				a[k+j+half].Sub(&u, &t)
				w.Mul(&w, &wm)
			}
		}
	}
	sizeInv := d.sizeInv
	if !d.Shift.IsOne() {
		var shiftInv field.Felt
		shiftInv.Inverse(&d.Shift)
		acc := field.One()
		for i := range a {
			scale := sizeInv
			scale.Mul(&scale, &acc)
			a[i] = field.ExtScale(&a[i], scale)
			acc.Mul(&acc, &shiftInv)
		}
		return
	}
	for i := range a {
		a[i] = field.ExtScale(&a[i], sizeInv)
	}
}

// vanishingEvals returns 1/(x^n - 1) for every point x of the extended
// domain, where n is the trace size. The values repeat with period
// blowup = ld.Size/n, so only that many inversions happen.
func vanishingInvEvals(ld *Domain, n int) []field.Felt {
	period := ld.Size / n
	vals := make([]field.Felt, period)
	// (s*g^j)^n = s^n * g^(j*n); g^n has order period.
	sn := powUint(ld.Shift, uint64(n))
	gn := powUint(ld.Gen, uint64(n))
	one := field.One()
	acc := sn
	for j := 0; j < period; j++ {
		vals[j].Sub(&acc, &one)
		acc.Mul(&acc, &gn)
	}
	vals = field.BatchInvert(vals)
	out := make([]field.Felt, ld.Size)
	for j := range out {
		out[j] = vals[j%period]
	}
	return out
}
