package field

import (
	"math/big"

	"github.com/consensys/gnark-crypto/field/koalabear"
	"github.com/consensys/gnark-crypto/field/koalabear/extensions"
)

// Ext is a challenge field element: the degree 4 extension of the base
// field, built as the tower E2 = F[u]/(u^2-3), E4 = E2[v]/(v^2-u).
type Ext = extensions.E4

// ExtBytes is the size of a marshalled Ext.
const ExtBytes = 4 * Bytes

// ExtZero returns the additive identity of the challenge field.
func ExtZero() Ext {
	var z Ext
	return z
}

// ExtOne returns the multiplicative identity of the challenge field.
func ExtOne() Ext {
	var o Ext
	o.SetOne()
	return o
}

// ExtFromFelt embeds a base field element into the challenge field.
func ExtFromFelt(a Felt) Ext {
	var e Ext
	e.B0.A0 = a
	return e
}

// ExtFromLimbs builds a challenge field element from its four base field
// coordinates, ordered B0.A0, B0.A1, B1.A0, B1.A1.
func ExtFromLimbs(a0, a1, a2, a3 Felt) Ext {
	var e Ext
	e.B0.A0 = a0
	e.B0.A1 = a1
	e.B1.A0 = a2
	e.B1.A1 = a3
	return e
}

// ExtLimbs returns the four base field coordinates of e, ordered
// B0.A0, B0.A1, B1.A0, B1.A1.
func ExtLimbs(e *Ext) [4]Felt {
	return [4]Felt{e.B0.A0, e.B0.A1, e.B1.A0, e.B1.A1}
}

// ExtMarshal appends the canonical big-endian encoding of e to buf.
func ExtMarshal(e *Ext, buf []byte) []byte {
	for _, l := range ExtLimbs(e) {
		b := l.Bytes()
		buf = append(buf, b[:]...)
	}
	return buf
}

// ExtUnmarshal reads a challenge field element from the first ExtBytes of
// buf, as written by ExtMarshal.
func ExtUnmarshal(buf []byte) Ext {
	var limbs [4]Felt
	for i := range limbs {
		limbs[i].SetBytes(buf[i*Bytes : (i+1)*Bytes])
	}
	return ExtFromLimbs(limbs[0], limbs[1], limbs[2], limbs[3])
}

// ExtExp sets z to x^k and returns z. The zero exponent yields one.
func ExtExp(x Ext, k *big.Int) Ext {
	z := ExtOne()
	if k.Sign() == 0 {
		return z
	}
	for i := k.BitLen() - 1; i >= 0; i-- {
		z.Mul(&z, &z)
		if k.Bit(i) == 1 {
			z.Mul(&z, &x)
		}
	}
	return z
}

// BatchInvertExt inverts the elements of in using a single inversion in the
// challenge field. Zero entries stay zero.
func BatchInvertExt(in []Ext) []Ext {
	res := make([]Ext, len(in))
	if len(in) == 0 {
		return res
	}

	zeroes := make([]bool, len(in))
	acc := ExtOne()
	for i := range in {
		if in[i].IsZero() {
			zeroes[i] = true
			continue
		}
		res[i] = acc
		acc.Mul(&acc, &in[i])
	}

	acc.Inverse(&acc)

	for i := len(in) - 1; i >= 0; i-- {
		if zeroes[i] {
			continue
		}
		res[i].Mul(&res[i], &acc)
		acc.Mul(&acc, &in[i])
	}

	return res
}

// ExtScale multiplies e by a base field scalar. Scalar multiplication acts
// coordinate-wise on the tower basis.
func ExtScale(e *Ext, s Felt) Ext {
	var r Ext
	r.B0.A0.Mul(&e.B0.A0, &s)
	r.B0.A1.Mul(&e.B0.A1, &s)
	r.B1.A0.Mul(&e.B1.A0, &s)
	r.B1.A1.Mul(&e.B1.A1, &s)
	return r
}

// ExtBasis returns the tower basis (1, u, v, uv) of the challenge field over
// the base field, matching the coordinate order of ExtLimbs.
func ExtBasis() [4]Ext {
	one := One()
	return [4]Ext{
		ExtFromLimbs(one, Zero(), Zero(), Zero()),
		ExtFromLimbs(Zero(), one, Zero(), Zero()),
		ExtFromLimbs(Zero(), Zero(), one, Zero()),
		ExtFromLimbs(Zero(), Zero(), Zero(), one),
	}
}

// ExtRecombine rebuilds a challenge field element from four challenge field
// coordinates: sum_k c[k] * basis_k. The prover commits a challenge field
// column as four base columns; evaluating those column polynomials at an
// out-of-domain point yields coordinates in the challenge field, and this
// recombination is the original column evaluated at that point.
func ExtRecombine(c [4]Ext) Ext {
	basis := ExtBasis()
	var acc, t Ext
	for k := 0; k < 4; k++ {
		t.Mul(&c[k], &basis[k])
		acc.Add(&acc, &t)
	}
	return acc
}

// EvalPolyExt evaluates the polynomial with coefficients p (low degree
// first) at the given point.
func EvalPolyExt(p []Ext, at *Ext) Ext {
	var res Ext
	for i := len(p) - 1; i >= 0; i-- {
		res.Mul(&res, at)
		res.Add(&res, &p[i])
	}
	return res
}

// ExtExpUint sets z to x^k for a machine word exponent.
func ExtExpUint(x Ext, k uint64) Ext {
	return ExtExp(x, new(big.Int).SetUint64(k))
}

// ExtFromUint64 returns v embedded in the challenge field.
func ExtFromUint64(v uint64) Ext {
	return ExtFromFelt(koalabear.NewElement(v))
}
