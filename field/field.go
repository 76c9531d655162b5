// Package field fixes the prime field the proving stack works over.
//
// Execution traces are committed over KoalaBear, p = 2^31 - 2^24 + 1. A
// 31-bit field keeps trace cells in single machine words, and p-1 = 2^24*127
// leaves enough two-adicity for the low degree extensions of every trace the
// executor can emit. Verifier randomness (constraint combination, lookup
// fingerprints, FRI folding, DEEP sampling) lives in a degree 4 extension of
// the base field so that soundness error stays negligible.
package field

import (
	"math/big"

	"github.com/consensys/gnark-crypto/field/koalabear"
)

// Felt is a base field element.
type Felt = koalabear.Element

const (
	// Bytes is the size of a marshalled Felt.
	Bytes = 4

	// Bits is the size of the field modulus.
	Bits = 31

	// TwoAdicity is the largest k such that 2^k divides p-1. Trace domains
	// and their low degree extensions must fit under it.
	TwoAdicity = 24
)

// Modulus returns p as a big.Int.
func Modulus() *big.Int {
	return koalabear.Modulus()
}

// NewFelt returns v mod p.
func NewFelt(v uint64) Felt {
	return koalabear.NewElement(v)
}

// Zero returns the additive identity.
func Zero() Felt {
	var z Felt
	return z
}

// One returns the multiplicative identity.
func One() Felt {
	var o Felt
	o.SetOne()
	return o
}

// BatchInvert inverts the elements of in using a single field inversion.
// Zero entries stay zero.
func BatchInvert(in []Felt) []Felt {
	return koalabear.BatchInvert(in)
}

// FeltUint64 returns the canonical integer representative of a.
func FeltUint64(a *Felt) uint64 {
	var b big.Int
	a.BigInt(&b)
	return b.Uint64()
}

// FromBytes reduces a big-endian byte string into a Felt.
func FromBytes(buf []byte) Felt {
	var f Felt
	f.SetBytes(buf)
	return f
}
