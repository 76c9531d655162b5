package stark

import (
	"encoding/binary"
	"fmt"
	"hash"

	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"

	"github.com/volta-zk/volta/field"
)

// challenger drives the Fiat-Shamir transcript. The challenge schedule is
// fixed up front from the configuration; prover and verifier bind the same
// data in the same order or their challenges diverge. Errors from the
// underlying transcript are misuse, so they stick and surface once at the
// end of the phase.
type challenger struct {
	fs  *fiatshamir.Transcript
	err error
}

func challengeNames(rounds, queries int) []string {
	names := []string{"gamma", "zeta", "deep"}
	for i := 0; i < rounds; i++ {
		names = append(names, fmt.Sprintf("fri.x.%d", i))
	}
	names = append(names, "fri.pow")
	for i := 0; i < queries; i++ {
		names = append(names, fmt.Sprintf("fri.q.%d", i))
	}
	return names
}

func newChallenger(h hash.Hash, rounds, queries int) *challenger {
	return &challenger{fs: fiatshamir.NewTranscript(h, challengeNames(rounds, queries)...)}
}

// newGlobalChallenger drives the execution-wide phase: the lookup challenges
// and the per-segment transcript seed, derived after every segment's main
// commitments are known. Sharing alpha and beta across segments is what lets
// the memory multiset of one segment cancel against another's.
func newGlobalChallenger(h hash.Hash) *challenger {
	return &challenger{fs: fiatshamir.NewTranscript(h, "alpha", "beta", "seed")}
}

// bind absorbs data into the pending challenge.
func (c *challenger) bind(name string, data []byte) {
	if c.err != nil {
		return
	}
	c.err = c.fs.Bind(name, data)
}

func (c *challenger) bindFelts(name string, vals []field.Felt) {
	buf := make([]byte, 0, len(vals)*field.Bytes)
	for i := range vals {
		b := vals[i].Bytes()
		buf = append(buf, b[:]...)
	}
	c.bind(name, buf)
}

func (c *challenger) bindExts(name string, vals []field.Ext) {
	buf := make([]byte, 0, len(vals)*field.ExtBytes)
	for i := range vals {
		buf = field.ExtMarshal(&vals[i], buf)
	}
	c.bind(name, buf)
}

// sampleExt derives a challenge field element: four base limbs, each
// reduced from eight big-endian digest bytes, so the sampling bias per limb
// is below 2^-33.
func (c *challenger) sampleExt(name string) field.Ext {
	if c.err != nil {
		return field.ExtZero()
	}
	b, err := c.fs.ComputeChallenge(name)
	if err != nil {
		c.err = err
		return field.ExtZero()
	}
	if len(b) < 32 {
		c.err = fmt.Errorf("stark: challenge %s digest too short", name)
		return field.ExtZero()
	}
	var limbs [4]field.Felt
	for k := 0; k < 4; k++ {
		limbs[k].SetBytes(b[8*k : 8*k+8])
	}
	return field.ExtFromLimbs(limbs[0], limbs[1], limbs[2], limbs[3])
}

// sampleIndex derives a query position below bound.
func (c *challenger) sampleIndex(name string, bound int) int {
	if c.err != nil {
		return 0
	}
	b, err := c.fs.ComputeChallenge(name)
	if err != nil {
		c.err = err
		return 0
	}
	return int(binary.BigEndian.Uint64(b[:8]) % uint64(bound))
}

// sampleBytes derives a raw challenge, used to seed the grinding check.
func (c *challenger) sampleBytes(name string) []byte {
	if c.err != nil {
		return nil
	}
	b, err := c.fs.ComputeChallenge(name)
	if err != nil {
		c.err = err
		return nil
	}
	return b
}

func (c *challenger) Err() error { return c.err }

// powDigest hashes the grinding seed with a nonce.
func powDigest(h hash.Hash, seed []byte, nonce uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Reset()
	h.Write(seed)
	h.Write(buf[:])
	return h.Sum(nil)
}

// powValid reports whether the digest clears the difficulty.
func powValid(digest []byte, bits int) bool {
	for bits >= 8 {
		if digest[0] != 0 {
			return false
		}
		digest = digest[1:]
		bits -= 8
	}
	if bits == 0 {
		return true
	}
	return digest[0]>>(8-bits) == 0
}

// grind searches the nonce clearing PowBits leading zero bits. With the
// configured difficulties this terminates quickly; difficulty is capped at
// 32 bits by config validation.
func grind(hashNew func() hash.Hash, seed []byte, bits int) uint64 {
	if bits == 0 {
		return 0
	}
	h := hashNew()
	for nonce := uint64(0); ; nonce++ {
		if powValid(powDigest(h, seed, nonce), bits) {
			return nonce
		}
	}
}
