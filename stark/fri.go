package stark

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/volta-zk/volta/field"
)

// Radix-2 FRI over the challenge field. Layer 0 is the DEEP codeword and is
// never committed: the verifier recomputes it at query positions from the
// base tree openings. Every subsequent layer halves the domain by
//
//	f'(x^2) = (f(x) + f(-x))/2 + beta*(f(x) - f(-x))/(2x)
//
// until the degree bound reaches the configured final degree, at which point
// the polynomial ships in clear.

// friRounds returns the number of folds for a trace of the given log size.
func friRounds(cfg Config, logHeight int) int {
	r := logHeight - bits.Len(uint(cfg.FinalDegree))
	if r < 0 {
		return 0
	}
	return r
}

// friLayers holds the prover-side fold state: the committed intermediate
// layers and the final polynomial.
type friLayers struct {
	rounds int
	// values[l] is layer l's codeword; values[0] aliases the DEEP codeword.
	// Layers 1..rounds-1 are committed, layer rounds becomes the final
	// polynomial.
	values [][]field.Ext
	trees  []*Tree // trees[l-1] commits values[l], l in 1..rounds-1
	final  []field.Ext
}

// friDomainShift returns the coset shift of fold layer l.
func friDomainShift(l int) field.Felt {
	s := field.NewFelt(mulGen)
	for i := 0; i < l; i++ {
		s.Square(&s)
	}
	return s
}

// friFold runs the commit phase: it samples the fold challenge for each
// layer, folds, and commits every intermediate layer. The caller must have
// bound everything the first challenge depends on.
func friFold(cfg Config, ch *challenger, lde *Domain, codeword []field.Ext) (*friLayers, error) {
	rounds := friRounds(cfg, lde.Log-cfg.LogBlowup)
	fl := &friLayers{rounds: rounds, values: make([][]field.Ext, rounds+1)}
	fl.values[0] = codeword

	cur := codeword
	shift := lde.Shift
	genInv := lde.GenInv
	for l := 0; l < rounds; l++ {
		if l > 0 {
			tree := extTree(cfg, cur)
			fl.trees = append(fl.trees, tree)
			ch.bind(friFoldName(l), tree.Root())
		}
		beta := ch.sampleExt(friFoldName(l))

		half := len(cur) / 2
		next := make([]field.Ext, half)
		// 1/(2x) walks the inverse powers of the layer generator.
		var invTwoX field.Felt
		invTwoX.Double(&shift)
		invTwoX.Inverse(&invTwoX)
		for i := 0; i < half; i++ {
			var sum, diff field.Ext
			sum.Add(&cur[i], &cur[i+half])
			diff.Sub(&cur[i], &cur[i+half])
			diff = field.ExtScale(&diff, invTwoX)
			diff.Mul(&diff, &beta)
			sum.Add(&sum, &diff)
			next[i] = field.ExtScale(&sum, halfFelt)
			invTwoX.Mul(&invTwoX, &genInv)
		}
		cur = next
		fl.values[l+1] = cur
		shift.Square(&shift)
		genInv.Square(&genInv)
	}

	// Interpolate the final layer and keep the in-bound coefficients. The
	// tail vanishes for an honest codeword; a dishonest one simply yields a
	// proof the verifier rejects, so the tail is dropped either way.
	finalLog := lde.Log - rounds
	fd := NewDomain(finalLog, shift)
	coeffs := append([]field.Ext(nil), cur...)
	fd.cosetIFFTExt(coeffs)
	nbFinal := 1 << (fd.Log - cfg.LogBlowup)
	if nbFinal < 1 {
		nbFinal = 1
	}
	fl.final = coeffs[:nbFinal]

	buf := make([]byte, 0, len(fl.final)*field.ExtBytes)
	for i := range fl.final {
		buf = field.ExtMarshal(&fl.final[i], buf)
	}
	ch.bind("fri.pow", buf)
	return fl, ch.Err()
}

// halfFelt is 1/2 in the base field.
var halfFelt = func() field.Felt {
	h := field.NewFelt(2)
	h.Inverse(&h)
	return h
}()

func friFoldName(l int) string { return fmt.Sprintf("fri.x.%d", l) }

// extTree commits a challenge field codeword, one value per leaf.
func extTree(cfg Config, values []field.Ext) *Tree {
	leaves := make([][]byte, len(values))
	for i := range values {
		leaves[i] = field.ExtMarshal(&values[i], nil)
	}
	return NewTree(cfg.Hash.New, leaves)
}

// sampleQueries derives the query positions after the grinding nonce is
// bound. Positions may repeat; deduplication happens at opening time.
func sampleQueries(cfg Config, ch *challenger, nonce uint64, domainSize int) []int {
	var nb [8]byte
	for i := 0; i < 8; i++ {
		nb[i] = byte(nonce >> (8 * (7 - i)))
	}
	ch.bind("fri.q.0", nb[:])
	qs := make([]int, cfg.NbQueries)
	for i := range qs {
		qs[i] = ch.sampleIndex(fmt.Sprintf("fri.q.%d", i), domainSize)
	}
	return qs
}

// pairIndices returns the sorted deduplicated set of query positions and
// their fold siblings within a domain of the given size.
func pairIndices(queries []int, size int) []int {
	half := size / 2
	seen := make(map[int]struct{}, 2*len(queries))
	for _, q := range queries {
		q &= size - 1
		seen[q] = struct{}{}
		seen[q^half] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// foldStep computes the next layer's value at the low pair position. pos is
// the current position, v its value, sib the value at pos^half; shift and
// gen describe the current layer's domain.
func foldStep(pos, size int, v, sib, beta field.Ext, shift, gen field.Felt) (int, field.Ext) {
	half := size / 2
	lo := pos & (half - 1)
	fLo, fHi := v, sib
	if pos >= half {
		fLo, fHi = sib, v
	}
	// x at the low position.
	x := shift
	g := powUint(gen, uint64(lo))
	x.Mul(&x, &g)
	var twoX field.Felt
	twoX.Double(&x)
	twoX.Inverse(&twoX)

	var sum, diff field.Ext
	sum.Add(&fLo, &fHi)
	diff.Sub(&fLo, &fHi)
	diff = field.ExtScale(&diff, twoX)
	diff.Mul(&diff, &beta)
	sum.Add(&sum, &diff)
	return lo, field.ExtScale(&sum, halfFelt)
}
