package stark

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/internal/parallel"
)

// The constraint fold. Every identity of the segment receives one power of
// gamma: each table's declared constraints in declaration order, then its
// lookup identities in schedule order. Row-domain selectors turn the
// folded numerator into a multiple of the trace domain's vanishing
// polynomial:
//
//	N(x) = Z_H(x)*Q(x)
//	N(x) = sum_All g^i c_i + (x - g_last) sum_Trans g^i c_i
//	     + Z_H(x)/(x-1) sum_First g^i c_i + Z_H(x)/(x-g_last) sum_Last g^i c_i
//
// where g_last is the last trace domain point. The prover evaluates Q over
// the LDE coset and commits it in MaxDegree-1 chunks; the verifier evaluates
// both sides at the out-of-domain point and compares.

// quotientChunks is the number of trace-degree chunks the quotient spans.
const quotientChunks = air.MaxDegree - 1

// foldAccumulator groups folded constraint values by row domain.
type foldAccumulator struct {
	gammaPow field.Ext
	gamma    field.Ext
	all      field.Ext
	first    field.Ext
	last     field.Ext
	trans    field.Ext
}

func newFoldAccumulator(gamma field.Ext) *foldAccumulator {
	return &foldAccumulator{gamma: gamma, gammaPow: field.ExtOne()}
}

func (a *foldAccumulator) add(v field.Ext, d air.Domain) {
	var t field.Ext
	t.Mul(&a.gammaPow, &v)
	switch d {
	case air.All:
		a.all.Add(&a.all, &t)
	case air.FirstRow:
		a.first.Add(&a.first, &t)
	case air.LastRow:
		a.last.Add(&a.last, &t)
	case air.Transition:
		a.trans.Add(&a.trans, &t)
	}
	a.gammaPow.Mul(&a.gammaPow, &a.gamma)
}

func (a *foldAccumulator) addBase(v field.Felt, d air.Domain) {
	a.add(field.ExtFromFelt(v), d)
}

// auxRowExts recombines the committed aux coordinates of one row into
// challenge field values.
func auxRowExts(row []field.Felt, dst []field.Ext) {
	for k := range dst {
		dst[k] = field.ExtFromLimbs(row[4*k], row[4*k+1], row[4*k+2], row[4*k+3])
	}
}

// proverQuotient evaluates the folded quotient over the LDE coset. pre, main
// and aux are the committed matrices of each table (nil entries where a
// table has none); claimed are the per-table lookup sums.
func proverQuotient(tables []Table, pre, main, aux []*commitment,
	publics []field.Felt, alpha, beta, gamma field.Ext, claimed []field.Ext,
	trace, lde *Domain) []field.Ext {

	n := trace.Size
	nextStep := lde.Size / n
	gLast := trace.GenInv

	// Precompute the per-row rational pieces: 1/Z_H, 1/(x-1), 1/(x-gLast)
	// and the transition factor (x-gLast).
	zhInv := vanishingInvEvals(lde, n)
	xs := make([]field.Felt, lde.Size)
	x := lde.Shift
	for r := range xs {
		xs[r] = x
		x.Mul(&x, &lde.Gen)
	}
	one := field.One()
	firstDen := make([]field.Felt, lde.Size)
	lastDen := make([]field.Felt, lde.Size)
	for r := range xs {
		firstDen[r].Sub(&xs[r], &one)
		lastDen[r].Sub(&xs[r], &gLast)
	}
	transFactor := append([]field.Felt(nil), lastDen...)
	firstDen = field.BatchInvert(firstDen)
	lastDen = field.BatchInvert(lastDen)

	out := make([]field.Ext, lde.Size)
	parallel.Execute(0, lde.Size, func(start, end int) {
		frame := &air.BaseFrame{Publics: publics}
		var auxCur, auxNext []field.Ext
		for r := start; r < end; r++ {
			rn := (r + nextStep) & (lde.Size - 1)
			acc := newFoldAccumulator(gamma)
			for i, tb := range tables {
				frame.Main = main[i].evals.Row(r)
				frame.MainNext = main[i].evals.Row(rn)
				if pre[i] != nil {
					frame.Pre = pre[i].evals.Row(r)
					frame.PreNext = pre[i].evals.Row(rn)
				} else {
					frame.Pre, frame.PreNext = nil, nil
				}
				for _, c := range tb.Builder.Constraints() {
					acc.addBase(c.E.EvalBase(frame), c.Domain)
				}
				if aux[i] != nil {
					cols := tb.Lookup.AuxCols()
					if cap(auxCur) < cols {
						auxCur = make([]field.Ext, cols)
						auxNext = make([]field.Ext, cols)
					}
					auxCur = auxCur[:cols]
					auxNext = auxNext[:cols]
					auxRowExts(aux[i].evals.Row(r), auxCur)
					auxRowExts(aux[i].evals.Row(rn), auxNext)
					fieldAt := func(e *air.Expr) field.Ext {
						return field.ExtFromFelt(e.EvalBase(frame))
					}
					for _, lc := range tb.Lookup.Eval(fieldAt, auxCur, auxNext, alpha, beta, claimed[i]) {
						acc.add(lc.Value, lc.Domain)
					}
				}
			}

			// Q = (all + (x-gLast)*trans)/Z_H + first/(x-1) + last/(x-gLast)
			var q, t field.Ext
			t = field.ExtScale(&acc.trans, transFactor[r])
			q.Add(&acc.all, &t)
			q = field.ExtScale(&q, zhInv[r])
			t = field.ExtScale(&acc.first, firstDen[r])
			q.Add(&q, &t)
			t = field.ExtScale(&acc.last, lastDen[r])
			q.Add(&q, &t)
			out[r] = q
		}
	})
	return out
}

// quotientMatrix interpolates the quotient evaluations and lays the chunk
// coordinate polynomials out as a trace-height matrix: column 4*j+k holds
// coordinate k of chunk j.
func quotientMatrix(q []field.Ext, trace, lde *Domain) *air.Matrix {
	coeffs := append([]field.Ext(nil), q...)
	lde.cosetIFFTExt(coeffs)

	n := trace.Size
	m := air.NewMatrix(4*quotientChunks, n)
	for j := 0; j < quotientChunks; j++ {
		chunk := coeffs[j*n : (j+1)*n]
		for k := 0; k < 4; k++ {
			col := make([]field.Felt, n)
			for i := range chunk {
				limbs := field.ExtLimbs(&chunk[i])
				col[i] = limbs[k]
			}
			trace.CosetFFT(col)
			for r := 0; r < n; r++ {
				m.Set(r, 4*j+k, col[r])
			}
		}
	}
	return m
}

// verifierNumerator folds every identity at the out-of-domain point and
// applies the selector algebra. frames and auxAt hold the opened values; the
// caller compares the result against Z_H(zeta) times the recombined
// committed quotient.
func verifierNumerator(tables []Table, frames []*air.Frame, auxAt, auxNextAt [][]field.Ext,
	alpha, beta, gamma field.Ext, claimed []field.Ext,
	zeta field.Ext, trace *Domain) (field.Ext, bool) {

	acc := newFoldAccumulator(gamma)
	for i, tb := range tables {
		frame := frames[i]
		for _, c := range tb.Builder.Constraints() {
			acc.add(c.E.Eval(frame), c.Domain)
		}
		if tb.Lookup.AuxCols() > 0 {
			fieldAt := func(e *air.Expr) field.Ext { return e.Eval(frame) }
			for _, lc := range tb.Lookup.Eval(fieldAt, auxAt[i], auxNextAt[i], alpha, beta, claimed[i]) {
				acc.add(lc.Value, lc.Domain)
			}
		}
	}

	n := uint64(trace.Size)
	gLast := trace.GenInv
	one := field.ExtOne()

	zh := field.ExtExpUint(zeta, n)
	zh.Sub(&zh, &one)
	var den1, denL field.Ext
	den1.Sub(&zeta, &one)
	gl := field.ExtFromFelt(gLast)
	denL.Sub(&zeta, &gl)
	if zh.IsZero() || den1.IsZero() || denL.IsZero() {
		return field.ExtZero(), false
	}
	den1.Inverse(&den1)
	denL.Inverse(&denL)

	// N(zeta) normalized by Z_H: all/Z_H keeps the committed-quotient side as
	// plain Q(zeta), so compute Q directly.
	var q, t field.Ext
	var zhInv field.Ext
	zhInv.Inverse(&zh)
	t.Sub(&zeta, &gl)
	t.Mul(&t, &acc.trans)
	q.Add(&acc.all, &t)
	q.Mul(&q, &zhInv)
	t.Mul(&acc.first, &den1)
	q.Add(&q, &t)
	t.Mul(&acc.last, &denL)
	q.Add(&q, &t)
	return q, true
}

// recombineQuotient reassembles Q(zeta) from the opened chunk coordinates.
func recombineQuotient(chunkCoords []field.Ext, zeta field.Ext, n int) field.Ext {
	zn := field.ExtExpUint(zeta, uint64(n))
	pow := field.ExtOne()
	var q field.Ext
	for j := 0; j < quotientChunks; j++ {
		var coords [4]field.Ext
		copy(coords[:], chunkCoords[4*j:4*j+4])
		v := field.ExtRecombine(coords)
		v.Mul(&v, &pow)
		q.Add(&q, &v)
		pow.Mul(&pow, &zn)
	}
	return q
}
