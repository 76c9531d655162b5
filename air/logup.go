package air

import (
	"github.com/volta-zk/volta/field"
)

// The lookup argument turns every interaction into a term of a logarithmic
// derivative sum: a send of message f with multiplicity m contributes
// m/(alpha + fingerprint(f)), a receive contributes the negation. Terms are
// grouped into batches sharing one committed auxiliary column, and a running
// sum column accumulates the batch values row by row. The last row of the
// running sum is the chip's claimed sum; the claimed sums of all chips
// across all segments of an execution cancel to zero exactly when every
// message sent on a bus is received on it.

// LookupSchedule fixes how a chip's interactions are batched into auxiliary
// columns. The batching is a pure function of the interaction degrees, so
// prover and verifier derive the same schedule from the chip alone.
type LookupSchedule struct {
	ints    []Interaction
	batches [][]int
}

// LookupConstraint is one evaluated identity of the lookup argument.
type LookupConstraint struct {
	Value  field.Ext
	Domain Domain
}

// NewLookupSchedule batches interactions greedily in declaration order. A
// batch is admissible when the batched product identity stays under the
// constraint degree bound: the auxiliary column (degree 1) times all
// fingerprints, and each multiplicity times the other fingerprints, must not
// exceed MaxDegree. Every interaction fits alone, so placement never fails.
func NewLookupSchedule(ints []Interaction) *LookupSchedule {
	s := &LookupSchedule{ints: ints}

	fingDeg := make([]int, len(ints))
	multDeg := make([]int, len(ints))
	for i, in := range ints {
		for _, f := range in.Fields {
			if d := f.Degree(); d > fingDeg[i] {
				fingDeg[i] = d
			}
		}
		multDeg[i] = in.Mult.Degree()
	}

	fits := func(batch []int, i int) bool {
		sum := fingDeg[i]
		for _, j := range batch {
			sum += fingDeg[j]
		}
		if 1+sum > MaxDegree {
			return false
		}
		if multDeg[i]+sum-fingDeg[i] > MaxDegree {
			return false
		}
		for _, j := range batch {
			if multDeg[j]+sum-fingDeg[j] > MaxDegree {
				return false
			}
		}
		return true
	}

	for i := range ints {
		placed := false
		for b := range s.batches {
			if fits(s.batches[b], i) {
				s.batches[b] = append(s.batches[b], i)
				placed = true
				break
			}
		}
		if !placed {
			s.batches = append(s.batches, []int{i})
		}
	}
	return s
}

// NbBatches returns the number of auxiliary batch columns.
func (s *LookupSchedule) NbBatches() int { return len(s.batches) }

// Batches returns the interaction indices of each batch.
func (s *LookupSchedule) Batches() [][]int { return s.batches }

// AuxCols returns the number of challenge field auxiliary columns: one per
// batch plus the running sum. Zero when the chip has no interactions.
func (s *LookupSchedule) AuxCols() int {
	if len(s.ints) == 0 {
		return 0
	}
	return len(s.batches) + 1
}

// AuxWidth returns the committed base column count of the auxiliary trace.
func (s *LookupSchedule) AuxWidth() int { return 4 * s.AuxCols() }

// NbConstraints returns how many identities Eval produces.
func (s *LookupSchedule) NbConstraints() int {
	if len(s.ints) == 0 {
		return 0
	}
	return len(s.batches) + 3
}

// betaPowers returns (1, beta, beta^2, ...) long enough for the widest
// message plus the bus tag slot.
func (s *LookupSchedule) betaPowers(beta field.Ext) []field.Ext {
	max := 0
	for _, in := range s.ints {
		if len(in.Fields) > max {
			max = len(in.Fields)
		}
	}
	pows := make([]field.Ext, max+1)
	pows[0] = field.ExtOne()
	for k := 1; k <= max; k++ {
		pows[k].Mul(&pows[k-1], &beta)
	}
	return pows
}

// FillAux builds the auxiliary trace for one chip over the full trace
// height. main and pre must already be padded to the same height; publics
// feed interaction expressions that bind public values. It returns the
// committed base matrix (4 columns per auxiliary column) and the claimed
// sum, the running sum on the last row.
func (s *LookupSchedule) FillAux(main, pre *Matrix, publics []field.Felt, alpha, beta field.Ext) (*Matrix, field.Ext) {
	if len(s.ints) == 0 {
		return nil, field.ExtZero()
	}
	n := main.Height
	pows := s.betaPowers(beta)

	// Fingerprint denominators for every (interaction, row), then one
	// batched inversion across the whole trace.
	dens := make([]field.Ext, len(s.ints)*n)
	mults := make([]field.Felt, len(s.ints)*n)
	f := &BaseFrame{Publics: publics}
	for r := 0; r < n; r++ {
		rn := (r + 1) % n
		f.Main = main.Row(r)
		f.MainNext = main.Row(rn)
		if pre != nil {
			f.Pre = pre.Row(r)
			f.PreNext = pre.Row(rn)
		}
		for i, in := range s.ints {
			d := alpha
			tagExt := field.ExtFromUint64(uint64(in.Bus))
			d.Add(&d, &tagExt)
			for k, fe := range in.Fields {
				v := fe.EvalBase(f)
				t := field.ExtScale(&pows[k+1], v)
				d.Add(&d, &t)
			}
			dens[i*n+r] = d
			mults[i*n+r] = in.Mult.EvalBase(f)
		}
	}
	invs := field.BatchInvertExt(dens)

	aux := NewMatrix(s.AuxWidth(), n)
	sumCol := 4 * len(s.batches)
	var running field.Ext
	for r := 0; r < n; r++ {
		var rowSum field.Ext
		for b, batch := range s.batches {
			var a field.Ext
			for _, i := range batch {
				t := field.ExtScale(&invs[i*n+r], mults[i*n+r])
				if s.ints[i].IsSend {
					a.Add(&a, &t)
				} else {
					a.Sub(&a, &t)
				}
			}
			writeExt(aux, r, 4*b, a)
			rowSum.Add(&rowSum, &a)
		}
		running.Add(&running, &rowSum)
		writeExt(aux, r, sumCol, running)
	}
	return aux, running
}

func writeExt(m *Matrix, row, col int, v field.Ext) {
	for k, l := range field.ExtLimbs(&v) {
		m.Set(row, col+k, l)
	}
}

// Eval computes the lookup identities at one point. fieldAt evaluates
// payload and multiplicity expressions there; aux and auxNext hold the
// recombined auxiliary column values on the current and next row. The
// identity order is fixed: one product identity per batch on all rows, then
// the running sum boundary and transition identities, then the claimed sum
// binding on the last row. All identities vanish on an honest trace.
func (s *LookupSchedule) Eval(fieldAt func(*Expr) field.Ext, aux, auxNext []field.Ext, alpha, beta, claimed field.Ext) []LookupConstraint {
	if len(s.ints) == 0 {
		return nil
	}
	pows := s.betaPowers(beta)

	dens := make([]field.Ext, len(s.ints))
	for i, in := range s.ints {
		d := alpha
		tagExt := field.ExtFromUint64(uint64(in.Bus))
		d.Add(&d, &tagExt)
		for k, fe := range in.Fields {
			v := fieldAt(fe)
			var t field.Ext
			t.Mul(&pows[k+1], &v)
			d.Add(&d, &t)
		}
		dens[i] = d
	}

	out := make([]LookupConstraint, 0, s.NbConstraints())
	for b, batch := range s.batches {
		// aux_b * prod(dens) - sum_i sign_i * mult_i * prod_{j != i}(dens)
		prod := field.ExtOne()
		for _, i := range batch {
			prod.Mul(&prod, &dens[i])
		}
		var v field.Ext
		v.Mul(&aux[b], &prod)
		for _, i := range batch {
			term := fieldAt(s.ints[i].Mult)
			for _, j := range batch {
				if j != i {
					term.Mul(&term, &dens[j])
				}
			}
			if s.ints[i].IsSend {
				v.Sub(&v, &term)
			} else {
				v.Add(&v, &term)
			}
		}
		out = append(out, LookupConstraint{Value: v, Domain: All})
	}

	sumIdx := len(s.batches)
	var rowSum, rowSumNext field.Ext
	for b := range s.batches {
		rowSum.Add(&rowSum, &aux[b])
		rowSumNext.Add(&rowSumNext, &auxNext[b])
	}

	// S = rowSum on the first row.
	var first field.Ext
	first.Sub(&aux[sumIdx], &rowSum)
	out = append(out, LookupConstraint{Value: first, Domain: FirstRow})

	// S' = S + rowSum' on transitions.
	var trans field.Ext
	trans.Sub(&auxNext[sumIdx], &aux[sumIdx])
	trans.Sub(&trans, &rowSumNext)
	out = append(out, LookupConstraint{Value: trans, Domain: Transition})

	// S = claimed on the last row.
	var last field.Ext
	last.Sub(&aux[sumIdx], &claimed)
	out = append(out, LookupConstraint{Value: last, Domain: LastRow})

	return out
}
