package stark

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/internal/parallel"
	"github.com/volta-zk/volta/logger"
)

// Witness is one segment's filled main traces, padded to the trace height,
// plus the segment's public values.
type Witness struct {
	Main    []*air.Matrix
	Publics []field.Felt
}

// Prove attests every segment of an execution at once. The lookup challenges
// are derived from all segments' main commitments, then each segment is
// proved independently under a transcript forked from the shared seed, so
// segment proofs can be produced in parallel yet verified against one
// another.
func Prove(pk *ProvingKey, tables []Table, segments []*Witness) (*Proof, error) {
	vk := pk.VK
	cfg := vk.Conf
	n := 1 << vk.LogHeight
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrProofGeneration)
	}
	for s, wit := range segments {
		if len(wit.Main) != len(tables) {
			return nil, fmt.Errorf("%w: segment %d has %d traces for %d tables", ErrProofGeneration, s, len(wit.Main), len(tables))
		}
		if len(wit.Publics) != vk.NbPublics {
			return nil, fmt.Errorf("%w: segment %d has %d public values, want %d", ErrProofGeneration, s, len(wit.Publics), vk.NbPublics)
		}
		for i, m := range wit.Main {
			if m.Width != tables[i].Builder.MainWidth() || m.Height != n {
				return nil, fmt.Errorf("%w: segment %d table %s trace is %dx%d, want %dx%d",
					ErrProofGeneration, s, tables[i].Name, m.Width, m.Height, tables[i].Builder.MainWidth(), n)
			}
		}
	}

	log := logger.Logger().With().Str("backend", "stark").Int("segments", len(segments)).Logger()
	trace := NewDomain(vk.LogHeight, field.One())
	lde := NewDomain(vk.LogHeight+cfg.LogBlowup, field.NewFelt(mulGen))

	// Commit every segment's main traces before any challenge is drawn.
	mains := make([][]*commitment, len(segments))
	for s, wit := range segments {
		mains[s] = make([]*commitment, len(tables))
		for i, m := range wit.Main {
			mains[s][i] = commitMatrix(cfg, trace, lde, m)
		}
	}
	log.Debug().Msg("main traces committed")

	gch := newGlobalChallenger(cfg.Hash.New())
	d := vk.Digest()
	gch.bind("alpha", d[:])
	var cnt [8]byte
	binary.BigEndian.PutUint64(cnt[:], uint64(len(segments)))
	gch.bind("alpha", cnt[:])
	for s, wit := range segments {
		gch.bindFelts("alpha", wit.Publics)
		for i := range tables {
			gch.bind("alpha", mains[s][i].tree.Root())
		}
	}
	alpha := gch.sampleExt("alpha")
	beta := gch.sampleExt("beta")
	seed := gch.sampleBytes("seed")
	if err := gch.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProofGeneration, err)
	}

	proof := &Proof{
		Version:  vk.Version,
		Registry: vk.Registry,
		Segments: make([]*SegmentProof, len(segments)),
	}
	var g errgroup.Group
	for s := range segments {
		g.Go(func() error {
			sp, err := proveSegment(pk, tables, trace, lde, s, segments[s], mains[s], alpha, beta, seed)
			if err != nil {
				return err
			}
			proof.Segments[s] = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug().Msg("all segments proved")
	return proof, nil
}

func proveSegment(pk *ProvingKey, tables []Table, trace, lde *Domain,
	segIdx int, wit *Witness, mains []*commitment, alpha, beta field.Ext, seed []byte) (*SegmentProof, error) {

	vk := pk.VK
	cfg := vk.Conf
	rounds := friRounds(cfg, vk.LogHeight)
	ch := newChallenger(cfg.Hash.New(), rounds, cfg.NbQueries)

	ch.bind("gamma", seed)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(segIdx))
	ch.bind("gamma", idx[:])
	ch.bindFelts("gamma", wit.Publics)
	for i := range tables {
		ch.bind("gamma", mains[i].tree.Root())
	}

	// Lookup auxiliary columns.
	auxs := make([]*commitment, len(tables))
	claimed := make([]field.Ext, len(tables))
	sp := &SegmentProof{
		MainRoots: make([][]byte, len(tables)),
		AuxRoots:  make([][]byte, len(tables)),
	}
	for i, tb := range tables {
		sp.MainRoots[i] = mains[i].tree.Root()
		if tb.Lookup.AuxCols() == 0 {
			continue
		}
		auxM, sum := tb.Lookup.FillAux(wit.Main[i], tb.Pre, wit.Publics, alpha, beta)
		auxs[i] = commitMatrix(cfg, trace, lde, auxM)
		claimed[i] = sum
		sp.AuxRoots[i] = auxs[i].tree.Root()
		ch.bind("gamma", sp.AuxRoots[i])
	}
	sp.Claimed = make([]byte, 0, len(tables)*field.ExtBytes)
	for i := range claimed {
		sp.Claimed = field.ExtMarshal(&claimed[i], sp.Claimed)
	}
	ch.bind("gamma", sp.Claimed)
	gamma := ch.sampleExt("gamma")

	// Quotient.
	qEvals := proverQuotient(tables, pk.pre, mains, auxs, wit.Publics, alpha, beta, gamma, claimed, trace, lde)
	qc := commitMatrix(cfg, trace, lde, quotientMatrix(qEvals, trace, lde))
	sp.QuotientRoot = qc.tree.Root()
	ch.bind("zeta", sp.QuotientRoot)
	zeta := ch.sampleExt("zeta")

	// Out-of-domain openings, canonical walk.
	var opens []field.Ext
	for i := range tables {
		if pk.pre[i] != nil {
			opens = pk.pre[i].openAll(zeta, trace.Gen, true, opens)
		}
		opens = mains[i].openAll(zeta, trace.Gen, true, opens)
		if auxs[i] != nil {
			opens = auxs[i].openAll(zeta, trace.Gen, true, opens)
		}
	}
	opens = qc.openAll(zeta, trace.Gen, false, opens)
	sp.Openings = make([]byte, 0, len(opens)*field.ExtBytes)
	for i := range opens {
		sp.Openings = field.ExtMarshal(&opens[i], sp.Openings)
	}
	ch.bind("deep", sp.Openings)
	lambda := ch.sampleExt("deep")

	// DEEP codeword and FRI.
	codeword := deepCodeword(tables, pk.pre, mains, auxs, qc, opens, zeta, trace.Gen, lambda, lde)
	fl, err := friFold(cfg, ch, lde, codeword)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %s", ErrProofGeneration, segIdx, err)
	}
	for _, t := range fl.trees {
		sp.FriRoots = append(sp.FriRoots, t.Root())
	}
	sp.FriFinal = make([]byte, 0, len(fl.final)*field.ExtBytes)
	for i := range fl.final {
		sp.FriFinal = field.ExtMarshal(&fl.final[i], sp.FriFinal)
	}

	seedPow := ch.sampleBytes("fri.pow")
	sp.PowNonce = grind(cfg.Hash.New, seedPow, cfg.PowBits)
	queries := sampleQueries(cfg, ch, sp.PowNonce, lde.Size)
	if err := ch.Err(); err != nil {
		return nil, fmt.Errorf("%w: segment %d: %s", ErrProofGeneration, segIdx, err)
	}

	// Open every committed tree at the query positions.
	baseIdx := pairIndices(queries, lde.Size)
	openAt := func(c *commitment) TreeOpening {
		leaves := make([][]byte, len(baseIdx))
		for k, r := range baseIdx {
			leaves[k] = marshalRow(c.evals.Row(r))
		}
		return TreeOpening{Leaves: leaves, Proof: *c.tree.Open(baseIdx)}
	}
	sp.PreQ = make([]TreeOpening, len(tables))
	sp.MainQ = make([]TreeOpening, len(tables))
	sp.AuxQ = make([]TreeOpening, len(tables))
	for i := range tables {
		if pk.pre[i] != nil {
			sp.PreQ[i] = openAt(pk.pre[i])
		}
		sp.MainQ[i] = openAt(mains[i])
		if auxs[i] != nil {
			sp.AuxQ[i] = openAt(auxs[i])
		}
	}
	sp.QuotientQ = openAt(qc)

	positions := queries
	size := lde.Size
	for l := 1; l < rounds; l++ {
		size /= 2
		folded := make([]int, len(positions))
		for k, p := range positions {
			folded[k] = p & (size - 1)
		}
		positions = folded
		li := pairIndices(positions, size)
		leaves := make([][]byte, len(li))
		for k, r := range li {
			leaves[k] = field.ExtMarshal(&fl.values[l][r], nil)
		}
		sp.LayerQ = append(sp.LayerQ, TreeOpening{Leaves: leaves, Proof: *fl.trees[l-1].Open(li)})
	}
	return sp, nil
}

// deepTerm is one (column, point) pair of the DEEP combination.
type deepTerm struct {
	m    *air.Matrix
	col  int
	v    field.Ext
	next bool
}

// deepTerms flattens the committed columns into the canonical DEEP walk,
// pairing each with its out-of-domain value from the openings blob.
func deepTerms(tables []Table, pre, mains, auxs []*commitment, qc *commitment, opens []field.Ext) []deepTerm {
	terms := make([]deepTerm, 0, len(opens))
	o := 0
	take := func(m *air.Matrix, next bool) {
		for col := 0; col < m.Width; col++ {
			terms = append(terms, deepTerm{m: m, col: col, v: opens[o], next: next})
			o++
		}
	}
	for i := range tables {
		if pre[i] != nil {
			take(pre[i].evals, false)
			take(pre[i].evals, true)
		}
		take(mains[i].evals, false)
		take(mains[i].evals, true)
		if auxs[i] != nil {
			take(auxs[i].evals, false)
			take(auxs[i].evals, true)
		}
	}
	take(qc.evals, false)
	return terms
}

// deepCodeword combines every committed column into one challenge field
// codeword over the LDE domain: sum_j lambda^j (f_j(x) - v_j)/(x - z_j),
// where z_j is zeta or g*zeta depending on the opening point.
func deepCodeword(tables []Table, pre, mains, auxs []*commitment, qc *commitment,
	opens []field.Ext, zeta field.Ext, gNext field.Felt, lambda field.Ext, lde *Domain) []field.Ext {

	terms := deepTerms(tables, pre, mains, auxs, qc, opens)
	pows := make([]field.Ext, len(terms))
	pows[0] = field.ExtOne()
	for j := 1; j < len(pows); j++ {
		pows[j].Mul(&pows[j-1], &lambda)
	}

	zetaNext := field.ExtScale(&zeta, gNext)
	invZ := make([]field.Ext, lde.Size)
	invZN := make([]field.Ext, lde.Size)
	x := lde.Shift
	for r := 0; r < lde.Size; r++ {
		xe := field.ExtFromFelt(x)
		invZ[r].Sub(&xe, &zeta)
		invZN[r].Sub(&xe, &zetaNext)
		x.Mul(&x, &lde.Gen)
	}
	invZ = field.BatchInvertExt(invZ)
	invZN = field.BatchInvertExt(invZN)

	out := make([]field.Ext, lde.Size)
	parallel.Execute(0, lde.Size, func(start, end int) {
		for r := start; r < end; r++ {
			var acc field.Ext
			for j := range terms {
				t := &terms[j]
				fv := field.ExtFromFelt(t.m.Get(r, t.col))
				fv.Sub(&fv, &t.v)
				if t.next {
					fv.Mul(&fv, &invZN[r])
				} else {
					fv.Mul(&fv, &invZ[r])
				}
				fv.Mul(&fv, &pows[j])
				acc.Add(&acc, &fv)
			}
			out[r] = acc
		}
	})
	return out
}
