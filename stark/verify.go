package stark

import (
	"encoding/binary"
	"fmt"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
)

// Verify checks a multi-segment proof against the verifier key and the
// per-segment public values. It returns nil only when every segment's
// commitments, out-of-domain consistency check, low-degree test and query
// openings pass, and the claimed lookup sums of all segments cancel to zero.
//
// Structural damage (wrong lengths, mismatched version or registry) surfaces
// as ErrProofMalformed; a well-formed proof that fails a cryptographic check
// surfaces as ErrInvalidProof.
func Verify(vk *VerifierKey, tables []Table, proof *Proof, publics [][]field.Felt) error {
	cfg := vk.Conf
	if err := cfg.validate(); err != nil {
		return err
	}
	if proof.Version != vk.Version {
		return fmt.Errorf("%w: proof version %q, key version %q", ErrProofMalformed, proof.Version, vk.Version)
	}
	if proof.Registry != vk.Registry {
		return fmt.Errorf("%w: registry digest mismatch", ErrProofMalformed)
	}
	if len(tables) != len(vk.Chips) {
		return fmt.Errorf("%w: %d tables for a key with %d chips", ErrProofMalformed, len(tables), len(vk.Chips))
	}
	if len(proof.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrProofMalformed)
	}
	if len(publics) != len(proof.Segments) {
		return fmt.Errorf("%w: %d public value sets for %d segments", ErrProofMalformed, len(publics), len(proof.Segments))
	}
	for s, pv := range publics {
		if len(pv) != vk.NbPublics {
			return fmt.Errorf("%w: segment %d has %d public values, want %d", ErrProofMalformed, s, len(pv), vk.NbPublics)
		}
	}
	for s, sp := range proof.Segments {
		if err := checkSegmentShape(vk, tables, sp); err != nil {
			return fmt.Errorf("segment %d: %w", s, err)
		}
	}

	trace := NewDomain(vk.LogHeight, field.One())
	lde := NewDomain(vk.LogHeight+cfg.LogBlowup, field.NewFelt(mulGen))

	// Replay the execution-wide phase.
	gch := newGlobalChallenger(cfg.Hash.New())
	d := vk.Digest()
	gch.bind("alpha", d[:])
	var cnt [8]byte
	binary.BigEndian.PutUint64(cnt[:], uint64(len(proof.Segments)))
	gch.bind("alpha", cnt[:])
	for s, sp := range proof.Segments {
		gch.bindFelts("alpha", publics[s])
		for i := range tables {
			gch.bind("alpha", sp.MainRoots[i])
		}
	}
	alpha := gch.sampleExt("alpha")
	beta := gch.sampleExt("beta")
	seed := gch.sampleBytes("seed")
	if err := gch.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProof, err)
	}

	var lookupSum field.Ext
	for s, sp := range proof.Segments {
		if err := verifySegment(vk, tables, trace, lde, s, publics[s], sp, alpha, beta, seed); err != nil {
			return fmt.Errorf("segment %d: %w", s, err)
		}
		v := sp.LookupSum()
		lookupSum.Add(&lookupSum, &v)
	}
	if !lookupSum.IsZero() {
		return fmt.Errorf("%w: lookup sums do not cancel across segments", ErrInvalidProof)
	}
	return nil
}

// openingsLen returns the length of the canonical out-of-domain opening walk.
func openingsLen(tables []Table) int {
	n := 4 * quotientChunks
	for _, tb := range tables {
		n += 2 * tb.Builder.PreWidth()
		n += 2 * tb.Builder.MainWidth()
		n += 2 * tb.Lookup.AuxWidth()
	}
	return n
}

func checkSegmentShape(vk *VerifierKey, tables []Table, sp *SegmentProof) error {
	hashLen := len(vk.Conf.Hash.New().Sum(nil))
	if len(sp.MainRoots) != len(tables) || len(sp.AuxRoots) != len(tables) {
		return fmt.Errorf("%w: commitment count mismatch", ErrProofMalformed)
	}
	if len(sp.PreQ) != len(tables) || len(sp.MainQ) != len(tables) || len(sp.AuxQ) != len(tables) {
		return fmt.Errorf("%w: query opening count mismatch", ErrProofMalformed)
	}
	if len(sp.Claimed) != len(tables)*field.ExtBytes {
		return fmt.Errorf("%w: claimed sums blob has %d bytes", ErrProofMalformed, len(sp.Claimed))
	}
	if len(sp.Openings) != openingsLen(tables)*field.ExtBytes {
		return fmt.Errorf("%w: openings blob has %d bytes", ErrProofMalformed, len(sp.Openings))
	}
	for i, tb := range tables {
		if len(sp.MainRoots[i]) != hashLen {
			return fmt.Errorf("%w: table %s main root", ErrProofMalformed, tb.Name)
		}
		hasAux := tb.Lookup.AuxCols() > 0
		if hasAux != (len(sp.AuxRoots[i]) == hashLen) {
			return fmt.Errorf("%w: table %s aux root", ErrProofMalformed, tb.Name)
		}
		if !hasAux {
			if sum := sp.claimedSum(i); !sum.IsZero() {
				return fmt.Errorf("%w: table %s claims a lookup sum without interactions", ErrProofMalformed, tb.Name)
			}
		}
	}
	if len(sp.QuotientRoot) != hashLen {
		return fmt.Errorf("%w: quotient root", ErrProofMalformed)
	}
	rounds := friRounds(vk.Conf, vk.LogHeight)
	nbTrees := rounds - 1
	if nbTrees < 0 {
		nbTrees = 0
	}
	if len(sp.FriRoots) != nbTrees || len(sp.LayerQ) != nbTrees {
		return fmt.Errorf("%w: fold layer count mismatch", ErrProofMalformed)
	}
	finalLog := vk.LogHeight + vk.Conf.LogBlowup - rounds
	nbFinal := 1 << (finalLog - vk.Conf.LogBlowup)
	if nbFinal < 1 {
		nbFinal = 1
	}
	if len(sp.FriFinal) != nbFinal*field.ExtBytes {
		return fmt.Errorf("%w: final polynomial has %d bytes", ErrProofMalformed, len(sp.FriFinal))
	}
	return nil
}

func verifySegment(vk *VerifierKey, tables []Table, trace, lde *Domain,
	segIdx int, publics []field.Felt, sp *SegmentProof, alpha, beta field.Ext, seed []byte) error {

	cfg := vk.Conf
	rounds := friRounds(cfg, vk.LogHeight)
	ch := newChallenger(cfg.Hash.New(), rounds, cfg.NbQueries)

	ch.bind("gamma", seed)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(segIdx))
	ch.bind("gamma", idx[:])
	ch.bindFelts("gamma", publics)
	for i := range tables {
		ch.bind("gamma", sp.MainRoots[i])
	}
	for i, tb := range tables {
		if tb.Lookup.AuxCols() > 0 {
			ch.bind("gamma", sp.AuxRoots[i])
		}
	}
	ch.bind("gamma", sp.Claimed)
	gamma := ch.sampleExt("gamma")

	ch.bind("zeta", sp.QuotientRoot)
	zeta := ch.sampleExt("zeta")

	ch.bind("deep", sp.Openings)
	lambda := ch.sampleExt("deep")

	// Parse the opening walk and run the out-of-domain consistency check.
	claimed := make([]field.Ext, len(tables))
	for i := range tables {
		claimed[i] = sp.claimedSum(i)
	}
	pubExt := make([]field.Ext, len(publics))
	for i := range publics {
		pubExt[i] = field.ExtFromFelt(publics[i])
	}

	o := 0
	next := func() field.Ext {
		v := sp.openingAt(o)
		o++
		return v
	}
	block := func(w int) []field.Ext {
		vs := make([]field.Ext, w)
		for k := range vs {
			vs[k] = next()
		}
		return vs
	}
	recombine := func(coords []field.Ext) []field.Ext {
		out := make([]field.Ext, len(coords)/4)
		for k := range out {
			var c [4]field.Ext
			copy(c[:], coords[4*k:4*k+4])
			out[k] = field.ExtRecombine(c)
		}
		return out
	}

	frames := make([]*air.Frame, len(tables))
	auxAt := make([][]field.Ext, len(tables))
	auxNextAt := make([][]field.Ext, len(tables))
	for i, tb := range tables {
		f := &air.Frame{Publics: pubExt}
		if w := tb.Builder.PreWidth(); w > 0 {
			f.Pre = block(w)
			f.PreNext = block(w)
		}
		w := tb.Builder.MainWidth()
		f.Main = block(w)
		f.MainNext = block(w)
		if aw := tb.Lookup.AuxWidth(); aw > 0 {
			auxAt[i] = recombine(block(aw))
			auxNextAt[i] = recombine(block(aw))
		}
		frames[i] = f
	}
	chunkCoords := block(4 * quotientChunks)

	lhs, ok := verifierNumerator(tables, frames, auxAt, auxNextAt, alpha, beta, gamma, claimed, zeta, trace)
	if !ok {
		return fmt.Errorf("%w: degenerate out-of-domain point", ErrInvalidProof)
	}
	rhs := recombineQuotient(chunkCoords, zeta, trace.Size)
	if !lhs.Equal(&rhs) {
		return fmt.Errorf("%w: out-of-domain quotient check failed", ErrInvalidProof)
	}

	// Replay the fold challenges, the grinding check and the query positions.
	betas := make([]field.Ext, rounds)
	for l := 0; l < rounds; l++ {
		if l > 0 {
			ch.bind(friFoldName(l), sp.FriRoots[l-1])
		}
		betas[l] = ch.sampleExt(friFoldName(l))
	}
	ch.bind("fri.pow", sp.FriFinal)
	seedPow := ch.sampleBytes("fri.pow")
	if !powValid(powDigest(cfg.Hash.New(), seedPow, sp.PowNonce), cfg.PowBits) {
		return fmt.Errorf("%w: grinding check failed", ErrInvalidProof)
	}
	queries := sampleQueries(cfg, ch, sp.PowNonce, lde.Size)
	if err := ch.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProof, err)
	}

	final := make([]field.Ext, len(sp.FriFinal)/field.ExtBytes)
	for i := range final {
		final[i] = field.ExtUnmarshal(sp.FriFinal[i*field.ExtBytes:])
	}

	// Authenticate the query openings against every committed tree.
	baseIdx := pairIndices(queries, lde.Size)
	rows, err := openQueryRows(vk, tables, sp, lde.Size, baseIdx)
	if err != nil {
		return err
	}
	layers, err := openLayerRows(cfg, sp, queries, lde.Size, rounds)
	if err != nil {
		return err
	}

	// Recompute the combined codeword at each opened base row, then walk the
	// fold chain down to the final polynomial.
	deep := deepAtRows(tables, rows, sp, zeta, trace.Gen, lambda, lde, baseIdx)
	finalShift := friDomainShift(rounds)
	fd := NewDomain(lde.Log-rounds, finalShift)
	for _, q := range queries {
		pos, v, err := foldChain(q, deep, layers, betas, lde)
		if err != nil {
			return err
		}
		x := field.ExtFromFelt(fd.Element(pos))
		want := field.EvalPolyExt(final, &x)
		if !v.Equal(&want) {
			return fmt.Errorf("%w: final polynomial check failed at query %d", ErrInvalidProof, q)
		}
	}
	return nil
}

// queryRows holds one tree's opened rows at the base query positions, keyed
// by row index.
type queryRows map[int][]field.Felt

// openQueryRows authenticates and parses the base tree openings of one
// segment: per table the preprocessed, main and aux rows, then the quotient
// rows, all at the same sorted index set.
func openQueryRows(vk *VerifierKey, tables []Table, sp *SegmentProof, nbLeaves int, indices []int) (map[string]queryRows, error) {
	cfg := vk.Conf
	out := make(map[string]queryRows, 3*len(tables)+1)
	check := func(key string, root []byte, op *TreeOpening, width int) error {
		if len(op.Leaves) != len(indices) {
			return fmt.Errorf("%w: %s opening count", ErrProofMalformed, key)
		}
		if !VerifyBatch(cfg.Hash.New, root, nbLeaves, indices, op.Leaves, &op.Proof) {
			return fmt.Errorf("%w: %s openings fail authentication", ErrInvalidProof, key)
		}
		rows := make(queryRows, len(indices))
		for k, r := range indices {
			row, ok := unmarshalRow(op.Leaves[k], width)
			if !ok {
				return fmt.Errorf("%w: %s leaf %d", ErrProofMalformed, key, r)
			}
			rows[r] = row
		}
		out[key] = rows
		return nil
	}
	for i, tb := range tables {
		if w := tb.Builder.PreWidth(); w > 0 {
			if err := check("pre/"+tb.Name, vk.Chips[i].PreRoot, &sp.PreQ[i], w); err != nil {
				return nil, err
			}
		}
		if err := check("main/"+tb.Name, sp.MainRoots[i], &sp.MainQ[i], tb.Builder.MainWidth()); err != nil {
			return nil, err
		}
		if w := tb.Lookup.AuxWidth(); w > 0 {
			if err := check("aux/"+tb.Name, sp.AuxRoots[i], &sp.AuxQ[i], w); err != nil {
				return nil, err
			}
		}
	}
	if err := check("quotient", sp.QuotientRoot, &sp.QuotientQ, 4*quotientChunks); err != nil {
		return nil, err
	}
	return out, nil
}

// openLayerRows authenticates the intermediate fold layer openings and
// returns, per layer, the committed values keyed by position.
func openLayerRows(cfg Config, sp *SegmentProof, queries []int, ldeSize, rounds int) ([]map[int]field.Ext, error) {
	layers := make([]map[int]field.Ext, rounds)
	size := ldeSize
	for l := 1; l < rounds; l++ {
		size /= 2
		li := pairIndices(queries, size)
		op := &sp.LayerQ[l-1]
		if len(op.Leaves) != len(li) {
			return nil, fmt.Errorf("%w: fold layer %d opening count", ErrProofMalformed, l)
		}
		if !VerifyBatch(cfg.Hash.New, sp.FriRoots[l-1], size, li, op.Leaves, &op.Proof) {
			return nil, fmt.Errorf("%w: fold layer %d openings fail authentication", ErrInvalidProof, l)
		}
		vals := make(map[int]field.Ext, len(li))
		for k, r := range li {
			if len(op.Leaves[k]) != field.ExtBytes {
				return nil, fmt.Errorf("%w: fold layer %d leaf %d", ErrProofMalformed, l, r)
			}
			vals[r] = field.ExtUnmarshal(op.Leaves[k])
		}
		layers[l] = vals
	}
	return layers, nil
}

// deepAtRows recomputes the combined codeword at each opened base row from
// the authenticated openings, mirroring the prover's column walk.
func deepAtRows(tables []Table, rows map[string]queryRows, sp *SegmentProof,
	zeta field.Ext, gNext field.Felt, lambda field.Ext, lde *Domain, indices []int) map[int]field.Ext {

	zetaNext := field.ExtScale(&zeta, gNext)
	out := make(map[int]field.Ext, len(indices))
	for _, r := range indices {
		xe := field.ExtFromFelt(lde.Element(r))
		var invZ, invZN field.Ext
		invZ.Sub(&xe, &zeta)
		invZ.Inverse(&invZ)
		invZN.Sub(&xe, &zetaNext)
		invZN.Inverse(&invZN)

		o := 0
		pow := field.ExtOne()
		var acc field.Ext
		walk := func(row []field.Felt, inv *field.Ext) {
			for _, cell := range row {
				t := field.ExtFromFelt(cell)
				v := sp.openingAt(o)
				o++
				t.Sub(&t, &v)
				t.Mul(&t, inv)
				t.Mul(&t, &pow)
				acc.Add(&acc, &t)
				pow.Mul(&pow, &lambda)
			}
		}
		for _, tb := range tables {
			if tb.Builder.PreWidth() > 0 {
				row := rows["pre/"+tb.Name][r]
				walk(row, &invZ)
				walk(row, &invZN)
			}
			row := rows["main/"+tb.Name][r]
			walk(row, &invZ)
			walk(row, &invZN)
			if tb.Lookup.AuxWidth() > 0 {
				row = rows["aux/"+tb.Name][r]
				walk(row, &invZ)
				walk(row, &invZN)
			}
		}
		walk(rows["quotient"][r], &invZ)
		out[r] = acc
	}
	return out
}

// foldChain walks one query from the combined codeword down through the
// committed fold layers, checking each committed value on the way, and
// returns the final layer position and value.
func foldChain(q int, deep map[int]field.Ext, layers []map[int]field.Ext, betas []field.Ext, lde *Domain) (int, field.Ext, error) {
	pos := q
	size := lde.Size
	shift := lde.Shift
	gen := lde.Gen
	v := deep[pos]
	sib := deep[pos^size/2]
	for l := 0; l < len(betas); l++ {
		nextPos, folded := foldStep(pos, size, v, sib, betas[l], shift, gen)
		pos = nextPos
		size /= 2
		shift.Square(&shift)
		gen.Square(&gen)
		if l+1 < len(betas) {
			committed, ok := layers[l+1][pos]
			if !ok {
				return 0, field.Ext{}, fmt.Errorf("%w: fold layer %d missing position %d", ErrProofMalformed, l+1, pos)
			}
			if !folded.Equal(&committed) {
				return 0, field.Ext{}, fmt.Errorf("%w: fold chain mismatch at layer %d", ErrInvalidProof, l+1)
			}
			v = folded
			sibPos := pos ^ size/2
			s, ok := layers[l+1][sibPos]
			if !ok {
				return 0, field.Ext{}, fmt.Errorf("%w: fold layer %d missing position %d", ErrProofMalformed, l+1, sibPos)
			}
			sib = s
		} else {
			v = folded
		}
	}
	return pos, v, nil
}
