package machine

import (
	"crypto/elliptic"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/volta-zk/volta/executor"
)

// ValidateRecords re-derives every delegated event's output from its inputs
// and compares it to what the record claims. A mismatch means the record was
// tampered with or the executor broke an invariant; either way the trace
// would be unsatisfiable or, worse, attest a false statement, so the prover
// refuses it before committing anything.
func (m *Machine) ValidateRecords(records []*executor.Record) error {
	if len(records) == 0 {
		return &ArithmetizationError{Chip: "cpu", Reason: "no execution records"}
	}
	chain := make([]executor.PublicValues, len(records))
	for s, rec := range records {
		chain[s] = rec.Public
		if err := validateSegment(s, rec); err != nil {
			return err
		}
	}
	if err := CheckChain(chain); err != nil {
		return &ArithmetizationError{Chip: "cpu", Reason: err.Error()}
	}
	return nil
}

func validateSegment(seg int, rec *executor.Record) error {
	fail := func(chip, format string, args ...any) error {
		return &ArithmetizationError{Chip: chip, Segment: seg, Reason: fmt.Sprintf(format, args...)}
	}

	aluLists := []struct {
		chip   string
		events []executor.AluEvent
	}{
		{"add_sub", rec.AddSubEvents},
		{"bitwise", rec.BitwiseEvents},
		{"shift_left", rec.ShiftLeftEvents},
		{"shift_right", rec.ShiftRightEvents},
		{"lt", rec.LtEvents},
		{"mul", rec.MulEvents},
		{"div_rem", rec.DivRemEvents},
	}
	for _, l := range aluLists {
		for i, ev := range l.events {
			if got := executor.AluCompute(ev.Opcode, ev.B, ev.C); got != ev.A {
				return fail(l.chip, "event %d: %s(%#x, %#x) = %#x, record claims %#x",
					i, ev.Opcode, ev.B, ev.C, got, ev.A)
			}
		}
	}

	for i, ev := range rec.ShaExtendEvents {
		for s, step := range ev.Steps {
			w15, w2 := step.Reads[0].Value, step.Reads[1].Value
			s0 := bits.RotateLeft32(w15, -7) ^ bits.RotateLeft32(w15, -18) ^ (w15 >> 3)
			s1 := bits.RotateLeft32(w2, -17) ^ bits.RotateLeft32(w2, -19) ^ (w2 >> 10)
			want := step.Reads[2].Value + s0 + step.Reads[3].Value + s1
			if step.Write.Value != want {
				return fail("sha_extend", "event %d step %d: w = %#x, record claims %#x", i, s, want, step.Write.Value)
			}
		}
	}

	for i, ev := range rec.ShaCompressEvents {
		a, b, c, d := ev.HReads[0].Value, ev.HReads[1].Value, ev.HReads[2].Value, ev.HReads[3].Value
		e, f, g, h := ev.HReads[4].Value, ev.HReads[5].Value, ev.HReads[6].Value, ev.HReads[7].Value
		for r := 0; r < 64; r++ {
			s1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)
			ch := (e & f) ^ (^e & g)
			t1 := h + s1 + ch + executor.ShaK[r] + ev.WReads[r].Value
			s0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
			maj := (a & b) ^ (a & c) ^ (b & c)
			h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+s0+maj
		}
		out := [8]uint32{a, b, c, d, e, f, g, h}
		for k := range out {
			want := ev.HReads[k].Value + out[k]
			if ev.HWrites[k].Value != want {
				return fail("sha_compress", "event %d: h[%d] = %#x, record claims %#x", i, k, want, ev.HWrites[k].Value)
			}
		}
	}

	for i, ev := range rec.KeccakPermuteEvents {
		var st [25]uint64
		for k := 0; k < 25; k++ {
			st[k] = uint64(ev.Reads[2*k].Value) | uint64(ev.Reads[2*k+1].Value)<<32
		}
		executor.KeccakF1600(&st)
		for k := 0; k < 25; k++ {
			if ev.Writes[2*k].Value != uint32(st[k]) || ev.Writes[2*k+1].Value != uint32(st[k]>>32) {
				return fail("keccak_permute", "event %d: lane %d mismatch", i, k)
			}
		}
	}

	for i, ev := range rec.Blake3CompressEvents {
		var cv [8]uint32
		var block [20]uint32
		for k := range cv {
			cv[k] = ev.CvReads[k].Value
		}
		for k := range block {
			block[k] = ev.BlockReads[k].Value
		}
		out := executor.Blake3CompressWords(cv, block)
		for k := range out {
			if ev.CvWrites[k].Value != out[k] {
				return fail("blake3_compress", "event %d: cv[%d] = %#x, record claims %#x", i, k, out[k], ev.CvWrites[k].Value)
			}
		}
	}

	for i, ev := range rec.EdAddEvents {
		x3, y3, err := edAddRef(
			wordsBig(ev.PReads[:8]), wordsBig(ev.PReads[8:]),
			wordsBig(ev.QReads[:8]), wordsBig(ev.QReads[8:]))
		if err != nil {
			return fail("field_op", "ed_add event %d: %s", i, err)
		}
		if !writesMatch(ev.PWrites[:], x3, y3) {
			return fail("field_op", "ed_add event %d: output mismatch", i)
		}
	}

	for i, ev := range rec.P256AddEvents {
		x3, y3, err := p256AddRef(
			wordsBig(ev.PReads[:8]), wordsBig(ev.PReads[8:]),
			wordsBig(ev.QReads[:8]), wordsBig(ev.QReads[8:]))
		if err != nil {
			return fail("field_op", "p256_add event %d: %s", i, err)
		}
		if !writesMatch(ev.PWrites[:], x3, y3) {
			return fail("field_op", "p256_add event %d: output mismatch", i)
		}
	}

	for i, ev := range rec.P256DoubleEvents {
		x3, y3, err := p256DoubleRef(wordsBig(ev.PReads[:8]), wordsBig(ev.PReads[8:]))
		if err != nil {
			return fail("field_op", "p256_double event %d: %s", i, err)
		}
		if !writesMatch(ev.PWrites[:], x3, y3) {
			return fail("field_op", "p256_double event %d: output mismatch", i)
		}
	}

	for i, ev := range rec.BigIntMulModEvents {
		mod := wordsBig(ev.YMReads[8:])
		if mod.Sign() == 0 {
			return fail("field_op", "mulmod event %d: zero modulus", i)
		}
		r := new(big.Int).Mul(wordsBig(ev.XReads[:]), wordsBig(ev.YMReads[:8]))
		r.Mod(r, mod)
		got := executor.WordsToBig(recordValues(ev.XWrites[:]))
		if got.Cmp(r) != 0 {
			return fail("field_op", "mulmod event %d: output mismatch", i)
		}
	}
	return nil
}

func recordValues(recs []executor.MemoryRecord) []uint32 {
	out := make([]uint32, len(recs))
	for i := range recs {
		out[i] = recs[i].Value
	}
	return out
}

func wordsBig(recs []executor.MemoryRecord) *big.Int {
	return executor.WordsToBig(recordValues(recs))
}

func writesMatch(writes []executor.MemoryRecord, x, y *big.Int) bool {
	got := append(executor.BigToWords(x, 8), executor.BigToWords(y, 8)...)
	for i := range writes {
		if writes[i].Value != got[i] {
			return false
		}
	}
	return true
}

// edAddRef is the affine twisted-Edwards unified addition over 2^255-19.
func edAddRef(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int, error) {
	p := executor.Ed25519Prime
	t := new(big.Int).Mul(x1, x2)
	t.Mul(t, y1).Mul(t, y2).Mod(t, p)
	dt := new(big.Int).Mul(executor.Ed25519D, t)
	dt.Mod(dt, p)
	den1 := new(big.Int).Add(big.NewInt(1), dt)
	den2 := new(big.Int).Sub(big.NewInt(1), dt)
	inv1 := new(big.Int).ModInverse(den1.Mod(den1, p), p)
	inv2 := new(big.Int).ModInverse(den2.Mod(den2, p), p)
	if inv1 == nil || inv2 == nil {
		return nil, nil, fmt.Errorf("degenerate denominator")
	}
	x3 := new(big.Int).Mul(x1, y2)
	x3.Add(x3, new(big.Int).Mul(x2, y1)).Mod(x3, p).Mul(x3, inv1).Mod(x3, p)
	y3 := new(big.Int).Mul(y1, y2)
	y3.Add(y3, new(big.Int).Mul(x1, x2)).Mod(y3, p).Mul(y3, inv2).Mod(y3, p)
	return x3, y3, nil
}

// p256AddRef is the affine short-Weierstrass chord addition on P-256.
func p256AddRef(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int, error) {
	p := elliptic.P256().Params().P
	if x1.Cmp(x2) == 0 {
		return nil, nil, fmt.Errorf("coincident x coordinates")
	}
	den := new(big.Int).Sub(x2, x1)
	inv := new(big.Int).ModInverse(den.Mod(den, p), p)
	if inv == nil {
		return nil, nil, fmt.Errorf("degenerate denominator")
	}
	lambda := new(big.Int).Sub(y2, y1)
	lambda.Mod(lambda, p).Mul(lambda, inv).Mod(lambda, p)
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1).Sub(x3, x2).Mod(x3, p)
	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda).Sub(y3, y1).Mod(y3, p)
	return x3, y3, nil
}

// p256DoubleRef is the affine tangent doubling on P-256 (a = -3).
func p256DoubleRef(x1, y1 *big.Int) (*big.Int, *big.Int, error) {
	p := elliptic.P256().Params().P
	if y1.Sign() == 0 {
		return nil, nil, fmt.Errorf("point at infinity")
	}
	num := new(big.Int).Mul(x1, x1)
	num.Mul(num, big.NewInt(3)).Sub(num, big.NewInt(3)).Mod(num, p)
	den := new(big.Int).Lsh(y1, 1)
	inv := new(big.Int).ModInverse(den.Mod(den, p), p)
	if inv == nil {
		return nil, nil, fmt.Errorf("degenerate denominator")
	}
	lambda := new(big.Int).Mul(num, inv)
	lambda.Mod(lambda, p)
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1).Sub(x3, x1).Mod(x3, p)
	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda).Sub(y3, y1).Mod(y3, p)
	return x3, y3, nil
}
