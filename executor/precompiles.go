package executor

import (
	"crypto/elliptic"
	"math/big"
	"math/bits"
)

// ShaK is the SHA-256 round constant table, shared with the compression
// chip's preprocessed columns.
var ShaK = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// KeccakRC is the keccak-f[1600] iota round constant table.
var KeccakRC = [24]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808A, 0x8000000080008000,
	0x000000000000808B, 0x0000000080000001, 0x8000000080008081, 0x8000000000008009,
	0x000000000000008A, 0x0000000000000088, 0x0000000080008009, 0x000000008000000A,
	0x000000008000808B, 0x800000000000008B, 0x8000000000008089, 0x8000000000008003,
	0x8000000000008002, 0x8000000000000080, 0x000000000000800A, 0x800000008000000A,
	0x8000000080008081, 0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

// KeccakRotc and KeccakPiln drive the combined rho and pi steps.
var (
	KeccakRotc = [24]uint{1, 3, 6, 10, 15, 21, 28, 36, 45, 55, 2, 14, 27, 41, 56, 8, 25, 43, 62, 18, 39, 61, 20, 44}
	KeccakPiln = [24]int{10, 7, 11, 17, 18, 3, 5, 16, 8, 21, 24, 4, 15, 23, 19, 13, 12, 2, 20, 14, 22, 9, 6, 1}
)

// Blake3IV is the BLAKE3 initialization vector.
var Blake3IV = [8]uint32{0x6A09E667, 0xBB67AE85, 0x3C6EF372, 0xA54FF53A, 0x510E527F, 0x9B05688C, 0x1F83D9AB, 0x5BE0CD19}

// Blake3Perm is the message word permutation applied between rounds.
var Blake3Perm = [16]int{2, 6, 3, 10, 7, 0, 4, 13, 1, 11, 12, 5, 9, 14, 15, 8}

// Ed25519Prime is 2^255 - 19 and Ed25519D the twisted edwards d constant.
var (
	Ed25519Prime, _ = new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819949", 10)
	Ed25519D, _     = new(big.Int).SetString("37095705934669439343138083508754565189542113879843219016388785533085940283555", 10)
)

func (rt *Runtime) precompile(code SyscallCode, clkBase, a0, a1 uint32) error {
	switch code {
	case SyscallShaExtend:
		return rt.shaExtend(clkBase, a0, a1)
	case SyscallShaCompress:
		return rt.shaCompress(clkBase, a0, a1)
	case SyscallKeccakPermute:
		return rt.keccakPermute(clkBase, a0, a1)
	case SyscallBlake3Compress:
		return rt.blake3Compress(clkBase, a0, a1)
	case SyscallEdAdd:
		return rt.edAdd(clkBase, a0, a1)
	case SyscallP256Add:
		return rt.p256Add(clkBase, a0, a1)
	case SyscallP256Double:
		return rt.p256Double(clkBase, a0, a1)
	case SyscallBigIntMulMod:
		return rt.bigIntMulMod(clkBase, a0, a1)
	}
	return rt.fault(FaultInvalidSyscall, "unknown precompile %s", code)
}

func (rt *Runtime) checkRegion(ptr, words uint32) error {
	if err := rt.checkDataAddr(ptr, 4); err != nil {
		return err
	}
	if ptr+4*words > RegisterBase {
		return rt.fault(FaultMemoryOutOfBounds, "region [0x%x, 0x%x)", ptr, ptr+4*words)
	}
	return nil
}

func (rt *Runtime) checkDisjoint(p1, n1, p2, n2 uint32) error {
	if p1 < p2+4*n2 && p2 < p1+4*n1 {
		return rt.fault(FaultInvalidSyscall, "overlapping operand regions 0x%x and 0x%x", p1, p2)
	}
	return nil
}

func (rt *Runtime) readWords(ptr, clk uint32, recs []MemoryRecord) {
	for i := range recs {
		recs[i] = rt.mem.Read(ptr+4*uint32(i), clk)
	}
}

func (rt *Runtime) writeWords(ptr, clk uint32, vals []uint32, recs []MemoryRecord) {
	for i := range recs {
		recs[i] = rt.mem.Write(ptr+4*uint32(i), clk, vals[i])
	}
}

func (rt *Runtime) shaExtend(clkBase, wPtr, a1 uint32) error {
	if err := rt.checkRegion(wPtr, 64); err != nil {
		return err
	}
	ev := ShaExtendEvent{Clk: clkBase, WPtr: wPtr, A1: a1}
	for i := 0; i < 48; i++ {
		j := uint32(16 + i)
		tick := clkBase + tickSyscall + uint32(i)
		ev.Steps[i].Reads[0] = rt.mem.Read(wPtr+4*(j-15), tick)
		ev.Steps[i].Reads[1] = rt.mem.Read(wPtr+4*(j-2), tick)
		ev.Steps[i].Reads[2] = rt.mem.Read(wPtr+4*(j-16), tick)
		ev.Steps[i].Reads[3] = rt.mem.Read(wPtr+4*(j-7), tick)
		s0 := bits.RotateLeft32(ev.Steps[i].Reads[0].Value, -7) ^
			bits.RotateLeft32(ev.Steps[i].Reads[0].Value, -18) ^
			(ev.Steps[i].Reads[0].Value >> 3)
		s1 := bits.RotateLeft32(ev.Steps[i].Reads[1].Value, -17) ^
			bits.RotateLeft32(ev.Steps[i].Reads[1].Value, -19) ^
			(ev.Steps[i].Reads[1].Value >> 10)
		w := ev.Steps[i].Reads[2].Value + s0 + ev.Steps[i].Reads[3].Value + s1
		ev.Steps[i].Write = rt.mem.Write(wPtr+4*j, tick, w)
	}
	rt.cur.ShaExtendEvents = append(rt.cur.ShaExtendEvents, ev)
	return nil
}

func (rt *Runtime) shaCompress(clkBase, hPtr, wPtr uint32) error {
	if err := rt.checkRegion(hPtr, 8); err != nil {
		return err
	}
	if err := rt.checkRegion(wPtr, 64); err != nil {
		return err
	}
	if err := rt.checkDisjoint(hPtr, 8, wPtr, 64); err != nil {
		return err
	}
	ev := ShaCompressEvent{Clk: clkBase, HPtr: hPtr, WPtr: wPtr}
	rt.readWords(hPtr, clkBase+tickSyscall, ev.HReads[:])
	rt.readWords(wPtr, clkBase+tickSyscall, ev.WReads[:])

	var h [8]uint32
	for i := range h {
		h[i] = ev.HReads[i].Value
	}
	a, b, c, d, e, f, g, hh := h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7]
	for i := 0; i < 64; i++ {
		s1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)
		ch := (e & f) ^ (^e & g)
		t1 := hh + s1 + ch + ShaK[i] + ev.WReads[i].Value
		s0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj
		hh, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}
	out := []uint32{h[0] + a, h[1] + b, h[2] + c, h[3] + d, h[4] + e, h[5] + f, h[6] + g, h[7] + hh}
	rt.writeWords(hPtr, clkBase+tickSyscall+1, out, ev.HWrites[:])
	rt.cur.ShaCompressEvents = append(rt.cur.ShaCompressEvents, ev)
	return nil
}

// KeccakF1600 applies the keccak permutation in place.
func KeccakF1600(st *[25]uint64) {
	var bc [5]uint64
	for round := 0; round < 24; round++ {
		for i := 0; i < 5; i++ {
			bc[i] = st[i] ^ st[i+5] ^ st[i+10] ^ st[i+15] ^ st[i+20]
		}
		for i := 0; i < 5; i++ {
			t := bc[(i+4)%5] ^ bits.RotateLeft64(bc[(i+1)%5], 1)
			for j := 0; j < 25; j += 5 {
				st[j+i] ^= t
			}
		}
		t := st[1]
		for i := 0; i < 24; i++ {
			j := KeccakPiln[i]
			bc[0] = st[j]
			st[j] = bits.RotateLeft64(t, int(KeccakRotc[i]))
			t = bc[0]
		}
		for j := 0; j < 25; j += 5 {
			for i := 0; i < 5; i++ {
				bc[i] = st[j+i]
			}
			for i := 0; i < 5; i++ {
				st[j+i] = bc[i] ^ (^bc[(i+1)%5] & bc[(i+2)%5])
			}
		}
		st[0] ^= KeccakRC[round]
	}
}

func (rt *Runtime) keccakPermute(clkBase, ptr, a1 uint32) error {
	if err := rt.checkRegion(ptr, 50); err != nil {
		return err
	}
	ev := KeccakPermuteEvent{Clk: clkBase, StatePtr: ptr, A1: a1}
	rt.readWords(ptr, clkBase+tickSyscall, ev.Reads[:])

	var st [25]uint64
	for i := 0; i < 25; i++ {
		st[i] = uint64(ev.Reads[2*i].Value) | uint64(ev.Reads[2*i+1].Value)<<32
	}
	KeccakF1600(&st)
	out := make([]uint32, 50)
	for i := 0; i < 25; i++ {
		out[2*i] = uint32(st[i])
		out[2*i+1] = uint32(st[i] >> 32)
	}
	rt.writeWords(ptr, clkBase+tickSyscall+1, out, ev.Writes[:])
	rt.cur.KeccakPermuteEvents = append(rt.cur.KeccakPermuteEvents, ev)
	return nil
}

func blake3G(v *[16]uint32, a, b, c, d int, mx, my uint32) {
	v[a] += v[b] + mx
	v[d] = bits.RotateLeft32(v[d]^v[a], -16)
	v[c] += v[d]
	v[b] = bits.RotateLeft32(v[b]^v[c], -12)
	v[a] += v[b] + my
	v[d] = bits.RotateLeft32(v[d]^v[a], -8)
	v[c] += v[d]
	v[b] = bits.RotateLeft32(v[b]^v[c], -7)
}

// Blake3CompressWords runs the compression function and returns the new
// 8-word chaining value. block holds m[0..16), counterLo, counterHi,
// blockLen, flags.
func Blake3CompressWords(cv [8]uint32, block [20]uint32) [8]uint32 {
	var m [16]uint32
	copy(m[:], block[:16])
	var v [16]uint32
	copy(v[:8], cv[:])
	copy(v[8:12], Blake3IV[:4])
	v[12], v[13], v[14], v[15] = block[16], block[17], block[18], block[19]

	for round := 0; round < 7; round++ {
		blake3G(&v, 0, 4, 8, 12, m[0], m[1])
		blake3G(&v, 1, 5, 9, 13, m[2], m[3])
		blake3G(&v, 2, 6, 10, 14, m[4], m[5])
		blake3G(&v, 3, 7, 11, 15, m[6], m[7])
		blake3G(&v, 0, 5, 10, 15, m[8], m[9])
		blake3G(&v, 1, 6, 11, 12, m[10], m[11])
		blake3G(&v, 2, 7, 8, 13, m[12], m[13])
		blake3G(&v, 3, 4, 9, 14, m[14], m[15])
		if round < 6 {
			var p [16]uint32
			for i := 0; i < 16; i++ {
				p[i] = m[Blake3Perm[i]]
			}
			m = p
		}
	}
	var out [8]uint32
	for i := 0; i < 8; i++ {
		out[i] = v[i] ^ v[i+8]
	}
	return out
}

func (rt *Runtime) blake3Compress(clkBase, cvPtr, blockPtr uint32) error {
	if err := rt.checkRegion(cvPtr, 8); err != nil {
		return err
	}
	if err := rt.checkRegion(blockPtr, 20); err != nil {
		return err
	}
	if err := rt.checkDisjoint(cvPtr, 8, blockPtr, 20); err != nil {
		return err
	}
	ev := Blake3CompressEvent{Clk: clkBase, CvPtr: cvPtr, BlockPtr: blockPtr}
	rt.readWords(cvPtr, clkBase+tickSyscall, ev.CvReads[:])
	rt.readWords(blockPtr, clkBase+tickSyscall, ev.BlockReads[:])

	var cv [8]uint32
	var block [20]uint32
	for i := range cv {
		cv[i] = ev.CvReads[i].Value
	}
	for i := range block {
		block[i] = ev.BlockReads[i].Value
	}
	out := Blake3CompressWords(cv, block)
	rt.writeWords(cvPtr, clkBase+tickSyscall+1, out[:], ev.CvWrites[:])
	rt.cur.Blake3CompressEvents = append(rt.cur.Blake3CompressEvents, ev)
	return nil
}

// WordsToBig interprets words as a little-endian multiprecision integer.
func WordsToBig(words []uint32) *big.Int {
	v := new(big.Int)
	for i := len(words) - 1; i >= 0; i-- {
		v.Lsh(v, 32)
		v.Or(v, big.NewInt(int64(words[i])))
	}
	return v
}

// BigToWords splits v into n little-endian 32-bit words.
func BigToWords(v *big.Int, n int) []uint32 {
	out := make([]uint32, n)
	tmp := new(big.Int).Set(v)
	mask := big.NewInt(0xFFFF_FFFF)
	for i := 0; i < n; i++ {
		out[i] = uint32(new(big.Int).And(tmp, mask).Uint64())
		tmp.Rsh(tmp, 32)
	}
	return out
}

func recordValues(recs []MemoryRecord) []uint32 {
	out := make([]uint32, len(recs))
	for i := range recs {
		out[i] = recs[i].Value
	}
	return out
}

func (rt *Runtime) edAdd(clkBase, pPtr, qPtr uint32) error {
	if err := rt.checkRegion(pPtr, 16); err != nil {
		return err
	}
	if err := rt.checkRegion(qPtr, 16); err != nil {
		return err
	}
	if err := rt.checkDisjoint(pPtr, 16, qPtr, 16); err != nil {
		return err
	}
	ev := EdAddEvent{Clk: clkBase, PPtr: pPtr, QPtr: qPtr}
	rt.readWords(pPtr, clkBase+tickSyscall, ev.PReads[:])
	rt.readWords(qPtr, clkBase+tickSyscall, ev.QReads[:])

	p := Ed25519Prime
	x1 := WordsToBig(recordValues(ev.PReads[:8]))
	y1 := WordsToBig(recordValues(ev.PReads[8:]))
	x2 := WordsToBig(recordValues(ev.QReads[:8]))
	y2 := WordsToBig(recordValues(ev.QReads[8:]))
	for _, v := range []*big.Int{x1, y1, x2, y2} {
		if v.Cmp(p) >= 0 {
			return rt.fault(FaultInvalidSyscall, "edwards coordinate not reduced")
		}
	}

	t := new(big.Int).Mul(x1, x2)
	t.Mul(t, y1).Mul(t, y2).Mod(t, p)
	dt := new(big.Int).Mul(Ed25519D, t)
	dt.Mod(dt, p)
	den1 := new(big.Int).Add(big.NewInt(1), dt)
	den1.Mod(den1, p)
	den2 := new(big.Int).Sub(big.NewInt(1), dt)
	den2.Mod(den2, p)
	inv1 := new(big.Int).ModInverse(den1, p)
	inv2 := new(big.Int).ModInverse(den2, p)
	if inv1 == nil || inv2 == nil {
		return rt.fault(FaultInvalidSyscall, "degenerate edwards denominator")
	}
	x3 := new(big.Int).Mul(x1, y2)
	x3.Add(x3, new(big.Int).Mul(x2, y1)).Mod(x3, p).Mul(x3, inv1).Mod(x3, p)
	y3 := new(big.Int).Mul(y1, y2)
	y3.Add(y3, new(big.Int).Mul(x1, x2)).Mod(y3, p).Mul(y3, inv2).Mod(y3, p)

	out := append(BigToWords(x3, 8), BigToWords(y3, 8)...)
	rt.writeWords(pPtr, clkBase+tickSyscall+1, out, ev.PWrites[:])
	rt.cur.EdAddEvents = append(rt.cur.EdAddEvents, ev)
	return nil
}

func (rt *Runtime) p256Add(clkBase, pPtr, qPtr uint32) error {
	if err := rt.checkRegion(pPtr, 16); err != nil {
		return err
	}
	if err := rt.checkRegion(qPtr, 16); err != nil {
		return err
	}
	if err := rt.checkDisjoint(pPtr, 16, qPtr, 16); err != nil {
		return err
	}
	ev := P256AddEvent{Clk: clkBase, PPtr: pPtr, QPtr: qPtr}
	rt.readWords(pPtr, clkBase+tickSyscall, ev.PReads[:])
	rt.readWords(qPtr, clkBase+tickSyscall, ev.QReads[:])

	p := elliptic.P256().Params().P
	x1 := WordsToBig(recordValues(ev.PReads[:8]))
	y1 := WordsToBig(recordValues(ev.PReads[8:]))
	x2 := WordsToBig(recordValues(ev.QReads[:8]))
	y2 := WordsToBig(recordValues(ev.QReads[8:]))
	for _, v := range []*big.Int{x1, y1, x2, y2} {
		if v.Cmp(p) >= 0 {
			return rt.fault(FaultInvalidSyscall, "p256 coordinate not reduced")
		}
	}
	if x1.Cmp(x2) == 0 {
		return rt.fault(FaultInvalidSyscall, "p256 add requires distinct x coordinates")
	}

	den := new(big.Int).Sub(x2, x1)
	den.Mod(den, p)
	lambda := new(big.Int).Sub(y2, y1)
	lambda.Mod(lambda, p).Mul(lambda, new(big.Int).ModInverse(den, p)).Mod(lambda, p)
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1).Sub(x3, x2).Mod(x3, p)
	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda).Sub(y3, y1).Mod(y3, p)

	out := append(BigToWords(x3, 8), BigToWords(y3, 8)...)
	rt.writeWords(pPtr, clkBase+tickSyscall+1, out, ev.PWrites[:])
	rt.cur.P256AddEvents = append(rt.cur.P256AddEvents, ev)
	return nil
}

func (rt *Runtime) p256Double(clkBase, pPtr, a1 uint32) error {
	if err := rt.checkRegion(pPtr, 16); err != nil {
		return err
	}
	ev := P256DoubleEvent{Clk: clkBase, PPtr: pPtr, A1: a1}
	rt.readWords(pPtr, clkBase+tickSyscall, ev.PReads[:])

	p := elliptic.P256().Params().P
	x1 := WordsToBig(recordValues(ev.PReads[:8]))
	y1 := WordsToBig(recordValues(ev.PReads[8:]))
	if x1.Cmp(p) >= 0 || y1.Cmp(p) >= 0 {
		return rt.fault(FaultInvalidSyscall, "p256 coordinate not reduced")
	}
	if y1.Sign() == 0 {
		return rt.fault(FaultInvalidSyscall, "p256 double at infinity")
	}

	// lambda = (3*x^2 - 3) / (2*y) since a = -3 for P-256.
	num := new(big.Int).Mul(x1, x1)
	num.Mul(num, big.NewInt(3)).Sub(num, big.NewInt(3)).Mod(num, p)
	den := new(big.Int).Lsh(y1, 1)
	den.Mod(den, p)
	lambda := new(big.Int).Mul(num, new(big.Int).ModInverse(den, p))
	lambda.Mod(lambda, p)
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1).Sub(x3, x1).Mod(x3, p)
	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda).Sub(y3, y1).Mod(y3, p)

	out := append(BigToWords(x3, 8), BigToWords(y3, 8)...)
	rt.writeWords(pPtr, clkBase+tickSyscall+1, out, ev.PWrites[:])
	rt.cur.P256DoubleEvents = append(rt.cur.P256DoubleEvents, ev)
	return nil
}

func (rt *Runtime) bigIntMulMod(clkBase, xPtr, ymPtr uint32) error {
	if err := rt.checkRegion(xPtr, 8); err != nil {
		return err
	}
	if err := rt.checkRegion(ymPtr, 16); err != nil {
		return err
	}
	if err := rt.checkDisjoint(xPtr, 8, ymPtr, 16); err != nil {
		return err
	}
	ev := BigIntMulModEvent{Clk: clkBase, XPtr: xPtr, YMPtr: ymPtr}
	rt.readWords(xPtr, clkBase+tickSyscall, ev.XReads[:])
	rt.readWords(ymPtr, clkBase+tickSyscall, ev.YMReads[:])

	x := WordsToBig(recordValues(ev.XReads[:]))
	y := WordsToBig(recordValues(ev.YMReads[:8]))
	m := WordsToBig(recordValues(ev.YMReads[8:]))
	if m.Sign() == 0 {
		return rt.fault(FaultInvalidSyscall, "mulmod modulus is zero")
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Mul(x, y), m, new(big.Int))
	// The chip witnesses the quotient in 33 signed byte digits, so tiny
	// moduli whose quotient overflows that window are invalid arguments.
	if q.BitLen() > 262 {
		return rt.fault(FaultInvalidSyscall, "mulmod quotient exceeds 262 bits")
	}

	rt.writeWords(xPtr, clkBase+tickSyscall+1, BigToWords(r, 8), ev.XWrites[:])
	rt.cur.BigIntMulModEvents = append(rt.cur.BigIntMulModEvents, ev)
	return nil
}
