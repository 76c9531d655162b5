package executor

import "strconv"

// SyscallCode identifies an ECALL service. The code is read from register t0
// (x5); arguments arrive in a0 (x10) and a1 (x11).
type SyscallCode uint32

const (
	// SyscallHalt stops execution. a0 carries the exit code.
	SyscallHalt SyscallCode = 0x00

	// SyscallWrite copies guest bytes to a host file descriptor. a0 is the
	// descriptor, a1 points to a length-prefixed byte buffer. The transfer is
	// host-visible only and leaves no trace in the proof.
	SyscallWrite SyscallCode = 0x02

	// SyscallCommit publishes one word of the public output digest.
	// a0 is the word index (0..7), a1 the word value.
	SyscallCommit SyscallCode = 0x03

	// Precompiles. Each consumes fixed extra clock ticks so that reads and
	// writes of the same cell land on distinct clocks.
	SyscallShaExtend      SyscallCode = 0x30
	SyscallShaCompress    SyscallCode = 0x31
	SyscallKeccakPermute  SyscallCode = 0x32
	SyscallBlake3Compress SyscallCode = 0x33
	SyscallEdAdd          SyscallCode = 0x40
	SyscallP256Add        SyscallCode = 0x50
	SyscallP256Double     SyscallCode = 0x51
	SyscallBigIntMulMod   SyscallCode = 0x60
)

var syscallNames = map[SyscallCode]string{
	SyscallHalt:           "HALT",
	SyscallWrite:          "WRITE",
	SyscallCommit:         "COMMIT",
	SyscallShaExtend:      "SHA_EXTEND",
	SyscallShaCompress:    "SHA_COMPRESS",
	SyscallKeccakPermute:  "KECCAK_PERMUTE",
	SyscallBlake3Compress: "BLAKE3_COMPRESS",
	SyscallEdAdd:          "ED_ADD",
	SyscallP256Add:        "P256_ADD",
	SyscallP256Double:     "P256_DOUBLE",
	SyscallBigIntMulMod:   "BIGINT_MULMOD",
}

func (c SyscallCode) String() string {
	if s, ok := syscallNames[c]; ok {
		return s
	}
	return "SYSCALL(" + strconv.FormatUint(uint64(c), 16) + ")"
}

// Ticks returns the number of extra clock ticks the syscall consumes beyond
// the four every instruction uses. Precompile memory accesses are scheduled
// inside this window.
func (c SyscallCode) Ticks() uint32 {
	switch c {
	case SyscallShaExtend:
		return 48
	default:
		if c.IsPrecompile() {
			return 2
		}
		return 0
	}
}

// IsPrecompile reports whether the syscall is proved by a dedicated chip
// rather than handled on the CPU row itself.
func (c SyscallCode) IsPrecompile() bool {
	switch c {
	case SyscallShaExtend, SyscallShaCompress, SyscallKeccakPermute,
		SyscallBlake3Compress, SyscallEdAdd, SyscallP256Add,
		SyscallP256Double, SyscallBigIntMulMod:
		return true
	}
	return false
}
