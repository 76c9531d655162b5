package executor

import "fmt"

// FaultCode classifies execution faults.
type FaultCode uint8

const (
	FaultInvalidOpcode FaultCode = iota
	FaultInvalidProgram
	FaultMemoryOutOfBounds
	FaultUnalignedAccess
	FaultInvalidSyscall
	FaultCycleLimit
	FaultSegmentLimit
	FaultBreakpoint
)

func (c FaultCode) String() string {
	switch c {
	case FaultInvalidOpcode:
		return "invalid opcode"
	case FaultInvalidProgram:
		return "invalid program"
	case FaultMemoryOutOfBounds:
		return "memory access out of bounds"
	case FaultUnalignedAccess:
		return "unaligned memory access"
	case FaultInvalidSyscall:
		return "invalid syscall"
	case FaultCycleLimit:
		return "cycle limit exceeded"
	case FaultSegmentLimit:
		return "segment limit exceeded"
	case FaultBreakpoint:
		return "breakpoint"
	default:
		return fmt.Sprintf("fault(%d)", uint8(c))
	}
}

// Fault is a deterministic execution failure. It pins the faulting cycle
// and program counter so the same program and inputs always produce the
// same fault.
type Fault struct {
	Code   FaultCode
	PC     uint32
	Cycle  uint64
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("execution fault: %s at pc=%#x cycle=%d", f.Code, f.PC, f.Cycle)
	}
	return fmt.Sprintf("execution fault: %s at pc=%#x cycle=%d: %s", f.Code, f.PC, f.Cycle, f.Detail)
}

// IsFault reports whether err is an execution fault with the given code.
func IsFault(err error, code FaultCode) bool {
	f, ok := err.(*Fault)
	return ok && f.Code == code
}
