// Package air describes algebraic intermediate representations: the
// constraint language chips are written in.
//
// A chip declares columns over the base field, polynomial constraints over
// pairs of adjacent trace rows, and interactions: multiset messages sent to
// or received from named buses. The machine package compiles interactions
// into a logarithmic derivative lookup argument and folds constraints into
// the quotient polynomial of a segment proof.
package air

import "fmt"

// Bus identifies a multiset channel chips communicate over. A message sent
// on a bus must be received on the same bus with the same fields for the
// global lookup argument to cancel.
type Bus uint8

const (
	BusMemory Bus = iota
	BusByte
	BusAlu
	BusProgram
	BusSyscall
	// BusDigest and BusRange are only used by the aggregation machine, which
	// shares the constraint language but runs its own lookup argument.
	BusDigest
	BusRange
	busCount
)

func (b Bus) String() string {
	switch b {
	case BusMemory:
		return "memory"
	case BusByte:
		return "byte"
	case BusAlu:
		return "alu"
	case BusProgram:
		return "program"
	case BusSyscall:
		return "syscall"
	case BusDigest:
		return "digest"
	case BusRange:
		return "range"
	default:
		return fmt.Sprintf("bus(%d)", uint8(b))
	}
}

// Domain selects the trace rows a constraint is enforced on.
type Domain uint8

const (
	// All enforces the constraint on every row.
	All Domain = iota
	// FirstRow enforces the constraint on the first row only.
	FirstRow
	// LastRow enforces the constraint on the last row only.
	LastRow
	// Transition enforces the constraint on every row but the last.
	Transition
)

func (d Domain) String() string {
	switch d {
	case All:
		return "all"
	case FirstRow:
		return "first"
	case LastRow:
		return "last"
	case Transition:
		return "transition"
	default:
		return fmt.Sprintf("domain(%d)", uint8(d))
	}
}

// Degree bounds enforced at constraint registration. The quotient polynomial
// is committed in four chunks of the trace domain size; these bounds keep
// every folded constraint under that split.
const (
	// MaxDegree bounds constraints on the All and Transition domains.
	MaxDegree = 5
	// MaxBoundaryDegree bounds constraints on the FirstRow and LastRow
	// domains, whose selectors divide out only a linear factor.
	MaxBoundaryDegree = 4
)
