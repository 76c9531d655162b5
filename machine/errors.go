package machine

import "fmt"

// ArithmetizationError reports an execution record that cannot be laid out as
// a satisfying trace: a claimed event output disagrees with the recomputed
// value, or an event set exceeds the segment's row budget. It is an internal
// invariant violation, not an input fault; a correct executor never produces
// such records.
type ArithmetizationError struct {
	Chip    string
	Segment int
	Reason  string
}

func (e *ArithmetizationError) Error() string {
	return fmt.Sprintf("machine: chip %s, segment %d: %s", e.Chip, e.Segment, e.Reason)
}
