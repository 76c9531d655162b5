package chips

import (
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// Public value vector layout. A segment proof exposes exactly these field
// elements; chips bind trace cells to them and the aggregator chains them
// across segments.
const (
	PubPCStart  = 0 // pc of the first cycle
	PubPCEnd    = 1 // pc after the last cycle, 0 once halted
	PubClkStart = 2
	PubClkEnd   = 3
	PubSegment  = 4
	PubIsFirst  = 5
	PubIsLast   = 6
	PubExit     = 7  // exit code, 4 byte limbs
	PubCommit   = 11 // committed words, 32 byte limbs

	NbPublics = 43
)

// PublicFelts flattens the record's public values into the vector layout.
func PublicFelts(pv *executor.PublicValues) []field.Felt {
	out := make([]field.Felt, NbPublics)
	out[PubPCStart] = field.NewFelt(uint64(pv.PCStart))
	out[PubPCEnd] = field.NewFelt(uint64(pv.PCEnd))
	out[PubClkStart] = field.NewFelt(uint64(pv.ClkStart))
	out[PubClkEnd] = field.NewFelt(uint64(pv.ClkEnd))
	out[PubSegment] = field.NewFelt(uint64(pv.SegmentIndex))
	if pv.IsFirst {
		out[PubIsFirst] = field.One()
	}
	if pv.IsLast {
		out[PubIsLast] = field.One()
	}
	for k := 0; k < 4; k++ {
		out[PubExit+k] = field.NewFelt(uint64(pv.ExitCode >> (8 * k) & 0xFF))
	}
	for i, w := range pv.Committed {
		for k := 0; k < 4; k++ {
			out[PubCommit+4*i+k] = field.NewFelt(uint64(w >> (8 * k) & 0xFF))
		}
	}
	return out
}
