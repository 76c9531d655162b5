package vm

import (
	"fmt"

	"github.com/volta-zk/volta/stark"
)

// Mode selects how far the pipeline compresses the execution proof.
type Mode uint8

const (
	// ModeLeaf stops at the per-segment proofs.
	ModeLeaf Mode = iota + 1
	// ModeReduced aggregates the segments into one reduce proof.
	ModeReduced
	// ModeWrapped compresses the reduce proof into a Groth16 proof.
	ModeWrapped
)

func (m Mode) String() string {
	switch m {
	case ModeLeaf:
		return "leaf"
	case ModeReduced:
		return "reduced"
	case ModeWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) valid() bool { return m >= ModeLeaf && m <= ModeWrapped }

type options struct {
	maxCycles     uint64
	segmentCycles uint32
	mode          Mode
	stark         []stark.Option
}

// Option configures a Run.
type Option func(*options) error

func newOptions(opts []Option) (*options, error) {
	o := &options{mode: ModeLeaf}
	for _, fn := range opts {
		if err := fn(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithMaxCycles caps the execution cycle count. Zero keeps the executor
// default.
func WithMaxCycles(n uint64) Option {
	return func(o *options) error {
		o.maxCycles = n
		return nil
	}
}

// WithSegmentSize sets the cycle count at which segments are cut. Zero keeps
// the executor default.
func WithSegmentSize(n uint32) Option {
	return func(o *options) error {
		o.segmentCycles = n
		return nil
	}
}

// WithProofMode selects the proof compression level.
func WithProofMode(m Mode) Option {
	return func(o *options) error {
		if !m.valid() {
			return fmt.Errorf("vm: unknown proof mode %d", m)
		}
		o.mode = m
		return nil
	}
}

// WithHash selects the Merkle and transcript hash of the proof system.
func WithHash(h stark.HashID) Option {
	return func(o *options) error {
		o.stark = append(o.stark, stark.WithHash(h))
		return nil
	}
}

// WithQueries sets the FRI query count of the proof system.
func WithQueries(n int) Option {
	return func(o *options) error {
		o.stark = append(o.stark, stark.WithQueries(n))
		return nil
	}
}
