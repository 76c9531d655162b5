package machine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	volta "github.com/volta-zk/volta"
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/chips"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/logger"
	"github.com/volta-zk/volta/profile"
	"github.com/volta-zk/volta/stark"
)

// SegmentLog is the log2 trace height of every segment proof.
const SegmentLog = 16

// Machine is the fixed chip registry evaluated into constraint builders. It
// is stateless across proofs; one Machine can serve any number of programs.
type Machine struct {
	chips    []chips.Chip
	builders []*air.Builder
	registry [32]byte
}

// New evaluates every registry chip into its builder and computes the
// registry digest.
func New() *Machine {
	cs := chips.All()
	m := &Machine{chips: cs, builders: make([]*air.Builder, len(cs))}
	for i, c := range cs {
		b := air.NewBuilder(c.Name(), c.MainWidth(), c.PreprocessedWidth(), chips.NbPublics)
		c.Eval(b)
		m.builders[i] = b
		profile.RecordBuilder(b)
	}
	m.registry = m.digest()
	return m
}

// digest commits to the chip registry: names, column counts, constraint and
// interaction counts, and the public value layout. Any change to a chip
// changes the digest and invalidates existing keys and proofs.
func (m *Machine) digest() [32]byte {
	h := sha256.New()
	var buf [8]byte
	u := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	u(chips.NbPublics)
	u(len(m.chips))
	for _, b := range m.builders {
		u(len(b.Name()))
		h.Write([]byte(b.Name()))
		u(b.MainWidth())
		u(b.PreWidth())
		u(len(b.Constraints()))
		u(len(b.Interactions()))
	}
	var d [32]byte
	h.Sum(d[:0])
	return d
}

// Registry returns the registry digest.
func (m *Machine) Registry() [32]byte { return m.registry }

// Chips returns the registry chips in canonical order.
func (m *Machine) Chips() []chips.Chip { return m.chips }

// Tables returns the verifier-side tables: builders and lookup schedules
// without preprocessed matrices. Verification never reads the preprocessed
// cells, only their committed roots from the key.
func (m *Machine) Tables() []stark.Table {
	ts := make([]stark.Table, len(m.chips))
	for i, b := range m.builders {
		ts[i] = stark.NewTable(b, nil)
	}
	return ts
}

// proverTables returns the tables with the program's preprocessed matrices
// filled and padded to the segment height.
func (m *Machine) proverTables(p *executor.Program) ([]stark.Table, error) {
	ts := m.Tables()
	for i, c := range m.chips {
		if c.PreprocessedWidth() == 0 {
			continue
		}
		pre := c.Preprocessed(p)
		if pre.Height > chips.SegmentHeight {
			return nil, &ArithmetizationError{Chip: c.Name(), Reason: fmt.Sprintf("preprocessed trace height %d exceeds segment height", pre.Height)}
		}
		pre.PadToHeight(chips.SegmentHeight)
		ts[i].Pre = pre
	}
	return ts, nil
}

// Setup derives the proving and verifier keys for one program. The verifier
// key digest is the program commitment: it binds the protocol version, the
// registry, the parameters and the program image baked into the preprocessed
// columns.
func (m *Machine) Setup(cfg stark.Config, p *executor.Program) (*stark.ProvingKey, *stark.VerifierKey, error) {
	ts, err := m.proverTables(p)
	if err != nil {
		return nil, nil, err
	}
	return stark.Setup(cfg, volta.Version.String(), m.registry, SegmentLog, chips.NbPublics, ts)
}

// Prove attests the execution held by records. Records must be the complete,
// ordered output of one executor run over the program the key was set up
// for. Every record is validated against the chips' semantics before any
// committing work starts.
func (m *Machine) Prove(pk *stark.ProvingKey, p *executor.Program, records []*executor.Record) (*stark.Proof, error) {
	if err := m.ValidateRecords(records); err != nil {
		return nil, err
	}
	ts, err := m.proverTables(p)
	if err != nil {
		return nil, err
	}

	log := logger.Logger().With().Str("backend", "machine").Int("segments", len(records)).Logger()
	wits := make([]*stark.Witness, len(records))
	var g errgroup.Group
	for s := range records {
		g.Go(func() error {
			w, err := m.witness(p, s, records[s])
			if err != nil {
				return err
			}
			wits[s] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug().Msg("traces generated")
	return stark.Prove(pk, ts, wits)
}

// witness generates every chip trace of one segment. Chips fill in parallel
// with private byte logs; the byte chip, last in the registry, consumes the
// merged log so its multiplicities cover all lookups.
func (m *Machine) witness(p *executor.Program, seg int, rec *executor.Record) (*stark.Witness, error) {
	last := len(m.chips) - 1
	mains := make([]*air.Matrix, len(m.chips))
	logs := make([]*chips.ByteLog, last)

	var g errgroup.Group
	for i := 0; i < last; i++ {
		g.Go(func() error {
			bl := chips.NewByteLog()
			tr := m.chips[i].Trace(p, rec, bl)
			if tr.Height > chips.SegmentHeight {
				return &ArithmetizationError{Chip: m.chips[i].Name(), Segment: seg,
					Reason: fmt.Sprintf("trace height %d exceeds segment height", tr.Height)}
			}
			tr.PadToHeight(chips.SegmentHeight)
			mains[i] = tr
			logs[i] = bl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := chips.NewByteLog()
	for _, bl := range logs {
		merged.Merge(bl)
	}
	mains[last] = m.chips[last].Trace(p, rec, merged)
	mains[last].PadToHeight(chips.SegmentHeight)

	return &stark.Witness{Main: mains, Publics: chips.PublicFelts(&rec.Public)}, nil
}

// Verify checks a proof against the key and the claimed per-segment public
// values. Beyond the cryptographic checks it enforces the continuation
// chain: segment boundaries must link and the terminal statement must be
// echoed by every segment.
func (m *Machine) Verify(vk *stark.VerifierKey, proof *stark.Proof, publics []executor.PublicValues) error {
	if err := CheckChain(publics); err != nil {
		return err
	}
	pv := make([][]field.Felt, len(publics))
	for s := range publics {
		pv[s] = chips.PublicFelts(&publics[s])
	}
	return stark.Verify(vk, m.Tables(), proof, pv)
}

// CheckChain validates the continuation structure of a public value
// sequence: indices count from zero, boundary flags mark exactly the ends,
// clock and program counter chain across cuts, and the exit code and
// committed digest are echoed unchanged by every segment.
func CheckChain(publics []executor.PublicValues) error {
	if len(publics) == 0 {
		return fmt.Errorf("%w: no segments", stark.ErrInvalidProof)
	}
	finalSeg := &publics[len(publics)-1]
	for s := range publics {
		pv := &publics[s]
		if pv.SegmentIndex != uint32(s) {
			return fmt.Errorf("%w: segment %d carries index %d", stark.ErrInvalidProof, s, pv.SegmentIndex)
		}
		if pv.IsFirst != (s == 0) || pv.IsLast != (s == len(publics)-1) {
			return fmt.Errorf("%w: segment %d boundary flags", stark.ErrInvalidProof, s)
		}
		if pv.ExitCode != finalSeg.ExitCode || pv.Committed != finalSeg.Committed {
			return fmt.Errorf("%w: segment %d does not echo the terminal statement", stark.ErrInvalidProof, s)
		}
		if s > 0 {
			prev := &publics[s-1]
			if prev.PCEnd != pv.PCStart || prev.ClkEnd != pv.ClkStart {
				return fmt.Errorf("%w: segments %d and %d do not chain", stark.ErrInvalidProof, s-1, s)
			}
		}
	}
	return nil
}

func init() {
	if 1<<SegmentLog != chips.SegmentHeight {
		panic("machine: segment height mismatch")
	}
}
