package chips

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
)

// Guest helpers, mirroring the executor test conventions: tiny hand-assembled
// programs loaded at 0x1000.

func li(rd, v uint32) executor.Instruction  { return executor.I(executor.ADD, rd, 0, v) }
func mv(rd, rs uint32) executor.Instruction { return executor.R(executor.ADD, rd, rs, 0) }

// haltWith appends the HALT calling sequence, exit code taken from rs.
func haltWith(rs uint32) []executor.Instruction {
	return []executor.Instruction{
		mv(executor.RegA0, rs),
		li(executor.RegT0, uint32(executor.SyscallHalt)),
		executor.Ecall(),
	}
}

func runGuest(t *testing.T, instrs []executor.Instruction, image map[uint32]uint32, pub, priv []byte, opts *executor.Options) (*executor.Program, []*executor.Record) {
	t.Helper()
	p := executor.NewProgram(instrs, 0x1000, 0x1000)
	for a, v := range image {
		p.SetImageWord(a, v)
	}
	records, err := executor.Run(p, pub, priv, opts)
	require.NoError(t, err)
	return p, records
}

// memFinalWords reads n consecutive words out of the finalization multiset.
func memFinalWords(t *testing.T, records []*executor.Record, addr uint32, n int) []uint32 {
	t.Helper()
	final := records[len(records)-1].MemoryFinal
	byAddr := make(map[uint32]uint32, len(final))
	for _, c := range final {
		byAddr[c.Addr] = c.Value
	}
	out := make([]uint32, n)
	for i := range out {
		v, ok := byAddr[addr+4*uint32(i)]
		require.True(t, ok, "address 0x%x missing from final memory", addr+4*uint32(i))
		out[i] = v
	}
	return out
}

// busLedger sums the signed multiplicity of every interaction tuple seen
// while sweeping chip traces. Sends add, receives subtract; the traces of a
// valid execution leave every bus empty once all segments are in.
type busLedger struct {
	sums map[string]field.Ext
}

func newBusLedger() *busLedger { return &busLedger{sums: make(map[string]field.Ext)} }

func (l *busLedger) keyOf(bus air.Bus, fields []*air.Expr, f *air.Frame) string {
	buf := make([]byte, 1, 1+field.ExtBytes*len(fields))
	buf[0] = byte(bus)
	for _, fe := range fields {
		v := fe.Eval(f)
		buf = field.ExtMarshal(&v, buf)
	}
	return string(buf)
}

func (l *busLedger) add(key string, delta field.Ext) {
	s := l.sums[key]
	s.Add(&s, &delta)
	if s.IsZero() {
		delete(l.sums, key)
		return
	}
	l.sums[key] = s
}

func (l *busLedger) requireEmpty(t *testing.T) {
	t.Helper()
	for k := range l.sums {
		t.Fatalf("%d unbalanced bus tuples, first on bus %d: %x", len(l.sums), k[0], k[1:])
	}
}

// chipRun bundles one chip with its builder and the traces generated for a
// segment.
type chipRun struct {
	chip Chip
	b    *air.Builder
	pre  *air.Matrix
	main *air.Matrix
}

// buildSegment generates every trace of one segment in registry order. The
// byte log is shared so the byte chip, last in the registry, absorbs the
// lookups of all the others.
func buildSegment(p *executor.Program, rec *executor.Record) []chipRun {
	bl := NewByteLog()
	chips := All()
	runs := make([]chipRun, 0, len(chips))
	for _, ch := range chips {
		b := air.NewBuilder(ch.Name(), ch.MainWidth(), ch.PreprocessedWidth(), NbPublics)
		ch.Eval(b)
		runs = append(runs, chipRun{
			chip: ch,
			b:    b,
			pre:  ch.Preprocessed(p),
			main: ch.Trace(p, rec, bl),
		})
	}
	return runs
}

func publicExts(pv *executor.PublicValues) []field.Ext {
	felts := PublicFelts(pv)
	out := make([]field.Ext, len(felts))
	for i, fe := range felts {
		out[i] = field.ExtFromFelt(fe)
	}
	return out
}

// chipPeriods maps the cyclic chips to their slot size. The sweep skips a
// row pair whenever the pair one period earlier was identical, reducing the
// full-height scan to the distinct rows.
var chipPeriods = map[string]int{
	"sha_extend":      shaExtendSlot,
	"sha_compress":    shaCompressSlot,
	"keccak_permute":  keccakSlot,
	"blake3_compress": blake3Slot,
	"field_op":        fieldOpSlot,
}

// loadRow lifts row r of m into dst. Rows at or beyond the natural height
// read as zero, exactly like the padding the prover applies.
func loadRow(m *air.Matrix, r int, dst []field.Ext) {
	if m == nil || r >= m.Height {
		for i := range dst {
			dst[i] = field.ExtZero()
		}
		return
	}
	row := m.Row(r)
	for i := range dst {
		dst[i] = field.ExtFromFelt(row[i])
	}
}

func sameRow(m *air.Matrix, r, s int) bool {
	if m == nil || m.Width == 0 {
		return true
	}
	rIn, sIn := r < m.Height, s < m.Height
	if !rIn && !sIn {
		return true
	}
	if rIn != sIn {
		row := r
		if sIn {
			row = s
		}
		for _, v := range m.Row(row) {
			if !v.IsZero() {
				return false
			}
		}
		return true
	}
	rr, sr := m.Row(r), m.Row(s)
	for i := range rr {
		if rr[i] != sr[i] {
			return false
		}
	}
	return true
}

type violation struct {
	row   int
	index int
}

// sweep evaluates every constraint of the chip on every row of the padded
// trace domain and streams every interaction into the ledger. The next-row
// view wraps at the domain end and transition constraints skip the last row,
// matching evaluation over the multiplicative domain.
func sweep(run chipRun, publics []field.Ext, ledger *busLedger) []violation {
	const h = SegmentHeight
	period := chipPeriods[run.chip.Name()]
	if period == 0 {
		period = 1
	}

	f := &air.Frame{
		Main:     make([]field.Ext, run.chip.MainWidth()),
		MainNext: make([]field.Ext, run.chip.MainWidth()),
		Pre:      make([]field.Ext, run.chip.PreprocessedWidth()),
		PreNext:  make([]field.Ext, run.chip.PreprocessedWidth()),
		Publics:  publics,
	}

	type delta struct {
		key string
		add field.Ext
	}
	inters := run.b.Interactions()
	replay := make([][]delta, period)

	var viols []violation
	for r := 0; r < h; r++ {
		if r >= 2*period && r < h-1 &&
			sameRow(run.main, r, r-period) && sameRow(run.main, r+1, r+1-period) &&
			sameRow(run.pre, r, r-period) && sameRow(run.pre, r+1, r+1-period) {
			for _, d := range replay[r%period] {
				ledger.add(d.key, d.add)
			}
			continue
		}

		loadRow(run.main, r, f.Main)
		loadRow(run.main, (r+1)%h, f.MainNext)
		loadRow(run.pre, r, f.Pre)
		loadRow(run.pre, (r+1)%h, f.PreNext)

		for _, i := range run.b.EvalConstraints(f, func(d air.Domain) bool {
			switch d {
			case air.FirstRow:
				return r == 0
			case air.LastRow:
				return r == h-1
			case air.Transition:
				return r != h-1
			default:
				return true
			}
		}) {
			viols = append(viols, violation{row: r, index: i})
		}

		deltas := replay[r%period][:0]
		for _, it := range inters {
			mult := it.Mult.Eval(f)
			if mult.IsZero() {
				continue
			}
			if !it.IsSend {
				var neg field.Ext
				neg.Sub(&neg, &mult)
				mult = neg
			}
			key := ledger.keyOf(it.Bus, it.Fields, f)
			ledger.add(key, mult)
			deltas = append(deltas, delta{key: key, add: mult})
		}
		replay[r%period] = deltas
	}
	return viols
}

// checkSegments regenerates every chip trace for every segment, checks each
// constraint row by row and requires the buses to balance across the whole
// execution.
func checkSegments(t *testing.T, p *executor.Program, records []*executor.Record) {
	t.Helper()
	ledger := newBusLedger()
	for si, rec := range records {
		publics := publicExts(&rec.Public)
		for _, run := range buildSegment(p, rec) {
			viols := sweep(run, publics, ledger)
			if len(viols) == 0 {
				continue
			}
			v := viols[0]
			c := run.b.Constraints()[v.index]
			t.Fatalf("segment %d chip %s: %d violations, first at row %d (%s constraint %d): %s",
				si, run.chip.Name(), len(viols), v.row, c.Domain, v.index, c.E)
		}
	}
	ledger.requireEmpty(t)
}
