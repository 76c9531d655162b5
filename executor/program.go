package executor

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/icza/bitio"
	volta "github.com/volta-zk/volta"
	"github.com/volta-zk/volta/internal/ioutils"
)

// Address space limits. Every address the guest touches, including the
// program counter, must stay below AddressLimit so addresses embed
// unambiguously into the trace field.
const (
	AddressLimit uint32 = 1 << 29

	// RegisterBase maps the 32 general purpose registers into memory.
	// Registers sit at AddressLimit and above so no data address can
	// alias them.
	RegisterBase uint32 = AddressLimit

	// CommitBase is the reserved window holding the 8 committed words.
	// COMMIT writes land here and the final memory state binds them to
	// the public values.
	CommitBase uint32 = RegisterBase + 32*4

	// PublicInputBase and PrivateInputBase hold the host input streams,
	// length word first. InputRegionEnd closes the window reserved for
	// them.
	PublicInputBase  uint32 = 0x1E00_0000
	PrivateInputBase uint32 = 0x1E80_0000
	InputRegionEnd   uint32 = 0x1F00_0000
)

// RegisterAddr returns the memory address backing register x<i>.
func RegisterAddr(reg uint32) uint32 {
	return RegisterBase + 4*reg
}

// CommitAddr returns the memory address backing committed word idx.
func CommitAddr(idx uint32) uint32 {
	return CommitBase + 4*idx
}

// Program is a loaded guest: decoded instructions, entry point, and the
// initial memory image (static data).
type Program struct {
	Instructions []Instruction
	PCBase       uint32
	PCStart      uint32
	Image        map[uint32]uint32
}

// NewProgram returns a program whose instruction i lives at PCBase + 4*i.
func NewProgram(instructions []Instruction, pcBase, pcStart uint32) *Program {
	return &Program{
		Instructions: instructions,
		PCBase:       pcBase,
		PCStart:      pcStart,
		Image:        make(map[uint32]uint32),
	}
}

// FetchIndex maps pc to an instruction index, or false when pc lies outside
// the program.
func (p *Program) FetchIndex(pc uint32) (int, bool) {
	if pc < p.PCBase || pc%4 != 0 {
		return 0, false
	}
	idx := int((pc - p.PCBase) / 4)
	if idx >= len(p.Instructions) {
		return 0, false
	}
	return idx, true
}

// SetImageWord places a word in the initial memory image.
func (p *Program) SetImageWord(addr, value uint32) {
	if p.Image == nil {
		p.Image = make(map[uint32]uint32)
	}
	p.Image[addr] = value
}

// SortedImage returns the image as parallel addr/value slices in ascending
// address order, the layout both the serializer and the memory
// initialization chip consume.
func (p *Program) SortedImage() ([]uint32, []uint32) {
	addrs := make([]uint32, 0, len(p.Image))
	for a := range p.Image {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	vals := make([]uint32, len(addrs))
	for i, a := range addrs {
		vals[i] = p.Image[a]
	}
	return addrs, vals
}

// PreInitCells returns the memory cells whose initial state is fixed by the
// program itself: the static image plus the zeroed commit window. They are
// baked into the preprocessed trace, so the dynamic initialization rows must
// never repeat them. Ascending address order.
func (p *Program) PreInitCells() []MemoryInitEntry {
	addrs, vals := p.SortedImage()
	cells := make([]MemoryInitEntry, 0, len(addrs)+8)
	for i, a := range addrs {
		cells = append(cells, MemoryInitEntry{Addr: a, Value: vals[i]})
	}
	for i := uint32(0); i < 8; i++ {
		cells = append(cells, MemoryInitEntry{Addr: CommitAddr(i)})
	}
	return cells
}

// Validate checks structural invariants: alignment, register indices and
// address bounds. A program that fails validation can neither execute nor
// arithmetize.
func (p *Program) Validate() error {
	if p.PCBase%4 != 0 || p.PCStart%4 != 0 {
		return &Fault{Code: FaultInvalidProgram, PC: p.PCStart, Detail: "unaligned program counter base"}
	}
	// pc 0 is the halt sentinel, so no instruction may live there.
	if p.PCBase == 0 {
		return &Fault{Code: FaultInvalidProgram, PC: 0, Detail: "program counter base 0 is reserved"}
	}
	if _, ok := p.FetchIndex(p.PCStart); !ok {
		return &Fault{Code: FaultInvalidProgram, PC: p.PCStart, Detail: "entry point outside program"}
	}
	end := uint64(p.PCBase) + 4*uint64(len(p.Instructions))
	if end > uint64(AddressLimit) {
		return &Fault{Code: FaultInvalidProgram, PC: p.PCBase, Detail: "program exceeds address limit"}
	}
	for i, ins := range p.Instructions {
		pc := p.PCBase + 4*uint32(i)
		if ins.Opcode > UNIMP {
			return &Fault{Code: FaultInvalidProgram, PC: pc, Detail: fmt.Sprintf("unknown opcode %d", ins.Opcode)}
		}
		if ins.OpA >= 32 {
			return &Fault{Code: FaultInvalidProgram, PC: pc, Detail: "register index out of range"}
		}
		if !ins.ImmB && ins.OpB >= 32 {
			return &Fault{Code: FaultInvalidProgram, PC: pc, Detail: "register index out of range"}
		}
		if !ins.ImmC && ins.OpC >= 32 {
			return &Fault{Code: FaultInvalidProgram, PC: pc, Detail: "register index out of range"}
		}
	}
	for addr := range p.Image {
		if addr%4 != 0 || addr >= AddressLimit {
			return &Fault{Code: FaultInvalidProgram, PC: p.PCStart, Detail: fmt.Sprintf("image word at invalid address %#x", addr)}
		}
	}
	return nil
}

// Digest returns a commitment to the full program: instructions, layout and
// image. Verifier keys bind it so a proof speaks for exactly one program.
func (p *Program) Digest() ([32]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(buf.Bytes()), nil
}

const programMagic uint32 = 0x50544C56 // "VLTP"

// WriteTo serializes the program. Instructions are bit packed: 6 bits of
// opcode, two immediate flags, 5 bits per register operand and 32 bits per
// immediate. The image is delta compressed.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	header := []uint32{programMagic, uint32(volta.Version.Major), uint32(volta.Version.Minor), p.PCBase, p.PCStart, uint32(len(p.Instructions))}
	if err := binary.Write(cw, binary.LittleEndian, header); err != nil {
		return cw.n, err
	}

	bw := bitio.NewWriter(cw)
	for _, ins := range p.Instructions {
		if err := bw.WriteBits(uint64(ins.Opcode), 6); err != nil {
			return cw.n, err
		}
		flags := uint64(0)
		if ins.ImmB {
			flags |= 1
		}
		if ins.ImmC {
			flags |= 2
		}
		if err := bw.WriteBits(flags, 2); err != nil {
			return cw.n, err
		}
		if err := bw.WriteBits(uint64(ins.OpA), 5); err != nil {
			return cw.n, err
		}
		if err := writeOperand(bw, ins.OpB, ins.ImmB); err != nil {
			return cw.n, err
		}
		if err := writeOperand(bw, ins.OpC, ins.ImmC); err != nil {
			return cw.n, err
		}
	}
	if err := bw.Close(); err != nil {
		return cw.n, err
	}

	addrs, vals := p.SortedImage()
	if err := binary.Write(cw, binary.LittleEndian, uint32(len(addrs))); err != nil {
		return cw.n, err
	}
	if len(addrs) > 0 {
		if _, err := ioutils.CompressAndWriteUints32(cw, addrs, nil); err != nil {
			return cw.n, err
		}
		if _, err := ioutils.CompressAndWriteUints32(cw, vals, nil); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom deserializes a program written by WriteTo and validates it.
func (p *Program) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	var header [6]uint32
	if err := binary.Read(cr, binary.LittleEndian, &header); err != nil {
		return cr.n, err
	}
	if header[0] != programMagic {
		return cr.n, fmt.Errorf("executor: not a program blob")
	}
	if err := volta.CheckArtifactVersion(fmt.Sprintf("%d.%d.0", header[1], header[2])); err != nil {
		return cr.n, err
	}
	p.PCBase = header[3]
	p.PCStart = header[4]
	nbInstructions := int(header[5])

	br := bitio.NewReader(cr)
	p.Instructions = make([]Instruction, nbInstructions)
	bitsRead := 0
	for i := range p.Instructions {
		op, err := br.ReadBits(6)
		if err != nil {
			return cr.n, err
		}
		flags, err := br.ReadBits(2)
		if err != nil {
			return cr.n, err
		}
		ins := Instruction{
			Opcode: Opcode(op),
			ImmB:   flags&1 != 0,
			ImmC:   flags&2 != 0,
		}
		a, err := br.ReadBits(5)
		if err != nil {
			return cr.n, err
		}
		ins.OpA = uint32(a)
		if ins.OpB, err = readOperand(br, ins.ImmB); err != nil {
			return cr.n, err
		}
		if ins.OpC, err = readOperand(br, ins.ImmC); err != nil {
			return cr.n, err
		}
		p.Instructions[i] = ins

		bitsRead += 13 + operandBits(ins.ImmB) + operandBits(ins.ImmC)
	}
	// the bit writer pads its last byte; skip those bits so the byte
	// oriented image section starts aligned
	if off := bitsRead % 8; off != 0 {
		if _, err := br.ReadBits(uint8(8 - off)); err != nil {
			return cr.n, err
		}
	}

	var nbImage uint32
	if err := binary.Read(cr, binary.LittleEndian, &nbImage); err != nil {
		return cr.n, err
	}
	p.Image = make(map[uint32]uint32, nbImage)
	if nbImage > 0 {
		_, addrs, err := ioutils.ReadAndDecompressUints32(cr)
		if err != nil {
			return cr.n, err
		}
		_, vals, err := ioutils.ReadAndDecompressUints32(cr)
		if err != nil {
			return cr.n, err
		}
		if len(addrs) != int(nbImage) || len(vals) != int(nbImage) {
			return cr.n, fmt.Errorf("executor: corrupted program image")
		}
		for i := range addrs {
			p.Image[addrs[i]] = vals[i]
		}
	}
	return cr.n, p.Validate()
}

func writeOperand(bw *bitio.Writer, v uint32, imm bool) error {
	if imm {
		return bw.WriteBits(uint64(v), 32)
	}
	return bw.WriteBits(uint64(v), 5)
}

func operandBits(imm bool) int {
	if imm {
		return 32
	}
	return 5
}

func readOperand(br *bitio.Reader, imm bool) (uint32, error) {
	if imm {
		v, err := br.ReadBits(32)
		return uint32(v), err
	}
	v, err := br.ReadBits(5)
	return uint32(v), err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// ReadByte keeps the bit reader from wrapping cr in its own buffer, which
// would consume bytes past the instruction section and desynchronize the
// image reads that follow.
func (cr *countingReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
		return 0, err
	}
	cr.n++
	return buf[0], nil
}
