package air

import (
	"math/bits"

	"github.com/volta-zk/volta/field"
)

// Matrix is a dense row-major trace matrix over the base field.
type Matrix struct {
	Width  int
	Height int
	Values []field.Felt
}

// NewMatrix returns a zeroed width x height matrix.
func NewMatrix(width, height int) *Matrix {
	return &Matrix{
		Width:  width,
		Height: height,
		Values: make([]field.Felt, width*height),
	}
}

func (m *Matrix) Get(row, col int) field.Felt {
	return m.Values[row*m.Width+col]
}

func (m *Matrix) Set(row, col int, v field.Felt) {
	m.Values[row*m.Width+col] = v
}

func (m *Matrix) SetUint(row, col int, v uint64) {
	m.Values[row*m.Width+col] = field.NewFelt(v)
}

// Row returns a view of row r. The slice aliases the matrix.
func (m *Matrix) Row(r int) []field.Felt {
	return m.Values[r*m.Width : (r+1)*m.Width]
}

// Column copies column c into dst, which must have length Height.
func (m *Matrix) Column(c int, dst []field.Felt) {
	for r := 0; r < m.Height; r++ {
		dst[r] = m.Values[r*m.Width+c]
	}
}

// PadToHeight grows the matrix to height h with zero rows. Chips gate their
// constraints and interactions on a realness flag so zero padding is inert.
func (m *Matrix) PadToHeight(h int) {
	if h <= m.Height {
		return
	}
	grown := make([]field.Felt, m.Width*h)
	copy(grown, m.Values)
	m.Values = grown
	m.Height = h
}

// NextPowerOfTwo returns the smallest power of two >= n, and at least 2 so
// that every trace has a first and a last row.
func NextPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}

// ExtMatrix is a dense row-major matrix over the challenge field, used for
// the lookup argument columns.
type ExtMatrix struct {
	Width  int
	Height int
	Values []field.Ext
}

func NewExtMatrix(width, height int) *ExtMatrix {
	return &ExtMatrix{
		Width:  width,
		Height: height,
		Values: make([]field.Ext, width*height),
	}
}

func (m *ExtMatrix) Get(row, col int) field.Ext {
	return m.Values[row*m.Width+col]
}

func (m *ExtMatrix) Set(row, col int, v field.Ext) {
	m.Values[row*m.Width+col] = v
}

func (m *ExtMatrix) Row(r int) []field.Ext {
	return m.Values[r*m.Width : (r+1)*m.Width]
}

// Flatten expands each challenge field column into its four base field
// coordinate columns, in limb order. Commitments always work over the base
// field.
func (m *ExtMatrix) Flatten() *Matrix {
	out := NewMatrix(4*m.Width, m.Height)
	for r := 0; r < m.Height; r++ {
		src := m.Row(r)
		dst := out.Row(r)
		for c := range src {
			limbs := field.ExtLimbs(&src[c])
			copy(dst[4*c:4*c+4], limbs[:])
		}
	}
	return out
}
