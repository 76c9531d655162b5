package stark

import (
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/internal/parallel"
)

// commitment is one committed matrix held in every form the prover needs:
// column coefficient vectors for out-of-domain openings, the coset low
// degree extension for quotient evaluation and queries, and the Merkle tree
// over the extended rows.
type commitment struct {
	coeffs [][]field.Felt // per column, length = trace size
	evals  *air.Matrix    // LDE rows, height = lde.Size
	tree   *Tree
}

// commitMatrix interpolates every column of m over the trace domain,
// extends it to the lde coset and commits the extended rows. Rows are the
// Merkle leaves: all columns of one extended row, 4 bytes per cell.
func commitMatrix(cfg Config, trace, lde *Domain, m *air.Matrix) *commitment {
	c := &commitment{
		coeffs: make([][]field.Felt, m.Width),
		evals:  air.NewMatrix(m.Width, lde.Size),
	}
	cols := make([][]field.Felt, m.Width)
	parallel.Execute(0, m.Width, func(start, end int) {
		for j := start; j < end; j++ {
			col := make([]field.Felt, trace.Size)
			m.Column(j, col)
			trace.CosetIFFT(col)
			c.coeffs[j] = col

			ext := make([]field.Felt, lde.Size)
			copy(ext, col)
			lde.CosetFFT(ext)
			cols[j] = ext
		}
	})
	parallel.Execute(0, lde.Size, func(start, end int) {
		for r := start; r < end; r++ {
			row := c.evals.Row(r)
			for j := range cols {
				row[j] = cols[j][r]
			}
		}
	})
	c.tree = NewTree(cfg.Hash.New, rowLeaves(c.evals))
	return c
}

// rowLeaves serializes every matrix row as a Merkle leaf.
func rowLeaves(m *air.Matrix) [][]byte {
	leaves := make([][]byte, m.Height)
	parallel.Execute(0, m.Height, func(start, end int) {
		for r := start; r < end; r++ {
			leaves[r] = marshalRow(m.Row(r))
		}
	})
	return leaves
}

func marshalRow(row []field.Felt) []byte {
	buf := make([]byte, 0, len(row)*field.Bytes)
	for i := range row {
		b := row[i].Bytes()
		buf = append(buf, b[:]...)
	}
	return buf
}

// unmarshalRow parses a leaf back into cells. Returns false when the byte
// length does not match the expected width.
func unmarshalRow(leaf []byte, width int) ([]field.Felt, bool) {
	if len(leaf) != width*field.Bytes {
		return nil, false
	}
	row := make([]field.Felt, width)
	for i := range row {
		row[i].SetBytes(leaf[i*field.Bytes : (i+1)*field.Bytes])
	}
	return row, true
}

// openColumn evaluates the column polynomial at a challenge field point.
func openColumn(coeffs []field.Felt, at field.Ext) field.Ext {
	var res field.Ext
	for i := len(coeffs) - 1; i >= 0; i-- {
		res.Mul(&res, &at)
		t := field.ExtFromFelt(coeffs[i])
		res.Add(&res, &t)
	}
	return res
}

// openAll opens every column of the commitment at zeta and, when withNext is
// set, at gNext*zeta, appending the values in column order to out.
func (c *commitment) openAll(zeta field.Ext, gNext field.Felt, withNext bool, out []field.Ext) []field.Ext {
	for j := range c.coeffs {
		out = append(out, openColumn(c.coeffs[j], zeta))
	}
	if withNext {
		next := field.ExtScale(&zeta, gNext)
		for j := range c.coeffs {
			out = append(out, openColumn(c.coeffs[j], next))
		}
	}
	return out
}
