package stark

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/volta-zk/volta/field"
)

// TreeOpening carries the opened leaves of one Merkle tree at the query
// positions, in ascending index order, plus the batched authentication path.
type TreeOpening struct {
	Leaves [][]byte   `cbor:"1,keyasint"`
	Proof  BatchProof `cbor:"2,keyasint"`
}

// SegmentProof attests one segment of the execution. Commitments and
// openings are laid out in table registry order; the Openings blob holds the
// out-of-domain values in the canonical column walk (per table: preprocessed,
// main, aux, each at zeta then at g*zeta; then the quotient chunks at zeta).
type SegmentProof struct {
	MainRoots    [][]byte      `cbor:"1,keyasint"`
	AuxRoots     [][]byte      `cbor:"2,keyasint"`
	Claimed      []byte        `cbor:"3,keyasint"`
	QuotientRoot []byte        `cbor:"4,keyasint"`
	Openings     []byte        `cbor:"5,keyasint"`
	FriRoots     [][]byte      `cbor:"6,keyasint,omitempty"`
	FriFinal     []byte        `cbor:"7,keyasint"`
	PowNonce     uint64        `cbor:"8,keyasint,omitempty"`
	PreQ         []TreeOpening `cbor:"9,keyasint"`
	MainQ        []TreeOpening `cbor:"10,keyasint"`
	AuxQ         []TreeOpening `cbor:"11,keyasint"`
	QuotientQ    TreeOpening   `cbor:"12,keyasint"`
	LayerQ       []TreeOpening `cbor:"13,keyasint,omitempty"`
}

// Proof attests a whole execution: one segment proof per execution segment,
// sharing the lookup challenges derived from every segment's commitments so
// the memory and byte multisets cancel across segment boundaries.
type Proof struct {
	Version  string          `cbor:"1,keyasint"`
	Registry [32]byte        `cbor:"2,keyasint"`
	Segments []*SegmentProof `cbor:"3,keyasint"`
}

// claimedSum returns table i's claimed lookup sum.
func (sp *SegmentProof) claimedSum(i int) field.Ext {
	return field.ExtUnmarshal(sp.Claimed[i*field.ExtBytes:])
}

// LookupSum returns the sum of every claimed lookup sum of the segment.
func (sp *SegmentProof) LookupSum() field.Ext {
	var sum field.Ext
	for off := 0; off+field.ExtBytes <= len(sp.Claimed); off += field.ExtBytes {
		v := field.ExtUnmarshal(sp.Claimed[off:])
		sum.Add(&sum, &v)
	}
	return sum
}

// openingAt returns out-of-domain value i of the canonical opening walk.
func (sp *SegmentProof) openingAt(i int) field.Ext {
	return field.ExtUnmarshal(sp.Openings[i*field.ExtBytes:])
}

var proofEncMode, _ = cbor.CanonicalEncOptions().EncMode()
var proofDecMode, _ = cbor.DecOptions{
	MaxArrayElements: 1 << 26,
	MaxMapPairs:      1 << 26,
}.DecMode()

// WriteTo serializes the proof. The encoding is canonical CBOR, so equal
// proofs serialize to equal bytes.
func (p *Proof) WriteTo(w io.Writer) (int64, error) {
	buf, err := proofEncMode.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("stark: encode proof: %w", err)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom deserializes a proof written by WriteTo. Structural damage
// surfaces as ErrProofMalformed; cryptographic validity is only decided by
// Verify.
func (p *Proof) ReadFrom(r io.Reader) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return int64(len(buf)), err
	}
	if err := proofDecMode.Unmarshal(buf, p); err != nil {
		return int64(len(buf)), fmt.Errorf("%w: %s", ErrProofMalformed, err)
	}
	return int64(len(buf)), nil
}
