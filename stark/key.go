package stark

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
)

// Table binds one chip's constraint system to the proof system. The prover
// commits to the chip's main trace and, when the chip takes part in the
// lookup argument, to the aux columns derived from its interactions. Pre
// holds the preprocessed trace fixed at setup, nil when the chip has none.
//
// Tables must be listed in the same order on the prover and verifier side;
// the registry digest bound into the transcript pins that order.
type Table struct {
	Name    string
	Builder *air.Builder
	Lookup  *air.LookupSchedule
	Pre     *air.Matrix
}

// NewTable derives the lookup schedule from the builder's interactions.
func NewTable(b *air.Builder, pre *air.Matrix) Table {
	return Table{
		Name:    b.Name(),
		Builder: b,
		Lookup:  air.NewLookupSchedule(b.Interactions()),
		Pre:     pre,
	}
}

// ChipKey is the verifier-side commitment to one chip's preprocessed trace.
type ChipKey struct {
	Name    string `cbor:"1,keyasint"`
	PreRoot []byte `cbor:"2,keyasint,omitempty"`
}

// VerifierKey commits to everything the verifier needs beyond the proof
// itself: the protocol parameters, the chip registry, the trace height and
// the preprocessed roots. It identifies the program when the machine bakes
// the program image into preprocessed columns.
type VerifierKey struct {
	Version   string   `cbor:"1,keyasint"`
	Registry  [32]byte `cbor:"2,keyasint"`
	Conf      Config   `cbor:"3,keyasint"`
	LogHeight int      `cbor:"4,keyasint"`
	NbPublics int      `cbor:"5,keyasint"`
	Chips     []ChipKey `cbor:"6,keyasint"`
}

// Digest returns a binding commitment to the key. The vm layer uses it as
// the program commitment checked by external verifiers.
func (vk *VerifierKey) Digest() [32]byte {
	h := sha256.New()
	h.Write([]byte(vk.Version))
	h.Write(vk.Registry[:])
	h.Write(vk.Conf.fingerprint())
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(vk.LogHeight))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(vk.NbPublics))
	h.Write(buf[:])
	for _, c := range vk.Chips {
		binary.BigEndian.PutUint64(buf[:], uint64(len(c.Name)))
		h.Write(buf[:])
		h.Write([]byte(c.Name))
		binary.BigEndian.PutUint64(buf[:], uint64(len(c.PreRoot)))
		h.Write(buf[:])
		h.Write(c.PreRoot)
	}
	var d [32]byte
	h.Sum(d[:0])
	return d
}

// ProvingKey carries the verifier key plus the preprocessed commitments in
// opened form, so the prover does not re-extend fixed columns per proof.
type ProvingKey struct {
	VK  *VerifierKey
	pre []*commitment // indexed like the tables, nil entries for pre-less chips
}

// Setup commits to the preprocessed traces of every table and assembles the
// proving and verifier keys. Tables must carry pre matrices already padded
// to the trace height 1<<logHeight.
func Setup(cfg Config, version string, registry [32]byte, logHeight, nbPublics int, tables []Table) (*ProvingKey, *VerifierKey, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	if logHeight < 1 || logHeight+cfg.LogBlowup > field.TwoAdicity {
		return nil, nil, fmt.Errorf("stark: log height %d out of range for blowup %d", logHeight, cfg.LogBlowup)
	}
	n := 1 << logHeight
	trace := NewDomain(logHeight, field.One())
	lde := NewDomain(logHeight+cfg.LogBlowup, field.NewFelt(mulGen))

	vk := &VerifierKey{
		Version:   version,
		Registry:  registry,
		Conf:      cfg,
		LogHeight: logHeight,
		NbPublics: nbPublics,
		Chips:     make([]ChipKey, len(tables)),
	}
	pk := &ProvingKey{VK: vk, pre: make([]*commitment, len(tables))}

	for i, tb := range tables {
		vk.Chips[i].Name = tb.Name
		w := tb.Builder.PreWidth()
		if w == 0 {
			if tb.Pre != nil {
				return nil, nil, fmt.Errorf("stark: table %s has a pre matrix but zero pre width", tb.Name)
			}
			continue
		}
		if tb.Pre == nil || tb.Pre.Width != w || tb.Pre.Height != n {
			return nil, nil, fmt.Errorf("stark: table %s pre matrix does not match width %d height %d", tb.Name, w, n)
		}
		c := commitMatrix(cfg, trace, lde, tb.Pre)
		pk.pre[i] = c
		vk.Chips[i].PreRoot = c.tree.Root()
	}
	return pk, vk, nil
}
