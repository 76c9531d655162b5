package wrap

import (
	"fmt"
	"io"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/logger"
	"github.com/volta-zk/volta/recursion"
	"github.com/volta-zk/volta/stark"
)

// CompactProof is the externally consumed artifact: a Groth16 proof over the
// two digests it is valid for. The verifying key travels with the proof so
// any process can check it; a production deployment would pin a ceremony key
// instead.
type CompactProof struct {
	VKDigest [32]byte
	PVDigest [32]byte
	VK       groth16.VerifyingKey
	Proof    groth16.Proof
}

// The wrap circuit has one fixed shape, so it is compiled and set up once
// per process. The setup is an in-process SRS generation, not a ceremony.
var (
	wrapOnce sync.Once
	wrapCS   constraint.ConstraintSystem
	wrapPK   groth16.ProvingKey
	wrapVK   groth16.VerifyingKey
	wrapErr  error
)

func setup() error {
	wrapOnce.Do(func() {
		log := logger.Logger().With().Str("backend", "wrap").Logger()
		cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &wrapCircuit{})
		if err != nil {
			wrapErr = fmt.Errorf("wrap: compile: %w", err)
			return
		}
		pk, vk, err := groth16.Setup(cs)
		if err != nil {
			wrapErr = fmt.Errorf("wrap: setup: %w", err)
			return
		}
		wrapCS, wrapPK, wrapVK = cs, pk, vk
		log.Debug().Int("constraints", cs.GetNbConstraints()).Msg("wrap circuit ready")
	})
	return wrapErr
}

func hashUints(h io.Writer, vs []uint64) {
	for _, v := range vs {
		var e fr.Element
		e.SetUint64(v)
		b := e.Bytes()
		h.Write(b[:])
	}
}

// PublicDigest hashes a public value vector the way the wrap circuit does.
func PublicDigest(publics []field.Felt) [32]byte {
	h := mimc.NewMiMC()
	vs := make([]uint64, len(publics))
	for i := range publics {
		vs[i] = field.FeltUint64(&publics[i])
	}
	hashUints(h, vs)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// KeyDigest hashes the reduce verifier key and the child verifier key the
// way the wrap circuit does.
func KeyDigest(reduceVK, childVK [32]byte) [32]byte {
	h := mimc.NewMiMC()
	for _, d := range [2][32]byte{reduceVK, childVK} {
		limbs := recursion.DigestLimbs(d)
		vs := make([]uint64, len(limbs))
		for i, l := range limbs {
			vs[i] = uint64(l)
		}
		hashUints(h, vs)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Wrap compresses an aggregated proof of the program committed to by
// programVK. The aggregated proof is verified natively first; the Groth16
// proof then attests knowledge of the public vector behind the digests.
func Wrap(agg *recursion.Aggregator, p *recursion.AggregatedProof, programVK [32]byte) (*CompactProof, error) {
	if err := agg.Verify(p, programVK); err != nil {
		return nil, err
	}
	return proveCompact(agg.ReduceVK(), p.Publics(), p.ChildVK)
}

func proveCompact(reduceVK [32]byte, publics []field.Felt, childVK [32]byte) (*CompactProof, error) {
	if len(publics) != recursion.NbPublics {
		return nil, fmt.Errorf("wrap: %d public values, want %d", len(publics), recursion.NbPublics)
	}
	if err := setup(); err != nil {
		return nil, err
	}
	vkD := KeyDigest(reduceVK, childVK)
	pvD := PublicDigest(publics)

	assignment := &wrapCircuit{VKDigest: vkD[:], PVDigest: pvD[:]}
	for i, l := range recursion.DigestLimbs(reduceVK) {
		assignment.ReduceVK[i] = l
	}
	for i := range publics {
		assignment.Publics[i] = field.FeltUint64(&publics[i])
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("wrap: witness: %w", err)
	}
	proof, err := groth16.Prove(wrapCS, wrapPK, w)
	if err != nil {
		return nil, fmt.Errorf("wrap: prove: %w", err)
	}
	return &CompactProof{VKDigest: vkD, PVDigest: pvD, VK: wrapVK, Proof: proof}, nil
}

// VerifyWrapped checks a compact proof against the digests the caller
// derived independently with KeyDigest and PublicDigest.
func VerifyWrapped(p *CompactProof, vkDigest, pvDigest [32]byte) error {
	if p.VK == nil || p.Proof == nil {
		return fmt.Errorf("%w: missing wrap key or proof", stark.ErrProofMalformed)
	}
	if p.VKDigest != vkDigest || p.PVDigest != pvDigest {
		return fmt.Errorf("%w: digest mismatch", stark.ErrInvalidProof)
	}
	pub := &wrapCircuit{VKDigest: vkDigest[:], PVDigest: pvDigest[:]}
	w, err := frontend.NewWitness(pub, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("wrap: witness: %w", err)
	}
	if err := groth16.Verify(p.Proof, p.VK, w); err != nil {
		return fmt.Errorf("%w: %s", stark.ErrInvalidProof, err)
	}
	return nil
}

// WriteTo serializes the compact proof: the two digests, then the verifying
// key and the Groth16 proof in gnark's native encoding.
func (p *CompactProof) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, d := range [2][32]byte{p.VKDigest, p.PVDigest} {
		n, err := w.Write(d[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	n, err := p.VK.WriteTo(w)
	total += n
	if err != nil {
		return total, err
	}
	n, err = p.Proof.WriteTo(w)
	return total + n, err
}

// ReadFrom deserializes a compact proof written by WriteTo.
func (p *CompactProof) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for _, d := range []*[32]byte{&p.VKDigest, &p.PVDigest} {
		n, err := io.ReadFull(r, d[:])
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
		}
	}
	p.VK = groth16.NewVerifyingKey(ecc.BN254)
	n, err := p.VK.ReadFrom(r)
	total += n
	if err != nil {
		return total, fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	p.Proof = groth16.NewProof(ecc.BN254)
	n, err = p.Proof.ReadFrom(r)
	total += n
	if err != nil {
		return total, fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	return total, nil
}
