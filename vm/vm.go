package vm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	volta "github.com/volta-zk/volta"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/logger"
	"github.com/volta-zk/volta/machine"
	"github.com/volta-zk/volta/recursion"
	"github.com/volta-zk/volta/stark"
	"github.com/volta-zk/volta/wrap"
)

// Proof is the persisted artifact. Exactly one of the mode payloads is set;
// the envelope is version-gated so an incompatible verifier rejects instead
// of mis-parsing.
type Proof struct {
	Version string       `cbor:"1,keyasint"`
	Mode    Mode         `cbor:"2,keyasint"`
	Conf    stark.Config `cbor:"3,keyasint"`

	// Publics holds the per-segment public values the leaf proofs attest.
	Publics []executor.PublicValues `cbor:"4,keyasint,omitempty"`

	// Leaf payload: the verifier key identifying the program, plus the
	// segment proofs.
	VK   *stark.VerifierKey `cbor:"5,keyasint,omitempty"`
	Core *stark.Proof       `cbor:"6,keyasint,omitempty"`

	// Reduced payload: the aggregation tree root with the base proof it
	// summarizes. Wrapped mode keeps it too; the compact proof attests the
	// digests of its public vector.
	Reduced *recursion.AggregatedProof `cbor:"7,keyasint,omitempty"`

	// Wrapped payload: the compact proof in its native encoding.
	Wrapped []byte `cbor:"8,keyasint,omitempty"`
}

// Run executes the program on the given inputs and proves the execution.
// The returned public values are the final segment's: exit code, committed
// digest and boundary state. The proof verifies against the program
// commitment vk.Digest(), which Run derives deterministically from the
// program, so callers distribute only the commitment.
func Run(p *executor.Program, public, private []byte, opts ...Option) (*executor.PublicValues, *Proof, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := stark.NewConfig(o.stark...)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Logger().With().Str("backend", "vm").Str("mode", o.mode.String()).Logger()

	records, err := executor.Run(p, public, private, &executor.Options{
		MaxCycles:     o.maxCycles,
		SegmentCycles: o.segmentCycles,
	})
	if err != nil {
		return nil, nil, err
	}
	publics := make([]executor.PublicValues, len(records))
	for s, rec := range records {
		publics[s] = rec.Public
	}
	final := publics[len(publics)-1]
	log.Debug().Int("segments", len(records)).Uint32("clk", final.ClkEnd).Msg("execution complete")

	m := machine.New()
	pk, vk, err := m.Setup(cfg, p)
	if err != nil {
		return nil, nil, err
	}
	core, err := m.Prove(pk, p, records)
	if err != nil {
		return nil, nil, err
	}

	proof := &Proof{
		Version: volta.Version.String(),
		Mode:    o.mode,
		Conf:    cfg,
		Publics: publics,
	}
	switch o.mode {
	case ModeLeaf:
		proof.VK, proof.Core = vk, core
	case ModeReduced, ModeWrapped:
		agg, err := recursion.NewAggregator(cfg)
		if err != nil {
			return nil, nil, err
		}
		ap, err := agg.Aggregate(m, vk, core, publics)
		if err != nil {
			return nil, nil, err
		}
		proof.Reduced = ap
		if o.mode == ModeReduced {
			break
		}
		cp, err := wrap.Wrap(agg, ap, vk.Digest())
		if err != nil {
			return nil, nil, err
		}
		var buf bytes.Buffer
		if _, err := cp.WriteTo(&buf); err != nil {
			return nil, nil, err
		}
		proof.Wrapped = buf.Bytes()
	}
	return &final, proof, nil
}

// Commitment derives the program commitment a proof for p under cfg verifies
// against.
func Commitment(cfg stark.Config, p *executor.Program) ([32]byte, error) {
	_, vk, err := machine.New().Setup(cfg, p)
	if err != nil {
		return [32]byte{}, err
	}
	return vk.Digest(), nil
}

// Verify checks a proof against a program commitment. Structural damage
// surfaces as stark.ErrProofMalformed; a well-formed proof that does not
// attest the claimed execution fails with stark.ErrInvalidProof.
func Verify(programVK [32]byte, p *Proof) error {
	if err := volta.CheckArtifactVersion(p.Version); err != nil {
		return fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	switch p.Mode {
	case ModeLeaf:
		if p.VK == nil || p.Core == nil {
			return fmt.Errorf("%w: missing leaf payload", stark.ErrProofMalformed)
		}
		if p.VK.Digest() != programVK {
			return fmt.Errorf("%w: key does not match the program commitment", stark.ErrInvalidProof)
		}
		return machine.New().Verify(p.VK, p.Core, p.Publics)

	case ModeReduced:
		if p.Reduced == nil {
			return fmt.Errorf("%w: missing reduce payload", stark.ErrProofMalformed)
		}
		agg, err := recursion.NewAggregator(p.Conf)
		if err != nil {
			return err
		}
		return agg.Verify(p.Reduced, programVK)

	case ModeWrapped:
		if p.Reduced == nil || len(p.Wrapped) == 0 {
			return fmt.Errorf("%w: missing wrap payload", stark.ErrProofMalformed)
		}
		agg, err := recursion.NewAggregator(p.Conf)
		if err != nil {
			return err
		}
		if err := agg.Verify(p.Reduced, programVK); err != nil {
			return err
		}
		var cp wrap.CompactProof
		if _, err := cp.ReadFrom(bytes.NewReader(p.Wrapped)); err != nil {
			return err
		}
		vkD := wrap.KeyDigest(agg.ReduceVK(), p.Reduced.ChildVK)
		pvD := wrap.PublicDigest(p.Reduced.Publics())
		return wrap.VerifyWrapped(&cp, vkD, pvD)

	default:
		return fmt.Errorf("%w: unknown proof mode %d", stark.ErrProofMalformed, p.Mode)
	}
}

var vmEncMode, _ = cbor.CanonicalEncOptions().EncMode()
var vmDecMode, _ = cbor.DecOptions{
	MaxArrayElements: 1 << 26,
	MaxMapPairs:      1 << 26,
}.DecMode()

// WriteTo serializes the artifact as canonical CBOR.
func (p *Proof) WriteTo(w io.Writer) (int64, error) {
	buf, err := vmEncMode.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("vm: encode proof: %w", err)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom deserializes an artifact written by WriteTo, rejecting
// incompatible protocol versions before any payload is inspected.
func (p *Proof) ReadFrom(r io.Reader) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return int64(len(buf)), err
	}
	if err := vmDecMode.Unmarshal(buf, p); err != nil {
		return int64(len(buf)), fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	if err := volta.CheckArtifactVersion(p.Version); err != nil {
		return int64(len(buf)), fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	return int64(len(buf)), nil
}
