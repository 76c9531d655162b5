package recursion

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/errgroup"

	volta "github.com/volta-zk/volta"
	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/executor"
	"github.com/volta-zk/volta/field"
	"github.com/volta-zk/volta/logger"
	"github.com/volta-zk/volta/machine"
	"github.com/volta-zk/volta/profile"
	"github.com/volta-zk/volta/stark"
)

// AggregatedProof is one reduce proof with its statement. ChildVK is the
// digest of the key the statement's children were verified under: the base
// machine key after the first reduce level, the reduce key above it.
//
// The reduce AIR chains child statements but does not re-run the child
// verifiers in constraints, so the root of the tree also carries the base
// machine proof it summarizes. Verify re-checks it; a reduce proof alone
// attests nothing. Intermediate tree nodes leave the base payload empty.
type AggregatedProof struct {
	Statement Statement    `cbor:"1,keyasint"`
	ChildVK   [32]byte     `cbor:"2,keyasint"`
	Proof     *stark.Proof `cbor:"3,keyasint"`

	// Base payload, set on the tree root only.
	CoreVK      *stark.VerifierKey      `cbor:"4,keyasint,omitempty"`
	Core        *stark.Proof            `cbor:"5,keyasint,omitempty"`
	CorePublics []executor.PublicValues `cbor:"6,keyasint,omitempty"`
}

var aggEncMode, _ = cbor.CanonicalEncOptions().EncMode()
var aggDecMode, _ = cbor.DecOptions{
	MaxArrayElements: 1 << 26,
	MaxMapPairs:      1 << 26,
}.DecMode()

// WriteTo serializes the proof as canonical CBOR.
func (p *AggregatedProof) WriteTo(w io.Writer) (int64, error) {
	buf, err := aggEncMode.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("recursion: encode proof: %w", err)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom deserializes a proof written by WriteTo.
func (p *AggregatedProof) ReadFrom(r io.Reader) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return int64(len(buf)), err
	}
	if err := aggDecMode.Unmarshal(buf, p); err != nil {
		return int64(len(buf)), fmt.Errorf("%w: %s", stark.ErrProofMalformed, err)
	}
	return int64(len(buf)), nil
}

// Aggregator holds the reduce machine and its keys. The reduce machine has
// no preprocessed columns, so one key pair serves every program and every
// tree level, including reductions of its own proofs.
type Aggregator struct {
	builders []*air.Builder
	tables   []stark.Table
	pk       *stark.ProvingKey
	vk       *stark.VerifierKey
	reduceVK [32]byte
}

// NewAggregator sets up the reduce machine under cfg.
func NewAggregator(cfg stark.Config) (*Aggregator, error) {
	cs := []air.Chip{chainChip{}, digestChip{}}
	a := &Aggregator{builders: make([]*air.Builder, len(cs))}
	for i, c := range cs {
		b := air.NewBuilder(c.Name(), c.MainWidth(), c.PreprocessedWidth(), NbPublics)
		c.Eval(b)
		a.builders[i] = b
		a.tables = append(a.tables, stark.NewTable(b, nil))
		profile.RecordBuilder(b)
	}
	pk, vk, err := stark.Setup(cfg, volta.Version.String(), a.registry(), reduceLog, NbPublics, a.tables)
	if err != nil {
		return nil, err
	}
	a.pk, a.vk = pk, vk
	a.reduceVK = vk.Digest()
	return a, nil
}

// registry commits to the reduce chip set the same way the base machine
// commits to its registry.
func (a *Aggregator) registry() [32]byte {
	h := sha256.New()
	var buf [8]byte
	u := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	u(NbPublics)
	u(len(a.builders))
	for _, b := range a.builders {
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

// ReduceVK returns the digest of the reduce verifier key.
func (a *Aggregator) ReduceVK() [32]byte { return a.reduceVK }

// Publics returns the proof's public value vector: the statement's boundary
// fields followed by the child verifier key limbs.
func (p *AggregatedProof) Publics() []field.Felt {
	return PublicVector(&p.Statement, p.ChildVK)
}

// VerifierKey returns the reduce verifier key.
func (a *Aggregator) VerifierKey() *stark.VerifierKey { return a.vk }

// Aggregate folds a base execution proof into a single reduce proof. The
// base proof is verified natively first; its segments become leaf statements
// reduced level by level in chunks of at most eight, every level verifying
// its children before proving the merge. Even a single-segment execution
// goes through one reduce, so the result is always a proof of the reduce
// machine.
func (a *Aggregator) Aggregate(m *machine.Machine, vk *stark.VerifierKey, proof *stark.Proof, publics []executor.PublicValues) (*AggregatedProof, error) {
	if err := m.Verify(vk, proof, publics); err != nil {
		return nil, fmt.Errorf("recursion: base proof: %w", err)
	}
	baseVK := vk.Digest()
	leaves := make([]Statement, len(publics))
	for s := range publics {
		leaves[s] = LeafStatement(&publics[s], baseVK)
	}

	log := logger.Logger().With().Str("backend", "recursion").Int("leaves", len(leaves)).Logger()
	level, err := a.reduceLevel(leaves)
	if err != nil {
		return nil, err
	}
	for depth := 1; len(level) > 1; depth++ {
		stmts := make([]Statement, len(level))
		for i, p := range level {
			if err := a.verifyReduce(p); err != nil {
				return nil, fmt.Errorf("recursion: level %d child %d: %w", depth, i, err)
			}
			stmts[i] = p.Statement
		}
		if level, err = a.reduceLevel(stmts); err != nil {
			return nil, err
		}
		log.Debug().Int("depth", depth).Int("proofs", len(level)).Msg("level reduced")
	}
	root := level[0]
	root.CoreVK, root.Core, root.CorePublics = vk, proof, publics
	return root, nil
}

// reduceLevel proves one tree level: each chunk of up to reduceArity child
// statements becomes one reduce proof.
func (a *Aggregator) reduceLevel(children []Statement) ([]*AggregatedProof, error) {
	out := make([]*AggregatedProof, (len(children)+reduceArity-1)/reduceArity)
	var g errgroup.Group
	for i := range out {
		g.Go(func() error {
			lo := i * reduceArity
			hi := min(lo+reduceArity, len(children))
			p, err := a.reduce(children[lo:hi])
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// reduce merges one chunk of child statements and proves the merge.
func (a *Aggregator) reduce(children []Statement) (*AggregatedProof, error) {
	parent, err := mergeStatements(children)
	if err != nil {
		return nil, err
	}
	childVK := children[0].VK
	parent.VK = a.reduceVK

	chain, digest := reduceTraces(children, childVK)
	wit := &stark.Witness{
		Main:    []*air.Matrix{chain, digest},
		Publics: PublicVector(&parent, childVK),
	}
	proof, err := stark.Prove(a.pk, a.tables, []*stark.Witness{wit})
	if err != nil {
		return nil, err
	}
	return &AggregatedProof{Statement: parent, ChildVK: childVK, Proof: proof}, nil
}

// verifyReduce checks one reduce proof against its statement.
func (a *Aggregator) verifyReduce(p *AggregatedProof) error {
	if p.Statement.VK != a.reduceVK {
		return fmt.Errorf("%w: statement key is not the reduce key", stark.ErrInvalidProof)
	}
	return stark.Verify(a.vk, a.tables, p.Proof, [][]field.Felt{PublicVector(&p.Statement, p.ChildVK)})
}

// Verify checks an aggregated proof of a complete execution of the program
// committed to by baseVK: the carried base machine proof verifies under the
// program key, the statement equals the merge of the verified segments, and
// the reduce proof verifies under the reduce key.
func (a *Aggregator) Verify(p *AggregatedProof, baseVK [32]byte) error {
	s := &p.Statement
	if !s.IsFirst || !s.IsLast || s.SegFirst != 0 {
		return fmt.Errorf("%w: statement does not span the execution", stark.ErrInvalidProof)
	}
	if p.ChildVK != baseVK && p.ChildVK != a.reduceVK {
		return fmt.Errorf("%w: children verified under an unknown key", stark.ErrInvalidProof)
	}
	if p.CoreVK == nil || p.Core == nil || len(p.CorePublics) == 0 {
		return fmt.Errorf("%w: missing base proof", stark.ErrProofMalformed)
	}
	if p.CoreVK.Digest() != baseVK {
		return fmt.Errorf("%w: base key does not match the program commitment", stark.ErrInvalidProof)
	}
	if err := machine.New().Verify(p.CoreVK, p.Core, p.CorePublics); err != nil {
		return fmt.Errorf("recursion: base proof: %w", err)
	}

	// The statement must be exactly what the verified segments attest.
	leaves := make([]Statement, len(p.CorePublics))
	for i := range p.CorePublics {
		leaves[i] = LeafStatement(&p.CorePublics[i], baseVK)
	}
	want, err := mergeStatements(leaves)
	if err != nil {
		return fmt.Errorf("%w: %s", stark.ErrInvalidProof, err)
	}
	want.VK = a.reduceVK
	if *s != want {
		return fmt.Errorf("%w: statement does not match the verified segments", stark.ErrInvalidProof)
	}
	return a.verifyReduce(p)
}
