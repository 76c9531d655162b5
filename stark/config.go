package stark

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashID selects the Merkle and transcript hash. It is part of the protocol
// parameters a proof is bound to, so it is a serializable identifier rather
// than a function value.
type HashID uint8

const (
	HashSHA256 HashID = iota + 1
	HashSHA3
	HashBLAKE2b
)

// New constructs the hash.
func (h HashID) New() hash.Hash {
	switch h {
	case HashSHA256:
		return sha256.New()
	case HashSHA3:
		return sha3.New256()
	case HashBLAKE2b:
		hh, err := blake2b.New256(nil)
		if err != nil {
			panic(err) // unreachable without a key
		}
		return hh
	default:
		panic(fmt.Sprintf("stark: unknown hash id %d", h))
	}
}

func (h HashID) valid() bool { return h >= HashSHA256 && h <= HashBLAKE2b }

func (h HashID) String() string {
	switch h {
	case HashSHA256:
		return "sha256"
	case HashSHA3:
		return "sha3-256"
	case HashBLAKE2b:
		return "blake2b-256"
	default:
		return fmt.Sprintf("hash(%d)", uint8(h))
	}
}

// Config fixes the commitment parameters of a proof system instance. Both
// sides must use the same configuration; it is baked into the verifier key
// and bound into the transcript so a mismatched verifier rejects
// deterministically.
type Config struct {
	// LogBlowup is the log2 rate of the low degree extension. The quotient
	// polynomial spans MaxDegree-1 trace-size chunks, so the blowup must
	// cover it.
	LogBlowup int `cbor:"1,keyasint"`

	// NbQueries is the number of FRI query rounds.
	NbQueries int `cbor:"2,keyasint"`

	// FinalDegree bounds the degree of the polynomial the FRI fold stops at
	// and ships in clear.
	FinalDegree int `cbor:"3,keyasint"`

	// PowBits is the grinding difficulty on the query seed. Zero disables
	// grinding.
	PowBits int `cbor:"4,keyasint"`

	// Hash builds the Merkle trees and the transcript. Its digest must be at
	// least 32 bytes so a full challenge field element can be sampled from
	// one output.
	Hash HashID `cbor:"5,keyasint"`
}

// DefaultConfig returns the production parameters: rate 1/4, 80 queries,
// degree-1 final polynomial, no grinding, SHA-256.
func DefaultConfig() Config {
	return Config{
		LogBlowup:   2,
		NbQueries:   80,
		FinalDegree: 1,
		PowBits:     0,
		Hash:        HashSHA256,
	}
}

// Option mutates a Config under construction.
type Option func(*Config) error

// NewConfig builds a Config from the defaults and the given options.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LogBlowup < 2 || c.LogBlowup > 4 {
		return fmt.Errorf("stark: log blowup %d out of range [2,4]", c.LogBlowup)
	}
	if c.NbQueries < 1 {
		return fmt.Errorf("stark: query count %d must be positive", c.NbQueries)
	}
	if c.FinalDegree < 0 {
		return fmt.Errorf("stark: negative final degree %d", c.FinalDegree)
	}
	if c.PowBits < 0 || c.PowBits > 32 {
		return fmt.Errorf("stark: grinding bits %d out of range [0,32]", c.PowBits)
	}
	if !c.Hash.valid() {
		return fmt.Errorf("stark: unknown hash id %d", c.Hash)
	}
	return nil
}

// WithBlowup sets the log2 blowup of the low degree extension.
func WithBlowup(logBlowup int) Option {
	return func(c *Config) error {
		c.LogBlowup = logBlowup
		return nil
	}
}

// WithQueries sets the FRI query count.
func WithQueries(n int) Option {
	return func(c *Config) error {
		c.NbQueries = n
		return nil
	}
}

// WithFinalDegree sets the FRI final polynomial degree bound.
func WithFinalDegree(d int) Option {
	return func(c *Config) error {
		c.FinalDegree = d
		return nil
	}
}

// WithPow sets the grinding difficulty in bits.
func WithPow(bits int) Option {
	return func(c *Config) error {
		c.PowBits = bits
		return nil
	}
}

// WithHash selects the Merkle and transcript hash.
func WithHash(h HashID) Option {
	return func(c *Config) error {
		if !h.valid() {
			return fmt.Errorf("stark: unknown hash id %d", h)
		}
		c.Hash = h
		return nil
	}
}

// blowup returns the extension factor.
func (c *Config) blowup() int { return 1 << c.LogBlowup }

// fingerprint serializes the parameters for transcript binding.
func (c *Config) fingerprint() []byte {
	return []byte{
		byte(c.LogBlowup),
		byte(c.NbQueries >> 8), byte(c.NbQueries),
		byte(c.FinalDegree >> 8), byte(c.FinalDegree),
		byte(c.PowBits),
		byte(c.Hash),
	}
}
