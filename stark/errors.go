package stark

import "errors"

var (
	// ErrInvalidProof is returned by Verify when a well-formed proof fails a
	// cryptographic check. It carries no detail about which check failed
	// beyond wrapping context; verification is deterministic and
	// side-effect free.
	ErrInvalidProof = errors.New("stark: invalid proof")

	// ErrProofMalformed is returned when a proof does not match the verifier
	// key's shape or protocol version before any cryptographic check runs.
	ErrProofMalformed = errors.New("stark: malformed proof")

	// ErrProofGeneration wraps internal failures of the prover.
	ErrProofGeneration = errors.New("stark: proof generation failed")
)
