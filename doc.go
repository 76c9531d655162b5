// Package volta provides a verifiable-computation runtime: it executes
// RV32IM guest programs and produces succinct cryptographic proofs that the
// execution was carried out correctly, without revealing the program's
// private inputs.
//
// The proving pipeline is organized in stages:
//   - executor: deterministic execution into segmented records
//   - machine + chips: arithmetization of records into trace matrices and
//     polynomial constraints
//   - stark: FRI-based proof generation and verification over KoalaBear
//   - recursion: folding of per-segment proofs into a single proof
//   - wrap: final Groth16/BN254 wrapping for cheap external verification
//
// The host-facing entry points live in the vm package.
package volta

import (
	"github.com/blang/semver/v4"
)

// Version of the protocol implemented by this module. Proof artifacts embed
// it; verifiers reject artifacts whose major version differs.
var Version = semver.MustParse("0.3.0")
