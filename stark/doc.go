// Package stark proves and verifies the execution of a set of chips over a
// shared power-of-two trace domain.
//
// The prover commits every chip's main trace columns on a coset low degree
// extension, derives lookup challenges, commits the lookup auxiliary
// columns, folds all constraint identities into one quotient polynomial,
// and runs DEEP-ALI with a radix-2 FRI to bind the out-of-domain openings
// to the commitments. The verifier replays the transcript, checks the
// folded constraint identity at the out-of-domain point, and checks the
// FRI queries against the Merkle roots.
//
// The package is machine agnostic: it consumes tables (a constraint
// builder, a lookup schedule and trace matrices) and never inspects what
// the chips mean. The machine and recursion packages each instantiate it
// with their own registries.
package stark
