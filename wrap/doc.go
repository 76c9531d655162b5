// Package wrap compresses an aggregated proof into a Groth16 proof over
// BN254 for cheap external verification.
//
// The wrapper is a black box behind Wrap: it verifies the aggregated proof
// natively, then proves knowledge of a public value vector hashing to the
// two digests an external verifier holds. The first digest binds the reduce
// verifier key and the program key the children were verified under; the
// second binds the statement's public values. Swapping the proof system
// (PLONK, another curve) only touches this package.
package wrap
