// Package vm is the host entry point to the proving pipeline.
//
// Run executes a guest program and proves the execution at the requested
// strength: per-segment proofs, one aggregated proof, or a wrapped compact
// proof. Verify checks a persisted artifact against a program commitment
// alone; it needs no access to the program image or the private input.
package vm
