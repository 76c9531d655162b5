// Package machine binds the RISC-V chip registry to the proof system: it
// derives the verifier key for a program, turns execution records into
// committed trace matrices, and checks the continuation chain a multi-segment
// proof claims.
//
// The machine is closed: the chip set, their column layouts and constraint
// sets are fixed at build time and pinned by a registry digest carried in
// every key and proof.
package machine
