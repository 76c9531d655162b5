// Package recursion folds a multi-segment execution proof into a single
// constant-size proof.
//
// The aggregation machine is a second, much smaller chip registry over the
// same field: a chain chip whose rows are the statements of up to eight
// child proofs, and a digest chip that binds every child's verifier key to
// the parent statement over the digest bus. Each reduce step natively
// verifies its children, merges their statements, and proves the merge;
// reduce proofs feed the next level of a bounded-arity tree until one proof
// remains. That final proof is what the wrap package compresses for
// external verifiers.
package recursion
