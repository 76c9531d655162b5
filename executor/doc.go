// Package executor runs RV32IM guest programs deterministically and logs
// everything the arithmetization needs: one event per cycle, one memory
// record per access, and one event per precompile invocation.
//
// The guest address space is word addressed below 1<<29. Three regions are
// reserved by convention:
//
//   - RegisterBase: the 32 general purpose registers, one word each. The
//     register file is ordinary memory so a single memory consistency
//     argument covers both.
//   - PublicInputBase / PrivateInputBase: host provided input streams,
//     mapped read-only before execution as part of the initial image. Word
//     zero of each region holds the byte length, data follows.
//
// Execution cuts segments so that every chip of the machine stays under the
// uniform trace height. Each segment yields a Record; the clock never
// resets, so the memory argument spans segment boundaries.
package executor
