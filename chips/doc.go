// Package chips arithmetizes the executor: every chip turns one class of
// execution events into a trace table plus the constraints and bus
// interactions that tie the table to the rest of the machine.
//
// Chips never trust each other's values directly. A chip that needs a fact
// from another table requests it over a bus: the CPU sends an ALU operation,
// the add/sub chip receives it and proves the arithmetic, and the lookup
// argument forces the two sides to agree. The same pattern carries memory
// accesses, byte range checks, instruction fetches and syscall dispatch.
//
// Limb convention: 32-bit machine words are laid out as four little-endian
// byte columns. A word travels over buses as four separate fields, because a
// packed word does not fit the 31-bit trace field. Addresses and clocks are
// bounded below 2^30 and travel packed.
package chips
