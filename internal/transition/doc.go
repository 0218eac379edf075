// Package transition implements the deterministic state evolution
// x_next = T(x, u): descriptors for the three transition kinds (field
// patch, kernel call, composite), the kernel registry, and total
// application that returns a new state or a typed failure without ever
// mutating its input.
package transition
