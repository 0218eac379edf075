// Package ledger orchestrates the kernel: it applies transitions,
// evaluates invariants, measures violation, runs the budget law, and
// emits hash-linked receipts. The kernel packages underneath stay
// silent and pure; all logging and run bookkeeping lives here.
package ledger
