// Package law implements the budget/debt recurrence: service laws
// that decide how much debt a budget can service, disturbance policies
// that bound externally injected debt, the single-step evaluation
// debt_after = max(0, debt_before - service) + disturbance, and the
// measured gate that approves a step against an epsilon bound.
//
// Service laws and disturbance policies are closed unions. Every
// variant is deterministic and works in exact integer quanta; the only
// division is exact floor division inside a law, which never rounds up.
package law
