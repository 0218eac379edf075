// Package harness runs YAML ledger scenarios against the real step
// executor and pins their transcripts as golden files.
//
// A scenario names a CUE definition, an initial state and debt, and a
// flow of budgeted transitions. The harness compiles the definition,
// begins a run, drives every step through the executor, and evaluates
// assertions over the resulting receipt chain. Nothing is manufactured:
// expected debts and service amounts are compared against what the
// executor actually produced, and a step the ledger rejects leaves the
// run exactly as the fail-fast contract promises.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: treasury_paydown
//	description: "Two serviced steps pay the debt to zero"
//	definition: defs/treasury.cue
//	run_token: run-treasury-paydown
//	initial:
//	  fields: { reserve: 100, drift: 0 }
//	  debt: 100
//	steps:
//	  - transition: t:drain-a
//	    set: { reserve: 60 }
//	    budget: 50
//	    expect: { debt_after: 50, service: 50 }
//	  - transition: t:overload
//	    set: { reserve: 10 }
//	    budget: 50
//	    disturbance: 30
//	    fail: DISTURBANCE_EXCEEDED
//	commit: true
//	assertions:
//	  - type: final_debt
//	    value: 0
//	  - type: chain_length
//	    count: 2
//	  - type: verify_clean
//
// The definition path resolves relative to the scenario file. Field
// values in initial.fields and step set blocks are keyed by declared
// field name and typed by the compiled schema: integers stay integers,
// rational fields take integers or strings like "3/2", bytes fields
// take unpadded base64url text, and reference fields take a declared
// name or a full field id. Floating-point literals are rejected unless
// the definition's policy selects convert_once, in which case a float
// entering a rational field is converted exactly once at this boundary.
//
// Debt, budget, and disturbance quantities are non-negative integers,
// written as YAML integers or digit strings.
//
// # Step Outcomes
//
// A step either expects a receipt or expects rejection. With expect,
// the receipt's debt_after and service_provided are checked against the
// clause; mismatches fail the scenario but the run continues. With
// fail, the step must be rejected with the named fault code, no receipt
// may exist for it, and the run state must be untouched.
//
// # Assertion Types
//
//   - final_debt: the run's outstanding debt after the flow
//   - chain_length: the number of step receipts appended
//   - commit_count: the number of commit receipts appended
//   - final_state: declared fields of the final state (subset match)
//   - verify_clean: the replay verifier finds no violations
//
// # Determinism
//
// Run tokens come from the scenario (run_token, defaulting to
// "run-" + name), never from a clock or random source, so two
// executions of the same scenario produce identical transcripts and
// golden comparison is byte-stable. Receipt hashes are exercised by the
// chain itself and by the verify_clean assertion; transcripts record
// the semantic trajectory (debts, budgets, service, disturbances) the
// way the flow intended it to read.
package harness
