// Package store persists receipt chains in SQLite.
//
// One database holds many runs. Each run row records the schema id,
// hash mode, and policy digest the chain was produced under; step and
// commit receipts are stored as JSON bodies keyed by (run_id, index).
// The hash columns are an index over the bodies, never a second source
// of truth: LoadChain rebuilds a receipt.Chain by re-admitting every
// body through the chain's own append checks, so a tampered row
// surfaces as a chain fault at load time, not as silent drift later.
//
// Writes are idempotent: every insert is ON CONFLICT DO NOTHING, so
// re-persisting a run after a crash never duplicates receipts and
// never overwrites an existing index slot with different bytes (the
// conflicting write is dropped and the discrepancy shows up when the
// chain is next loaded).
//
// Ordering is logical only. Receipts are read back ORDER BY their
// chain index; run listings order by id, which sorts UUIDv7 run ids
// in creation order without ever consulting wall time.
//
// The database is configured with WAL mode, synchronous=NORMAL, a
// 5 second busy timeout, foreign key enforcement, and a single open
// connection, with PRAGMA user_version tracking schema migrations.
package store
