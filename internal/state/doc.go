// Package state implements the typed immutable field store.
//
// A Schema declares field definitions grouped into blocks; a State maps
// field identifiers to values conforming to their declared types. States
// never mutate: every transform returns a new State, so a frozen State
// can be shared across goroutines without coordination.
//
// Values form a sealed union (Int, Rat, Bool, Text, Bytes, Ref). There
// is deliberately no float variant; anything fractional must be an
// exact rational.
package state
