// Package exact implements the non-negative integer quantum underlying
// all ledger arithmetic.
//
// Every operation is exact: it returns an integer result or a typed
// fault (underflow, division by zero), never an approximation. The one
// place a rational may become a Value is FromRat, which performs
// half-even rounding at an explicit integer scale. No other rounding
// exists anywhere in the ledger.
//
// Values are immutable. Canonical bytes are minimal-length big-endian
// unsigned, with zero encoding as a single 0x00 byte.
package exact
