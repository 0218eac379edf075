// Package verify replays a receipt chain against the policies that
// produced it. It re-derives every hash, linkage, and law constraint
// without re-executing the transitions, accumulates every violation in
// a single pass instead of stopping at the first, and never mutates
// its inputs.
package verify
