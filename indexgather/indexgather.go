// Package indexgather implements the index-gather benchmark: given a
// Block-distributed table of values and a list of global indices,
// return table[indices[p]] for every position p (spec.md §8's
// "Index-gather: returned value at position p equals table[indices[p]]
// for all p"). The Single and Buffered variants return these values; the
// AM-group variant fetches them but discards them and returns nil Values
// (see group.go). This is the canonical "AM with a return value"
// consumer spec.md §1 names.
//
// Grounded on original_source/index_gather/src/index_gather_am.rs (one
// AM per index), index_gather_buffered_am.rs (per-destination buffered
// gather requests), and index_gather_am_group_u32.rs (AM-group fan-out).
package indexgather

import "time"

// Config is the per-run parameter record: table size and the global
// indices to gather.
type Config struct {
	TableSize int
	Indices   []int
}

// Result is the gathered values, in Indices order, plus the run time.
type Result struct {
	Values []uint64
	Time   time.Duration
}
