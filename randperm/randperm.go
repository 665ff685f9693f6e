// Package randperm implements the "dart throwing" random-permutation
// engine of spec.md §4.9: nine variants of the same algorithm — throw N
// darts at a target table of N·target_factor sentinel-initialized slots,
// retry on collision, then compact survivors into a Block-distributed
// result array — each varying how the target slot/PE is chosen and how
// outbound active messages are buffered.
//
// Grounded on original_source/randperm/src/randperm.rs (the array-CAS
// baseline) and the active_message/*.rs variants named in the per-file
// doc comments; every variant shares the Config/Result shape and the
// prefix-sum compaction step (Compactor, in compactor.go) described by
// spec.md §4.9 step 7.
package randperm

import (
	"time"

	"github.com/pgasdart/runtime/darray"
)

// Sentinel marks an empty target-table slot (spec.md §3: "initial
// SENTINEL = max-representable").
const Sentinel uint64 = ^uint64(0)

// Config is the per-run parameter record spec.md §1 describes the core
// as consuming from its external CLI/config collaborator: table size,
// update count, launch threads, buffer size, and a seed for the per-PE
// RNG.
type Config struct {
	// N is the number of darts (and the size of the final permutation).
	N int
	// TargetFactor sizes the target table at N*TargetFactor slots.
	TargetFactor int
	// LaunchThreads is the number of local tasks each PE fans the launch
	// phase out across (spec.md §4.9 step 3).
	LaunchThreads int
	// BufferSize bounds the buffered variants' per-destination outbound
	// buffer (spec.md §4.9, buffered-CAS/-remote).
	BufferSize int
	// Seed seeds this PE's RNG, combined with the PE index so every PE
	// draws an independent stream.
	Seed int64
}

// Result is one variant's output: this PE's pre-redistribution survivor
// values, the Block-distributed result array R they were written into at
// this PE's computed offset (spec.md §3's "result array R of N slots",
// §4.9 step 7's "put D into R at that offset"), and the two timings
// spec.md's benchmark-level collaborator records.
type Result struct {
	Local       []uint64
	R           *darray.AtomicArray[uint64]
	Offset      int
	Total       int
	PermuteTime time.Duration
	CollectTime time.Duration
}

func (cfg Config) tableSize() int {
	return cfg.N * cfg.TargetFactor
}

// newResultArray collectively builds R, the N-slot Block-distributed
// array every variant compacts its survivors into.
func newResultArray(mgr *darray.Manager, cfg Config) *darray.AtomicArray[uint64] {
	return darray.NewAtomic[uint64](mgr, cfg.N, darray.Block)
}

// sourceRange returns this PE's contiguous slice of [0, N) to throw as
// darts (spec.md §4.9 step 2).
func (cfg Config) sourceRange(pe, numPEs int) (start, end int) {
	start = pe * cfg.N / numPEs
	end = (pe + 1) * cfg.N / numPEs
	return start, end
}

// launchChunks splits [start, end) into at most LaunchThreads contiguous
// sub-ranges (spec.md §4.9 step 3: "each handles a contiguous sub-range
// of sources").
func (cfg Config) launchChunks(start, end int) [][2]int {
	threads := cfg.LaunchThreads
	if threads <= 0 {
		threads = 1
	}
	total := end - start
	if total <= 0 {
		return nil
	}
	if threads > total {
		threads = total
	}
	chunks := make([][2]int, 0, threads)
	base := total / threads
	rem := total % threads
	cur := start
	for i := 0; i < threads; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, [2]int{cur, cur + size})
		cur += size
	}
	return chunks
}
