// Package histogram implements the histogram benchmark: launch_threads
// local tasks per PE each issue updates random-bucket increments against
// a Block-distributed bucket-count array, exercising the simplest
// consumer of the active-message substrate (spec.md §1: "histogram
// (fire-and-forget increments)").
//
// Grounded on original_source/histo/src/histo_safe_am.rs (direct atomic
// increment per update) and histo_buffered_safe_am.rs (per-destination
// buffered increment counts, flushed as one AM).
package histogram

import "time"

// Config is the per-run parameter record (spec.md §6: table size,
// updates count, launch threads, buffer size).
type Config struct {
	NumBuckets    int
	Updates       int
	LaunchThreads int
	BufferSize    int
	Seed          int64
}

// Result is one PE's local bucket-count segment plus its run time.
type Result struct {
	Counts []uint64
	Time   time.Duration
}

func (cfg Config) updateRange(pe, numPEs int) (start, end int) {
	start = pe * cfg.Updates / numPEs
	end = (pe + 1) * cfg.Updates / numPEs
	return start, end
}

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
