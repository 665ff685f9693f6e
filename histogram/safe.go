// safe.go grounds on original_source/histo/src/histo_safe_am.rs: one AM
// per update, applying a remote fetch-add directly against the owning
// PE's bucket via darray.AtomicArray.Add — "safe" in the sense spec.md's
// histogram scenario names it (safe=true): every increment is
// serialized through the array's per-element mutual exclusion.
package histogram

import (
	"context"
	"math/rand"
	"time"

	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

// Safe runs the safe histogram variant.
type Safe struct {
	w     *world.World
	cfg   Config
	table *darray.AtomicArray[uint64]
}

// NewSafe builds a Safe runner. Collective: every PE must call this
// before any PE calls Run, since the backing array is itself a
// collective allocation.
func NewSafe(w *world.World, cfg Config) *Safe {
	table := darray.NewAtomic[uint64](w.Array, cfg.NumBuckets, darray.Block)
	return &Safe{w: w, cfg: cfg, table: table}
}

// Run issues this PE's share of updates as individual atomic-increment
// AMs, waits for quiescence, and returns this PE's local bucket segment.
func (s *Safe) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.updateRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		for i := lo; i < hi; i++ {
			bucket := rng.Intn(s.cfg.NumBuckets)
			if err := s.table.Add(ctx, bucket, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.w.Barrier.Wait(ctx); err != nil {
		return nil, err
	}
	elapsed := time.Since(startTime)

	local := s.table.LocalData()
	counts := make([]uint64, len(local))
	copy(counts, local)
	return &Result{Counts: counts, Time: elapsed}, nil
}
