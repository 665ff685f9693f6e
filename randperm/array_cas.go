// array_cas.go grounds on original_source/randperm/src/randperm.rs and
// randperm_array_darts.rs: the baseline variant, which skips hand-rolled
// active messages entirely and drives the whole dart-throw through
// darray.AtomicArray's built-in BatchCompareExchange, one batch of
// cfg.BufferSize darts at a time per launch worker.
package randperm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

// ArrayCAS runs the array-CAS randperm variant.
type ArrayCAS struct {
	w      *world.World
	cfg    Config
	table  *darray.AtomicArray[uint64]
	comp   *Compactor
	result *darray.AtomicArray[uint64]
}

// NewArrayCAS builds an ArrayCAS runner. Collective: every PE must call
// this before any PE calls Run, and the underlying atomic array is
// itself a collective allocation across the cluster.
func NewArrayCAS(w *world.World, cfg Config) *ArrayCAS {
	table := darray.NewAtomic[uint64](w.Array, cfg.tableSize(), darray.Block)
	local := table.LocalData()
	for i := range local {
		local[i] = Sentinel
	}
	return &ArrayCAS{w: w, cfg: cfg, table: table, comp: NewCompactor(w.Dispatcher), result: newResultArray(w.Array, cfg)}
}

// Run throws this PE's share of darts in batches of cfg.BufferSize
// through BatchCompareExchange, waits for quiescence, and compacts the
// surviving local slots into this PE's segment of the result.
func (s *ArrayCAS) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.sourceRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		pending := make([]uint64, 0, s.cfg.BufferSize)
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			indices := make([]int, len(pending))
			for i := range indices {
				indices[i] = rng.Intn(s.cfg.tableSize())
			}
			results, err := s.table.BatchCompareExchange(ctx, indices, Sentinel, pending)
			if err != nil {
				return err
			}
			retry := pending[:0]
			for i, res := range results {
				if !res.Ok {
					retry = append(retry, pending[i])
				}
			}
			pending = retry
			return nil
		}
		for v := lo; v < hi; v++ {
			pending = append(pending, uint64(v))
			if len(pending) >= s.cfg.BufferSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		for len(pending) > 0 {
			if err := flush(); err != nil {
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
	permuteElapsed := time.Since(startTime)

	collectStart := time.Now()
	survivors := make([]uint64, 0, s.table.Len()/numPEs+1)
	for _, v := range s.table.LocalData() {
		if v != Sentinel {
			survivors = append(survivors, v)
		}
	}
	offset, total, err := s.comp.Collect(ctx, s.result, survivors)
	if err != nil {
		return nil, err
	}
	collectElapsed := time.Since(collectStart)

	return &Result{Local: survivors, R: s.result, Offset: offset, Total: total, PermuteTime: permuteElapsed, CollectTime: collectElapsed}, nil
}
