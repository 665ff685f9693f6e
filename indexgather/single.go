// single.go grounds on original_source/index_gather/src/index_gather_am.rs:
// one active message per requested index, issued concurrently and
// joined before returning — the simplest variant, paying one network
// round trip per gathered value.
package indexgather

import (
	"context"
	"sync"
	"time"

	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

// Single runs the single-AM index-gather variant.
type Single struct {
	w     *world.World
	cfg   Config
	table *darray.ReadOnlyArray[uint64]
}

// NewSingle builds a Single runner over an identity-valued table (table[i]
// == i, matching spec.md §8's gather scenario). Collective: every PE must
// call this before any PE calls Run.
func NewSingle(w *world.World, cfg Config) *Single {
	atomic := darray.NewAtomic[uint64](w.Array, cfg.TableSize, darray.Block)
	layout := darray.NewLayout(cfg.TableSize, w.NumPEs(), darray.Block)
	local := atomic.LocalData()
	for off := range local {
		local[off] = uint64(layout.GlobalIndex(w.MyPE(), off))
	}
	return &Single{w: w, cfg: cfg, table: darray.IntoReadOnly[uint64](atomic)}
}

// Run fetches table[indices[p]] for every requested position p
// concurrently and returns the results in request order.
func (s *Single) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	values := make([]uint64, len(s.cfg.Indices))
	errs := make([]error, len(s.cfg.Indices))
	var wg sync.WaitGroup
	for p, idx := range s.cfg.Indices {
		wg.Add(1)
		go func(p, idx int) {
			defer wg.Done()
			v, err := s.table.Load(ctx, idx)
			values[p] = v
			errs[p] = err
		}(p, idx)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &Result{Values: values, Time: time.Since(startTime)}, nil
}
