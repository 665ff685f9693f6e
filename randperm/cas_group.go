// cas_group.go grounds on
// original_source/randperm/src/active_message/cas_am_group.rs: the same
// sender-chosen-slot CAS dart as single_cas.go, but every dart is
// submitted through a typed am.Group instead of exec_am_pe directly, so
// per-destination darts amortize one network round trip across
// op_batch_size of them (spec.md §4.3/§4.9).
package randperm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

type groupCasDart struct {
	Offset int
	Val    uint64
}

func (d groupCasDart) StaticFields() struct{}  { return struct{}{} }
func (d groupCasDart) DynamicFields() groupCasDart { return d }

// CASGroup runs the CAS-group randperm variant.
type CASGroup struct {
	w      *world.World
	cfg    Config
	layout darray.Layout
	table  *targetTable
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	group  *am.Group[groupCasDart, struct{}, groupCasDart, CASResult]
}

// CASResult mirrors spec.md §4.5's Result<T,T>: Ok reports whether the
// dart stuck on the first attempt the group delivered.
type CASResult struct {
	Ok bool
}

// NewCASGroup builds a CASGroup runner. Collective: every PE must call
// this before any PE calls Run.
func NewCASGroup(w *world.World, cfg Config) *CASGroup {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &CASGroup{
		w:      w,
		cfg:    cfg,
		layout: layout,
		table:  newTargetTable(layout.LocalLen(w.MyPE())),
		comp:   NewCompactor(w.Dispatcher),
		result: newResultArray(w.Array, cfg),
	}
	typeID := am.RegisterGroupHandler[struct{}, groupCasDart, CASResult](w.Dispatcher, "randperm.cas_group", func(ctx context.Context, src int, static struct{}, dynamics []groupCasDart) ([]CASResult, error) {
		out := make([]CASResult, len(dynamics))
		for i, dart := range dynamics {
			_, ok := s.table.compareExchange(dart.Offset, dart.Val)
			out[i] = CASResult{Ok: ok}
			if !ok {
				k := rand.Intn(s.cfg.tableSize())
				pe := s.layout.Owner(k)
				off := s.layout.LocalOffset(k)
				_, _ = s.group.AddPE(ctx, pe, groupCasDart{Offset: off, Val: dart.Val})
			}
		}
		return out, nil
	})
	s.group = am.NewGroup[groupCasDart, struct{}, groupCasDart, CASResult](w.Dispatcher, typeID, w.Config().OpBatchSize, 2*time.Millisecond)
	return s
}

// Run throws this PE's share of darts through the AM group, waits for
// quiescence, and compacts the surviving slots into this PE's segment
// of the result.
func (s *CASGroup) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.sourceRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	tg := am.NewTaskGroup()
	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		for v := lo; v < hi; v++ {
			k := rng.Intn(s.cfg.tableSize())
			target := s.layout.Owner(k)
			off := s.layout.LocalOffset(k)
			h, err := s.group.AddPE(ctx, target, groupCasDart{Offset: off, Val: uint64(v)})
			if err != nil {
				return err
			}
			am.Track(tg, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.group.Exec(ctx); err != nil {
		return nil, err
	}
	if err := quiesce(ctx, s.w, tg); err != nil {
		return nil, err
	}
	if err := settle(ctx, s.w, 4); err != nil {
		return nil, err
	}
	permuteElapsed := time.Since(startTime)

	collectStart := time.Now()
	survivors := s.table.survivors()
	offset, total, err := s.comp.Collect(ctx, s.result, survivors)
	if err != nil {
		return nil, err
	}
	collectElapsed := time.Since(collectStart)

	return &Result{Local: survivors, R: s.result, Offset: offset, Total: total, PermuteTime: permuteElapsed, CollectTime: collectElapsed}, nil
}
