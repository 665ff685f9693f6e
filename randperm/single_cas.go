// single_cas.go grounds on
// original_source/randperm/src/active_message/single_cas_am.rs: the
// slot a dart targets is chosen on the sender (a uniform global slot
// index determines both the destination PE and local offset); on
// collision the handler itself draws a fresh global slot and chains a
// new AM to wherever that lands, without buffering.
package randperm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type casDart struct {
	Offset int
	Val    uint64
}

// SingleCAS runs the single-CAS randperm variant.
type SingleCAS struct {
	w      *world.World
	cfg    Config
	layout darray.Layout
	table  *targetTable
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	casID  wire.TypeID
}

// NewSingleCAS builds a SingleCAS runner. Collective: every PE must call
// this before any PE calls Run.
func NewSingleCAS(w *world.World, cfg Config) *SingleCAS {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &SingleCAS{
		w:      w,
		cfg:    cfg,
		layout: layout,
		table:  newTargetTable(layout.LocalLen(w.MyPE())),
		comp:   NewCompactor(w.Dispatcher),
		result: newResultArray(w.Array, cfg),
	}
	s.casID = am.RegisterHandler(w.Dispatcher, "randperm.single_cas", s.handle)
	return s
}

func (s *SingleCAS) handle(ctx context.Context, src int, arg casDart) (struct{}, error) {
	if _, ok := s.table.compareExchange(arg.Offset, arg.Val); !ok {
		k := rand.Intn(s.cfg.tableSize())
		pe := s.layout.Owner(k)
		off := s.layout.LocalOffset(k)
		_, _ = am.ExecPE[casDart, struct{}](s.w.Dispatcher, s.casID, pe, casDart{Offset: off, Val: arg.Val})
	}
	return struct{}{}, nil
}

// Run throws this PE's share of darts, waits for quiescence, and
// compacts the surviving slots into this PE's segment of the result.
func (s *SingleCAS) Run(ctx context.Context) (*Result, error) {
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
			h, err := am.ExecPE[casDart, struct{}](s.w.Dispatcher, s.casID, target, casDart{Offset: off, Val: uint64(v)})
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
