// single_cas_remote.go grounds on
// original_source/randperm/src/active_message/single_cas_am_remote.rs
// and randperm_am_darc_darts.rs: the sender only chooses a destination
// PE at random; once a dart arrives, the receiving handler repeatedly
// picks a random local slot and retries compare-exchange locally until
// it lands or this PE's local shard is observed full, at which point it
// picks a fresh random PE and chains a new AM there.
package randperm

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type remoteDart struct {
	Val uint64
}

// SingleCASRemote runs the single-CAS-remote randperm variant.
type SingleCASRemote struct {
	w      *world.World
	cfg    Config
	table  *targetTable
	filled int32
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	dartID wire.TypeID
}

// NewSingleCASRemote builds a SingleCASRemote runner. Collective: every
// PE must call this before any PE calls Run.
func NewSingleCASRemote(w *world.World, cfg Config) *SingleCASRemote {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &SingleCASRemote{
		w:      w,
		cfg:    cfg,
		table:  newTargetTable(layout.LocalLen(w.MyPE())),
		comp:   NewCompactor(w.Dispatcher),
		result: newResultArray(w.Array, cfg),
	}
	s.dartID = am.RegisterHandler(w.Dispatcher, "randperm.single_cas_remote", s.handle)
	return s
}

func (s *SingleCASRemote) handle(ctx context.Context, src int, arg remoteDart) (struct{}, error) {
	localLen := s.table.len()
	for int(atomic.LoadInt32(&s.filled)) < localLen {
		off := rand.Intn(localLen)
		if _, ok := s.table.compareExchange(off, arg.Val); ok {
			atomic.AddInt32(&s.filled, 1)
			return struct{}{}, nil
		}
	}
	pe := rand.Intn(s.w.NumPEs())
	_, _ = am.ExecPE[remoteDart, struct{}](s.w.Dispatcher, s.dartID, pe, arg)
	return struct{}{}, nil
}

// Run throws this PE's share of darts, waits for quiescence, and
// compacts the surviving slots into this PE's segment of the result.
func (s *SingleCASRemote) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.sourceRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	tg := am.NewTaskGroup()
	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		for v := lo; v < hi; v++ {
			target := rng.Intn(numPEs)
			h, err := am.ExecPE[remoteDart, struct{}](s.w.Dispatcher, s.dartID, target, remoteDart{Val: uint64(v)})
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
