// push.go grounds on
// original_source/randperm/src/randperm_am_darc_push_buffered.rs's
// unbuffered core idea (the push family): the sender picks a
// destination PE at random for every dart and the destination's handler
// simply appends the value to its local, lock-guarded vector — no
// compare-exchange, no collision, no retry, since every slot is
// created on arrival rather than contended for.
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

type pushDart struct {
	Val uint64
}

// Push runs the push randperm variant.
type Push struct {
	w      *world.World
	cfg    Config
	table  *pushTable
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	dartID wire.TypeID
}

// NewPush builds a Push runner. Collective: every PE must call this
// before any PE calls Run.
func NewPush(w *world.World, cfg Config) *Push {
	s := &Push{w: w, cfg: cfg, table: &pushTable{}, comp: NewCompactor(w.Dispatcher), result: newResultArray(w.Array, cfg)}
	s.dartID = am.RegisterHandler(w.Dispatcher, "randperm.push", func(ctx context.Context, src int, arg pushDart) (struct{}, error) {
		s.table.append(arg.Val)
		return struct{}{}, nil
	})
	return s
}

// Run throws this PE's share of darts, waits for quiescence, and
// compacts the locally-received values into this PE's segment of the
// result.
func (s *Push) Run(ctx context.Context) (*Result, error) {
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
			h, err := am.ExecPE[pushDart, struct{}](s.w.Dispatcher, s.dartID, target, pushDart{Val: uint64(v)})
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
	permuteElapsed := time.Since(startTime)

	collectStart := time.Now()
	survivors := s.table.snapshot()
	offset, total, err := s.comp.Collect(ctx, s.result, survivors)
	if err != nil {
		return nil, err
	}
	collectElapsed := time.Since(collectStart)

	return &Result{Local: survivors, R: s.result, Offset: offset, Total: total, PermuteTime: permuteElapsed, CollectTime: collectElapsed}, nil
}
