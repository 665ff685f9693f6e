// cas_group_remote.go grounds on
// original_source/randperm/src/active_message/cas_am_group.rs's
// receiver-chosen-slot counterpart: same typed am.Group batching as
// cas_group.go, but the sender only picks a destination PE, and the
// receiving handler repeatedly tries random local slots until one lands
// or the local shard is full, matching single_cas_remote.go's retry
// shape.
package randperm

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

type groupRemoteDart struct {
	Val uint64
}

func (d groupRemoteDart) StaticFields() struct{}      { return struct{}{} }
func (d groupRemoteDart) DynamicFields() groupRemoteDart { return d }

// CASGroupRemote runs the CAS-group-remote randperm variant.
type CASGroupRemote struct {
	w      *world.World
	cfg    Config
	table  *targetTable
	filled int32
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	group  *am.Group[groupRemoteDart, struct{}, groupRemoteDart, struct{}]
}

// NewCASGroupRemote builds a CASGroupRemote runner. Collective: every PE
// must call this before any PE calls Run.
func NewCASGroupRemote(w *world.World, cfg Config) *CASGroupRemote {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &CASGroupRemote{
		w:      w,
		cfg:    cfg,
		table:  newTargetTable(layout.LocalLen(w.MyPE())),
		comp:   NewCompactor(w.Dispatcher),
		result: newResultArray(w.Array, cfg),
	}
	typeID := am.RegisterGroupHandler[struct{}, groupRemoteDart, struct{}](w.Dispatcher, "randperm.cas_group_remote", func(ctx context.Context, src int, static struct{}, dynamics []groupRemoteDart) ([]struct{}, error) {
		out := make([]struct{}, len(dynamics))
		for _, dart := range dynamics {
			s.land(ctx, dart.Val)
		}
		return out, nil
	})
	s.group = am.NewGroup[groupRemoteDart, struct{}, groupRemoteDart, struct{}](w.Dispatcher, typeID, w.Config().OpBatchSize, 2*time.Millisecond)
	return s
}

func (s *CASGroupRemote) land(ctx context.Context, val uint64) {
	localLen := s.table.len()
	for int(atomic.LoadInt32(&s.filled)) < localLen {
		off := rand.Intn(localLen)
		if _, ok := s.table.compareExchange(off, val); ok {
			atomic.AddInt32(&s.filled, 1)
			return
		}
	}
	pe := rand.Intn(s.w.NumPEs())
	_, _ = s.group.AddPE(ctx, pe, groupRemoteDart{Val: val})
}

// Run throws this PE's share of darts through the AM group, waits for
// quiescence, and compacts the surviving slots into this PE's segment
// of the result.
func (s *CASGroupRemote) Run(ctx context.Context) (*Result, error) {
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
			h, err := s.group.AddPE(ctx, target, groupRemoteDart{Val: uint64(v)})
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
