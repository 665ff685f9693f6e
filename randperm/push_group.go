// push_group.go grounds on
// original_source/randperm/src/randperm_am_darc_push_group.rs: the push
// family's destination-PE-chosen-on-sender, append-under-lock handler,
// submitted through a typed am.Group instead of one AM per dart.
package randperm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/world"
)

type groupPushDart struct {
	Val uint64
}

func (d groupPushDart) StaticFields() struct{}     { return struct{}{} }
func (d groupPushDart) DynamicFields() groupPushDart { return d }

// PushGroup runs the push-group randperm variant.
type PushGroup struct {
	w      *world.World
	cfg    Config
	table  *pushTable
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	group  *am.Group[groupPushDart, struct{}, groupPushDart, struct{}]
}

// NewPushGroup builds a PushGroup runner. Collective: every PE must call
// this before any PE calls Run.
func NewPushGroup(w *world.World, cfg Config) *PushGroup {
	s := &PushGroup{w: w, cfg: cfg, table: &pushTable{}, comp: NewCompactor(w.Dispatcher), result: newResultArray(w.Array, cfg)}
	typeID := am.RegisterGroupHandler[struct{}, groupPushDart, struct{}](w.Dispatcher, "randperm.push_group", func(ctx context.Context, src int, static struct{}, dynamics []groupPushDart) ([]struct{}, error) {
		vals := make([]uint64, len(dynamics))
		for i, d := range dynamics {
			vals[i] = d.Val
		}
		s.table.append(vals...)
		return make([]struct{}, len(dynamics)), nil
	})
	s.group = am.NewGroup[groupPushDart, struct{}, groupPushDart, struct{}](w.Dispatcher, typeID, w.Config().OpBatchSize, 2*time.Millisecond)
	return s
}

// Run throws this PE's share of darts through the AM group, waits for
// quiescence, and compacts the locally-received values into this PE's
// segment of the result.
func (s *PushGroup) Run(ctx context.Context) (*Result, error) {
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
			h, err := s.group.AddPE(ctx, target, groupPushDart{Val: uint64(v)})
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
