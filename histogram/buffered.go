// buffered.go grounds on original_source/histo/src/histo_buffered_safe_am.rs:
// increments are accumulated per destination PE into an explicit buffer
// (offset -> pending delta) and flushed as one batched AM once a
// destination's buffer reaches cfg.BufferSize entries, amortizing the
// per-update network round trip the safe variant pays for every update.
package histogram

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type bucketDelta struct {
	Offset int
	Delta  uint64
}

type bucketBatch struct {
	Deltas []bucketDelta
}

// Buffered runs the buffered histogram variant.
type Buffered struct {
	w      *world.World
	cfg    Config
	layout darray.Layout
	mu     sync.Mutex
	local  []uint64
	incID  wire.TypeID
}

// NewBuffered builds a Buffered runner. Collective: every PE must call
// this before any PE calls Run.
func NewBuffered(w *world.World, cfg Config) *Buffered {
	layout := darray.NewLayout(cfg.NumBuckets, w.NumPEs(), darray.Block)
	s := &Buffered{
		w:      w,
		cfg:    cfg,
		layout: layout,
		local:  make([]uint64, layout.LocalLen(w.MyPE())),
	}
	s.incID = am.RegisterHandler(w.Dispatcher, "histogram.buffered", s.handle)
	return s
}

func (s *Buffered) handle(ctx context.Context, src int, arg bucketBatch) (struct{}, error) {
	s.mu.Lock()
	for _, d := range arg.Deltas {
		s.local[d.Offset] += d.Delta
	}
	s.mu.Unlock()
	return struct{}{}, nil
}

// Run issues this PE's share of updates through an explicit
// per-destination delta buffer, waits for quiescence, and returns this
// PE's local bucket segment.
func (s *Buffered) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.updateRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	startTime := time.Now()
	tg := am.NewTaskGroup()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		buf := make(map[int]map[int]uint64)
		flush := func(target int) error {
			deltas := buf[target]
			if len(deltas) == 0 {
				return nil
			}
			delete(buf, target)
			batch := make([]bucketDelta, 0, len(deltas))
			for off, delta := range deltas {
				batch = append(batch, bucketDelta{Offset: off, Delta: delta})
			}
			h, err := am.ExecPE[bucketBatch, struct{}](s.w.Dispatcher, s.incID, target, bucketBatch{Deltas: batch})
			if err != nil {
				return err
			}
			am.Track(tg, h)
			return nil
		}
		for i := lo; i < hi; i++ {
			bucket := rng.Intn(s.cfg.NumBuckets)
			target := s.layout.Owner(bucket)
			off := s.layout.LocalOffset(bucket)
			if buf[target] == nil {
				buf[target] = make(map[int]uint64)
			}
			buf[target][off]++
			if len(buf[target]) >= s.cfg.BufferSize {
				if err := flush(target); err != nil {
					return err
				}
			}
		}
		for target := range buf {
			if err := flush(target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := collectiveAwaitAndBarrier(ctx, s.w, tg); err != nil {
		return nil, err
	}
	elapsed := time.Since(startTime)

	s.mu.Lock()
	counts := make([]uint64, len(s.local))
	copy(counts, s.local)
	s.mu.Unlock()
	return &Result{Counts: counts, Time: elapsed}, nil
}
