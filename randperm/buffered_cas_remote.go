// buffered_cas_remote.go grounds on
// original_source/randperm/src/active_message/buffered_cas_am_remote.rs:
// buffered_cas.go's explicit per-destination send buffer, combined with
// single_cas_remote.go's receiver-chosen-slot retry-until-full-then-
// switch-PE handler.
package randperm

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/internal/ratelimit"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type remoteBatch struct {
	Vals []uint64
}

// BufferedCASRemote runs the buffered-CAS-remote randperm variant.
type BufferedCASRemote struct {
	w      *world.World
	cfg    Config
	table  *targetTable
	filled int32
	comp   *Compactor
	result *darray.AtomicArray[uint64]
	gate   *ratelimit.Gate
	retMu  sync.Mutex
	ret    map[int][]uint64
	dartID wire.TypeID
}

// NewBufferedCASRemote builds a BufferedCASRemote runner. Collective:
// every PE must call this before any PE calls Run.
func NewBufferedCASRemote(w *world.World, cfg Config) *BufferedCASRemote {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &BufferedCASRemote{
		w:     w,
		cfg:   cfg,
		table:  newTargetTable(layout.LocalLen(w.MyPE())),
		comp:   NewCompactor(w.Dispatcher),
		result: newResultArray(w.Array, cfg),
		gate:   ratelimit.NewGate(int64(4*cfg.BufferSize), 0, 0),
		ret:    make(map[int][]uint64),
	}
	s.dartID = am.RegisterHandler(w.Dispatcher, "randperm.buffered_cas_remote", s.handle)
	return s
}

// queueRetry buffers val for a freshly-chosen destination PE, force-
// flushing that destination's buffer early once the gate's watermark
// saturates — chained retries have no natural bound the way the
// sender's initial darts do.
func (s *BufferedCASRemote) queueRetry(pe int, val uint64) {
	s.retMu.Lock()
	flush := []uint64(nil)
	if !s.gate.Reserve(pe, 1) {
		flush = s.ret[pe]
		delete(s.ret, pe)
		if len(flush) > 0 {
			s.gate.Release(pe, int64(len(flush)))
		}
		s.gate.Reserve(pe, 1)
	}
	s.ret[pe] = append(s.ret[pe], val)
	if len(s.ret[pe]) >= s.cfg.BufferSize {
		flush = s.ret[pe]
		delete(s.ret, pe)
		s.gate.Release(pe, int64(len(flush)))
	}
	s.retMu.Unlock()
	if len(flush) > 0 {
		_, _ = am.ExecPE[remoteBatch, struct{}](s.w.Dispatcher, s.dartID, pe, remoteBatch{Vals: flush})
	}
}

// drainRetries flushes every destination's remaining partial retry
// buffer; called once quiescence has been observed.
func (s *BufferedCASRemote) drainRetries() {
	s.retMu.Lock()
	out := s.ret
	s.ret = make(map[int][]uint64)
	s.retMu.Unlock()
	for pe, vals := range out {
		if len(vals) == 0 {
			continue
		}
		_, _ = am.ExecPE[remoteBatch, struct{}](s.w.Dispatcher, s.dartID, pe, remoteBatch{Vals: vals})
	}
}

func (s *BufferedCASRemote) handle(ctx context.Context, src int, arg remoteBatch) (struct{}, error) {
	localLen := s.table.len()
	for _, val := range arg.Vals {
		landed := false
		for int(atomic.LoadInt32(&s.filled)) < localLen {
			off := rand.Intn(localLen)
			if _, ok := s.table.compareExchange(off, val); ok {
				atomic.AddInt32(&s.filled, 1)
				landed = true
				break
			}
		}
		if !landed {
			pe := rand.Intn(s.w.NumPEs())
			s.queueRetry(pe, val)
		}
	}
	return struct{}{}, nil
}

// Run throws this PE's share of darts through an explicit per-destination
// buffer, waits for quiescence, and compacts the surviving slots into
// this PE's segment of the result.
func (s *BufferedCASRemote) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.sourceRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	tg := am.NewTaskGroup()
	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		buf := make(map[int][]uint64)
		flush := func(target int) error {
			vals := buf[target]
			if len(vals) == 0 {
				return nil
			}
			delete(buf, target)
			h, err := am.ExecPE[remoteBatch, struct{}](s.w.Dispatcher, s.dartID, target, remoteBatch{Vals: vals})
			if err != nil {
				return err
			}
			am.Track(tg, h)
			return nil
		}
		for v := lo; v < hi; v++ {
			target := rng.Intn(numPEs)
			buf[target] = append(buf[target], uint64(v))
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
	if err := quiesce(ctx, s.w, tg); err != nil {
		return nil, err
	}
	s.drainRetries()
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
