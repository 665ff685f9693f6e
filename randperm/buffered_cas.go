// buffered_cas.go grounds on
// original_source/randperm/src/active_message/buffered_cas_am.rs: same
// sender-chosen-slot CAS dart as single_cas.go, but darts are
// accumulated into an explicit, hand-rolled per-destination buffer of
// cfg.BufferSize entries and flushed as one batched AM, rather than
// routed through am.Group's built-in batching (that's cas_group.go's
// job) or sent one at a time (single_cas.go).
package randperm

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/internal/ratelimit"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type casBatch struct {
	Darts []casDart
}

// sendBuffer accumulates outgoing darts per destination PE and flushes a
// destination's buffer once it reaches a configured size.
type sendBuffer struct {
	mu   sync.Mutex
	size int
	pend map[int][]casDart
}

func newSendBuffer(size int) *sendBuffer {
	return &sendBuffer{size: size, pend: make(map[int][]casDart)}
}

// add appends a dart to pe's buffer, returning the flushed batch (nil if
// the buffer isn't yet full).
func (b *sendBuffer) add(pe int, dart casDart) []casDart {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pend[pe] = append(b.pend[pe], dart)
	if len(b.pend[pe]) < b.size {
		return nil
	}
	flushed := b.pend[pe]
	delete(b.pend, pe)
	return flushed
}

// drain returns every PE's remaining partial buffer and clears it.
func (b *sendBuffer) drain() map[int][]casDart {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pend
	b.pend = make(map[int][]casDart)
	return out
}

// addGated is add, but consults a ratelimit.Gate first: chained retries
// spawned by the handler have no natural bound (a dart can collide
// indefinitely), so once a destination's in-flight count saturates the
// gate's high watermark, its buffer is force-flushed early rather than
// left to grow without limit.
func (b *sendBuffer) addGated(pe int, dart casDart, gate *ratelimit.Gate) []casDart {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !gate.Reserve(pe, 1) {
		flushed := b.pend[pe]
		delete(b.pend, pe)
		if len(flushed) > 0 {
			gate.Release(pe, int64(len(flushed)))
		}
		b.pend[pe] = []casDart{dart}
		gate.Reserve(pe, 1)
		return flushed
	}
	b.pend[pe] = append(b.pend[pe], dart)
	if len(b.pend[pe]) < b.size {
		return nil
	}
	flushed := b.pend[pe]
	delete(b.pend, pe)
	gate.Release(pe, int64(len(flushed)))
	return flushed
}

// BufferedCAS runs the buffered-CAS randperm variant.
type BufferedCAS struct {
	w       *world.World
	cfg     Config
	layout  darray.Layout
	table   *targetTable
	comp    *Compactor
	result  *darray.AtomicArray[uint64]
	gate    *ratelimit.Gate
	retries *sendBuffer
	casID   wire.TypeID
}

// NewBufferedCAS builds a BufferedCAS runner. Collective: every PE must
// call this before any PE calls Run.
func NewBufferedCAS(w *world.World, cfg Config) *BufferedCAS {
	layout := darray.NewLayout(cfg.tableSize(), w.NumPEs(), darray.Block)
	s := &BufferedCAS{
		w:       w,
		cfg:     cfg,
		layout:  layout,
		table:   newTargetTable(layout.LocalLen(w.MyPE())),
		comp:    NewCompactor(w.Dispatcher),
		result:  newResultArray(w.Array, cfg),
		gate:    ratelimit.NewGate(int64(4*cfg.BufferSize), 0, 0),
		retries: newSendBuffer(cfg.BufferSize),
	}
	s.casID = am.RegisterHandler(w.Dispatcher, "randperm.buffered_cas", s.handle)
	return s
}

func (s *BufferedCAS) handle(ctx context.Context, src int, arg casBatch) (struct{}, error) {
	for _, dart := range arg.Darts {
		if _, ok := s.table.compareExchange(dart.Offset, dart.Val); ok {
			continue
		}
		k := rand.Intn(s.cfg.tableSize())
		pe := s.layout.Owner(k)
		off := s.layout.LocalOffset(k)
		if flushed := s.retries.addGated(pe, casDart{Offset: off, Val: dart.Val}, s.gate); flushed != nil {
			_, _ = am.ExecPE[casBatch, struct{}](s.w.Dispatcher, s.casID, pe, casBatch{Darts: flushed})
		}
	}
	return struct{}{}, nil
}

// Run throws this PE's share of darts through an explicit per-destination
// buffer, waits for quiescence, and compacts the surviving slots into
// this PE's segment of the result.
func (s *BufferedCAS) Run(ctx context.Context) (*Result, error) {
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	start, end := s.cfg.sourceRange(pe, numPEs)
	chunks := s.cfg.launchChunks(start, end)

	tg := am.NewTaskGroup()
	startTime := time.Now()
	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		rng := rand.New(rand.NewSource(s.cfg.Seed + int64(pe)*1_000_003 + int64(worker)))
		buf := newSendBuffer(s.cfg.BufferSize)
		for v := lo; v < hi; v++ {
			k := rng.Intn(s.cfg.tableSize())
			target := s.layout.Owner(k)
			off := s.layout.LocalOffset(k)
			if flushed := buf.add(target, casDart{Offset: off, Val: uint64(v)}); flushed != nil {
				h, err := am.ExecPE[casBatch, struct{}](s.w.Dispatcher, s.casID, target, casBatch{Darts: flushed})
				if err != nil {
					return err
				}
				am.Track(tg, h)
			}
		}
		for target, darts := range buf.drain() {
			if len(darts) == 0 {
				continue
			}
			h, err := am.ExecPE[casBatch, struct{}](s.w.Dispatcher, s.casID, target, casBatch{Darts: darts})
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
	for target, darts := range s.retries.drain() {
		if len(darts) == 0 {
			continue
		}
		_, _ = am.ExecPE[casBatch, struct{}](s.w.Dispatcher, s.casID, target, casBatch{Darts: darts})
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
