package randperm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/wire"
)

type lenMsg struct {
	Round int
	PE    int
	Len   int
}

type offsetMsg struct {
	Round  int
	Offset int
	Total  int
}

type compactRound struct {
	mu       sync.Mutex
	lens     []int
	reported int
	allIn    chan struct{}
	offsetCh chan offsetMsg
}

// Compactor implements the exclusive-prefix-sum compaction of spec.md
// §4.9 step 7: every PE reports the size of its local survivor segment
// to PE 0 (the same fixed-coordinator discipline package dar's
// quiescence protocol uses), PE 0 computes each PE's offset into the
// shared result array, and broadcasts the offsets back. Rounds are keyed
// by an incrementing counter so one Compactor can be reused across
// iterations without re-registering handlers.
type Compactor struct {
	d *am.Dispatcher

	round     int64
	rounds    sync.Map // int -> *compactRound
	reportID  wire.TypeID
	offsetID  wire.TypeID
}

// NewCompactor builds a Compactor bound to d. Construct exactly one per
// World and reuse it across every Compact call.
func NewCompactor(d *am.Dispatcher) *Compactor {
	c := &Compactor{d: d}
	c.reportID = am.RegisterHandler(d, "randperm.compact.report", func(ctx context.Context, src int, msg lenMsg) (struct{}, error) {
		r := c.roundFor(msg.Round)
		r.mu.Lock()
		r.lens[msg.PE] = msg.Len
		r.reported++
		done := r.reported == len(r.lens)
		r.mu.Unlock()
		if done {
			close(r.allIn)
		}
		return struct{}{}, nil
	})
	c.offsetID = am.RegisterHandler(d, "randperm.compact.offset", func(ctx context.Context, src int, msg offsetMsg) (struct{}, error) {
		r := c.roundFor(msg.Round)
		r.offsetCh <- msg
		return struct{}{}, nil
	})
	return c
}

func (c *Compactor) roundFor(round int) *compactRound {
	v, _ := c.rounds.LoadOrStore(round, &compactRound{
		lens:     make([]int, c.d.NumPEs()),
		allIn:    make(chan struct{}),
		offsetCh: make(chan offsetMsg, 1),
	})
	return v.(*compactRound)
}

// Compact reports localLen (this PE's local survivor count) and returns
// this PE's offset into the combined result plus the combined total
// survivor count across every PE.
func (c *Compactor) Compact(ctx context.Context, localLen int) (offset int, total int, err error) {
	round := int(atomic.AddInt64(&c.round, 1))
	defer c.rounds.Delete(round)
	r := c.roundFor(round)

	pe := c.d.PE()
	h, err := am.ExecPE[lenMsg, struct{}](c.d, c.reportID, 0, lenMsg{Round: round, PE: pe, Len: localLen})
	if err != nil {
		return 0, 0, err
	}
	if _, err := h.Await(ctx); err != nil {
		return 0, 0, err
	}

	if pe == 0 {
		select {
		case <-r.allIn:
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
		offsets := make([]int, len(r.lens))
		acc := 0
		for i, l := range r.lens {
			offsets[i] = acc
			acc += l
		}
		for target, o := range offsets {
			hh, err := am.ExecPE[offsetMsg, struct{}](c.d, c.offsetID, target, offsetMsg{Round: round, Offset: o, Total: acc})
			if err != nil {
				return 0, 0, err
			}
			if _, err := hh.Await(ctx); err != nil {
				return 0, 0, err
			}
		}
	}

	select {
	case msg := <-r.offsetCh:
		return msg.Offset, msg.Total, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Collect runs Compact for local's length, then writes local into r at
// the computed offset as one wave of batched-put active messages
// (spec.md §4.9 step 7: "Compute the exclusive-prefix sum ... Put D into
// R at that offset"), returning this PE's offset into r and the combined
// survivor count across every PE. Every randperm variant's Run calls this
// instead of calling Compact directly and discarding the offset.
func (c *Compactor) Collect(ctx context.Context, r *darray.AtomicArray[uint64], local []uint64) (offset, total int, err error) {
	offset, total, err = c.Compact(ctx, len(local))
	if err != nil {
		return 0, 0, err
	}
	if len(local) == 0 {
		return offset, total, nil
	}
	indices := make([]int, len(local))
	for i := range indices {
		indices[i] = offset + i
	}
	if err := r.BatchStore(ctx, indices, local); err != nil {
		return 0, 0, err
	}
	return offset, total, nil
}
