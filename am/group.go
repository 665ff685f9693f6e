package am

import (
	"context"
	"sync"
	"time"

	"github.com/pgasdart/runtime/internal/batch"
	"github.com/pgasdart/runtime/wire"
)

// GroupMember is the constraint a typed batched-AM argument type must
// satisfy: its static fields (shared across every member in one flushed
// batch to a destination) and dynamic fields (one value per member) are
// split into two separate values, per spec.md §4.3's static/non-static
// field distinction.
type GroupMember[S any, D any] interface {
	StaticFields() S
	DynamicFields() D
}

// groupPayload is the wire representation of one flushed batch: the
// static fields serialized once, and one dynamic value per member, in
// add-order.
type groupPayload[S any, D any] struct {
	Static   S
	Dynamics []D
}

// RegisterGroupHandler registers the handler a Group's flushed batches are
// sent to. name is hashed the same way RegisterHandler's name is.
func RegisterGroupHandler[S any, D any, R any](d *Dispatcher, name string, fn func(ctx context.Context, src int, static S, dynamics []D) ([]R, error)) wire.TypeID {
	id := wire.HandlerTypeID(name)
	d.register(id, func(ctx context.Context, src int, payload []byte) ([]byte, error) {
		var gp groupPayload[S, D]
		if len(payload) > 0 {
			if err := wire.Decode(payload, &gp); err != nil {
				return nil, err
			}
		}
		res, err := fn(ctx, src, gp.Static, gp.Dynamics)
		if err != nil {
			return nil, err
		}
		return wire.Encode(res)
	})
	return id
}

// entry is what's actually submitted to the per-destination internal
// batch.Group: the dynamic half of one member, plus a private channel the
// flush step uses to deliver that member's share of the composite result.
type entry[D any, R any] struct {
	dynamic D
	resCh   chan result[R]
}

// cohort is the live per-destination batch.Group plus the static value it
// was created for; a new static value for the same destination closes the
// current cohort and opens a fresh one (spec.md §4.3, and SPEC_FULL.md
// §4.3's "current static cohort" check).
type cohort[S any, D any, R any] struct {
	static S
	g      *batch.Group[entry[D, R]]
}

// Group batches typed active messages per destination, flushing on a
// static-field change, a configured size threshold, or an explicit Exec
// (spec.md §4.3).
type Group[H GroupMember[S, D], S comparable, D any, R any] struct {
	d        *Dispatcher
	typeID   wire.TypeID
	maxSize  int
	flushInt time.Duration

	mu      sync.Mutex
	cohorts map[int]*cohort[S, D, R]
}

// NewGroup builds a Group targeting the handler registered as typeID.
// opBatchSize is the eager per-destination flush threshold (spec.md §4.3's
// op_batch_size); flushInterval additionally bounds how long an
// incomplete batch waits before flushing on its own.
func NewGroup[H GroupMember[S, D], S comparable, D any, R any](d *Dispatcher, typeID wire.TypeID, opBatchSize int, flushInterval time.Duration) *Group[H, S, D, R] {
	return &Group[H, S, D, R]{
		d:        d,
		typeID:   typeID,
		maxSize:  opBatchSize,
		flushInt: flushInterval,
		cohorts:  make(map[int]*cohort[S, D, R]),
	}
}

// AddPE enqueues member for destination pe, returning a Handle for that
// member's eventual individual result.
func (g *Group[H, S, D, R]) AddPE(ctx context.Context, pe int, member H) (*Handle[R], error) {
	static := member.StaticFields()
	dynamic := member.DynamicFields()

	g.mu.Lock()
	c, ok := g.cohorts[pe]
	var stale *cohort[S, D, R]
	if ok && c.static != static {
		stale = c
		ok = false
	}
	if !ok {
		c = &cohort[S, D, R]{static: static, g: g.newBatchGroup(pe, static)}
		g.cohorts[pe] = c
	}
	bg := c.g
	g.mu.Unlock()

	if stale != nil {
		// Flush the outgoing cohort in the background rather than block
		// this AddPE call (and the Group-wide mutex) on a network round
		// trip for an unrelated batch.
		go func() { _ = stale.g.Shutdown(context.Background()) }()
	}

	e := entry[D, R]{dynamic: dynamic, resCh: make(chan result[R], 1)}
	tk, err := bg.Submit(ctx, e)
	if err != nil {
		return nil, err
	}
	h := &Handle[R]{ch: make(chan result[R], 1)}
	go func() {
		_ = tk.Wait(ctx)
		h.ch <- <-tk.Entry.resCh
	}()
	return h, nil
}

// AddAll enqueues member for every PE including self, returning one
// Handle per PE in PE order.
func (g *Group[H, S, D, R]) AddAll(ctx context.Context, member H) ([]*Handle[R], error) {
	handles := make([]*Handle[R], g.d.numPEs)
	for pe := 0; pe < g.d.numPEs; pe++ {
		h, err := g.AddPE(ctx, pe, member)
		if err != nil {
			return nil, err
		}
		handles[pe] = h
	}
	return handles, nil
}

// Exec flushes every destination's current batch immediately.
func (g *Group[H, S, D, R]) Exec(ctx context.Context) error {
	g.mu.Lock()
	cohorts := g.cohorts
	g.cohorts = make(map[int]*cohort[S, D, R])
	g.mu.Unlock()

	var firstErr error
	for _, c := range cohorts {
		if err := c.g.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Group[H, S, D, R]) newBatchGroup(pe int, static S) *batch.Group[entry[D, R]] {
	return batch.New[entry[D, R]](func(ctx context.Context, entries []entry[D, R]) error {
		dynamics := make([]D, len(entries))
		for i, e := range entries {
			dynamics[i] = e.dynamic
		}
		payload, err := wire.Encode(groupPayload[S, D]{Static: static, Dynamics: dynamics})
		if err != nil {
			for _, e := range entries {
				e.resCh <- result[R]{err: err}
			}
			return err
		}
		rh, err := sendRequest[[]R](g.d, g.typeID, pe, payload)
		if err != nil {
			for _, e := range entries {
				e.resCh <- result[R]{err: err}
			}
			return err
		}
		results, err := rh.Await(ctx)
		for i, e := range entries {
			if err != nil {
				e.resCh <- result[R]{err: err}
				continue
			}
			if i < len(results) {
				e.resCh <- result[R]{val: results[i]}
			} else {
				e.resCh <- result[R]{}
			}
		}
		return err
	}, batch.WithMaxSize(g.maxSize), batch.WithFlushInterval(g.flushInt))
}
