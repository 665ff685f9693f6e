// Package batch implements the flush engine shared by every active-message
// group (spec.md §4.3) and by the distributed array's batched element
// operations (spec.md §4.5): entries accumulate until either a size
// threshold or a flush interval is reached, at which point they are handed
// to a Flusher as one slice, with bounded concurrency across outstanding
// flushes.
//
// The ping/pong submission protocol and timer-per-pending-batch design are
// adapted from the teacher's microbatch.Batcher, generalized here to the
// "Group" vocabulary used throughout the active-message packages and with
// its config folded into functional options rather than a plain struct, to
// match this module's config.Option convention.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Flusher processes one accumulated batch of entries. Any per-entry result
// must be recorded on the entries themselves (E is typically a pointer or
// contains a result field/channel); a returned error is surfaced to every
// Ticket.Wait call for that batch.
type Flusher[E any] func(ctx context.Context, entries []E) error

// Option configures a Group constructed by New.
type Option func(*groupConfig)

type groupConfig struct {
	maxSize        int
	flushInterval  time.Duration
	maxConcurrency int
}

// WithMaxSize sets the eager-flush threshold: a batch is flushed as soon
// as it reaches this many entries. Non-positive disables size-based
// flushing (the flush interval alone then governs latency).
func WithMaxSize(n int) Option {
	return func(c *groupConfig) { c.maxSize = n }
}

// WithFlushInterval sets the maximum time an incomplete batch waits before
// being flushed anyway. Non-positive disables time-based flushing.
func WithFlushInterval(d time.Duration) Option {
	return func(c *groupConfig) { c.flushInterval = d }
}

// WithMaxConcurrency bounds how many Flusher calls may run concurrently.
func WithMaxConcurrency(n int) Option {
	return func(c *groupConfig) { c.maxConcurrency = n }
}

// Group accumulates entries of type E and flushes them in batches via a
// Flusher. Zero value is not usable; construct with New.
type Group[E any] struct {
	flusher Flusher[E]
	cfg     groupConfig

	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	entryCh chan E
	ackCh   chan *pending[E]
	current *pending[E]
}

// pending is one in-flight (not yet flushed) batch.
type pending[E any] struct {
	err     error
	flushed chan struct{}
	entries []E
}

func newPending[E any]() *pending[E] {
	return &pending[E]{flushed: make(chan struct{})}
}

// Ticket is returned by Submit and resolves once the entry's batch has
// been flushed.
type Ticket[E any] struct {
	// Entry is the submitted value, returned for caller convenience; any
	// per-entry result must have been written through it by the Flusher.
	Entry E
	batch *pending[E]
}

// Wait blocks until the ticket's batch has been flushed, returning the
// Flusher's error, if any.
func (t *Ticket[E]) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.batch.flushed:
		return t.batch.err
	}
}

// New starts a Group backed by flusher. Defaults: max size 16, flush
// interval 50ms, concurrency 1 — overridden via opts. Panics if flusher is
// nil or both size and interval based flushing end up disabled.
func New[E any](flusher Flusher[E], opts ...Option) *Group[E] {
	if flusher == nil {
		panic("batch: nil flusher")
	}

	cfg := groupConfig{maxSize: 16, flushInterval: 50 * time.Millisecond, maxConcurrency: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxSize <= 0 && cfg.flushInterval <= 0 {
		panic("batch: one of WithMaxSize or WithFlushInterval must be enabled")
	}
	if cfg.maxConcurrency <= 0 {
		cfg.maxConcurrency = 1
	}

	g := &Group[E]{
		flusher: flusher,
		cfg:     cfg,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		entryCh: make(chan E),
		ackCh:   make(chan *pending[E]),
		current: newPending[E](),
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	go g.run()
	return g
}

// Submit adds entry to the current batch, returning a Ticket that resolves
// once that batch flushes.
func (g *Group[E]) Submit(ctx context.Context, entry E) (*Ticket[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.ctx.Done():
		return nil, g.ctx.Err()
	case <-g.stopped:
		return nil, context.Canceled
	case g.entryCh <- entry:
		batch := <-g.ackCh
		return &Ticket[E]{Entry: entry, batch: batch}, nil
	}
}

// Shutdown stops accepting new entries and waits for outstanding batches
// (including a final partial one) to flush.
func (g *Group[E]) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopped) })
	select {
	case <-ctx.Done():
		if g.ctx.Err() == nil {
			g.cancel()
			<-g.done
			return ctx.Err()
		}
	case <-g.done:
	}
	return nil
}

// Close cancels all outstanding batches immediately.
func (g *Group[E]) Close() error {
	g.cancel()
	<-g.done
	return nil
}

func (g *Group[E]) run() {
	defer close(g.done)
	defer g.cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	var inflight chan struct{}
	if g.cfg.maxConcurrency > 0 {
		inflight = make(chan struct{}, g.cfg.maxConcurrency)
	}

	flushCurrent := func() {
		if len(g.current.entries) == 0 {
			return
		}
		b := g.current
		g.current = newPending[E]()

		wg.Add(1)
		if inflight != nil {
			inflight <- struct{}{}
		}
		go func() {
			defer func() {
				if inflight != nil {
					<-inflight
				}
				wg.Done()
			}()
			_ = b.run(g.ctx, g.flusher)
		}()
	}

	var drain func()
	drain = func() {
		drain = nil
		flushCurrent()
		wg.Done()
		wg.Wait()
	}

	defer func() {
		g.cancel()
		if drain != nil {
			drain()
		}
	}()

	timerCh := make(chan *pending[E])

	for {
		select {
		case <-g.ctx.Done():
			return

		case <-g.stopped:
			drain()
			return

		case e := <-g.entryCh:
			g.ackCh <- g.current
			g.current.entries = append(g.current.entries, e)

			if g.cfg.maxSize > 0 && len(g.current.entries) >= g.cfg.maxSize {
				flushCurrent()
			} else if g.cfg.flushInterval > 0 && len(g.current.entries) == 1 {
				b := g.current
				timer := time.NewTimer(g.cfg.flushInterval)
				go func() {
					defer timer.Stop()
					select {
					case <-g.ctx.Done():
					case <-g.stopped:
					case <-b.flushed:
					case <-timer.C:
						select {
						case <-g.ctx.Done():
						case <-g.stopped:
						case <-b.flushed:
						case timerCh <- b:
						}
					}
				}()
			}

		case b := <-timerCh:
			if b == g.current {
				flushCurrent()
			}
		}
	}
}

func (b *pending[E]) run(ctx context.Context, flusher Flusher[E]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.err = errors.New("batch: panic in Flusher")
	defer close(b.flushed)

	b.err = flusher(ctx, b.entries)
	return b.err
}
