// Package ratelimit implements the per-destination in-flight-bytes
// watermark gate used by the buffered compare-and-swap randperm variants
// (spec.md §4.9: buffered_cas, buffered_cas_remote) to bound how much
// unacknowledged data may be outstanding toward any one destination PE
// before a sender must stall.
//
// The design is adapted from the teacher's sliding-window category rate
// limiter: a sync.Map of per-key atomic state, a pooled state struct to
// avoid per-key allocation churn, and a background worker that reclaims
// state for keys that have gone idle. What's dropped relative to the
// teacher is the sliding-window event history itself (a ring buffer of
// timestamps) — a watermark gate only needs a current level, not a
// windowed rate, so there is nothing here that plays the role of the
// teacher's ring buffer.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// destState tracks in-flight bytes for one destination.
type destState struct {
	inFlight int64 // atomic
	lastUsed int64 // atomic, unix nanos
}

var destStatePool = sync.Pool{New: func() any { return new(destState) }}

// Gate bounds in-flight bytes per destination key (typically a PE index).
// Reserve succeeds immediately if the destination is under its high
// watermark; callers that get false are expected to wait (e.g. on a
// per-destination condition or simply retry after a flush) rather than
// spin, per the buffered randperm variants' backpressure design.
type Gate struct {
	high int64
	low  int64

	idleRetention time.Duration
	running       int32 // atomic

	mu   sync.RWMutex
	keys sync.Map // key any -> *destState
}

var timeNow = time.Now

// NewGate builds a Gate with the given high watermark (reservations are
// refused once in-flight bytes reach or exceed this) and low watermark
// (informational: Drained reports true once in-flight bytes fall to or
// below it). idleRetention controls how long a destination's state is
// kept after it returns to zero in-flight bytes before the background
// worker reclaims it; zero disables the worker.
func NewGate(high, low int64, idleRetention time.Duration) *Gate {
	if high <= 0 {
		panic("ratelimit: high watermark must be positive")
	}
	if low < 0 || low > high {
		panic("ratelimit: low watermark must be in [0, high]")
	}
	return &Gate{high: high, low: low, idleRetention: idleRetention}
}

func (g *Gate) state(key any) *destState {
	if v, ok := g.keys.Load(key); ok {
		return v.(*destState)
	}
	s := destStatePool.Get().(*destState)
	atomic.StoreInt64(&s.inFlight, 0)
	atomic.StoreInt64(&s.lastUsed, timeNow().UnixNano())
	if actual, loaded := g.keys.LoadOrStore(key, s); loaded {
		destStatePool.Put(s)
		return actual.(*destState)
	}
	g.maybeStartWorker()
	return s
}

// Reserve attempts to add n in-flight bytes for key. It returns false
// (with no state change) if doing so would reach or exceed the high
// watermark, unless the destination currently has zero in-flight bytes —
// a single oversized send is always allowed through an idle destination
// so a lone large frame can never deadlock the gate.
func (g *Gate) Reserve(key any, n int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.state(key)
	atomic.StoreInt64(&s.lastUsed, timeNow().UnixNano())
	for {
		cur := atomic.LoadInt64(&s.inFlight)
		if cur > 0 && cur+n >= g.high {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.inFlight, cur, cur+n) {
			return true
		}
	}
}

// Release returns n previously-reserved in-flight bytes for key.
func (g *Gate) Release(key any, n int64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.state(key)
	atomic.AddInt64(&s.inFlight, -n)
	atomic.StoreInt64(&s.lastUsed, timeNow().UnixNano())
}

// Drained reports whether key's in-flight bytes are at or below the low
// watermark (used by flush logic to decide whether to keep batching).
func (g *Gate) Drained(key any) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.state(key)
	return atomic.LoadInt64(&s.inFlight) <= g.low
}

func (g *Gate) maybeStartWorker() {
	if g.idleRetention <= 0 {
		return
	}
	if atomic.CompareAndSwapInt32(&g.running, 0, 1) {
		go g.worker()
	}
}

func (g *Gate) worker() {
	ticker := time.NewTicker(g.idleRetention)
	defer ticker.Stop()
	for range ticker.C {
		g.mu.Lock()
		empty := true
		g.keys.Range(func(key, v any) bool {
			s := v.(*destState)
			idle := timeNow().UnixNano()-atomic.LoadInt64(&s.lastUsed) > g.idleRetention.Nanoseconds()
			if idle && atomic.LoadInt64(&s.inFlight) == 0 {
				g.keys.Delete(key)
				destStatePool.Put(s)
			} else {
				empty = false
			}
			return true
		})
		stop := empty
		if stop {
			atomic.StoreInt32(&g.running, 0)
		}
		g.mu.Unlock()
		if stop {
			return
		}
	}
}
