// Package darray implements the distributed array Arr[T, D, A] (spec.md
// §3, §4.5): a fixed-length array of T, Block- or Cyclic-distributed
// across PEs, with four access disciplines (Unsafe, Atomic, LocalLock,
// ReadOnly) realized as distinct generic types rather than a runtime
// switch, since each discipline exposes a different operation set.
//
// Per-element and batched operations resolve by active message on the
// owning PE (spec.md §4.5: "resolves by AM on the owning PE"), reusing
// package am's RegisterHandler/ExecPE exactly as package dar does for
// its own remote-read path. Handles are minted the same collective way
// as memregion.Registry.Allocate and dar.Manager.allocate: every PE
// calls a constructor in the same relative order, so the handle lines
// up across PEs without a broadcast round trip.
package darray

import (
	"context"
	"fmt"
	"sync"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// Handle identifies a distributed array across the whole cluster.
type Handle uint64

// Manager owns every array's local backing storage on one PE, and the
// per-(operation, element type) active-message handlers that serve
// remote access to it.
type Manager struct {
	d  *am.Dispatcher
	pe int

	mu         sync.Mutex
	nextHandle uint64
	arrays     sync.Map // Handle -> *arrayState[T] (type-erased)

	lazyMu       sync.Mutex
	lazyHandlers sync.Map // string key -> wire.TypeID
}

// NewManager builds a Manager bound to d. Construct exactly one per
// World.
func NewManager(d *am.Dispatcher) *Manager {
	return &Manager{d: d, pe: d.PE()}
}

func (mgr *Manager) allocate() Handle {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	h := Handle(mgr.nextHandle)
	mgr.nextHandle++
	return h
}

// registerOp registers, idempotently, the handler for one (operation,
// element type) pair. Manager cannot itself be generic over every T an
// array might ever hold, so registration is keyed by (op, T). NewAtomic,
// NewUnsafe and IntoReadOnly register their own discipline's ops for T
// as part of the collective call, so every PE can serve them. Every other
// pair (the LocalLockArray ops, and atomic or unsafe ops on an array
// reached only through a conversion) is registered the first time this
// PE issues it; a target PE that has not done so cannot answer it.
func registerOp[A any, R any](mgr *Manager, key string, fn func(ctx context.Context, src int, arg A) (R, error)) wire.TypeID {
	mgr.lazyMu.Lock()
	defer mgr.lazyMu.Unlock()
	if v, ok := mgr.lazyHandlers.Load(key); ok {
		return v.(wire.TypeID)
	}
	id := am.RegisterHandler(mgr.d, key, fn)
	mgr.lazyHandlers.Store(key, id)
	return id
}

// arrayState holds the one backing slice and its guarding lock, shared
// by every access-discipline wrapper that shares a Handle — conversions
// between disciplines swap the wrapper type without copying the
// underlying data (spec.md §4.5: "Arr.into_atomic().into_unsafe() yields
// an array with the same element values").
type arrayState[T any] struct {
	layout Layout
	mu     sync.RWMutex
	local  []T
}

func loadState[T any](mgr *Manager, h Handle) (*arrayState[T], error) {
	v, ok := mgr.arrays.Load(h)
	if !ok {
		return nil, fmt.Errorf("pgas: darray: unknown handle %d", h)
	}
	return v.(*arrayState[T]), nil
}

// arrayCore is embedded by every access-discipline wrapper type.
type arrayCore[T any] struct {
	mgr    *Manager
	handle Handle
	layout Layout
	pe     int
}

func (c *arrayCore[T]) state() *arrayState[T] {
	s, err := loadState[T](c.mgr, c.handle)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// Handle returns the array's cluster-wide handle.
func (c *arrayCore[T]) Handle() Handle { return c.handle }

// Len returns the array's fixed global length.
func (c *arrayCore[T]) Len() int { return c.layout.N }

// NumPEs returns the number of PEs the array is distributed over.
func (c *arrayCore[T]) NumPEs() int { return c.layout.NumPEs }

// LocalData returns a copy of the locally-owned slice, in local order.
func (c *arrayCore[T]) LocalData() []T {
	s := c.state()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.local))
	copy(out, s.local)
	return out
}

// DistIter calls fn for every locally-owned element with its global
// index. With workers <= 1 the elements are visited in global index
// order; otherwise contiguous chunks run concurrently on up to workers
// goroutines and no overall order holds (the launch-thread pattern of
// spec.md §2 component (g)).
func (c *arrayCore[T]) DistIter(workers int, fn func(globalIndex int, value T)) {
	s := c.state()
	s.mu.RLock()
	defer s.mu.RUnlock()
	runParallel(len(s.local), workers, func(off int) {
		fn(c.layout.GlobalIndex(c.pe, off), s.local[off])
	})
}

// DistIterMut calls fn with a pointer to every locally-owned element and
// its global index, in the same order and with the same fan-out as
// DistIter.
func (c *arrayCore[T]) DistIterMut(workers int, fn func(globalIndex int, value *T)) {
	s := c.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	runParallel(len(s.local), workers, func(off int) {
		fn(c.layout.GlobalIndex(c.pe, off), &s.local[off])
	})
}

func runParallel(n, workers int, fn func(i int)) {
	if workers <= 1 || n == 0 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
