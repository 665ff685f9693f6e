// Package dar implements the distributed atomic reference, DAR[T], and
// its lock-guarded sibling LocalRW[T] (spec.md §3, §4.4): a value of T
// replicated once per PE behind a cluster-wide handle, with a reference
// count spanning every PE and a coordinator-driven quiescence protocol
// that frees the backing value only once every PE's local count has
// dropped to zero.
//
// Handles are minted the same way package memregion mints region handles:
// every PE calls Manager.New in the same collective order, so the
// resulting Handle is identical across PEs without a broadcast round
// trip. The quiescence protocol itself is driven through package am:
// PE 0 acts as the coordinator, tallying "local count reached zero"
// notifications and broadcasting a final free once every PE has reported
// in, mirroring the request/notify/broadcast shape package am's own
// ExecAll uses to fan out and collect per-PE results.
package dar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// Handle identifies a DAR across the whole cluster.
type Handle uint64

type entry struct {
	value     any
	localRefs int32
	freed     bool
}

const coordinatorPE = 0

// Manager owns every DAR entry local to one PE and runs the quiescence
// coordinator protocol (on PE 0) and reporting (on every PE).
type Manager struct {
	d      *am.Dispatcher
	pe     int
	numPEs int

	mu         sync.Mutex
	entries    map[Handle]*entry
	nextHandle uint64

	// coordinator-only state
	coordMu  sync.Mutex
	zeroedBy map[Handle]map[int]bool

	localZeroID wire.TypeID
	freeID      wire.TypeID

	lazyMu       sync.Mutex
	lazyHandlers sync.Map // string type key -> wire.TypeID
}

// NewManager builds a Manager bound to d, registering the two handlers
// the quiescence protocol needs. Construct exactly one Manager per World.
func NewManager(d *am.Dispatcher) *Manager {
	m := &Manager{
		d:        d,
		pe:       d.PE(),
		numPEs:   d.NumPEs(),
		entries:  make(map[Handle]*entry),
		zeroedBy: make(map[Handle]map[int]bool),
	}
	m.localZeroID = am.RegisterHandler(d, "dar.localzero", func(ctx context.Context, src int, h Handle) (struct{}, error) {
		m.onLocalZero(src, h)
		return struct{}{}, nil
	})
	m.freeID = am.RegisterHandler(d, "dar.free", func(ctx context.Context, src int, h Handle) (struct{}, error) {
		m.mu.Lock()
		if e, ok := m.entries[h]; ok {
			e.freed = true
			e.value = nil
		}
		m.mu.Unlock()
		return struct{}{}, nil
	})
	return m
}

func (m *Manager) allocate(value any) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Handle(m.nextHandle)
	m.nextHandle++
	m.entries[h] = &entry{value: value, localRefs: 1}
	return h
}

func (m *Manager) get(h Handle) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[h]
	return e, ok
}

// onLocalZero runs on the coordinator (PE 0) when src reports its local
// refcount for h has reached zero. Once every PE has reported, it
// broadcasts the free.
func (m *Manager) onLocalZero(src int, h Handle) {
	m.coordMu.Lock()
	set, ok := m.zeroedBy[h]
	if !ok {
		set = make(map[int]bool, m.numPEs)
		m.zeroedBy[h] = set
	}
	set[src] = true
	done := len(set) == m.numPEs
	if done {
		delete(m.zeroedBy, h)
	}
	m.coordMu.Unlock()

	if done {
		for pe := 0; pe < m.numPEs; pe++ {
			_, _ = am.ExecPE[Handle, struct{}](m.d, m.freeID, pe, h)
		}
	}
}

// DAR is a cluster-wide, reference-counted handle to a per-PE replicated
// value of T.
type DAR[T any] struct {
	mgr    *Manager
	handle Handle
}

// New constructs a DAR[T] collectively: every PE must call New for the
// same logical value, in the same relative order, so handles line up.
func New[T any](mgr *Manager, value T) *DAR[T] {
	h := mgr.allocate(value)
	return &DAR[T]{mgr: mgr, handle: h}
}

// Handle returns the DAR's cluster-wide handle.
func (d *DAR[T]) Handle() Handle { return d.handle }

// Value returns the local PE's replica. Panics if the DAR has already
// been freed cluster-wide, or was never valid locally — both are
// programmer errors per spec.md §7.
func (d *DAR[T]) Value() T {
	e, ok := d.mgr.get(d.handle)
	if !ok || e.freed {
		panic(fmt.Sprintf("pgas: dar: use of freed or unknown handle %d", d.handle))
	}
	return e.value.(T)
}

// Clone increments the local reference count and returns a new DAR[T]
// handle sharing the same backing value.
func (d *DAR[T]) Clone() *DAR[T] {
	e, ok := d.mgr.get(d.handle)
	if !ok {
		panic(fmt.Sprintf("pgas: dar: clone of unknown handle %d", d.handle))
	}
	atomic.AddInt32(&e.localRefs, 1)
	return &DAR[T]{mgr: d.mgr, handle: d.handle}
}

// Drop decrements the local reference count. Once it reaches zero, the
// local PE reports in to the coordinator; once every PE has reported, the
// value is freed cluster-wide.
func (d *DAR[T]) Drop(ctx context.Context) error {
	e, ok := d.mgr.get(d.handle)
	if !ok {
		return nil
	}
	if atomic.AddInt32(&e.localRefs, -1) != 0 {
		return nil
	}
	if d.mgr.pe == coordinatorPE {
		d.mgr.onLocalZero(d.mgr.pe, d.handle)
		return nil
	}
	h, err := am.ExecPE[Handle, struct{}](d.mgr.d, d.mgr.localZeroID, coordinatorPE, d.handle)
	if err != nil {
		return err
	}
	_, err = h.Await(ctx)
	return err
}

// Weak is a non-owning reference to a DAR that does not keep it alive.
type Weak[T any] struct {
	mgr    *Manager
	handle Handle
}

// Weak returns a non-owning reference to d.
func (d *DAR[T]) Weak() Weak[T] { return Weak[T]{mgr: d.mgr, handle: d.handle} }

// Upgrade attempts to produce a live DAR[T] from a weak reference,
// failing if the value has already been freed.
func (w Weak[T]) Upgrade() (*DAR[T], bool) {
	e, ok := w.mgr.get(w.handle)
	if !ok || e.freed {
		return nil, false
	}
	atomic.AddInt32(&e.localRefs, 1)
	return &DAR[T]{mgr: w.mgr, handle: w.handle}, true
}
