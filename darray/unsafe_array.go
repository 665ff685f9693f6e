package darray

import (
	"context"
	"fmt"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// UnsafeArray is the Unsafe access discipline: per-element Load/Store
// take no internal lock on the owning PE, matching spec.md §3's "Unsafe"
// variant — callers coordinate externally, or accept races, exactly as
// with a raw shared slice.
type UnsafeArray[T any] struct {
	core arrayCore[T]
}

// NewUnsafe collectively constructs an n-element array distributed per
// dist. Every PE must call NewUnsafe for the same array, in the same
// relative order, so handles line up across the cluster.
func NewUnsafe[T any](mgr *Manager, n int, dist Distribution) *UnsafeArray[T] {
	h := mgr.allocate()
	layout := NewLayout(n, mgr.d.NumPEs(), dist)
	st := &arrayState[T]{layout: layout, local: make([]T, layout.LocalLen(mgr.pe))}
	mgr.arrays.Store(h, st)
	loadOpID[T](mgr)
	storeOpID[T](mgr)
	return &UnsafeArray[T]{core: arrayCore[T]{mgr: mgr, handle: h, layout: layout, pe: mgr.pe}}
}

func (a *UnsafeArray[T]) coreRef() *arrayCore[T] { return &a.core }

// Handle, Len, NumPEs, LocalData, DistIter, DistIterMut delegate to the
// shared core.
func (a *UnsafeArray[T]) Handle() Handle { return a.core.Handle() }
func (a *UnsafeArray[T]) Len() int       { return a.core.Len() }
func (a *UnsafeArray[T]) NumPEs() int    { return a.core.NumPEs() }
func (a *UnsafeArray[T]) LocalData() []T { return a.core.LocalData() }

func (a *UnsafeArray[T]) DistIter(workers int, fn func(int, T)) {
	a.core.DistIter(workers, fn)
}

func (a *UnsafeArray[T]) DistIterMut(workers int, fn func(int, *T)) {
	a.core.DistIterMut(workers, fn)
}

// elemArgs addresses a single local offset within an array.
type elemArgs struct {
	Handle Handle
	Offset int
}

// storeArgs carries a single-element write.
type storeArgs[T any] struct {
	Handle Handle
	Offset int
	Value  T
}

// loadOpID returns the (lazily registered) handler type id for
// unsynchronized element loads over T, registering it on mgr's
// dispatcher the first time it is needed.
func loadOpID[T any](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.load.%T", *new(T))
	return registerOp[elemArgs, T](mgr, key, func(ctx context.Context, src int, arg elemArgs) (T, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			var zero T
			return zero, err
		}
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			var zero T
			return zero, fmt.Errorf("pgas: darray: load index %d out of range", arg.Offset)
		}
		return s.local[arg.Offset], nil
	})
}

// storeOpID returns the (lazily registered) handler type id for
// unsynchronized element stores over T.
func storeOpID[T any](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.store.%T", *new(T))
	return registerOp[storeArgs[T], struct{}](mgr, key, func(ctx context.Context, src int, arg storeArgs[T]) (struct{}, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return struct{}{}, err
		}
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			return struct{}{}, fmt.Errorf("pgas: darray: store index %d out of range", arg.Offset)
		}
		s.local[arg.Offset] = arg.Value
		return struct{}{}, nil
	})
}

// Load fetches element i, resolved by active message on its owning PE.
func (a *UnsafeArray[T]) Load(ctx context.Context, i int) (T, error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := loadOpID[T](a.core.mgr)
	h, err := am.ExecPE[elemArgs, T](a.core.mgr.d, id, pe, elemArgs{Handle: a.core.handle, Offset: off})
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// Store writes element i, resolved by active message on its owning PE.
func (a *UnsafeArray[T]) Store(ctx context.Context, i int, v T) error {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := storeOpID[T](a.core.mgr)
	h, err := am.ExecPE[storeArgs[T], struct{}](a.core.mgr.d, id, pe, storeArgs[T]{Handle: a.core.handle, Offset: off, Value: v})
	if err != nil {
		return err
	}
	_, err = h.Await(ctx)
	return err
}

// At is an alias for Load, matching spec.md §4.5's operation name.
func (a *UnsafeArray[T]) At(ctx context.Context, i int) (T, error) { return a.Load(ctx, i) }
