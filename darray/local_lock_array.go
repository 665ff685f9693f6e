package darray

import (
	"context"
	"fmt"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// LocalLockArray is the LocalLock access discipline: element access on
// the owning PE is serialized by the array's readers-writer lock, for
// element types with no interior atomicity of their own (spec.md §3).
type LocalLockArray[T any] struct {
	core arrayCore[T]
}

// NewLocalLock collectively constructs an n-element local-locked array.
func NewLocalLock[T any](mgr *Manager, n int, dist Distribution) *LocalLockArray[T] {
	h := mgr.allocate()
	layout := NewLayout(n, mgr.d.NumPEs(), dist)
	st := &arrayState[T]{layout: layout, local: make([]T, layout.LocalLen(mgr.pe))}
	mgr.arrays.Store(h, st)
	return &LocalLockArray[T]{core: arrayCore[T]{mgr: mgr, handle: h, layout: layout, pe: mgr.pe}}
}

func (a *LocalLockArray[T]) coreRef() *arrayCore[T] { return &a.core }

func (a *LocalLockArray[T]) Handle() Handle { return a.core.Handle() }
func (a *LocalLockArray[T]) Len() int       { return a.core.Len() }
func (a *LocalLockArray[T]) NumPEs() int    { return a.core.NumPEs() }
func (a *LocalLockArray[T]) LocalData() []T { return a.core.LocalData() }

func (a *LocalLockArray[T]) DistIter(workers int, fn func(int, T)) {
	a.core.DistIter(workers, fn)
}

func (a *LocalLockArray[T]) DistIterMut(workers int, fn func(int, *T)) {
	a.core.DistIterMut(workers, fn)
}

// WithLock runs fn with the array's write lock held over the whole
// local slice, for bulk critical sections that span multiple elements.
func (a *LocalLockArray[T]) WithLock(fn func(local []T)) {
	s := a.core.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.local)
}

func localLockLoadOpID[T any](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.locallock.load.%T", *new(T))
	return registerOp[elemArgs, T](mgr, key, func(ctx context.Context, src int, arg elemArgs) (T, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			var zero T
			return zero, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			var zero T
			return zero, fmt.Errorf("pgas: darray: load index %d out of range", arg.Offset)
		}
		return s.local[arg.Offset], nil
	})
}

func localLockStoreOpID[T any](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.locallock.store.%T", *new(T))
	return registerOp[storeArgs[T], struct{}](mgr, key, func(ctx context.Context, src int, arg storeArgs[T]) (struct{}, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return struct{}{}, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			return struct{}{}, fmt.Errorf("pgas: darray: store index %d out of range", arg.Offset)
		}
		s.local[arg.Offset] = arg.Value
		return struct{}{}, nil
	})
}

// Load fetches element i under the array's read lock.
func (a *LocalLockArray[T]) Load(ctx context.Context, i int) (T, error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := localLockLoadOpID[T](a.core.mgr)
	h, err := am.ExecPE[elemArgs, T](a.core.mgr.d, id, pe, elemArgs{Handle: a.core.handle, Offset: off})
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// Store writes element i under the array's write lock.
func (a *LocalLockArray[T]) Store(ctx context.Context, i int, v T) error {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := localLockStoreOpID[T](a.core.mgr)
	h, err := am.ExecPE[storeArgs[T], struct{}](a.core.mgr.d, id, pe, storeArgs[T]{Handle: a.core.handle, Offset: off, Value: v})
	if err != nil {
		return err
	}
	_, err = h.Await(ctx)
	return err
}
