package darray

import (
	"context"
	"fmt"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// ReadOnlyArray is the ReadOnly access discipline: no Store/mutation
// method exists at all, so a read-only array is genuinely immutable
// after construction or conversion (spec.md §4.5).
type ReadOnlyArray[T any] struct {
	core arrayCore[T]
}

func (a *ReadOnlyArray[T]) coreRef() *arrayCore[T] { return &a.core }

func (a *ReadOnlyArray[T]) Handle() Handle { return a.core.Handle() }
func (a *ReadOnlyArray[T]) Len() int       { return a.core.Len() }
func (a *ReadOnlyArray[T]) NumPEs() int    { return a.core.NumPEs() }
func (a *ReadOnlyArray[T]) LocalData() []T { return a.core.LocalData() }

func (a *ReadOnlyArray[T]) DistIter(workers int, fn func(int, T)) {
	a.core.DistIter(workers, fn)
}

func readOnlyLoadOpID[T any](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.readonly.load.%T", *new(T))
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

// Load fetches element i.
func (a *ReadOnlyArray[T]) Load(ctx context.Context, i int) (T, error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := readOnlyLoadOpID[T](a.core.mgr)
	h, err := am.ExecPE[elemArgs, T](a.core.mgr.d, id, pe, elemArgs{Handle: a.core.handle, Offset: off})
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// At is an alias for Load, matching spec.md §4.5's operation name.
func (a *ReadOnlyArray[T]) At(ctx context.Context, i int) (T, error) { return a.Load(ctx, i) }
