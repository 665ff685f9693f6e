package darray

import (
	"context"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// AtomicArray is the Atomic access discipline: every element op is
// serialized through the owning PE's array-wide lock, giving read-modify-
// write atomicity for add/sub/compare_exchange (spec.md §4.5). Go's
// sync/atomic has no generic arithmetic API over arbitrary integer
// widths, so atomicity here comes from mutual exclusion rather than
// lock-free CPU atomics — observably equivalent for every operation this
// discipline exposes.
type AtomicArray[T constraints.Integer] struct {
	core arrayCore[T]
}

// NewAtomic collectively constructs an n-element atomic array.
func NewAtomic[T constraints.Integer](mgr *Manager, n int, dist Distribution) *AtomicArray[T] {
	h := mgr.allocate()
	layout := NewLayout(n, mgr.d.NumPEs(), dist)
	st := &arrayState[T]{layout: layout, local: make([]T, layout.LocalLen(mgr.pe))}
	mgr.arrays.Store(h, st)
	atomicLoadOpID[T](mgr)
	atomicStoreOpID[T](mgr)
	arithOpID[T](mgr, "add")
	arithOpID[T](mgr, "sub")
	casOpID[T](mgr)
	batchLoadOpID[T](mgr)
	batchStoreOpID[T](mgr)
	batchCasOpID[T](mgr)
	return &AtomicArray[T]{core: arrayCore[T]{mgr: mgr, handle: h, layout: layout, pe: mgr.pe}}
}

func (a *AtomicArray[T]) coreRef() *arrayCore[T] { return &a.core }

func (a *AtomicArray[T]) Handle() Handle { return a.core.Handle() }
func (a *AtomicArray[T]) Len() int       { return a.core.Len() }
func (a *AtomicArray[T]) NumPEs() int    { return a.core.NumPEs() }
func (a *AtomicArray[T]) LocalData() []T { return a.core.LocalData() }

func (a *AtomicArray[T]) DistIter(workers int, fn func(int, T)) {
	a.core.DistIter(workers, fn)
}

func (a *AtomicArray[T]) DistIterMut(workers int, fn func(int, *T)) {
	a.core.DistIterMut(workers, fn)
}

// CASResult models spec.md §4.5's Result<T,T>: Value holds the previous
// value on a successful compare-exchange, or the observed (mismatching)
// value on failure; Ok reports whether the exchange succeeded.
type CASResult[T any] struct {
	Value T
	Ok    bool
}

func atomicLoadOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.atomic.load.%T", *new(T))
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

func atomicStoreOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.atomic.store.%T", *new(T))
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

type arithArgs[T any] struct {
	Handle Handle
	Offset int
	Delta  T
}

func arithOpID[T constraints.Integer](mgr *Manager, op string) wire.TypeID {
	key := fmt.Sprintf("darray.%s.%T", op, *new(T))
	return registerOp[arithArgs[T], T](mgr, key, func(ctx context.Context, src int, arg arithArgs[T]) (T, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			var zero T
			return zero, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			var zero T
			return zero, fmt.Errorf("pgas: darray: %s index %d out of range", op, arg.Offset)
		}
		old := s.local[arg.Offset]
		switch op {
		case "add":
			s.local[arg.Offset] = old + arg.Delta
		case "sub":
			s.local[arg.Offset] = old - arg.Delta
		}
		return old, nil
	})
}

type casArgs[T any] struct {
	Handle   Handle
	Offset   int
	Expected T
	Desired  T
}

func casOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.cas.%T", *new(T))
	return registerOp[casArgs[T], CASResult[T]](mgr, key, func(ctx context.Context, src int, arg casArgs[T]) (CASResult[T], error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return CASResult[T]{}, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if arg.Offset < 0 || arg.Offset >= len(s.local) {
			return CASResult[T]{}, fmt.Errorf("pgas: darray: compare_exchange index %d out of range", arg.Offset)
		}
		cur := s.local[arg.Offset]
		if cur == arg.Expected {
			s.local[arg.Offset] = arg.Desired
			return CASResult[T]{Value: cur, Ok: true}, nil
		}
		return CASResult[T]{Value: cur, Ok: false}, nil
	})
}

type batchLoadArgs struct {
	Handle  Handle
	Offsets []int
}

func batchLoadOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.batchload.%T", *new(T))
	return registerOp[batchLoadArgs, []T](mgr, key, func(ctx context.Context, src int, arg batchLoadArgs) ([]T, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]T, len(arg.Offsets))
		for i, off := range arg.Offsets {
			if off < 0 || off >= len(s.local) {
				return nil, fmt.Errorf("pgas: darray: batch_load index %d out of range", off)
			}
			out[i] = s.local[off]
		}
		return out, nil
	})
}

type batchStoreArgs[T any] struct {
	Handle  Handle
	Offsets []int
	Values  []T
}

func batchStoreOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.batchstore.%T", *new(T))
	return registerOp[batchStoreArgs[T], struct{}](mgr, key, func(ctx context.Context, src int, arg batchStoreArgs[T]) (struct{}, error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return struct{}{}, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, off := range arg.Offsets {
			if off < 0 || off >= len(s.local) {
				return struct{}{}, fmt.Errorf("pgas: darray: batch_store index %d out of range", off)
			}
			s.local[off] = arg.Values[i]
		}
		return struct{}{}, nil
	})
}

type batchCasArgs[T any] struct {
	Handle   Handle
	Offsets  []int
	Expected T
	Desired  []T
}

func batchCasOpID[T constraints.Integer](mgr *Manager) wire.TypeID {
	key := fmt.Sprintf("darray.batchcas.%T", *new(T))
	return registerOp[batchCasArgs[T], []CASResult[T]](mgr, key, func(ctx context.Context, src int, arg batchCasArgs[T]) ([]CASResult[T], error) {
		s, err := loadState[T](mgr, arg.Handle)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]CASResult[T], len(arg.Offsets))
		for i, off := range arg.Offsets {
			if off < 0 || off >= len(s.local) {
				return nil, fmt.Errorf("pgas: darray: batch_compare_exchange index %d out of range", off)
			}
			cur := s.local[off]
			if cur == arg.Expected {
				s.local[off] = arg.Desired[i]
				out[i] = CASResult[T]{Value: cur, Ok: true}
			} else {
				out[i] = CASResult[T]{Value: cur, Ok: false}
			}
		}
		return out, nil
	})
}

// Load fetches element i under the array's lock.
func (a *AtomicArray[T]) Load(ctx context.Context, i int) (T, error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := atomicLoadOpID[T](a.core.mgr)
	h, err := am.ExecPE[elemArgs, T](a.core.mgr.d, id, pe, elemArgs{Handle: a.core.handle, Offset: off})
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// Store writes element i under the array's lock.
func (a *AtomicArray[T]) Store(ctx context.Context, i int, v T) error {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := atomicStoreOpID[T](a.core.mgr)
	h, err := am.ExecPE[storeArgs[T], struct{}](a.core.mgr.d, id, pe, storeArgs[T]{Handle: a.core.handle, Offset: off, Value: v})
	if err != nil {
		return err
	}
	_, err = h.Await(ctx)
	return err
}

func (a *AtomicArray[T]) arith(ctx context.Context, i int, delta T, op string) (T, error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := arithOpID[T](a.core.mgr, op)
	h, err := am.ExecPE[arithArgs[T], T](a.core.mgr.d, id, pe, arithArgs[T]{Handle: a.core.handle, Offset: off, Delta: delta})
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// Add applies delta to element i, discarding the previous value.
func (a *AtomicArray[T]) Add(ctx context.Context, i int, delta T) error {
	_, err := a.arith(ctx, i, delta, "add")
	return err
}

// Sub subtracts delta from element i, discarding the previous value.
func (a *AtomicArray[T]) Sub(ctx context.Context, i int, delta T) error {
	_, err := a.arith(ctx, i, delta, "sub")
	return err
}

// FetchAdd applies delta to element i, returning its previous value.
func (a *AtomicArray[T]) FetchAdd(ctx context.Context, i int, delta T) (T, error) {
	return a.arith(ctx, i, delta, "add")
}

// FetchSub subtracts delta from element i, returning its previous value.
func (a *AtomicArray[T]) FetchSub(ctx context.Context, i int, delta T) (T, error) {
	return a.arith(ctx, i, delta, "sub")
}

// CompareExchange atomically replaces element i with desired if its
// current value equals expected.
func (a *AtomicArray[T]) CompareExchange(ctx context.Context, i int, expected, desired T) (CASResult[T], error) {
	pe := a.core.layout.Owner(i)
	off := a.core.layout.LocalOffset(i)
	id := casOpID[T](a.core.mgr)
	h, err := am.ExecPE[casArgs[T], CASResult[T]](a.core.mgr.d, id, pe, casArgs[T]{Handle: a.core.handle, Offset: off, Expected: expected, Desired: desired})
	if err != nil {
		return CASResult[T]{}, err
	}
	return h.Await(ctx)
}

// BatchLoad fetches every index in indices, partitioning by owning PE
// and issuing one active message per non-empty partition, reassembling
// results in input order (spec.md §4.5).
func (a *AtomicArray[T]) BatchLoad(ctx context.Context, indices []int) ([]T, error) {
	type partition struct {
		positions []int
		offsets   []int
	}
	byOwner := make(map[int]*partition)
	var owners []int
	for pos, idx := range indices {
		pe := a.core.layout.Owner(idx)
		p, ok := byOwner[pe]
		if !ok {
			p = &partition{}
			byOwner[pe] = p
			owners = append(owners, pe)
		}
		p.positions = append(p.positions, pos)
		p.offsets = append(p.offsets, a.core.layout.LocalOffset(idx))
	}

	id := batchLoadOpID[T](a.core.mgr)
	type pending struct {
		positions []int
		h         *am.Handle[[]T]
	}
	pendings := make([]pending, 0, len(owners))
	for _, pe := range owners {
		p := byOwner[pe]
		h, err := am.ExecPE[batchLoadArgs, []T](a.core.mgr.d, id, pe, batchLoadArgs{Handle: a.core.handle, Offsets: p.offsets})
		if err != nil {
			return nil, err
		}
		pendings = append(pendings, pending{positions: p.positions, h: h})
	}

	out := make([]T, len(indices))
	for _, pd := range pendings {
		vals, err := pd.h.Await(ctx)
		if err != nil {
			return nil, err
		}
		for i, pos := range pd.positions {
			out[pos] = vals[i]
		}
	}
	return out, nil
}

// BatchStore writes values[k] at indices[k] for every k, partitioning by
// owning PE and issuing one active message per non-empty partition
// (spec.md §4.9 step 7's "batched writes" compaction wave). len(values)
// must equal len(indices).
func (a *AtomicArray[T]) BatchStore(ctx context.Context, indices []int, values []T) error {
	if len(values) != len(indices) {
		return fmt.Errorf("pgas: darray: batch_store: values length %d != indices length %d", len(values), len(indices))
	}
	type partition struct {
		offsets []int
		values  []T
	}
	byOwner := make(map[int]*partition)
	var owners []int
	for pos, idx := range indices {
		pe := a.core.layout.Owner(idx)
		p, ok := byOwner[pe]
		if !ok {
			p = &partition{}
			byOwner[pe] = p
			owners = append(owners, pe)
		}
		p.offsets = append(p.offsets, a.core.layout.LocalOffset(idx))
		p.values = append(p.values, values[pos])
	}

	id := batchStoreOpID[T](a.core.mgr)
	handles := make([]*am.Handle[struct{}], 0, len(owners))
	for _, pe := range owners {
		p := byOwner[pe]
		h, err := am.ExecPE[batchStoreArgs[T], struct{}](a.core.mgr.d, id, pe, batchStoreArgs[T]{Handle: a.core.handle, Offsets: p.offsets, Values: p.values})
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// BatchCompareExchange attempts expected -> desired[k] for every
// indices[k], partitioning by owning PE and reassembling results in
// input order. len(desired) must equal len(indices).
func (a *AtomicArray[T]) BatchCompareExchange(ctx context.Context, indices []int, expected T, desired []T) ([]CASResult[T], error) {
	if len(desired) != len(indices) {
		return nil, fmt.Errorf("pgas: darray: batch_compare_exchange: desired length %d != indices length %d", len(desired), len(indices))
	}
	type partition struct {
		positions []int
		offsets   []int
		desired   []T
	}
	byOwner := make(map[int]*partition)
	var owners []int
	for pos, idx := range indices {
		pe := a.core.layout.Owner(idx)
		p, ok := byOwner[pe]
		if !ok {
			p = &partition{}
			byOwner[pe] = p
			owners = append(owners, pe)
		}
		p.positions = append(p.positions, pos)
		p.offsets = append(p.offsets, a.core.layout.LocalOffset(idx))
		p.desired = append(p.desired, desired[pos])
	}

	id := batchCasOpID[T](a.core.mgr)
	type pending struct {
		positions []int
		h         *am.Handle[[]CASResult[T]]
	}
	pendings := make([]pending, 0, len(owners))
	for _, pe := range owners {
		p := byOwner[pe]
		h, err := am.ExecPE[batchCasArgs[T], []CASResult[T]](a.core.mgr.d, id, pe, batchCasArgs[T]{Handle: a.core.handle, Offsets: p.offsets, Expected: expected, Desired: p.desired})
		if err != nil {
			return nil, err
		}
		pendings = append(pendings, pending{positions: p.positions, h: h})
	}

	out := make([]CASResult[T], len(indices))
	for _, pd := range pendings {
		vals, err := pd.h.Await(ctx)
		if err != nil {
			return nil, err
		}
		for i, pos := range pd.positions {
			out[pos] = vals[i]
		}
	}
	return out, nil
}
