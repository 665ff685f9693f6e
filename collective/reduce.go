package collective

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// Number is the element constraint for Sum: any built-in numeric type
// with a native + operator.
type Number interface {
	constraints.Integer | constraints.Float
}

type reduceMsg[T any] struct {
	Value T
	Has   bool
}

type reduceState struct {
	ch chan any
}

// Reducer runs Sum/Min/Max tree-reductions across the PEs of one World.
// Every element type and operation gets its own lazily-registered
// active-message handler, the same pattern package dar and package
// darray use for their own per-type remote operations.
type Reducer struct {
	d *am.Dispatcher

	lazyMu       sync.Mutex
	lazyHandlers sync.Map // string key -> wire.TypeID
	states       sync.Map // string key -> *reduceState
}

// NewReducer builds a Reducer bound to d.
func NewReducer(d *am.Dispatcher) *Reducer {
	return &Reducer{d: d}
}

func (r *Reducer) stateFor(key string) *reduceState {
	v, _ := r.states.LoadOrStore(key, &reduceState{ch: make(chan any, 2)})
	return v.(*reduceState)
}

func reduceHandlerID[T any](r *Reducer, key string) (wire.TypeID, *reduceState) {
	st := r.stateFor(key)
	r.lazyMu.Lock()
	defer r.lazyMu.Unlock()
	if v, ok := r.lazyHandlers.Load(key); ok {
		return v.(wire.TypeID), st
	}
	id := am.RegisterHandler(r.d, key, func(ctx context.Context, src int, msg reduceMsg[T]) (struct{}, error) {
		st.ch <- msg
		return struct{}{}, nil
	})
	r.lazyHandlers.Store(key, id)
	return id, st
}

// treeReduce combines localValue (already folded over this PE's own
// data) up a binary tree keyed by PE index (parent (pe-1)/2, children
// 2*pe+1, 2*pe+2) using combine, then broadcasts the final result from
// the root (PE 0) back down to every PE — spec.md §4.8 requires the
// reduction's result be delivered to the caller on every PE, not just
// the root.
func treeReduce[T any](ctx context.Context, r *Reducer, op string, localValue T, hasLocal bool, combine func(a, b T) T) (T, bool, error) {
	pe := r.d.PE()
	n := r.d.NumPEs()
	left, right := 2*pe+1, 2*pe+2
	expect := 0
	if left < n {
		expect++
	}
	if right < n {
		expect++
	}

	upKey := fmt.Sprintf("collective.reduce.%s.%T", op, localValue)
	resultKey := fmt.Sprintf("collective.reduce.%s.result.%T", op, localValue)
	upID, upState := reduceHandlerID[T](r, upKey)
	resultID, resultState := reduceHandlerID[T](r, resultKey)

	acc, has := localValue, hasLocal
	for k := 0; k < expect; k++ {
		select {
		case v := <-upState.ch:
			msg := v.(reduceMsg[T])
			if msg.Has {
				if has {
					acc = combine(acc, msg.Value)
				} else {
					acc, has = msg.Value, true
				}
			}
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}

	if pe != 0 {
		parent := (pe - 1) / 2
		h, err := am.ExecPE[reduceMsg[T], struct{}](r.d, upID, parent, reduceMsg[T]{Value: acc, Has: has})
		if err != nil {
			var zero T
			return zero, false, err
		}
		if _, err := h.Await(ctx); err != nil {
			var zero T
			return zero, false, err
		}
	} else {
		for target := 0; target < n; target++ {
			h, err := am.ExecPE[reduceMsg[T], struct{}](r.d, resultID, target, reduceMsg[T]{Value: acc, Has: has})
			if err != nil {
				var zero T
				return zero, false, err
			}
			if _, err := h.Await(ctx); err != nil {
				var zero T
				return zero, false, err
			}
		}
	}

	select {
	case v := <-resultState.ch:
		msg := v.(reduceMsg[T])
		return msg.Value, msg.Has, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Sum reduces local (this PE's locally-owned slice, e.g. from
// darray.AtomicArray.LocalData) across the cluster. The returned bool is
// false — an Option<T>::None — only when every PE's local slice was
// empty.
func Sum[T Number](ctx context.Context, r *Reducer, local []T) (T, bool, error) {
	var acc T
	for _, v := range local {
		acc += v
	}
	return treeReduce(ctx, r, "sum", acc, len(local) > 0, func(a, b T) T { return a + b })
}

// Min reduces local across the cluster, returning the minimum element.
func Min[T constraints.Ordered](ctx context.Context, r *Reducer, local []T) (T, bool, error) {
	var zero T
	if len(local) == 0 {
		return treeReduce(ctx, r, "min", zero, false, minCombine[T])
	}
	m := local[0]
	for _, v := range local[1:] {
		if v < m {
			m = v
		}
	}
	return treeReduce(ctx, r, "min", m, true, minCombine[T])
}

// Max reduces local across the cluster, returning the maximum element.
func Max[T constraints.Ordered](ctx context.Context, r *Reducer, local []T) (T, bool, error) {
	var zero T
	if len(local) == 0 {
		return treeReduce(ctx, r, "max", zero, false, maxCombine[T])
	}
	m := local[0]
	for _, v := range local[1:] {
		if v > m {
			m = v
		}
	}
	return treeReduce(ctx, r, "max", m, true, maxCombine[T])
}

func minCombine[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func maxCombine[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
