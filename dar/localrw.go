package dar

import (
	"context"
	"fmt"
	"sync"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

// LocalRW wraps a per-PE value of T behind a read/write lock; unlike DAR,
// remote access goes through an active message rather than RDMA (spec.md
// §3).
type LocalRW[T any] struct {
	mgr    *Manager
	handle Handle
	mu     *sync.RWMutex
}

// ToLocalRW converts d into a lock-guarded LocalRW sharing the same
// handle and backing value.
func (d *DAR[T]) ToLocalRW() *LocalRW[T] {
	return &LocalRW[T]{mgr: d.mgr, handle: d.handle, mu: new(sync.RWMutex)}
}

// Read runs fn with a read lock held over the local replica.
func (l *LocalRW[T]) Read(fn func(T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.local())
}

// Write runs fn with a write lock held, allowing in-place mutation of the
// local replica.
func (l *LocalRW[T]) Write(fn func(*T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.mgr.get(l.handle)
	if !ok || e.freed {
		panic(fmt.Sprintf("pgas: dar: write to freed or unknown handle %d", l.handle))
	}
	v := e.value.(T)
	fn(&v)
	e.value = v
}

func (l *LocalRW[T]) local() T {
	e, ok := l.mgr.get(l.handle)
	if !ok || e.freed {
		panic(fmt.Sprintf("pgas: dar: read from freed or unknown handle %d", l.handle))
	}
	return e.value.(T)
}

// ToDAR converts l back into a plain DAR, failing if another goroutine is
// currently holding the write lock (spec.md §3: "confirming no other
// local writers").
func (l *LocalRW[T]) ToDAR() (*DAR[T], bool) {
	if !l.mu.TryLock() {
		return nil, false
	}
	defer l.mu.Unlock()
	return &DAR[T]{mgr: l.mgr, handle: l.handle}, true
}

// RemoteRead fetches the value of the LocalRW with the given handle on a
// remote PE via an active message (spec.md §3). Every PE's Manager that
// may be the target of a RemoteRead[T] must have called
// RegisterRemoteRead[T] first — handlers are looked up on the receiving
// PE's own Dispatcher, so lazily registering only on the caller's Manager
// would leave the target PE unable to answer the request.
func RemoteRead[T any](ctx context.Context, mgr *Manager, handle Handle, pe int) (T, error) {
	id := RegisterRemoteRead[T](mgr)
	h, err := am.ExecPE[Handle, T](mgr.d, id, pe, handle)
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Await(ctx)
}

// RegisterRemoteRead registers (once per Manager, idempotently) the
// handler RemoteRead[T] addresses, and returns its wire.TypeID. Manager
// itself cannot be generic over every T a caller might ever ask for, so
// registration is keyed by T's reflected name and done lazily the first
// time either RemoteRead or RegisterRemoteRead is called for that type —
// every PE's Manager must make this call, collectively, for a given T
// before any PE issues a RemoteRead[T] against it.
func RegisterRemoteRead[T any](mgr *Manager) wire.TypeID {
	return localRWReadHandlerID[T](mgr)
}

func localRWReadHandlerID[T any](mgr *Manager) wire.TypeID {
	var zero T
	key := fmt.Sprintf("dar.localrw.read.%T", zero)

	mgr.lazyMu.Lock()
	defer mgr.lazyMu.Unlock()

	if v, ok := mgr.lazyHandlers.Load(key); ok {
		return v.(wire.TypeID)
	}
	id := am.RegisterHandler(mgr.d, key, func(ctx context.Context, src int, h Handle) (T, error) {
		e, ok := mgr.get(h)
		if !ok || e.freed {
			var zero T
			return zero, fmt.Errorf("pgas: dar: remote read of freed or unknown handle %d", h)
		}
		return e.value.(T), nil
	})
	mgr.lazyHandlers.Store(key, id)
	return id
}
