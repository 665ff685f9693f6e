package darray

import "golang.org/x/exp/constraints"

// coreHolder is satisfied by every access-discipline wrapper, letting
// the conversion functions below operate generically over the source
// discipline without adding methods with their own type parameters
// (not legal in Go — a method cannot introduce a type parameter beyond
// its receiver's).
type coreHolder[T any] interface {
	coreRef() *arrayCore[T]
}

// IntoAtomic converts a to the Atomic discipline, sharing the same
// backing storage (spec.md §4.5: "conversions produce new arrays" that
// share state, verified by into_atomic().into_unsafe() round-tripping
// element values). Collective: every PE must call this for the same
// array. Acquires the array's exclusive lock while swapping the wrapper
// type, standing in for the "require quiescence" check spec.md calls
// for — no in-flight op can be holding the lock across the conversion.
func IntoAtomic[T constraints.Integer, A coreHolder[T]](a A) *AtomicArray[T] {
	c := a.coreRef()
	s := c.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return &AtomicArray[T]{core: *c}
}

// IntoLocalLock converts a to the LocalLock discipline.
func IntoLocalLock[T any, A coreHolder[T]](a A) *LocalLockArray[T] {
	c := a.coreRef()
	s := c.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return &LocalLockArray[T]{core: *c}
}

// IntoReadOnly converts a to the ReadOnly discipline.
func IntoReadOnly[T any, A coreHolder[T]](a A) *ReadOnlyArray[T] {
	c := a.coreRef()
	s := c.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	readOnlyLoadOpID[T](c.mgr)
	return &ReadOnlyArray[T]{core: *c}
}

// IntoUnsafe converts a to the Unsafe discipline (spec.md §9's
// `arr.into_atomic().into_unsafe()` round trip).
func IntoUnsafe[T any, A coreHolder[T]](a A) *UnsafeArray[T] {
	c := a.coreRef()
	s := c.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return &UnsafeArray[T]{core: *c}
}
