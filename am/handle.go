package am

import "context"

type result[R any] struct {
	val R
	err error
}

// Handle is a future for an active message's result (spec.md §4.2). It is
// safe to drop without awaiting: the handler still runs, but the result
// is discarded (fire-and-forget).
type Handle[R any] struct {
	ch chan result[R]
}

// Await blocks until the handle resolves or ctx is canceled.
func (h *Handle[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	case r := <-h.ch:
		return r.val, r.err
	}
}
