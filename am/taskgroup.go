package am

import (
	"context"
	"sync"
)

// TaskGroup collects outstanding AM handles launched within some scope and
// joins them with AwaitAll, distinct from any cluster-wide wait (spec.md
// §4.6). Zero value is ready to use.
type TaskGroup struct {
	mu      sync.Mutex
	waiters []func(ctx context.Context) error
}

// NewTaskGroup returns an empty TaskGroup.
func NewTaskGroup() *TaskGroup { return &TaskGroup{} }

// Track registers h with tg so a later AwaitAll also waits for it.
func Track[R any](tg *TaskGroup, h *Handle[R]) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.waiters = append(tg.waiters, func(ctx context.Context) error {
		_, err := h.Await(ctx)
		return err
	})
}

// AwaitAll waits for every handle tracked so far, clearing the group for
// reuse. It returns the first error encountered, if any, but always waits
// for every handle before returning.
func (tg *TaskGroup) AwaitAll(ctx context.Context) error {
	tg.mu.Lock()
	waiters := tg.waiters
	tg.waiters = nil
	tg.mu.Unlock()

	var firstErr error
	for _, w := range waiters {
		if err := w(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
