package randperm

import (
	"context"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/collective"
	"github.com/pgasdart/runtime/world"
)

// quiesce implements spec.md §4.9 step 6 exactly: wait_all() observes
// local completion of the AMs this PE directly issued, then barrier()
// observes global quiescence of that wave.
func quiesce(ctx context.Context, w *world.World, tg *am.TaskGroup) error {
	if err := collective.WaitAll(ctx, tg); err != nil {
		return err
	}
	return w.Barrier.Wait(ctx)
}

// settle runs extra barrier rounds after quiesce, giving chained
// fire-and-forget retries (spawned by a handler without being tracked by
// any TaskGroup — spec.md §4.9 step 5's "chain a fresh AM") room to land
// before compaction scans the target table. This is a benchmark-grade
// approximation, not a true termination-detection algorithm: spec.md §9
// already treats bounded retry counts as a probabilistic property of
// target_factor rather than something the engine must prove.
func settle(ctx context.Context, w *world.World, rounds int) error {
	for i := 0; i < rounds; i++ {
		if err := w.Barrier.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
