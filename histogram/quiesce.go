package histogram

import (
	"context"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/collective"
	"github.com/pgasdart/runtime/world"
)

// collectiveAwaitAndBarrier waits for every AM this PE issued (tg) to
// complete, then observes global quiescence of that wave — spec.md §4.9
// step 6's wait_all()+barrier() sequence, reused here since every
// histogram variant is itself a simpler instance of the same fan-out-
// then-settle shape.
func collectiveAwaitAndBarrier(ctx context.Context, w *world.World, tg *am.TaskGroup) error {
	if err := collective.WaitAll(ctx, tg); err != nil {
		return err
	}
	return w.Barrier.Wait(ctx)
}
