package collective

import (
	"context"

	"github.com/pgasdart/runtime/am"
)

// WaitAll blocks until every active-message result tracked on tg has
// completed, returning the first error encountered — spec.md §4.8's
// "wait-all (quiescence)" collective, a thin alias over
// am.TaskGroup.AwaitAll since that already is exactly "wait for every
// outstanding request I issued to settle".
func WaitAll(ctx context.Context, tg *am.TaskGroup) error {
	return tg.AwaitAll(ctx)
}
