package am_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
)

func TestTaskGroup_AwaitAllWaitsForEveryHandle(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterHandler(c.dispatchers[0], "tg-noop", func(ctx context.Context, src int, arg int) (int, error) {
		return arg, nil
	})
	am.RegisterHandler(c.dispatchers[1], "tg-noop", func(ctx context.Context, src int, arg int) (int, error) {
		return arg, nil
	})

	tg := am.NewTaskGroup()
	for i := 0; i < 5; i++ {
		h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 1, i)
		require.NoError(t, err)
		am.Track(tg, h)
	}
	require.NoError(t, tg.AwaitAll(context.Background()))
	// A second AwaitAll with nothing tracked is a no-op.
	require.NoError(t, tg.AwaitAll(context.Background()))
}

func TestTaskGroup_AwaitAllReturnsFirstError(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterHandler(c.dispatchers[0], "tg-err", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	am.RegisterHandler(c.dispatchers[1], "tg-err", func(ctx context.Context, src int, arg int) (int, error) {
		if arg == 1 {
			return 0, context.Canceled
		}
		return 0, nil
	})

	tg := am.NewTaskGroup()
	for i := 0; i < 3; i++ {
		h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 1, i)
		require.NoError(t, err)
		am.Track(tg, h)
	}
	require.Error(t, tg.AwaitAll(context.Background()))
}
