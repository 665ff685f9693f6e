package world_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/collective"
	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/world"
)

var errAt3 = errors.New("worker 3 failed")

func newCluster(t *testing.T, n int) []*world.World {
	t.Helper()
	ws := world.BuildLoopbackCluster(n, config.New(config.WithThreads(2)), nil)
	t.Cleanup(func() {
		for _, w := range ws {
			_ = w.Close()
		}
	})
	return ws
}

func TestBuildLoopbackCluster_AssignsDistinctPEs(t *testing.T) {
	ws := newCluster(t, 3)
	require.Len(t, ws, 3)
	for i, w := range ws {
		require.Equal(t, i, w.MyPE())
		require.Equal(t, 3, w.NumPEs())
	}
}

func TestWorld_DARAndBarrierInteroperate(t *testing.T) {
	ws := newCluster(t, 2)
	for _, w := range ws {
		dar.RegisterRemoteRead[int](w.DAR)
	}

	d0 := dar.New(ws[0].DAR, 0)
	d1 := dar.New(ws[1].DAR, 0)
	lrw0 := d0.ToLocalRW()

	lrw0.Write(func(v *int) { *v = 42 })

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, w := range ws {
		go func(w *world.World) { errs <- w.Barrier.Wait(ctx) }(w)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := dar.RemoteRead[int](ctx, ws[1].DAR, d1.Handle(), 0)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestWorld_ReducerSumAcrossPEs(t *testing.T) {
	ws := newCluster(t, 3)
	local := [][]int{{1}, {2}, {3}}

	done := make(chan int, len(ws))
	for i, w := range ws {
		go func(i int, w *world.World) {
			sum, _, err := collective.Sum(context.Background(), w.Reducer, local[i])
			require.NoError(t, err)
			done <- sum
		}(i, w)
	}
	for range ws {
		select {
		case sum := <-done:
			require.Equal(t, 6, sum)
		case <-time.After(2 * time.Second):
			t.Fatal("reduce did not complete")
		}
	}
}

func TestWorld_LaunchRunsEveryWorkerExactlyOnce(t *testing.T) {
	ws := newCluster(t, 1)
	w := ws[0]

	var count int32
	err := w.Launch(context.Background(), 8, func(ctx context.Context, worker int) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 8, atomic.LoadInt32(&count))
}

func TestWorld_LaunchPropagatesFirstError(t *testing.T) {
	ws := newCluster(t, 1)
	w := ws[0]

	sentinel := errAt3
	err := w.Launch(context.Background(), 4, func(ctx context.Context, worker int) error {
		if worker == 3 {
			return sentinel
		}
		return nil
	})
	require.ErrorIs(t, err, sentinel)
}

func TestWorld_DispatcherExecAllReachesEveryPE(t *testing.T) {
	ws := newCluster(t, 3)
	typeID := am.RegisterHandler(ws[0].Dispatcher, "world-test-echo", func(ctx context.Context, src int, arg int) (int, error) {
		return arg * 10, nil
	})
	for i := 1; i < len(ws); i++ {
		am.RegisterHandler(ws[i].Dispatcher, "world-test-echo", func(ctx context.Context, src int, arg int) (int, error) {
			return arg * 10, nil
		})
	}

	h, err := am.ExecAll[int, int](ws[0].Dispatcher, typeID, 5)
	require.NoError(t, err)
	results, err := h.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{50, 50, 50}, results)
}
