package collective_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/collective"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/executor"
	"github.com/pgasdart/runtime/transport"
)

type cluster struct {
	dispatchers []*am.Dispatcher
	executors   []*executor.Executor
}

func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	pes := transport.NewLoopbackCluster(n)
	c := &cluster{dispatchers: make([]*am.Dispatcher, n), executors: make([]*executor.Executor, n)}
	for i, pe := range pes {
		exec := executor.New(2, 16)
		c.executors[i] = exec
		c.dispatchers[i] = am.NewDispatcher(i, n, pe, exec, nil)
	}
	t.Cleanup(func() {
		for _, e := range c.executors {
			_ = e.Close()
		}
	})
	return c
}

func TestBarrier_SequencingOrdersDARWrite(t *testing.T) {
	c := newCluster(t, 2)
	mgrs := make([]*dar.Manager, 2)
	barriers := make([]*collective.Barrier, 2)
	for i, d := range c.dispatchers {
		mgrs[i] = dar.NewManager(d)
		barriers[i] = collective.NewBarrier(d)
		dar.RegisterRemoteRead[int](mgrs[i])
	}

	d0 := dar.New(mgrs[0], 0)
	d1 := dar.New(mgrs[1], 0)
	lrw0 := d0.ToLocalRW()

	lrw0.Write(func(v *int) { *v = 1 })

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, b := range barriers {
		go func(b *collective.Barrier) { errs <- b.Wait(ctx) }(b)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := dar.RemoteRead[int](ctx, mgrs[1], d1.Handle(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestBarrier_AllPEsReleaseTogether(t *testing.T) {
	n := 5
	c := newCluster(t, n)
	barriers := make([]*collective.Barrier, n)
	for i, d := range c.dispatchers {
		barriers[i] = collective.NewBarrier(d)
	}

	var arrived int32
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			atomic.AddInt32(&arrived, 1)
			_ = barriers[i].Wait(context.Background())
			done <- struct{}{}
		}(i)
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("barrier did not release all PEs")
		}
	}
	require.EqualValues(t, n, atomic.LoadInt32(&arrived))
}

func TestReducer_SumMinMaxDeliveredToEveryPE(t *testing.T) {
	n := 4
	c := newCluster(t, n)
	reducers := make([]*collective.Reducer, n)
	for i, d := range c.dispatchers {
		reducers[i] = collective.NewReducer(d)
	}

	local := [][]int{{1, 2}, {3}, {}, {4, 5, 6}}
	ctx := context.Background()
	results := make([]int, n)
	errs := make([]error, n)
	mins := make([]int, n)
	maxs := make([]int, n)

	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			sum, _, err := collective.Sum(ctx, reducers[i], local[i])
			errs[i] = err
			results[i] = sum

			mn, _, err := collective.Min(ctx, reducers[i], local[i])
			require.NoError(t, err)
			mins[i] = mn

			mx, _, err := collective.Max(ctx, reducers[i], local[i])
			require.NoError(t, err)
			maxs[i] = mx
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reduce did not complete")
		}
	}

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 21, results[i])
		require.Equal(t, 1, mins[i])
		require.Equal(t, 6, maxs[i])
	}
}

func TestReducer_EmptyEverywhereYieldsNoValue(t *testing.T) {
	n := 2
	c := newCluster(t, n)
	reducers := make([]*collective.Reducer, n)
	for i, d := range c.dispatchers {
		reducers[i] = collective.NewReducer(d)
	}

	done := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, has, err := collective.Sum[int](context.Background(), reducers[i], nil)
			require.NoError(t, err)
			done <- has
		}(i)
	}
	for i := 0; i < n; i++ {
		select {
		case has := <-done:
			require.False(t, has)
		case <-time.After(2 * time.Second):
			t.Fatal("reduce did not complete")
		}
	}
}

func TestWaitAll_WaitsForEveryTrackedHandle(t *testing.T) {
	c := newCluster(t, 1)
	d := c.dispatchers[0]

	var completed int32
	typeID := am.RegisterHandler(d, "collective-waitall-test", func(ctx context.Context, src int, arg int) (int, error) {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&completed, 1)
		return arg * 2, nil
	})

	tg := am.NewTaskGroup()
	h1, err := am.ExecLocal[int, int](d, typeID, 3)
	require.NoError(t, err)
	am.Track(tg, h1)
	h2, err := am.ExecLocal[int, int](d, typeID, 4)
	require.NoError(t, err)
	am.Track(tg, h2)

	require.NoError(t, collective.WaitAll(context.Background(), tg))
	require.EqualValues(t, 2, atomic.LoadInt32(&completed))
}
