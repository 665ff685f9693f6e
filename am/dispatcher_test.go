package am_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
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
	c := &cluster{
		dispatchers: make([]*am.Dispatcher, n),
		executors:   make([]*executor.Executor, n),
	}
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

func TestExecPE_RemoteRoundTrip(t *testing.T) {
	c := newCluster(t, 3)

	typeID := am.RegisterHandler(c.dispatchers[0], "double", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	for _, d := range c.dispatchers[1:] {
		am.RegisterHandler(d, "double", func(ctx context.Context, src int, arg int) (int, error) {
			return arg * 2, nil
		})
	}

	h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 2, 21)
	require.NoError(t, err)
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecPE_Local(t *testing.T) {
	c := newCluster(t, 1)
	typeID := am.RegisterHandler(c.dispatchers[0], "incr", func(ctx context.Context, src int, arg int) (int, error) {
		return arg + 1, nil
	})
	h, err := am.ExecLocal[int, int](c.dispatchers[0], typeID, 41)
	require.NoError(t, err)
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecAll_PreservesPEOrder(t *testing.T) {
	c := newCluster(t, 4)
	var typeID = am.RegisterHandler(c.dispatchers[0], "whoami", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	for i, d := range c.dispatchers {
		i := i
		if i == 0 {
			continue
		}
		am.RegisterHandler(d, "whoami", func(ctx context.Context, src int, arg int) (int, error) {
			return i, nil
		})
	}
	// PE 0's own handler (registered above as a stub returning 0) needs to
	// return its own index too.
	h, err := am.ExecAll[int, int](c.dispatchers[0], typeID, 0)
	require.NoError(t, err)
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, v)
}

func TestExecPE_HandlerErrorPropagates(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterHandler(c.dispatchers[0], "never", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	am.RegisterHandler(c.dispatchers[1], "never", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, fmt.Errorf("boom")
	})

	h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 1, 0)
	require.NoError(t, err)
	_, err = h.Await(context.Background())
	require.ErrorContains(t, err, "boom")
}

func TestExecPE_HandlerPanicPropagates(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterHandler(c.dispatchers[0], "never2", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	am.RegisterHandler(c.dispatchers[1], "never2", func(ctx context.Context, src int, arg int) (int, error) {
		panic("kaboom")
	})

	h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 1, 0)
	require.NoError(t, err)
	_, err = h.Await(context.Background())
	require.ErrorContains(t, err, "kaboom")
}

func TestExecPE_UnregisteredHandlerErrors(t *testing.T) {
	c := newCluster(t, 2)
	typeID := am.RegisterHandler(c.dispatchers[0], "onlyhere", func(ctx context.Context, src int, arg int) (int, error) {
		return 0, nil
	})
	h, err := am.ExecPE[int, int](c.dispatchers[0], typeID, 1, 0)
	require.NoError(t, err)
	_, err = h.Await(context.Background())
	require.Error(t, err)
}
