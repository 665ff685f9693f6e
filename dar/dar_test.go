package dar_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/executor"
	"github.com/pgasdart/runtime/transport"
)

type darCluster struct {
	managers  []*dar.Manager
	executors []*executor.Executor
}

func newDARCluster(t *testing.T, n int) *darCluster {
	t.Helper()
	pes := transport.NewLoopbackCluster(n)
	c := &darCluster{managers: make([]*dar.Manager, n), executors: make([]*executor.Executor, n)}
	for i, pe := range pes {
		exec := executor.New(2, 16)
		d := am.NewDispatcher(i, n, pe, exec, nil)
		c.managers[i] = dar.NewManager(d)
		c.executors[i] = exec
	}
	t.Cleanup(func() {
		for _, e := range c.executors {
			_ = e.Close()
		}
	})
	return c
}

func TestDAR_ValueVisibleOnAllPEs(t *testing.T) {
	c := newDARCluster(t, 3)

	dars := make([]*dar.DAR[int], 3)
	for i, mgr := range c.managers {
		dars[i] = dar.New(mgr, 100+i)
	}
	for i, d := range dars {
		require.Equal(t, 100+i, d.Value())
		require.Equal(t, d.Handle(), dars[0].Handle())
	}
}

func TestDAR_CloneAndDropQuiescence(t *testing.T) {
	c := newDARCluster(t, 2)

	d0 := dar.New(c.managers[0], "hello")
	d1 := dar.New(c.managers[1], "hello")

	clone0 := d0.Clone()

	require.NoError(t, d0.Drop(context.Background()))
	// Clone still keeps the local reference alive.
	require.Equal(t, "hello", clone0.Value())

	require.NoError(t, clone0.Drop(context.Background()))
	require.NoError(t, d1.Drop(context.Background()))

	require.Eventually(t, func() (panicked bool) {
		defer func() { panicked = recover() != nil }()
		d1.Value()
		return false
	}, time.Second, time.Millisecond, "expected value access to eventually panic once freed")
}

func TestDAR_WeakUpgrade(t *testing.T) {
	c := newDARCluster(t, 1)
	d := dar.New(c.managers[0], 7)
	weak := d.Weak()

	up, ok := weak.Upgrade()
	require.True(t, ok)
	require.Equal(t, 7, up.Value())

	require.NoError(t, up.Drop(context.Background()))
	require.NoError(t, d.Drop(context.Background()))
}

func TestLocalRW_ReadWriteAndToDAR(t *testing.T) {
	c := newDARCluster(t, 1)
	d := dar.New(c.managers[0], 1)
	lrw := d.ToLocalRW()

	lrw.Write(func(v *int) { *v = 42 })
	lrw.Read(func(v int) { require.Equal(t, 42, v) })

	back, ok := lrw.ToDAR()
	require.True(t, ok)
	require.Equal(t, 42, back.Value())
}

func TestLocalRW_RemoteRead(t *testing.T) {
	c := newDARCluster(t, 2)
	// Collective: every PE's Manager registers the read handler for int
	// before any PE issues a RemoteRead[int] against it.
	dar.RegisterRemoteRead[int](c.managers[0])
	dar.RegisterRemoteRead[int](c.managers[1])

	d0 := dar.New(c.managers[0], 10)
	d1 := dar.New(c.managers[1], 20)
	_ = d1.ToLocalRW()
	_ = d0

	v, err := dar.RemoteRead[int](context.Background(), c.managers[0], d1.Handle(), 1)
	require.NoError(t, err)
	require.Equal(t, 20, v)
}
