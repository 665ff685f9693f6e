package memregion_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/memregion"
	"github.com/pgasdart/runtime/transport"
	"github.com/pgasdart/runtime/wire"
)

func wireCluster(t *testing.T, n int) ([]*transport.Loopback, []*memregion.Registry) {
	t.Helper()
	pes := transport.NewLoopbackCluster(n)
	regs := make([]*memregion.Registry, n)
	for i, pe := range pes {
		reg := memregion.NewRegistry(i, pe)
		regs[i] = reg
		pe.SetHandler(func(src int, b []byte) {
			f, err := wire.DecodeFrame(b)
			require.NoError(t, err)
			reg.HandleFrame(src, f)
		})
	}
	return pes, regs
}

func TestRegistry_LocalPutGet(t *testing.T) {
	_, regs := wireCluster(t, 1)
	h := regs[0].Allocate(make([]byte, 8))
	require.NoError(t, regs[0].Put(context.Background(), 0, h, 2, []byte{1, 2, 3}))
	got, err := regs[0].Get(context.Background(), 0, h, 2, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}

func TestRegistry_RemotePutGet(t *testing.T) {
	_, regs := wireCluster(t, 3)

	// Collective symmetric allocation: every PE registers its own shard in
	// the same order, producing identical handles cluster-wide.
	var h memregion.Handle
	for i, reg := range regs {
		got := reg.Allocate(make([]byte, 16))
		if i == 0 {
			h = got
		} else {
			require.Equal(t, h, got)
		}
	}

	require.NoError(t, regs[0].Put(context.Background(), 2, h, 4, []byte("hi")))
	got, err := regs[0].Get(context.Background(), 2, h, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got)

	local, ok := regs[2].Local(h)
	require.True(t, ok)
	require.Equal(t, []byte("hi"), local[4:6])
}

func TestRegistry_GetOutOfBoundsErrors(t *testing.T) {
	_, regs := wireCluster(t, 2)
	var h memregion.Handle
	for i, reg := range regs {
		got := reg.Allocate(make([]byte, 4))
		if i == 0 {
			h = got
		}
	}
	_, err := regs[0].Get(context.Background(), 1, h, 0, 100)
	require.Error(t, err)
}
