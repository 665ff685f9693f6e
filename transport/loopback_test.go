package transport_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/transport"
)

func TestLoopbackCluster_DeliversToCorrectPE(t *testing.T) {
	pes := transport.NewLoopbackCluster(4)

	var mu sync.Mutex
	received := make(map[int][]string)

	for _, pe := range pes {
		pe := pe
		pe.SetHandler(func(src int, frame []byte) {
			mu.Lock()
			defer mu.Unlock()
			received[pe.PE()] = append(received[pe.PE()], string(frame))
		})
	}

	require.NoError(t, pes[0].Send(context.Background(), 2, []byte("hello")))
	require.NoError(t, pes[1].Send(context.Background(), 2, []byte("world")))
	require.NoError(t, pes[3].Send(context.Background(), 0, []byte("back")))

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"hello", "world"}, received[2])
	require.ElementsMatch(t, []string{"back"}, received[0])
	require.Empty(t, received[1])
	require.Empty(t, received[3])
}

func TestLoopback_SendWithoutHandlerErrors(t *testing.T) {
	pes := transport.NewLoopbackCluster(2)
	err := pes[0].Send(context.Background(), 1, []byte("x"))
	require.Error(t, err)
}

func TestLoopback_SendOutOfRangeErrors(t *testing.T) {
	pes := transport.NewLoopbackCluster(2)
	pes[1].SetHandler(func(int, []byte) {})
	err := pes[0].Send(context.Background(), 5, []byte("x"))
	require.Error(t, err)
}

func TestLoopback_NumPEsAndPE(t *testing.T) {
	pes := transport.NewLoopbackCluster(3)
	for i, pe := range pes {
		require.Equal(t, i, pe.PE())
		require.Equal(t, 3, pe.NumPEs())
	}
}
