package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGate_ReserveRespectsHighWatermark(t *testing.T) {
	g := NewGate(100, 10, 0)

	require.True(t, g.Reserve("pe0", 60))
	require.True(t, g.Reserve("pe0", 30))
	require.False(t, g.Reserve("pe0", 30))

	g.Release("pe0", 90)
	require.True(t, g.Drained("pe0"))
}

func TestGate_OversizedSendAllowedWhenIdle(t *testing.T) {
	g := NewGate(10, 0, 0)
	require.True(t, g.Reserve("pe1", 1000))
	require.False(t, g.Reserve("pe1", 1))
	g.Release("pe1", 1000)
	require.True(t, g.Drained("pe1"))
}

func TestGate_PerKeyIndependence(t *testing.T) {
	g := NewGate(10, 5, 0)
	require.True(t, g.Reserve("a", 9))
	require.True(t, g.Reserve("b", 9))
	require.False(t, g.Reserve("a", 5))
	require.False(t, g.Reserve("b", 5))
}

func TestGate_IdleWorkerReclaimsState(t *testing.T) {
	defer func(orig func() time.Time) { timeNow = orig }(timeNow)

	base := time.Unix(0, 0)
	timeNow = func() time.Time { return base }

	g := NewGate(10, 0, 5*time.Millisecond)
	require.True(t, g.Reserve("x", 5))
	g.Release("x", 5)

	base = base.Add(time.Hour)

	time.Sleep(50 * time.Millisecond)

	_, ok := g.keys.Load("x")
	require.False(t, ok, "idle key state should have been reclaimed")
	require.True(t, g.Reserve("x", 5))
}
