package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_FlushesOnMaxSize(t *testing.T) {
	var flushes int32
	g := New(func(ctx context.Context, entries []int) error {
		atomic.AddInt32(&flushes, 1)
		return nil
	}, WithMaxSize(4), WithFlushInterval(0))
	defer g.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := g.Submit(context.Background(), i)
			require.NoError(t, err)
			require.NoError(t, tk.Wait(context.Background()))
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&flushes))
}

func TestGroup_FlushesOnInterval(t *testing.T) {
	done := make(chan []int, 1)
	g := New(func(ctx context.Context, entries []int) error {
		done <- append([]int(nil), entries...)
		return nil
	}, WithMaxSize(100), WithFlushInterval(10*time.Millisecond))
	defer g.Close()

	tk, err := g.Submit(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, tk.Wait(context.Background()))

	select {
	case entries := <-done:
		require.Equal(t, []int{7}, entries)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interval flush")
	}
}

func TestGroup_PropagatesFlusherError(t *testing.T) {
	sentinel := context.Canceled
	g := New(func(ctx context.Context, entries []int) error {
		return sentinel
	}, WithMaxSize(1))
	defer g.Close()

	tk, err := g.Submit(context.Background(), 1)
	require.NoError(t, err)
	require.ErrorIs(t, tk.Wait(context.Background()), sentinel)
}

func TestGroup_ShutdownFlushesPartialBatch(t *testing.T) {
	var got []int
	var mu sync.Mutex
	g := New(func(ctx context.Context, entries []int) error {
		mu.Lock()
		got = append(got, entries...)
		mu.Unlock()
		return nil
	}, WithMaxSize(100), WithFlushInterval(time.Hour))

	tk, err := g.Submit(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, g.Shutdown(context.Background()))
	require.NoError(t, tk.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1}, got)
}

func TestNew_PanicsWithNoFlushTrigger(t *testing.T) {
	require.Panics(t, func() {
		New(func(ctx context.Context, entries []int) error { return nil }, WithMaxSize(0), WithFlushInterval(0))
	})
}
