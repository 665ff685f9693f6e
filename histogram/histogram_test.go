package histogram_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/histogram"
	"github.com/pgasdart/runtime/world"
)

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

func runOnEveryPE(t *testing.T, ws []*world.World, build func(w *world.World) func(context.Context) (*histogram.Result, error)) []*histogram.Result {
	t.Helper()
	runners := make([]func(context.Context) (*histogram.Result, error), len(ws))
	for i, w := range ws {
		runners[i] = build(w)
	}
	results := make([]*histogram.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	for i := range ws {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			results[i], errs[i] = runners[i](ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return results
}

func sumAll(results []*histogram.Result) uint64 {
	var total uint64
	for _, r := range results {
		for _, c := range r.Counts {
			total += c
		}
	}
	return total
}

func TestSafe_TotalUpdatesConserved(t *testing.T) {
	ws := newCluster(t, 2)
	cfg := histogram.Config{NumBuckets: 16, Updates: 64, LaunchThreads: 2, BufferSize: 4, Seed: 0}
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*histogram.Result, error) {
		r := histogram.NewSafe(w, cfg)
		return r.Run
	})
	require.EqualValues(t, 64, sumAll(results))
}

func TestBuffered_TotalUpdatesConserved(t *testing.T) {
	ws := newCluster(t, 2)
	cfg := histogram.Config{NumBuckets: 16, Updates: 64, LaunchThreads: 2, BufferSize: 4, Seed: 0}
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*histogram.Result, error) {
		r := histogram.NewBuffered(w, cfg)
		return r.Run
	})
	require.EqualValues(t, 64, sumAll(results))
}
