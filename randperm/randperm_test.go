package randperm_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/randperm"
	"github.com/pgasdart/runtime/world"
)

func newCluster(t *testing.T, n int) []*world.World {
	t.Helper()
	ws := world.BuildLoopbackCluster(n, config.New(config.WithThreads(2), config.WithOpBatchSize(4)), nil)
	t.Cleanup(func() {
		for _, w := range ws {
			_ = w.Close()
		}
	})
	return ws
}

// runOnEveryPE runs build(w) on every PE to construct a collective
// runner, then run(runner) on every PE concurrently, collecting each
// PE's *randperm.Result in PE order.
func runOnEveryPE(t *testing.T, ws []*world.World, build func(w *world.World) func(context.Context) (*randperm.Result, error)) []*randperm.Result {
	t.Helper()
	runners := make([]func(context.Context) (*randperm.Result, error), len(ws))
	for i, w := range ws {
		runners[i] = build(w)
	}

	results := make([]*randperm.Result, len(ws))
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

// assertIsPermutation checks the combined, PE-ordered segments of a
// randperm run form a true permutation of [0, n).
func assertIsPermutation(t *testing.T, results []*randperm.Result, n int) {
	t.Helper()
	var combined []uint64
	for _, r := range results {
		combined = append(combined, r.Local...)
	}
	require.Len(t, combined, n)
	sort.Slice(combined, func(i, j int) bool { return combined[i] < combined[j] })
	for i, v := range combined {
		require.EqualValues(t, i, v)
	}
}

func testConfig() randperm.Config {
	return randperm.Config{N: 16, TargetFactor: 2, LaunchThreads: 2, BufferSize: 4, Seed: 0}
}

func TestSingleCAS_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewSingleCAS(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestSingleCASRemote_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewSingleCASRemote(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestPush_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewPush(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestCASGroup_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewCASGroup(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestCASGroupRemote_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewCASGroupRemote(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestPushGroup_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewPushGroup(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestBufferedCAS_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewBufferedCAS(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestBufferedCASRemote_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewBufferedCASRemote(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestArrayCAS_ProducesPermutation(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewArrayCAS(w, testConfig())
		return r.Run
	})
	assertIsPermutation(t, results, 16)
}

func TestSingleCAS_ResultsAreBlockOrdered(t *testing.T) {
	// Each PE's segment should compact to a contiguous offset range, so
	// the PE-0 segment followed by the PE-1 segment sorted independently
	// still unions to the full range without overlap.
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewSingleCAS(w, testConfig())
		return r.Run
	})
	offset := 0
	for _, r := range results {
		require.Equal(t, offset, r.Offset)
		offset += len(r.Local)
	}
	seen := make(map[uint64]bool)
	for _, r := range results {
		for _, v := range r.Local {
			require.False(t, seen[v], "value %d produced by more than one PE", v)
			seen[v] = true
		}
	}
	require.Len(t, seen, 16)
}

// TestSingleCAS_ResultArrayMatchesLocal exercises the result array R
// itself: reads back r.R at [r.Offset, r.Offset+len(r.Local)) on every PE
// and checks the values landed there by the batched-put wave are exactly
// r.Local, and that R's full contents (the union across PEs) form the
// same permutation Local does.
func TestSingleCAS_ResultArrayMatchesLocal(t *testing.T) {
	ws := newCluster(t, 2)
	results := runOnEveryPE(t, ws, func(w *world.World) func(context.Context) (*randperm.Result, error) {
		r := randperm.NewSingleCAS(w, testConfig())
		return r.Run
	})

	for _, r := range results {
		indices := make([]int, len(r.Local))
		for i := range indices {
			indices[i] = r.Offset + i
		}
		stored, err := r.R.BatchLoad(context.Background(), indices)
		require.NoError(t, err)
		require.Equal(t, r.Local, stored)
	}

	seen := make(map[uint64]bool)
	for i := 0; i < results[0].Total; i++ {
		v, err := results[0].R.Load(context.Background(), i)
		require.NoError(t, err)
		require.False(t, seen[v], "value %d produced by more than one slot of R", v)
		seen[v] = true
	}
	require.Len(t, seen, 16)
}
