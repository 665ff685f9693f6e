package indexgather_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/indexgather"
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

func TestSingle_GathersIdentityTable(t *testing.T) {
	ws := newCluster(t, 4)
	cfg := indexgather.Config{TableSize: 100, Indices: []int{0, 50, 99, 0}}

	results := make([]*indexgather.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	runners := make([]*indexgather.Single, len(ws))
	for i, w := range ws {
		runners[i] = indexgather.NewSingle(w, cfg)
	}
	for i := range ws {
		r := runners[i]
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = r.Run(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, r := range results {
		require.Equal(t, []uint64{0, 50, 99, 0}, r.Values)
	}
}

func TestBuffered_GathersIdentityTable(t *testing.T) {
	ws := newCluster(t, 4)
	cfg := indexgather.Config{TableSize: 100, Indices: []int{0, 50, 99, 0}}

	results := make([]*indexgather.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	runners := make([]*indexgather.Buffered, len(ws))
	for i, w := range ws {
		runners[i] = indexgather.NewBuffered(w, cfg)
	}
	for i := range ws {
		r := runners[i]
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = r.Run(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, r := range results {
		require.Equal(t, []uint64{0, 50, 99, 0}, r.Values)
	}
}

func TestGroup_CompletesButDiscardsValues(t *testing.T) {
	ws := newCluster(t, 4)
	cfg := indexgather.Config{TableSize: 100, Indices: []int{0, 50, 99, 0}}

	results := make([]*indexgather.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	runners := make([]*indexgather.Group, len(ws))
	for i, w := range ws {
		runners[i] = indexgather.NewGroup(w, cfg)
	}
	for i := range ws {
		r := runners[i]
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = r.Run(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, r := range results {
		require.Nil(t, r.Values)
	}
}
