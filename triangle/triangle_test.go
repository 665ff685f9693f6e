package triangle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/triangle"
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

// diamondGraph is a 4-vertex graph shaped 0-1-2-3-0 plus diagonal 0-2,
// giving exactly two triangles: {0,1,2} and {0,2,3}.
func diamondGraph() *triangle.Graph {
	return triangle.NewGraph([][]int{
		0: {1, 2, 3},
		1: {0, 2},
		2: {0, 1, 3},
		3: {0, 2},
	})
}

func sumCounts(results []*triangle.Result) int64 {
	var total int64
	for _, r := range results {
		total += r.Count
	}
	return total
}

func runOnEveryPE(t *testing.T, ws []*world.World, build func(w *world.World) interface {
	Run(ctx context.Context) (*triangle.Result, error)
}) []*triangle.Result {
	t.Helper()
	results := make([]*triangle.Result, len(ws))
	errs := make([]error, len(ws))
	var wg sync.WaitGroup
	runners := make([]interface {
		Run(ctx context.Context) (*triangle.Result, error)
	}, len(ws))
	for i, w := range ws {
		runners[i] = build(w)
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
	return results
}

func TestSingle_CountsDiamondTriangles(t *testing.T) {
	ws := newCluster(t, 2)
	g := diamondGraph()
	cfg := triangle.Config{Graph: g, LaunchThreads: 2}
	results := runOnEveryPE(t, ws, func(w *world.World) interface {
		Run(ctx context.Context) (*triangle.Result, error)
	} {
		return triangle.NewSingle(w, cfg)
	})
	require.Equal(t, int64(2), sumCounts(results))
}

func TestBuffered_CountsDiamondTriangles(t *testing.T) {
	ws := newCluster(t, 2)
	g := diamondGraph()
	cfg := triangle.Config{Graph: g, LaunchThreads: 2}
	results := runOnEveryPE(t, ws, func(w *world.World) interface {
		Run(ctx context.Context) (*triangle.Result, error)
	} {
		return triangle.NewBuffered(w, cfg, 4)
	})
	require.Equal(t, int64(2), sumCounts(results))
}

func TestGroup_CountsDiamondTriangles(t *testing.T) {
	ws := newCluster(t, 2)
	g := diamondGraph()
	cfg := triangle.Config{Graph: g, LaunchThreads: 2}
	results := runOnEveryPE(t, ws, func(w *world.World) interface {
		Run(ctx context.Context) (*triangle.Result, error)
	} {
		return triangle.NewGroup(w, cfg)
	})
	require.Equal(t, int64(2), sumCounts(results))
}

func TestOwner_IsRoundRobin(t *testing.T) {
	require.Equal(t, 0, triangle.Owner(0, 3))
	require.Equal(t, 1, triangle.Owner(1, 3))
	require.Equal(t, 2, triangle.Owner(2, 3))
	require.Equal(t, 0, triangle.Owner(3, 3))
}
