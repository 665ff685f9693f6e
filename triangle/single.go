// single.go grounds on
// original_source/triangle_count/src/tc_lamellar_get.rs: each local
// vertex's higher-numbered neighbors are tested against a remote
// neighbor list fetched with one active message per remote vertex (the
// Rust source uses a raw one-sided get against a shared memory region;
// here the message-passing am.Dispatcher plays the same role, since
// Transport never exposes raw memory to a remote PE).
package triangle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/wire"
	"github.com/pgasdart/runtime/world"
)

type neighborReq struct {
	Vertex int
}

// Single runs the single-AM triangle-count variant.
type Single struct {
	w        *world.World
	cfg      Config
	counters *dar.DAR[[]atomic.Uint64]
	fetchID  wire.TypeID
}

// NewSingle builds a Single runner. Collective: every PE must call this
// before any PE calls Run.
func NewSingle(w *world.World, cfg Config) *Single {
	threads := cfg.LaunchThreads
	if threads <= 0 {
		threads = 1
	}
	s := &Single{
		w:        w,
		cfg:      cfg,
		counters: dar.New(w.DAR, make([]atomic.Uint64, threads)),
	}
	s.fetchID = am.RegisterHandler(w.Dispatcher, "triangle.fetch_neighbors", func(ctx context.Context, src int, req neighborReq) ([]int, error) {
		return append([]int(nil), cfg.Graph.Neighbors(req.Vertex)...), nil
	})
	return s
}

// neighborsOf returns w's sorted neighbor list, fetching it remotely
// when w isn't owned by this PE.
func (s *Single) neighborsOf(ctx context.Context, w int) ([]int, error) {
	if Owner(w, s.w.NumPEs()) == s.w.MyPE() {
		return s.cfg.Graph.Neighbors(w), nil
	}
	h, err := am.ExecPE[neighborReq, []int](s.w.Dispatcher, s.fetchID, Owner(w, s.w.NumPEs()), neighborReq{Vertex: w})
	if err != nil {
		return nil, err
	}
	return h.Await(ctx)
}

// Run counts triangles whose lowest-numbered vertex is owned by this PE.
func (s *Single) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	chunks := s.cfg.launchChunks(s.cfg.Graph.NumVertices(), pe, numPEs)

	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		counter := &s.counters.Value()[worker]
		for v := lo; v < hi; v += numPEs {
			neighbors := s.cfg.Graph.Neighbors(v)
			for i, wv := range neighbors {
				if wv <= v {
					continue
				}
				wNeighbors, err := s.neighborsOf(ctx, wv)
				if err != nil {
					return err
				}
				for _, x := range neighbors[i+1:] {
					if hasSorted(wNeighbors, x) {
						counter.Add(1)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.w.Barrier.Wait(ctx); err != nil {
		return nil, err
	}

	var total uint64
	for i := range s.counters.Value() {
		total += s.counters.Value()[i].Load()
	}
	return &Result{Count: int64(total), Time: time.Since(startTime)}, nil
}

func hasSorted(neighbors []int, target int) bool {
	lo, hi := 0, len(neighbors)
	for lo < hi {
		mid := (lo + hi) / 2
		if neighbors[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(neighbors) && neighbors[lo] == target
}
