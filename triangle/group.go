// group.go grounds on
// original_source/triangle_count/src/triangle_count_typed_am_group.rs:
// neighbor-list fetches are routed through a typed AM group, the same
// abstraction package am's other callers (randperm, indexgather) use for
// automatic per-destination batching, rather than this package hand-
// rolling its own per-destination buffer as buffered.go does.
package triangle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/world"
)

type groupNeighborReq struct {
	Vertex int
}

func (r groupNeighborReq) StaticFields() struct{}         { return struct{}{} }
func (r groupNeighborReq) DynamicFields() groupNeighborReq { return r }

// Group runs the AM-group triangle-count variant.
type Group struct {
	w        *world.World
	cfg      Config
	counters *dar.DAR[[]atomic.Uint64]
	group    *am.Group[groupNeighborReq, struct{}, groupNeighborReq, []int]
}

// NewGroup builds a Group runner. Collective: every PE must call this
// before any PE calls Run.
func NewGroup(w *world.World, cfg Config) *Group {
	threads := cfg.LaunchThreads
	if threads <= 0 {
		threads = 1
	}
	s := &Group{
		w:        w,
		cfg:      cfg,
		counters: dar.New(w.DAR, make([]atomic.Uint64, threads)),
	}
	typeID := am.RegisterGroupHandler[struct{}, groupNeighborReq, []int](w.Dispatcher, "triangle.group_neighbors", func(ctx context.Context, src int, static struct{}, dynamics []groupNeighborReq) ([][]int, error) {
		out := make([][]int, len(dynamics))
		for i, d := range dynamics {
			out[i] = append([]int(nil), cfg.Graph.Neighbors(d.Vertex)...)
		}
		return out, nil
	})
	s.group = am.NewGroup[groupNeighborReq, struct{}, groupNeighborReq, []int](w.Dispatcher, typeID, w.Config().OpBatchSize, 2*time.Millisecond)
	return s
}

type pendingTriangle struct {
	handle *am.Handle[[]int]
	checks []int
}

// Run counts triangles whose lowest-numbered vertex is owned by this PE,
// fanning out remote neighbor-list fetches through the AM group.
func (s *Group) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	chunks := s.cfg.launchChunks(s.cfg.Graph.NumVertices(), pe, numPEs)

	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		counter := &s.counters.Value()[worker]
		var pending []pendingTriangle

		for v := lo; v < hi; v += numPEs {
			neighbors := s.cfg.Graph.Neighbors(v)
			for i, wv := range neighbors {
				if wv <= v {
					continue
				}
				candidates := append([]int(nil), neighbors[i+1:]...)
				if Owner(wv, numPEs) == pe {
					wNeighbors := s.cfg.Graph.Neighbors(wv)
					for _, x := range candidates {
						if hasSorted(wNeighbors, x) {
							counter.Add(1)
						}
					}
					continue
				}
				h, err := s.group.AddPE(ctx, Owner(wv, numPEs), groupNeighborReq{Vertex: wv})
				if err != nil {
					return err
				}
				pending = append(pending, pendingTriangle{handle: h, checks: candidates})
			}
		}
		if err := s.group.Exec(ctx); err != nil {
			return err
		}
		for _, p := range pending {
			wNeighbors, err := p.handle.Await(ctx)
			if err != nil {
				return err
			}
			for _, x := range p.checks {
				if hasSorted(wNeighbors, x) {
					counter.Add(1)
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
