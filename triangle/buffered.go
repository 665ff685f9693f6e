// buffered.go grounds on
// original_source/triangle_count/src/triangle_count_buffered.rs: neighbor
// fetches destined for the same PE are batched into one active message
// rather than sent one at a time, trading latency for fewer round trips.
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

type neighborBatchReq struct {
	Vertices []int
}

type neighborBatchResp struct {
	Neighbors [][]int
}

// Buffered runs the batched-fetch triangle-count variant.
type Buffered struct {
	w         *world.World
	cfg       Config
	counters  *dar.DAR[[]atomic.Uint64]
	batchSize int
	fetchID   wire.TypeID
}

// NewBuffered builds a Buffered runner. Collective: every PE must call
// this before any PE calls Run.
func NewBuffered(w *world.World, cfg Config, batchSize int) *Buffered {
	if batchSize <= 0 {
		batchSize = 32
	}
	threads := cfg.LaunchThreads
	if threads <= 0 {
		threads = 1
	}
	s := &Buffered{
		w:         w,
		cfg:       cfg,
		counters:  dar.New(w.DAR, make([]atomic.Uint64, threads)),
		batchSize: batchSize,
	}
	s.fetchID = am.RegisterHandler(w.Dispatcher, "triangle.fetch_neighbors_batch", func(ctx context.Context, src int, req neighborBatchReq) (neighborBatchResp, error) {
		out := make([][]int, len(req.Vertices))
		for i, v := range req.Vertices {
			out[i] = append([]int(nil), cfg.Graph.Neighbors(v)...)
		}
		return neighborBatchResp{Neighbors: out}, nil
	})
	return s
}

// pendingFetch accumulates same-destination vertex-neighbor requests
// until batchSize is reached, then flushes them as one active message.
type pendingFetch struct {
	owner     int
	vertices  []int
	callbacks []func([]int)
}

func (s *Buffered) flush(ctx context.Context, p *pendingFetch) error {
	if len(p.vertices) == 0 {
		return nil
	}
	h, err := am.ExecPE[neighborBatchReq, neighborBatchResp](s.w.Dispatcher, s.fetchID, p.owner, neighborBatchReq{Vertices: p.vertices})
	if err != nil {
		return err
	}
	resp, err := h.Await(ctx)
	if err != nil {
		return err
	}
	for i, cb := range p.callbacks {
		cb(resp.Neighbors[i])
	}
	p.vertices = p.vertices[:0]
	p.callbacks = p.callbacks[:0]
	return nil
}

// Run counts triangles whose lowest-numbered vertex is owned by this PE,
// batching remote neighbor-list fetches per destination PE.
func (s *Buffered) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	pe, numPEs := s.w.MyPE(), s.w.NumPEs()
	chunks := s.cfg.launchChunks(s.cfg.Graph.NumVertices(), pe, numPEs)

	err := s.w.Launch(ctx, len(chunks), func(ctx context.Context, worker int) error {
		lo, hi := chunks[worker][0], chunks[worker][1]
		counter := &s.counters.Value()[worker]
		pending := make(map[int]*pendingFetch)

		flushOwner := func(owner int) error {
			p, ok := pending[owner]
			if !ok {
				return nil
			}
			return s.flush(ctx, p)
		}

		for v := lo; v < hi; v += numPEs {
			neighbors := s.cfg.Graph.Neighbors(v)
			for i, wv := range neighbors {
				if wv <= v {
					continue
				}
				candidates := neighbors[i+1:]
				if Owner(wv, numPEs) == pe {
					wNeighbors := s.cfg.Graph.Neighbors(wv)
					for _, x := range candidates {
						if hasSorted(wNeighbors, x) {
							counter.Add(1)
						}
					}
					continue
				}
				owner := Owner(wv, numPEs)
				p, ok := pending[owner]
				if !ok {
					p = &pendingFetch{owner: owner}
					pending[owner] = p
				}
				p.vertices = append(p.vertices, wv)
				p.callbacks = append(p.callbacks, func(wNeighbors []int) {
					for _, x := range candidates {
						if hasSorted(wNeighbors, x) {
							counter.Add(1)
						}
					}
				})
				if len(p.vertices) >= s.batchSize {
					if err := flushOwner(owner); err != nil {
						return err
					}
				}
			}
		}
		for owner := range pending {
			if err := flushOwner(owner); err != nil {
				return err
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
