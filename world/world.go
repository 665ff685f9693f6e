// Package world assembles one PE's runtime: transport, executor, active-
// message dispatcher, memory regions, DAR/darray managers, and the
// collectives, behind the single `World` handle spec.md §6 describes:
// "World{ pe: usize, num_pes: usize, ... }. Init: build_world() —
// collective, opens transport, negotiates PE count, starts executor and
// receive threads. Teardown: drop of the world — collective, quiesces,
// closes transport."
//
// There is no teacher package that assembles a whole runtime this way —
// inprocgrpc.Channel and eventloop.Loop are each one piece of this picture
// — so World is new composition code, wiring together the pieces each of
// which is grounded on the teacher elsewhere (see DESIGN.md).
package world

import (
	"context"
	"fmt"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/collective"
	"github.com/pgasdart/runtime/config"
	"github.com/pgasdart/runtime/dar"
	"github.com/pgasdart/runtime/darray"
	"github.com/pgasdart/runtime/executor"
	"github.com/pgasdart/runtime/logging"
	"github.com/pgasdart/runtime/memregion"
	"github.com/pgasdart/runtime/transport"
)

// World is every per-PE handle a benchmark needs, bundled together.
type World struct {
	cfg config.RuntimeConfig
	log *logging.Logger

	tr   transport.Transport
	exec *executor.Executor

	Dispatcher *am.Dispatcher
	Regions    *memregion.Registry
	DAR        *dar.Manager
	Array      *darray.Manager
	Barrier    *collective.Barrier
	Reducer    *collective.Reducer
}

// New builds a World around an already-connected Transport. It is a
// collective call: every PE must call New (directly, or via BuildWorld)
// before any PE issues an active message, matching the construction
// discipline already required of dar/darray/memregion handles.
func New(tr transport.Transport, cfg config.RuntimeConfig, log *logging.Logger) *World {
	if log == nil {
		log = logging.New(nil)
	}
	pe := tr.PE()
	log = logging.ForPE(log, pe)

	exec := executor.New(cfg.Threads, cfg.OpBatchSize)
	mem := memregion.NewRegistry(pe, tr)
	d := am.NewDispatcher(pe, tr.NumPEs(), tr, exec, mem)

	w := &World{
		cfg:        cfg,
		log:        log,
		tr:         tr,
		exec:       exec,
		Dispatcher: d,
		Regions:    mem,
		DAR:        dar.NewManager(d),
		Array:      darray.NewManager(d),
		Barrier:    collective.NewBarrier(d),
		Reducer:    collective.NewReducer(d),
	}
	if w.log != nil {
		w.log.Info().Log("world: built")
	}
	return w
}

// BuildWorld opens a GRPC transport for pe among len(addrs) PEs, connects
// to every peer, and returns the resulting World. Collective: every PE in
// addrs must call BuildWorld before any of them sends a message.
func BuildWorld(ctx context.Context, pe int, addrs []string, cfg config.RuntimeConfig, log *logging.Logger) (*World, error) {
	tr, err := transport.Listen(pe, addrs)
	if err != nil {
		return nil, fmt.Errorf("world: build: %w", err)
	}
	if err := tr.Connect(ctx); err != nil {
		return nil, fmt.Errorf("world: build: %w", err)
	}
	return New(tr, cfg, log), nil
}

// BuildLoopbackCluster builds n Worlds sharing an in-process Loopback
// transport, for tests and single-process simulation (spec.md §8).
func BuildLoopbackCluster(n int, cfg config.RuntimeConfig, log *logging.Logger) []*World {
	pes := transport.NewLoopbackCluster(n)
	worlds := make([]*World, n)
	for i, tr := range pes {
		worlds[i] = New(tr, cfg, log)
	}
	return worlds
}

// MyPE returns this process's PE index.
func (w *World) MyPE() int { return w.Dispatcher.PE() }

// NumPEs returns the number of PEs in the job.
func (w *World) NumPEs() int { return w.Dispatcher.NumPEs() }

// Executor returns the per-PE worker pool every AM handler and Launch
// call runs tasks on.
func (w *World) Executor() *executor.Executor { return w.exec }

// Config returns the RuntimeConfig this World was built with.
func (w *World) Config() config.RuntimeConfig { return w.cfg }

// Logger returns this PE's logger. New always installs one, so it is
// never nil for a World built by New.
func (w *World) Logger() *logging.Logger { return w.log }

// Close quiesces this PE (waits for its executor to drain) and tears down
// its transport. Collective: every PE must call Close, and every PE must
// have finished issuing active messages before doing so — callers
// typically follow the wait_all()+barrier() sequence of spec.md §4.6/§4.8
// first.
func (w *World) Close() error {
	if err := w.exec.Close(); err != nil {
		return err
	}
	return w.tr.Close()
}
