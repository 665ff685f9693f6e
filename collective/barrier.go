// Package collective implements the global collective operations of
// spec.md §4.8: Barrier, WaitAll, and the Sum/Min/Max tree-reductions.
//
// Every operation here assumes the textbook collective-call discipline
// spec.md requires elsewhere for DAR/array construction: every PE calls
// the same operation, in the same relative order, with no other
// collective call from the same Barrier/Reducer overlapping it. That
// lets each round/op reuse one fixed, small buffered channel rather than
// threading a correlation id through every message — the same
// simplification package dar's coordinator and package memregion's
// handle minting already rely on.
package collective

import (
	"context"

	"github.com/pgasdart/runtime/am"
	"github.com/pgasdart/runtime/wire"
)

type barrierMsg struct {
	Round int
}

// Barrier implements a dissemination-pattern barrier: in round k, a PE
// notifies PE (self+2^k) mod numPEs and waits on a notification from PE
// (self-2^k) mod numPEs, for ceil(log2(numPEs)) rounds — every PE is
// synchronized after O(log P) rounds and O(P log P) total messages,
// versus a centralized coordinator's O(P) fan-in/fan-out (spec.md §4.8:
// "a dissemination pattern is adequate").
type Barrier struct {
	d        *am.Dispatcher
	rounds   int
	notifyID wire.TypeID
	chans    []chan struct{}
}

// NewBarrier builds a Barrier bound to d. Construct exactly one per
// World; every PE must construct it in the same relative order (it
// registers a handler, like every other collective-call constructor in
// this module).
func NewBarrier(d *am.Dispatcher) *Barrier {
	n := d.NumPEs()
	rounds := 0
	for (1 << rounds) < n {
		rounds++
	}
	b := &Barrier{d: d, rounds: rounds, chans: make([]chan struct{}, rounds)}
	for i := range b.chans {
		b.chans[i] = make(chan struct{}, 1)
	}
	b.notifyID = am.RegisterHandler(d, "collective.barrier", func(ctx context.Context, src int, msg barrierMsg) (struct{}, error) {
		b.chans[msg.Round] <- struct{}{}
		return struct{}{}, nil
	})
	return b
}

// Wait blocks until every PE has called Wait. A no-op when there is
// only one PE.
func (b *Barrier) Wait(ctx context.Context) error {
	n := b.d.NumPEs()
	if n <= 1 {
		return nil
	}
	pe := b.d.PE()
	for round := 0; round < b.rounds; round++ {
		dist := 1 << round
		dest := (pe + dist) % n
		if _, err := am.ExecPE[barrierMsg, struct{}](b.d, b.notifyID, dest, barrierMsg{Round: round}); err != nil {
			return err
		}
		select {
		case <-b.chans[round]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
