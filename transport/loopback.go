package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Loopback is an in-process Transport connecting every PE of a simulated
// job through shared memory rather than sockets. It is the transport used
// by package world's single-process test harness, and by every package's
// own test suite, so that spec.md's multi-PE scenarios (§8) can run
// deterministically without a real network.
type Loopback struct {
	pe  int
	hub *loopbackHub
	h   atomic.Pointer[Handler]
}

// loopbackHub is shared by every *Loopback in a simulated job.
type loopbackHub struct {
	mu      sync.RWMutex
	members []*Loopback
}

// NewLoopbackCluster builds n connected Loopback transports, one per PE,
// all sharing delivery state. Every Send call runs the destination's
// Handler synchronously on the caller's goroutine, which is sufficient for
// tests built atop package executor (handlers there hand off to worker
// goroutines immediately).
func NewLoopbackCluster(n int) []*Loopback {
	hub := &loopbackHub{members: make([]*Loopback, n)}
	for i := 0; i < n; i++ {
		hub.members[i] = &Loopback{pe: i, hub: hub}
	}
	return hub.members
}

func (l *Loopback) PE() int     { return l.pe }
func (l *Loopback) NumPEs() int { return len(l.hub.members) }

func (l *Loopback) SetHandler(h Handler) {
	l.h.Store(&h)
}

func (l *Loopback) Send(ctx context.Context, target int, frame []byte) error {
	l.hub.mu.RLock()
	defer l.hub.mu.RUnlock()
	if target < 0 || target >= len(l.hub.members) {
		return fmt.Errorf("transport: pe %d out of range", target)
	}
	dst := l.hub.members[target]
	hp := dst.h.Load()
	if hp == nil {
		return fmt.Errorf("transport: pe %d has no handler installed", target)
	}
	b := append([]byte(nil), frame...)
	(*hp)(l.pe, b)
	return nil
}

func (l *Loopback) Close() error { return nil }
