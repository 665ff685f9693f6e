// Package memregion implements the memory-region primitive of spec.md §3:
// a cluster-wide handle over a (possibly per-PE-sharded) byte buffer, with
// one-sided Put and Get operations layered on top of package transport's
// raw frame delivery.
//
// Region handles are minted symmetrically: every PE registers its own
// local shard by calling Registry.Allocate in the same collective order
// (the same discipline spec.md requires of distributed-array and DAR
// construction), so the resulting Handle value is identical on every PE
// without any coordinator round trip — the Go analogue of a symmetric-heap
// allocation in the systems this runtime is modeled on.
package memregion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgasdart/runtime/transport"
	"github.com/pgasdart/runtime/wire"
)

// Handle identifies a region across the whole cluster.
type Handle uint64

type region struct {
	mu  sync.RWMutex
	buf []byte
}

type putHeader struct {
	Handle Handle
	Offset int
}

type getHeader struct {
	Handle Handle
	Offset int
	Length int
}

type pendingGet struct {
	resultCh chan getResult
}

type getResult struct {
	data []byte
	err  error
}

// Registry owns every region local to one PE and serves remote Put/Get
// requests targeting them.
type Registry struct {
	pe int
	tr transport.Transport

	mu         sync.Mutex
	regions    map[Handle]*region
	nextHandle uint64

	corrCounter uint64
	pending     sync.Map // uint64 -> *pendingGet
}

// NewRegistry builds a Registry for pe, sending remote Put/Get traffic
// over tr. The caller (typically package world's dispatcher) must route
// incoming wire.FramePut/FrameGet/FrameGetReply frames to HandleFrame.
func NewRegistry(pe int, tr transport.Transport) *Registry {
	return &Registry{pe: pe, tr: tr, regions: make(map[Handle]*region)}
}

// Allocate registers local as the calling PE's shard of a new region and
// returns its cluster-wide Handle. Must be called collectively, in the
// same relative order, by every PE sharing the region.
func (r *Registry) Allocate(local []byte) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handle(r.nextHandle)
	r.nextHandle++
	r.regions[h] = &region{buf: local}
	return h
}

// Local returns the calling PE's own shard for h, if it owns one.
func (r *Registry) Local(h Handle) ([]byte, bool) {
	r.mu.Lock()
	reg, ok := r.regions[h]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buf, true
}

// Put writes data into h's shard on pe at the given byte offset. Fire and
// forget when pe is remote: it returns once the frame has been handed to
// the transport, not once the remote write has landed.
func (r *Registry) Put(ctx context.Context, pe int, h Handle, offset int, data []byte) error {
	if pe == r.pe {
		return r.localPut(h, offset, data)
	}
	payload, err := wire.Encode(putHeader{Handle: h, Offset: offset})
	if err != nil {
		return err
	}
	f := &wire.Frame{Kind: wire.FramePut, SourcePE: int32(r.pe), Payload: payload, Region: data}
	b, err := wire.EncodeFrame(f)
	if err != nil {
		return err
	}
	return r.tr.Send(ctx, pe, b)
}

// Get reads length bytes from h's shard on pe at the given byte offset.
func (r *Registry) Get(ctx context.Context, pe int, h Handle, offset, length int) ([]byte, error) {
	if pe == r.pe {
		return r.localGet(h, offset, length)
	}

	corr := atomic.AddUint64(&r.corrCounter, 1)
	wait := &pendingGet{resultCh: make(chan getResult, 1)}
	r.pending.Store(corr, wait)
	defer r.pending.Delete(corr)

	payload, err := wire.Encode(getHeader{Handle: h, Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	f := &wire.Frame{Kind: wire.FrameGet, SourcePE: int32(r.pe), CorrelationID: corr, Payload: payload}
	b, err := wire.EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	if err := r.tr.Send(ctx, pe, b); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-wait.resultCh:
		return res.data, res.err
	}
}

func (r *Registry) localPut(h Handle, offset int, data []byte) error {
	r.mu.Lock()
	reg, ok := r.regions[h]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("memregion: unknown handle %d", h)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if offset < 0 || offset+len(data) > len(reg.buf) {
		return fmt.Errorf("memregion: put [%d:%d] out of bounds for region of length %d", offset, offset+len(data), len(reg.buf))
	}
	copy(reg.buf[offset:], data)
	return nil
}

func (r *Registry) localGet(h Handle, offset, length int) ([]byte, error) {
	r.mu.Lock()
	reg, ok := r.regions[h]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memregion: unknown handle %d", h)
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if offset < 0 || offset+length > len(reg.buf) {
		return nil, fmt.Errorf("memregion: get [%d:%d] out of bounds for region of length %d", offset, offset+length, len(reg.buf))
	}
	out := make([]byte, length)
	copy(out, reg.buf[offset:offset+length])
	return out, nil
}

// HandleFrame processes an inbound Put, Get, or GetReply frame. It is
// meant to be called by the runtime's frame router for every frame whose
// Kind is one of those three.
func (r *Registry) HandleFrame(src int, f *wire.Frame) {
	switch f.Kind {
	case wire.FramePut:
		var h putHeader
		if err := wire.Decode(f.Payload, &h); err != nil {
			return
		}
		_ = r.localPut(h.Handle, h.Offset, f.Region)

	case wire.FrameGet:
		var h getHeader
		if err := wire.Decode(f.Payload, &h); err != nil {
			return
		}
		data, err := r.localGet(h.Handle, h.Offset, h.Length)
		reply := &wire.Frame{Kind: wire.FrameGetReply, SourcePE: int32(r.pe), CorrelationID: f.CorrelationID, Region: data}
		if err != nil {
			reply.Err = err.Error()
		}
		b, err := wire.EncodeFrame(reply)
		if err != nil {
			return
		}
		_ = r.tr.Send(context.Background(), src, b)

	case wire.FrameGetReply:
		v, ok := r.pending.Load(f.CorrelationID)
		if !ok {
			return
		}
		wait := v.(*pendingGet)
		var err error
		if f.Err != "" {
			err = fmt.Errorf("memregion: remote get failed: %s", f.Err)
		}
		wait.resultCh <- getResult{data: f.Region, err: err}
	}
}
