// Package am implements the active-message dispatcher (spec.md §4.2), AM
// groups (§4.3), and task groups (§4.6).
//
// The dispatcher is grounded on the teacher's inprocgrpc.Channel and its
// handlerMap: a registry keyed by a stable id, a lookup-and-invoke step on
// the receiving side, and a result delivered back through a channel the
// caller can wait on. Where inprocgrpc keys its registry by gRPC service
// name, RegisterHandler here keys it by a 64-bit FNV-1a hash of the
// handler's name (package wire.HandlerTypeID) — "baked at build time" per
// spec.md §4.2 — and where inprocgrpc dispatches into an arbitrary user
// method via reflection, handlers here are plain generic functions, so
// dispatch is a closure captured once at registration instead of a
// reflective call per invocation.
package am

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgasdart/runtime/executor"
	"github.com/pgasdart/runtime/memregion"
	"github.com/pgasdart/runtime/transport"
	"github.com/pgasdart/runtime/wire"
)

// HandlerError wraps an error a handler returned, propagated back to the
// caller across the network (spec.md §7).
type HandlerError struct {
	Message string
}

func (e *HandlerError) Error() string { return "pgas: am: handler error: " + e.Message }

// invokeFunc is the type-erased form every registered handler is reduced
// to: decode already happened to produce payload on the wire, so invoke
// need only hand it, and the caller PE, to the real handler.
type invokeFunc func(ctx context.Context, src int, payload []byte) ([]byte, error)

// Dispatcher routes active-message requests to locally-registered
// handlers and replies to callers, for one PE.
type Dispatcher struct {
	pe     int
	numPEs int
	tr     transport.Transport
	exec   *executor.Executor
	mem    *memregion.Registry

	mu       sync.RWMutex
	handlers map[wire.TypeID]invokeFunc

	corrCounter uint64
	pending     sync.Map // uint64 -> func(*wire.Frame)
}

// NewDispatcher builds a Dispatcher for pe among numPEs total PEs, taking
// over tr's frame handler. mem may be nil if the caller never needs
// memory-region Put/Get traffic multiplexed alongside active messages.
func NewDispatcher(pe, numPEs int, tr transport.Transport, exec *executor.Executor, mem *memregion.Registry) *Dispatcher {
	d := &Dispatcher{
		pe:       pe,
		numPEs:   numPEs,
		tr:       tr,
		exec:     exec,
		mem:      mem,
		handlers: make(map[wire.TypeID]invokeFunc),
	}
	tr.SetHandler(d.onFrame)
	return d
}

// PE returns the dispatcher's own PE index.
func (d *Dispatcher) PE() int { return d.pe }

// NumPEs returns the number of PEs in the job.
func (d *Dispatcher) NumPEs() int { return d.numPEs }

// RegisterHandler registers a typed active-message handler under name,
// returning its wire.TypeID. Panics if name is already registered
// (mirrors the teacher's "already registered" panic convention).
func RegisterHandler[A any, R any](d *Dispatcher, name string, fn func(ctx context.Context, src int, arg A) (R, error)) wire.TypeID {
	id := wire.HandlerTypeID(name)
	d.register(id, func(ctx context.Context, src int, payload []byte) ([]byte, error) {
		var arg A
		if len(payload) > 0 {
			if err := wire.Decode(payload, &arg); err != nil {
				return nil, err
			}
		}
		res, err := fn(ctx, src, arg)
		if err != nil {
			return nil, err
		}
		return wire.Encode(res)
	})
	return id
}

func (d *Dispatcher) register(id wire.TypeID, invoke invokeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[id]; ok {
		panic(fmt.Sprintf("pgas: am: handler type %d already registered", id))
	}
	d.handlers[id] = invoke
}

func (d *Dispatcher) lookup(id wire.TypeID) (invokeFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[id]
	return fn, ok
}

func (d *Dispatcher) nextCorrelation() uint64 {
	return atomic.AddUint64(&d.corrCounter, 1)
}

// ExecPE executes the handler registered under typeID on pe, returning a
// Handle for its result (spec.md §4.2 exec_am_pe).
func ExecPE[A any, R any](d *Dispatcher, typeID wire.TypeID, pe int, arg A) (*Handle[R], error) {
	payload, err := wire.Encode(arg)
	if err != nil {
		return nil, err
	}
	return sendRequest[R](d, typeID, pe, payload)
}

// ExecLocal executes the handler on the local executor (spec.md §4.2
// exec_am_local).
func ExecLocal[A any, R any](d *Dispatcher, typeID wire.TypeID, arg A) (*Handle[R], error) {
	return ExecPE[A, R](d, typeID, d.pe, arg)
}

// ExecAll executes the handler on every PE including self, with the
// result slice preserving PE order (spec.md §4.2 exec_am_all).
func ExecAll[A any, R any](d *Dispatcher, typeID wire.TypeID, arg A) (*Handle[[]R], error) {
	handles := make([]*Handle[R], d.numPEs)
	for pe := 0; pe < d.numPEs; pe++ {
		h, err := ExecPE[A, R](d, typeID, pe, arg)
		if err != nil {
			return nil, err
		}
		handles[pe] = h
	}
	out := &Handle[[]R]{ch: make(chan result[[]R], 1)}
	go func() {
		vals := make([]R, len(handles))
		var firstErr error
		for pe, h := range handles {
			v, err := h.Await(context.Background())
			vals[pe] = v
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		out.ch <- result[[]R]{val: vals, err: firstErr}
	}()
	return out, nil
}

// sendRequest is the shared request/reply path used by both ExecPE and
// Group's flush logic (whose reply type is a slice of per-entry results
// rather than a single R).
func sendRequest[RR any](d *Dispatcher, typeID wire.TypeID, pe int, payload []byte) (*Handle[RR], error) {
	h := &Handle[RR]{ch: make(chan result[RR], 1)}

	if pe == d.pe {
		invoke, ok := d.lookup(typeID)
		if !ok {
			return nil, fmt.Errorf("pgas: am: no handler registered for type %d", typeID)
		}
		err := d.exec.Submit(func(ctx context.Context) {
			out, err := d.safeInvoke(invoke, ctx, d.pe, payload)
			deliverLocal[RR](h, out, err)
		})
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	corr := d.nextCorrelation()
	d.pending.Store(corr, func(f *wire.Frame) { deliverRemote[RR](h, f) })

	frame := &wire.Frame{Kind: wire.FrameRequest, TypeID: typeID, SourcePE: int32(d.pe), CorrelationID: corr, Payload: payload}
	b, err := wire.EncodeFrame(frame)
	if err != nil {
		d.pending.Delete(corr)
		return nil, err
	}
	if err := d.tr.Send(context.Background(), pe, b); err != nil {
		d.pending.Delete(corr)
		return nil, err
	}
	return h, nil
}

func deliverLocal[R any](h *Handle[R], out []byte, err error) {
	var r result[R]
	if err != nil {
		r.err = err
	} else if len(out) > 0 {
		if derr := wire.Decode(out, &r.val); derr != nil {
			r.err = derr
		}
	}
	h.ch <- r
}

func deliverRemote[R any](h *Handle[R], f *wire.Frame) {
	var r result[R]
	if f.Err != "" {
		r.err = &HandlerError{Message: f.Err}
	} else if len(f.Payload) > 0 {
		if derr := wire.Decode(f.Payload, &r.val); derr != nil {
			r.err = derr
		}
	}
	h.ch <- r
}

func (d *Dispatcher) onFrame(src int, b []byte) {
	f, err := wire.DecodeFrame(b)
	if err != nil {
		return
	}
	switch f.Kind {
	case wire.FrameRequest:
		d.handleRequest(src, f)
	case wire.FrameReply:
		d.handleReply(f)
	case wire.FramePut, wire.FrameGet, wire.FrameGetReply:
		if d.mem != nil {
			d.mem.HandleFrame(src, f)
		}
	}
}

func (d *Dispatcher) handleRequest(src int, f *wire.Frame) {
	invoke, ok := d.lookup(f.TypeID)
	if !ok {
		d.replyErr(src, f.CorrelationID, fmt.Errorf("pgas: am: no handler registered for type %d", f.TypeID))
		return
	}
	_ = d.exec.Submit(func(ctx context.Context) {
		out, err := d.safeInvoke(invoke, ctx, src, f.Payload)
		reply := &wire.Frame{Kind: wire.FrameReply, SourcePE: int32(d.pe), CorrelationID: f.CorrelationID, Payload: out}
		if err != nil {
			reply.Err = err.Error()
		}
		b, encErr := wire.EncodeFrame(reply)
		if encErr != nil {
			return
		}
		_ = d.tr.Send(context.Background(), src, b)
	})
}

func (d *Dispatcher) replyErr(src int, corr uint64, err error) {
	reply := &wire.Frame{Kind: wire.FrameReply, SourcePE: int32(d.pe), CorrelationID: corr, Err: err.Error()}
	b, encErr := wire.EncodeFrame(reply)
	if encErr != nil {
		return
	}
	_ = d.tr.Send(context.Background(), src, b)
}

func (d *Dispatcher) handleReply(f *wire.Frame) {
	v, ok := d.pending.LoadAndDelete(f.CorrelationID)
	if !ok {
		return
	}
	v.(func(*wire.Frame))(f)
}

// safeInvoke turns a handler panic into a propagated error (spec.md §7:
// "handler panics are reported back on the reply channel as an error
// result").
func (d *Dispatcher) safeInvoke(invoke invokeFunc, ctx context.Context, src int, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pgas: am: handler panicked: %v", r)
		}
	}()
	return invoke(ctx, src, payload)
}
