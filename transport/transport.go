// Package transport provides reliable point-to-point byte delivery between
// PEs (spec.md §4.1). Two implementations are provided: GRPC, a real
// network transport built on google.golang.org/grpc using a hand-built
// grpc.ServiceDesc and a raw-bytes codec (grounded on the teacher's
// inprocgrpc/grpc-proxy approach to codec-agnostic, descriptor-level gRPC
// plumbing, without any protoc-generated types); and Loopback, an
// in-process implementation used for tests and single-process multi-PE
// simulation.
//
// Transport is deliberately ignorant of message contents: callers hand it
// already-encoded frames (see package wire) and it guarantees delivery to
// the registered Handler on the destination PE, with no ordering guarantee
// across destinations and no retry layer — transport errors are fatal to
// the job, per spec.md §4.1/§7.
package transport

import "context"

// Handler receives an inbound frame from srcPE. It must not block for a
// long time; handlers that need to do real work should hand off to the
// executor (see package executor).
type Handler func(srcPE int, frame []byte)

// Transport is the contract every PE's network layer must satisfy.
type Transport interface {
	// PE returns this process's PE index.
	PE() int
	// NumPEs returns the number of PEs in the job.
	NumPEs() int
	// Send delivers frame to target's Handler. It completes when the
	// remote receive queue has accepted the bytes (spec.md §4.1); it does
	// not wait for any application-level processing of the frame.
	Send(ctx context.Context, target int, frame []byte) error
	// SetHandler installs the frame handler. Must be called before any
	// Send takes place cluster-wide (collective setup phase).
	SetHandler(h Handler)
	// Close tears down all connections. Collective.
	Close() error
}
