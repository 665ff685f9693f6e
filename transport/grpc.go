package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName = "pgasdart.transport.Wire"
	streamName  = "Stream"
	fullMethod  = "/" + serviceName + "/" + streamName
)

// serviceDesc is a hand-built grpc.ServiceDesc: no protoc-generated
// message type backs this service, only the rawCodec above. This mirrors
// the teacher's inprocgrpc.Channel, which registers services the same way
// for in-process dispatch; here the same trick is used to run a single
// bidirectional byte pipe per PE pair over a real network connection.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       wireStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "transport.proto",
}

func wireStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*GRPC).handleStream(stream)
}

// GRPC is a Transport backed by google.golang.org/grpc. Each ordered pair
// of PEs gets one long-lived client-to-server stream; the first message on
// a stream is a 4-byte big-endian handshake announcing the sender's PE
// index, after which every subsequent message is handed verbatim to the
// installed Handler.
type GRPC struct {
	pe    int
	addrs []string

	lis net.Listener
	srv *grpc.Server

	handler atomic.Pointer[Handler]

	mu     sync.Mutex
	outbox map[int]*outStream
}

type outStream struct {
	mu sync.Mutex
	cs grpc.ClientStream
	cc *grpc.ClientConn
}

// Listen starts the server side of a GRPC transport for pe, one of
// len(addrs) PEs, listening on addrs[pe]. Call Connect afterward to dial
// every peer before the first Send.
func Listen(pe int, addrs []string) (*GRPC, error) {
	if pe < 0 || pe >= len(addrs) {
		return nil, fmt.Errorf("transport: pe %d out of range for %d addrs", pe, len(addrs))
	}
	lis, err := net.Listen("tcp", addrs[pe])
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addrs[pe], err)
	}
	t := &GRPC{
		pe:     pe,
		addrs:  append([]string(nil), addrs...),
		lis:    lis,
		srv:    grpc.NewServer(),
		outbox: make(map[int]*outStream),
	}
	t.srv.RegisterService(&serviceDesc, t)
	go func() { _ = t.srv.Serve(lis) }()
	return t, nil
}

// Connect dials every other PE and performs the handshake. It is a
// collective operation: every PE must call Connect before any Send.
func (t *GRPC) Connect(ctx context.Context) error {
	for p, addr := range t.addrs {
		if p == t.pe {
			continue
		}
		cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))
		if err != nil {
			return fmt.Errorf("transport: dial pe %d (%s): %w", p, addr, err)
		}
		cs, err := cc.NewStream(ctx, &serviceDesc.Streams[0], fullMethod)
		if err != nil {
			_ = cc.Close()
			return fmt.Errorf("transport: open stream to pe %d: %w", p, err)
		}
		hs := make([]byte, 4)
		binary.BigEndian.PutUint32(hs, uint32(t.pe))
		if err := cs.SendMsg(&hs); err != nil {
			_ = cc.Close()
			return fmt.Errorf("transport: handshake to pe %d: %w", p, err)
		}
		t.mu.Lock()
		t.outbox[p] = &outStream{cs: cs, cc: cc}
		t.mu.Unlock()
	}
	return nil
}

func (t *GRPC) PE() int      { return t.pe }
func (t *GRPC) NumPEs() int  { return len(t.addrs) }

func (t *GRPC) SetHandler(h Handler) {
	t.handler.Store(&h)
}

func (t *GRPC) Send(ctx context.Context, target int, frame []byte) error {
	t.mu.Lock()
	out, ok := t.outbox[target]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection to pe %d (Connect not called?)", target)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	b := append([]byte(nil), frame...)
	if err := out.cs.SendMsg(&b); err != nil {
		return fmt.Errorf("transport: send to pe %d: %w", target, err)
	}
	return nil
}

func (t *GRPC) Close() error {
	t.srv.GracefulStop()
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, out := range t.outbox {
		if err := out.cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *GRPC) handleStream(stream grpc.ServerStream) error {
	var hs []byte
	if err := stream.RecvMsg(&hs); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if len(hs) != 4 {
		return fmt.Errorf("transport: malformed handshake (%d bytes)", len(hs))
	}
	srcPE := int(binary.BigEndian.Uint32(hs))
	for {
		var b []byte
		if err := stream.RecvMsg(&b); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if hp := t.handler.Load(); hp != nil {
			(*hp)(srcPE, b)
		}
	}
}
