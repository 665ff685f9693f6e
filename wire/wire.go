// Package wire implements the active-message wire format described in
// spec.md §6: a stable 64-bit handler type id, a source-PE field, a
// correlation id for replies, and a length-prefixed, gob-encoded payload.
//
// The format is explicitly not required to be stable across runtime
// versions (spec.md §6) — gob is chosen because it is the standard
// library's native self-describing codec and needs no schema pairing,
// mirroring how the original benchmarks serialize arbitrary AM payloads.
package wire

import (
	"bytes"
	"encoding/gob"
	"hash/fnv"
)

// TypeID is the stable 64-bit identifier for a registered active-message
// handler type, computed once at registration time (spec.md §4.2: "a
// stable 64-bit type id baked at build time").
type TypeID uint64

// HandlerTypeID computes the TypeID for a handler name. It is a pure
// function of the name (FNV-1a 64-bit), so the same handler name always
// maps to the same id across PEs without any runtime negotiation.
func HandlerTypeID(name string) TypeID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return TypeID(h.Sum64())
}

// Frame is the envelope carried over the transport for both requests and
// replies. Kind distinguishes a handler dispatch from its reply and from
// a raw memory-region put/get.
type Frame struct {
	Kind          FrameKind
	TypeID        TypeID
	SourcePE      int32
	CorrelationID uint64
	// Payload is the gob-encoded handler argument (request) or result
	// (reply). Empty for memory-region frames, which carry Region instead.
	Payload []byte
	// Err carries a propagated handler error (spec.md §7); empty string
	// means no error.
	Err string
	// Region carries raw bytes for Put/Get frames.
	Region []byte
}

// FrameKind enumerates the wire-level frame kinds.
type FrameKind uint8

const (
	FrameRequest FrameKind = iota
	FrameReply
	FramePut
	FrameGet
	FrameGetReply
)

// Encode gob-encodes v into a self-describing byte payload.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes payload into v, which must be a pointer.
func Decode(payload []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

// EncodeFrame serializes a Frame for transmission.
func EncodeFrame(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame deserializes a Frame received from the transport.
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
