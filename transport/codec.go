package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodecName is registered with grpc's global encoding registry so the
// Wire service can move opaque frame bytes without any protoc-generated
// message type, per the package doc comment.
const rawCodecName = "pgasraw"

// rawCodec is a grpc/encoding.Codec that treats every message as an opaque
// []byte, grounded on the teacher's inprocgrpc channel, which likewise
// drives grpc purely off hand-built descriptors and a codec registered by
// name rather than .pb.go types.
type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case *[]byte:
		return *t, nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("transport: rawCodec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("transport: rawCodec cannot unmarshal into %T", v)
	}
	*p = append([]byte(nil), data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
