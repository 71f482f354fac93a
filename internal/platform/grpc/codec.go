package grpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// WireCodecName is the content-subtype cart clients send ("application/grpc+cartpb").
const WireCodecName = "cartpb"

// WireMessage is a message that encodes itself in protobuf wire format
// without generated descriptors.
type WireMessage interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(data []byte) error
}

// WireCodec carries WireMessage values. Generated protobuf messages pass
// through proto, so one content-subtype serves both.
type WireCodec struct{}

// Marshal implements encoding.Codec.
func (WireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case WireMessage:
		data, err := m.MarshalWire()
		if err != nil {
			return nil, fmt.Errorf("wire codec marshal %T: %w", v, err)
		}
		return data, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("wire codec marshal: unsupported type %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (WireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case WireMessage:
		if err := m.UnmarshalWire(data); err != nil {
			return fmt.Errorf("wire codec unmarshal %T: %w", v, err)
		}
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("wire codec unmarshal: unsupported type %T", v)
	}
}

// Name implements encoding.Codec.
func (WireCodec) Name() string {
	return WireCodecName
}

func init() {
	encoding.RegisterCodec(WireCodec{})
}
