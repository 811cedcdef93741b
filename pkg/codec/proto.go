package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Proto returns a Protocol Buffers codec. Marshaling is deterministic so
// identical messages produce identical bytes across processes.
func Proto() Codec { return protoCodec{} }

type protoCodec struct{}

func (protoCodec) ContentType() string { return "application/x-protobuf" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}

func asMessage(v any) (proto.Message, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: %T is not a proto.Message", v)
	}
	return msg, nil
}
