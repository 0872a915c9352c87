package payload

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var (
	errNotProtoValue  = errors.New("payload: value must implement proto.Message")
	errNotProtoTarget = errors.New("payload: target must implement proto.Message")
)

// Proto implements Codec using Protocol Buffers.
// Values and decode targets must implement proto.Message.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errNotProtoValue
	}
	return proto.Marshal(msg)
}

func (Proto) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return errNotProtoTarget
	}
	return proto.Unmarshal(data, msg)
}

func (Proto) ContentType() string {
	return "application/protobuf"
}

var _ Codec = Proto{}
