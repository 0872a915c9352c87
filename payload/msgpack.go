package payload

import "github.com/vmihailenco/msgpack/v5"

// MsgPack implements Codec using MessagePack, a compact binary encoding of
// the same schema-less values JSON carries.
type MsgPack struct{}

func (MsgPack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgPack) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (MsgPack) ContentType() string {
	return "application/msgpack"
}

var _ Codec = MsgPack{}
