package cache

import "github.com/vmihailenco/msgpack/v5"

type msgpackCodec struct{}

// NewMsgpackCodec returns the default Codec. Every read decodes a fresh
// copy so callers never share a cached pointer.
func NewMsgpackCodec() Codec {
	return msgpackCodec{}
}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
