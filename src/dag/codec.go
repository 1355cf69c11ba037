package dag

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// All hashed and persisted types go through the same canonical msgpack handle.
// Canonical mode sorts map keys, which keeps digests independent of map
// iteration order.
func newHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.WriteExt = true
	mh.RawToString = false
	return mh
}

var handle = newHandle()

func encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, handle)
	return dec.Decode(v)
}
