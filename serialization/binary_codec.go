package serialization

import "github.com/vmihailenco/msgpack/v5"

// binaryFrame is the wrapper every binary-framed message is packed
// into: a type URL identifying the schema, plus the opaque encoded
// payload for that schema, without committing to a specific wire IDL;
// msgpack encodes the wrapper and its payload compactly without code
// generation.
type binaryFrame struct {
	TypeURL string `msgpack:"type_url"`
	Payload []byte `msgpack:"payload"`
}

// BinaryCodec implements the binary framed codec family: it wraps an
// opaque payload, encoded by an inner codec, behind a type-URL
// envelope.
type BinaryCodec struct {
	typeURL string
	inner   Codec
}

// NewBinaryCodec builds a binary framed codec that labels its frames
// with typeURL and delegates payload encoding to inner. inner is
// typically a RecordCodec for the same logical type, letting the
// binary codec add only the type-URL framing on top.
func NewBinaryCodec(typeURL string, inner Codec) *BinaryCodec {
	return &BinaryCodec{typeURL: typeURL, inner: inner}
}

func (c *BinaryCodec) Serialize(value any) ([]byte, error) {
	payload, err := c.inner.Serialize(value)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(binaryFrame{TypeURL: c.typeURL, Payload: payload})
}

func (c *BinaryCodec) Deserialize(data []byte) (any, error) {
	var frame binaryFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return c.inner.Deserialize(frame.Payload)
}
