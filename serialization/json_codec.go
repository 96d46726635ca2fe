package serialization

import (
	"encoding/json"

	"github.com/tenzoki/agentruntime/errs"
)

// RecordCodec round-trips a single concrete record type (scalars,
// nested records, lists, maps) through canonical JSON. newValue must
// return a fresh pointer to decode into.
type RecordCodec struct {
	newValue func() any
}

// NewRecordCodec registers a plain, non-union JSON record codec.
func NewRecordCodec(newValue func() any) *RecordCodec {
	return &RecordCodec{newValue: newValue}
}

func (c *RecordCodec) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (c *RecordCodec) Deserialize(data []byte) (any, error) {
	v := c.newValue()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnionCodec round-trips a discriminated union: a JSON object whose
// discriminator field selects which variant constructor decodes the
// rest of the object. Registering a union without a discriminator
// field is rejected: a plain untagged union over raw record types
// cannot be dispatched on deserialize.
type UnionCodec struct {
	discriminator string
	variants      map[string]func() any
}

// NewUnionCodec builds a tagged-union codec. discriminator must be
// non-empty and variants must be non-empty, or registration fails.
func NewUnionCodec(discriminator string, variants map[string]func() any) (*UnionCodec, error) {
	if discriminator == "" {
		return nil, errs.NewValidation("union codec requires a non-empty discriminator field")
	}
	if len(variants) == 0 {
		return nil, errs.NewValidation("union codec requires at least one tagged variant")
	}
	return &UnionCodec{discriminator: discriminator, variants: variants}, nil
}

func (c *UnionCodec) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (c *UnionCodec) Deserialize(data []byte) (any, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	raw, ok := probe[c.discriminator]
	if !ok {
		return nil, errs.NewValidation("union payload missing discriminator field " + c.discriminator)
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	newValue, ok := c.variants[tag]
	if !ok {
		return nil, errs.NewLookup("union payload has unknown discriminator value " + tag)
	}
	v := newValue()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}
