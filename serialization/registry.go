// Package serialization implements the runtime's pluggable codec
// registry: a (typeName, contentType) keyed map of codecs used both
// to persist agent state and to cross the in-process/out-of-process
// boundary. JSON is the default record codec; a binary framed codec
// wraps an inner codec's payload in a msgpack frame labelled with a
// type URL. Deserialize passes the bytes of an unregistered pair
// through unparsed.
package serialization

import (
	"fmt"
	"sync"

	"github.com/tenzoki/agentruntime/errs"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/x-msgpack"
)

// Codec serializes and deserializes values of one logical message
// type for one wire content type.
type Codec interface {
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

type key struct {
	typeName    string
	contentType string
}

// Registry is a (typeName, contentType) -> Codec lookup table. It is
// safe for concurrent use; registration races are resolved by
// last-writer-wins — registering the same pair twice replaces the
// prior codec without error.
type Registry struct {
	mu     sync.RWMutex
	codecs map[key]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[key]Codec)}
}

// Register installs codec for (typeName, contentType), replacing any
// prior codec registered under the same pair.
func (r *Registry) Register(typeName, contentType string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[key{typeName, contentType}] = codec
}

// Serialize looks up the codec for (typeName, contentType) and
// encodes value. Unlike Deserialize, an unregistered pair is an
// error: a node can forward bytes it does not understand, but it
// cannot manufacture bytes for a schema it does not own.
func (r *Registry) Serialize(typeName, contentType string, value any) (SerializedMessage, error) {
	r.mu.RLock()
	codec, ok := r.codecs[key{typeName, contentType}]
	r.mu.RUnlock()
	if !ok {
		return SerializedMessage{}, errs.NewLookup(fmt.Sprintf("no codec registered for (%s, %s)", typeName, contentType))
	}
	payload, err := codec.Serialize(value)
	if err != nil {
		return SerializedMessage{}, errs.NewSerialization("serialize "+typeName, err)
	}
	return SerializedMessage{TypeName: typeName, ContentType: contentType, PayloadBytes: payload}, nil
}

// Deserialize looks up the codec for (typeName, contentType) and
// decodes payload. If no codec is registered, it returns an
// UnknownPayload wrapper rather than an error, so that messages of a
// schema this node does not own can still be forwarded.
func (r *Registry) Deserialize(msg SerializedMessage) (any, error) {
	r.mu.RLock()
	codec, ok := r.codecs[key{msg.TypeName, msg.ContentType}]
	r.mu.RUnlock()
	if !ok {
		return UnknownPayload{TypeName: msg.TypeName, ContentType: msg.ContentType, PayloadBytes: msg.PayloadBytes}, nil
	}
	value, err := codec.Deserialize(msg.PayloadBytes)
	if err != nil {
		return nil, errs.NewSerialization("deserialize "+msg.TypeName, err)
	}
	return value, nil
}

// SerializedMessage is the wire-level representation of one message:
// its declared logical type, the content type it was encoded with,
// and the opaque encoded bytes.
type SerializedMessage struct {
	TypeName     string
	ContentType  string
	PayloadBytes []byte
}

// UnknownPayload is returned by Deserialize for a (typeName,
// contentType) pair with no registered codec, carrying the raw bytes
// forward undecoded.
type UnknownPayload struct {
	TypeName     string
	ContentType  string
	PayloadBytes []byte
}
