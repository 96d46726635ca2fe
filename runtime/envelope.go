package runtime

import (
	"github.com/google/uuid"

	"github.com/tenzoki/agentruntime/cancel"
	"github.com/tenzoki/agentruntime/core"
)

// Kind discriminates the three envelope shapes the runtime handles.
type Kind int

const (
	KindSend Kind = iota
	KindPublish
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindPublish:
		return "publish"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Envelope is the runtime's internal, uniform wrapper for send,
// publish, and response traffic: typed routing fields plus an opaque
// Message, replacing a generic Source/Destination/Headers/Payload shape
// with fields specific to each of the three kinds.
type Envelope struct {
	Message           any
	CancellationToken *cancel.Token
	Sender            *core.AgentId
	Recipient         *core.AgentId
	TopicID           *core.TopicId
	Metadata          map[string]any
	MessageID         string
	Kind              Kind

	// result is non-nil only for KindSend envelopes: the driver
	// delivers the handler's (value, error) pair here for the
	// blocked caller to receive.
	result chan sendResult
}

type sendResult struct {
	value any
	err   error
}

func newMessageID(supplied string) string {
	if supplied != "" {
		return supplied
	}
	return uuid.NewString()
}
