// Package distributed implements the Host/Worker duplex-stream
// protocol: a worker announces the agent types and subscriptions it
// hosts, and the host multiplexes RPC requests/responses and
// published events between workers over a
// RegisterAgentType/AddSubscription/RpcRequest/Event wire contract.
package distributed

// Frame is the single wire message type multiplexed over the duplex
// stream; exactly one Kind-specific subset of fields is populated per
// frame.
type Frame struct {
	Kind string `json:"kind"`

	// register_agent_type
	AgentTypeName string `json:"type,omitempty"`

	// add_subscription
	Subscription *WireSubscription `json:"subscription,omitempty"`

	// rpc_request / rpc_response
	RequestID   string        `json:"request_id,omitempty"`
	Source      *WireAgentID  `json:"source,omitempty"`
	Target      *WireAgentID  `json:"target,omitempty"`
	DataType    string        `json:"data_type,omitempty"`
	DataBytes   []byte        `json:"data_bytes,omitempty"`
	ResultType  string        `json:"result_type,omitempty"`
	ResultBytes []byte        `json:"result_bytes,omitempty"`
	Error       string        `json:"error,omitempty"`

	// event
	TopicType   string `json:"topic_type,omitempty"`
	TopicSource string `json:"topic_source,omitempty"`

	// ack: host's reply to register_agent_type / add_subscription
	OK string `json:"ok,omitempty"`
}

const (
	KindRegisterAgentType = "register_agent_type"
	KindAddSubscription   = "add_subscription"
	KindRPCRequest        = "rpc_request"
	KindRPCResponse       = "rpc_response"
	KindEvent             = "event"
	KindAck               = "ack"
	KindNack              = "nack"
)

// WireAgentID is the (type, key) pair as it crosses the wire.
type WireAgentID struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// WireSubscription carries either a TypeSubscription or a
// TypePrefixSubscription, discriminated by Variant.
type WireSubscription struct {
	Variant         string `json:"variant"` // "type" | "type_prefix"
	TopicType       string `json:"topic_type,omitempty"`
	TopicTypePrefix string `json:"topic_type_prefix,omitempty"`
	AgentType       string `json:"agent_type"`
}

const (
	VariantType       = "type"
	VariantTypePrefix = "type_prefix"
)
