// Package rpc implements RPC-over-publish: direct request/response
// semantics built on top of the runtime's publish primitive for
// distributed deployments that have no native point-to-point channel.
// Requests, responses, cancellation, and errors each get their own
// well-known topic name, keyed by sender/recipient type and request id.
package rpc

import (
	"fmt"

	"github.com/tenzoki/agentruntime/core"
)

// RequestTopic returns the topic a caller publishes an RPC request to.
func RequestTopic(recipientType, senderType, recipientKey string) core.TopicId {
	return core.TopicId{Type: fmt.Sprintf("%s:rpc_request=%s", recipientType, senderType), Source: recipientKey}
}

// ResponseTopic returns the topic a recipient publishes its response
// to, and the caller's closure-agent subscribes to.
func ResponseTopic(senderType, requestID, recipientKey string) core.TopicId {
	return core.TopicId{Type: fmt.Sprintf("%s:rpc_response=%s", senderType, requestID), Source: recipientKey}
}

// CancelTopic returns the topic a caller publishes to in order to
// request cancellation of an in-flight RPC.
func CancelTopic(recipientType, requestID string) core.TopicId {
	return core.TopicId{Type: fmt.Sprintf("%s:rpc_cancel=%s", recipientType, requestID)}
}

// ErrorTopic returns the topic a recipient publishes a CantHandle or
// MessageDropped failure to.
func ErrorTopic(recipientType, requestID string) core.TopicId {
	return core.TopicId{Type: fmt.Sprintf("%s:error=%s", recipientType, requestID)}
}

// CantHandleResponse is published to the well-known error topic when a
// recipient has no handler for the request's payload.
type CantHandleResponse struct {
	Reason string
}

// MessageDroppedResponse is published to the well-known error topic
// when a recipient (or an intervention handler ahead of it) drops the
// request instead of answering it.
type MessageDroppedResponse struct {
	Reason string
}
