package rpc

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenzoki/agentruntime/agent"
	"github.com/tenzoki/agentruntime/cancel"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
	"github.com/tenzoki/agentruntime/runtime"
	"github.com/tenzoki/agentruntime/subscription"
)

// closureAgentType is the single shared agent type every RPC-over-
// publish call's temporary closure agent is instantiated under. A
// single factory, reused across calls and correlated by request id,
// avoids growing the factory table without bound for a long-running
// process.
const closureAgentType = "rpc-closure"

type rpcResult struct {
	value   any
	isError bool
}

// Manager coordinates RPC-over-publish calls for one logical sender
// type: it owns the shared closure agent factory and the table of
// pending requests awaiting a response or error.
type Manager struct {
	rt         *runtime.Runtime
	senderType string

	mu      sync.Mutex
	pending map[string]chan rpcResult
}

// NewManager registers the shared closure-agent factory on rt and
// returns a Manager that issues calls as senderType.
func NewManager(rt *runtime.Runtime, senderType string) (*Manager, error) {
	m := &Manager{rt: rt, senderType: senderType, pending: make(map[string]chan rpcResult)}
	if err := rt.RegisterFactory(closureAgentType, m.newClosureAgent); err != nil {
		return nil, err
	}
	return m, nil
}

type closureAgent struct {
	agent.Base
	manager *Manager
}

func (m *Manager) newClosureAgent(ctx runtime.InstantiationContext) (agent.Agent, error) {
	typ, err := core.NewAgentType(closureAgentType)
	if err != nil {
		return nil, err
	}
	return &closureAgent{Base: agent.Base{Type: typ}, manager: m}, nil
}

func (a *closureAgent) OnMessage(_ context.Context, message any, mctx agent.MessageContext) (any, error) {
	if mctx.TopicID == nil {
		return nil, errs.NewCantHandle("rpc closure agent received a message with no topic")
	}
	requestID := extractRequestID(mctx.TopicID.Type)
	isError := strings.Contains(mctx.TopicID.Type, ":error=")
	a.manager.deliver(requestID, message, isError)
	return nil, nil
}

func extractRequestID(topicType string) string {
	idx := strings.LastIndex(topicType, "=")
	if idx == -1 {
		return topicType
	}
	return topicType[idx+1:]
}

func (m *Manager) deliver(requestID string, value any, isError bool) {
	m.mu.Lock()
	ch, ok := m.pending[requestID]
	m.mu.Unlock()
	if !ok {
		log.Printf("[rpc] no pending call for request %s, dropping late/unknown response", requestID)
		return
	}
	select {
	case ch <- rpcResult{value: value, isError: isError}:
	default:
	}
}

// errorFromErrorTopic turns a payload delivered on the well-known
// error topic into its typed error, matching the discrimination the
// closure-agent's Python counterpart does against
// CantHandleMessageResponse/RpcMessageDroppedResponse: an unrecognized
// payload falls back to a generic RemoteError.
func errorFromErrorTopic(value any) error {
	switch v := value.(type) {
	case CantHandleResponse:
		return errs.NewCantHandle(v.Reason)
	case *CantHandleResponse:
		return errs.NewCantHandle(v.Reason)
	case MessageDroppedResponse:
		return errs.NewMessageDropped(v.Reason)
	case *MessageDroppedResponse:
		return errs.NewMessageDropped(v.Reason)
	default:
		return errs.NewRemote(fmt.Sprint(value))
	}
}

// Call performs one RPC-over-publish round trip to recipient,
// publishing payload on the well-known request topic and waiting on
// the well-known response/error topics for up to timeout (0 means no
// timeout). Cancelling token publishes to the cancel topic and fails
// the call with a CancelledError.
func (m *Manager) Call(ctx context.Context, recipient core.AgentId, payload any, token *cancel.Token, timeout time.Duration) (any, error) {
	requestID := uuid.NewString()

	respTopic := ResponseTopic(m.senderType, requestID, recipient.Key)
	errTopic := ErrorTopic(recipient.Type, requestID)
	reqTopic := RequestTopic(recipient.Type, m.senderType, recipient.Key)

	respSub := subscription.NewTypeSubscription(respTopic.Type, closureAgentType)
	errSub := subscription.NewTypeSubscription(errTopic.Type, closureAgentType)
	if err := m.rt.AddSubscription(respSub); err != nil {
		return nil, err
	}
	if err := m.rt.AddSubscription(errSub); err != nil {
		_ = m.rt.RemoveSubscription(respSub.ID())
		return nil, err
	}
	defer func() {
		_ = m.rt.RemoveSubscription(respSub.ID())
		_ = m.rt.RemoveSubscription(errSub.ID())
	}()

	resultCh := make(chan rpcResult, 1)
	m.mu.Lock()
	m.pending[requestID] = resultCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}()

	if err := m.rt.PublishMessage(ctx, payload, reqTopic, runtime.WithSendMessageID(requestID)); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = time.After(timeout)
	}
	var tokenDone <-chan struct{}
	if token != nil {
		tokenDone = token.Done()
	}

	select {
	case res := <-resultCh:
		if res.isError {
			return nil, errorFromErrorTopic(res.value)
		}
		return res.value, nil
	case <-ctx.Done():
		m.publishCancel(recipient.Type, requestID)
		return nil, ctx.Err()
	case <-tokenDone:
		m.publishCancel(recipient.Type, requestID)
		return nil, errs.NewCancelled("rpc request " + requestID)
	case <-timeoutCh:
		return nil, errs.NewUndeliverable("rpc request " + requestID + " timed out waiting for response")
	}
}

func (m *Manager) publishCancel(recipientType, requestID string) {
	background := context.Background()
	if err := m.rt.PublishMessage(background, nil, CancelTopic(recipientType, requestID)); err != nil {
		log.Printf("[rpc] failed to publish cancel for request %s: %v", requestID, err)
	}
}
