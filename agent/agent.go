// Package agent defines the contract the runtime consumes: the
// single interface every message handler implements, and a small
// Router helper that builds a typed dispatch table at registration
// time so concrete agents can compose handling behavior instead of
// inheriting it, per the core's composition-over-inheritance design
// note.
package agent

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tenzoki/agentruntime/cancel"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
)

// MessageContext is the per-handler invocation descriptor the runtime
// builds immediately before calling OnMessage.
type MessageContext struct {
	Sender            *core.AgentId
	TopicID           *core.TopicId
	IsRPC             bool
	CancellationToken *cancel.Token
	MessageID         string
}

// Agent is the single entry point the runtime drives. Implementations
// must not block indefinitely in OnMessage; long-running work should
// select on ctx.Done() and mctx.CancellationToken.Done().
type Agent interface {
	AgentType() core.AgentType
	OnMessage(ctx context.Context, message any, mctx MessageContext) (any, error)
	SaveState() (map[string]any, error)
	LoadState(state map[string]any) error
	Close() error
}

// Base provides no-op SaveState/LoadState/Close implementations so
// concrete agents that have no persisted state or teardown work can
// embed Base and implement only AgentType/OnMessage.
type Base struct {
	Type core.AgentType
}

func (b Base) AgentType() core.AgentType         { return b.Type }
func (b Base) SaveState() (map[string]any, error) { return nil, nil }
func (b Base) LoadState(map[string]any) error     { return nil }
func (b Base) Close() error                       { return nil }

// HandlerFunc handles one concrete message type within a Router.
type HandlerFunc func(ctx context.Context, message any, mctx MessageContext) (any, error)

// Router builds a dispatch table from message Go type to handler
// function at registration time, replacing the source's decorator-
// driven handler tables with an explicit, inspectable map.
type Router struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]HandlerFunc
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[reflect.Type]HandlerFunc)}
}

// Register associates the Go type of sample with fn. sample is used
// only to capture its reflect.Type; its value is discarded.
func (r *Router) Register(sample any, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[reflect.TypeOf(sample)] = fn
}

// Dispatch looks up the handler registered for message's concrete
// type and invokes it, returning a CantHandleError if none matches.
func (r *Router) Dispatch(ctx context.Context, message any, mctx MessageContext) (any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[reflect.TypeOf(message)]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NewCantHandle(fmt.Sprintf("no handler registered for %T", message))
	}
	return fn(ctx, message, mctx)
}
