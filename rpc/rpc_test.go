package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/tenzoki/agentruntime/agent"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
	"github.com/tenzoki/agentruntime/runtime"
)

const callerType = "caller"

// svcAgent answers every request it receives by publishing the
// payload, upper-cased in spirit (here just echoed) onto the
// well-known response topic for the request id it was invoked under.
type svcAgent struct {
	agent.Base
	key string
	rt  *runtime.Runtime
}

func (a *svcAgent) OnMessage(ctx context.Context, message any, mctx agent.MessageContext) (any, error) {
	respTopic := ResponseTopic(callerType, mctx.MessageID, a.key)
	return nil, a.rt.PublishMessage(ctx, message, respTopic)
}

func TestRPCOverPublish(t *testing.T) {
	rt := runtime.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		rt.Stop()
		rt.Wait()
	}()

	svcType, _ := core.NewAgentType("svc")
	if err := rt.RegisterFactory("svc", func(ic runtime.InstantiationContext) (agent.Agent, error) {
		return &svcAgent{Base: agent.Base{Type: svcType}, key: ic.ID.Key, rt: ic.Runtime}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory(svc): %v", err)
	}

	recipient, _ := core.NewAgentID("svc", "key1")
	// Force instantiation so the svc:-prefixed request topic has a
	// live subscriber before the call is issued.
	if _, err := rt.SendMessage(ctx, "warm-up", recipient); err != nil {
		t.Fatalf("warm-up SendMessage: %v", err)
	}

	mgr, err := NewManager(rt, callerType)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	result, err := mgr.Call(ctx, recipient, "ping", nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "ping" {
		t.Errorf("expected echoed payload %q, got %v", "ping", result)
	}
}

// silentAgent never responds, modeling a recipient that never
// publishes to the RPC response topic.
type silentAgent struct {
	agent.Base
}

func (a *silentAgent) OnMessage(_ context.Context, _ any, _ agent.MessageContext) (any, error) {
	return nil, nil
}

// cantHandleAgent always reports, via the error topic, that it has no
// handler for whatever it was asked.
type cantHandleAgent struct {
	agent.Base
	rt *runtime.Runtime
}

func (a *cantHandleAgent) OnMessage(ctx context.Context, _ any, mctx agent.MessageContext) (any, error) {
	errTopic := ErrorTopic(a.Type.String(), mctx.MessageID)
	return nil, a.rt.PublishMessage(ctx, CantHandleResponse{Reason: "no handler for this payload"}, errTopic)
}

func TestRPCOverPublishCantHandle(t *testing.T) {
	rt := runtime.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		rt.Stop()
		rt.Wait()
	}()

	agentType, _ := core.NewAgentType("cant-handle")
	if err := rt.RegisterFactory("cant-handle", func(ic runtime.InstantiationContext) (agent.Agent, error) {
		return &cantHandleAgent{Base: agent.Base{Type: agentType}, rt: ic.Runtime}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory(cant-handle): %v", err)
	}

	recipient, _ := core.NewAgentID("cant-handle", "key1")
	if _, err := rt.SendMessage(ctx, "warm-up", recipient); err != nil {
		t.Fatalf("warm-up SendMessage: %v", err)
	}

	mgr, err := NewManager(rt, callerType)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = mgr.Call(ctx, recipient, "ping", nil, time.Second)
	if err == nil {
		t.Fatal("expected a CantHandleError, got nil")
	}
	if _, ok := err.(*errs.CantHandleError); !ok {
		t.Errorf("expected *errs.CantHandleError, got %T: %v", err, err)
	}
}

// droppingAgent always reports, via the error topic, that it dropped
// the request instead of answering it.
type droppingAgent struct {
	agent.Base
	rt *runtime.Runtime
}

func (a *droppingAgent) OnMessage(ctx context.Context, _ any, mctx agent.MessageContext) (any, error) {
	errTopic := ErrorTopic(a.Type.String(), mctx.MessageID)
	return nil, a.rt.PublishMessage(ctx, MessageDroppedResponse{Reason: "dropped by intervention"}, errTopic)
}

func TestRPCOverPublishMessageDropped(t *testing.T) {
	rt := runtime.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		rt.Stop()
		rt.Wait()
	}()

	agentType, _ := core.NewAgentType("dropper")
	if err := rt.RegisterFactory("dropper", func(ic runtime.InstantiationContext) (agent.Agent, error) {
		return &droppingAgent{Base: agent.Base{Type: agentType}, rt: ic.Runtime}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory(dropper): %v", err)
	}

	recipient, _ := core.NewAgentID("dropper", "key1")
	if _, err := rt.SendMessage(ctx, "warm-up", recipient); err != nil {
		t.Fatalf("warm-up SendMessage: %v", err)
	}

	mgr, err := NewManager(rt, callerType)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = mgr.Call(ctx, recipient, "ping", nil, time.Second)
	if err == nil {
		t.Fatal("expected a MessageDroppedError, got nil")
	}
	if _, ok := err.(*errs.MessageDroppedError); !ok {
		t.Errorf("expected *errs.MessageDroppedError, got %T: %v", err, err)
	}
}

func TestRPCOverPublishTimeout(t *testing.T) {
	rt := runtime.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		rt.Stop()
		rt.Wait()
	}()

	silentType, _ := core.NewAgentType("silent")
	if err := rt.RegisterFactory("silent", func(ic runtime.InstantiationContext) (agent.Agent, error) {
		return &silentAgent{Base: agent.Base{Type: silentType}}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory(silent): %v", err)
	}

	recipient, _ := core.NewAgentID("silent", "key1")
	if _, err := rt.SendMessage(ctx, "warm-up", recipient); err != nil {
		t.Fatalf("warm-up SendMessage: %v", err)
	}

	mgr, err := NewManager(rt, callerType)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = mgr.Call(ctx, recipient, "ping", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
	if _, ok := err.(*errs.UndeliverableError); !ok {
		t.Errorf("expected *errs.UndeliverableError, got %T: %v", err, err)
	}
}
