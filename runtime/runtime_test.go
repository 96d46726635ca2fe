package runtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tenzoki/agentruntime/agent"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/subscription"
)

// echoAgent returns whatever message it is given, unchanged.
// TestEchoDirectSend's factory counts how many instances it constructs.
type echoAgent struct {
	agent.Base
}

func (a *echoAgent) OnMessage(_ context.Context, message any, _ agent.MessageContext) (any, error) {
	return message, nil
}

func newRunningRuntime(t *testing.T) (*Runtime, context.Context, func()) {
	t.Helper()
	rt := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return rt, ctx, func() {
		rt.Stop()
		rt.Wait()
		cancel()
	}
}

func TestEchoDirectSend(t *testing.T) {
	rt, ctx, stop := newRunningRuntime(t)
	defer stop()

	var instantiations int64
	typ, _ := core.NewAgentType("echo")
	if err := rt.RegisterFactory("echo", func(InstantiationContext) (agent.Agent, error) {
		atomic.AddInt64(&instantiations, 1)
		return &echoAgent{Base: agent.Base{Type: typ}}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	id, _ := core.NewAgentID("echo", "1")
	result, err := rt.SendMessage(ctx, "hello", id)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result != "hello" {
		t.Errorf("expected echo of %q, got %v", "hello", result)
	}

	if _, err := rt.SendMessage(ctx, "world", id); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	if got := atomic.LoadInt64(&instantiations); got != 1 {
		t.Errorf("expected exactly one instantiation for echo/1, got %d", got)
	}
}

// listenerAgent reports every message it receives on a shared channel,
// keyed by the topic source it was instantiated for.
type listenerAgent struct {
	agent.Base
	key    string
	report chan<- string
}

func (a *listenerAgent) OnMessage(_ context.Context, _ any, mctx agent.MessageContext) (any, error) {
	if mctx.Sender != nil {
		a.report <- "unexpected sender set for " + a.key
		return nil, nil
	}
	a.report <- a.key
	return nil, nil
}

func TestTopicFanOut(t *testing.T) {
	rt, ctx, stop := newRunningRuntime(t)
	defer stop()

	typ, _ := core.NewAgentType("listener")
	reports := make(chan string, 8)
	if err := rt.RegisterFactory("listener", func(ic InstantiationContext) (agent.Agent, error) {
		return &listenerAgent{Base: agent.Base{Type: typ}, key: ic.ID.Key, report: reports}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}
	if err := rt.AddSubscription(subscription.NewTypeSubscription("announce", "listener")); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	sources := []string{"s1", "s2", "s3"}
	for _, src := range sources {
		topic, _ := core.NewTopicID("announce", src)
		if err := rt.PublishMessage(ctx, map[string]string{"msg": "hi"}, topic); err != nil {
			t.Fatalf("PublishMessage(%s): %v", src, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < len(sources); i++ {
		select {
		case got := <-reports:
			seen[got] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for listener report %d", i+1)
		}
	}
	for _, src := range sources {
		if !seen[src] {
			t.Errorf("listener for source %q never reported", src)
		}
	}
}

// blockHandler drops any publish whose payload contains "FORBIDDEN".
type blockHandler struct{}

func (blockHandler) OnSend(m any, _ interface{}) (any, bool, error)    { return m, false, nil }
func (blockHandler) OnResponse(m any, _ interface{}) (any, bool, error) { return m, false, nil }
func (blockHandler) OnPublish(m any, _ interface{}) (any, bool, error) {
	if msg, ok := m.(map[string]string); ok && strings.Contains(msg["content"], "FORBIDDEN") {
		return nil, true, nil
	}
	return m, false, nil
}

func TestInterventionDrop(t *testing.T) {
	rt, ctx, stop := newRunningRuntime(t)
	defer stop()

	typ, _ := core.NewAgentType("sink")
	var deliveries int64
	if err := rt.RegisterFactory("sink", func(ic InstantiationContext) (agent.Agent, error) {
		return &countingSink{Base: agent.Base{Type: typ}, count: &deliveries}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}
	if err := rt.AddSubscription(subscription.NewTypeSubscription("topic", "sink")); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	rt.UseIntervention(blockHandler{})

	topic, _ := core.NewTopicID("topic", "src")
	if err := rt.PublishMessage(ctx, map[string]string{"content": "FORBIDDEN now"}, topic); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if err := rt.PublishMessage(ctx, map[string]string{"content": "allowed"}, topic); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}

	rt.StopWhenIdle()
	rt.Wait()

	if got := atomic.LoadInt64(&deliveries); got != 1 {
		t.Errorf("expected exactly one delivery (the allowed message), got %d", got)
	}
}

type countingSink struct {
	agent.Base
	count *int64
}

func (a *countingSink) OnMessage(_ context.Context, _ any, _ agent.MessageContext) (any, error) {
	atomic.AddInt64(a.count, 1)
	return nil, nil
}

func TestSubscriptionUpdateRace(t *testing.T) {
	rt, ctx, stop := newRunningRuntime(t)
	defer stop()

	typ, _ := core.NewAgentType("watcher")
	received := make(chan string, 4)
	if err := rt.RegisterFactory("watcher", func(ic InstantiationContext) (agent.Agent, error) {
		return &listenerAgent{Base: agent.Base{Type: typ}, key: ic.ID.Key, report: received}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	topic, _ := core.NewTopicID("updates", "src")
	if err := rt.PublishMessage(ctx, "before", topic); err != nil {
		t.Fatalf("PublishMessage before subscribing: %v", err)
	}

	if err := rt.AddSubscription(subscription.NewTypeSubscription("updates", "watcher")); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	if err := rt.PublishMessage(ctx, "after", topic); err != nil {
		t.Fatalf("PublishMessage after subscribing: %v", err)
	}

	var mu sync.Mutex
	var gotAfter bool
	select {
	case key := <-received:
		mu.Lock()
		if key == "src" {
			gotAfter = true
		}
		mu.Unlock()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to receive the post-subscription publish")
	}
	if !gotAfter {
		t.Error("watcher did not receive the publish made after its subscription was added")
	}
}
