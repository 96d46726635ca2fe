package runtime

import (
	"fmt"
	"sync"

	"github.com/tenzoki/agentruntime/agent"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
	"github.com/tenzoki/agentruntime/subscription"
)

// InstantiationContext is threaded explicitly into every factory
// call, replacing the source's task-local context variables (current
// runtime, current agent id) with an ordinary function argument per
// the core's re-architecture notes.
type InstantiationContext struct {
	Runtime *Runtime
	ID      core.AgentId
}

// AgentFactory constructs one agent instance for the id carried in
// ctx. It may perform I/O and may fail.
type AgentFactory func(ctx InstantiationContext) (agent.Agent, error)

type factoryTable struct {
	mu        sync.Mutex
	factories map[string]AgentFactory
}

func newFactoryTable() *factoryTable {
	return &factoryTable{factories: make(map[string]AgentFactory)}
}

// Register adds factory under typ, rejecting a duplicate
// registration.
func (t *factoryTable) Register(typ string, factory AgentFactory) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.factories[typ]; exists {
		return errs.NewValidation("agent type " + typ + " already has a registered factory")
	}
	t.factories[typ] = factory
	return nil
}

func (t *factoryTable) get(typ string) (AgentFactory, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.factories[typ]
	return f, ok
}

func (t *factoryTable) has(typ string) bool {
	_, ok := t.get(typ)
	return ok
}

// instantiate runs factory under ctx, validates the returned
// instance's declared type matches typ, and auto-installs the
// direct-message TypePrefixSubscription for typ.
func (r *Runtime) instantiate(id core.AgentId) (agent.Agent, error) {
	factory, ok := r.factories.get(id.Type)
	if !ok {
		return nil, errs.NewLookup("no factory registered for agent type " + id.Type)
	}

	inst, err := factory(InstantiationContext{Runtime: r, ID: id})
	if err != nil {
		return nil, err
	}

	if got := inst.AgentType().String(); got != id.Type {
		return nil, &errs.TypeMismatchError{Expected: id.Type, Got: got}
	}

	r.instancesMu.Lock()
	if existing, ok := r.instances[id]; ok {
		r.instancesMu.Unlock()
		return existing, nil
	}
	r.instances[id] = inst
	r.instancesMu.Unlock()

	prefixSub := subscription.NewTypePrefixSubscription(fmt.Sprintf("%s:", id.Type), id.Type)
	if err := r.subscriptions.AddSubscription(prefixSub); err != nil {
		// Another instantiation of the same type already installed
		// this exact subscription; that's expected and not an error
		// for the caller resolving a second key of the same type.
		if _, ok := err.(*errs.ValidationError); !ok {
			return nil, err
		}
	}

	return inst, nil
}

// getOrInstantiate returns the live instance for id, constructing one
// via its registered factory on first resolve.
func (r *Runtime) getOrInstantiate(id core.AgentId) (agent.Agent, error) {
	r.instancesMu.RLock()
	inst, ok := r.instances[id]
	r.instancesMu.RUnlock()
	if ok {
		return inst, nil
	}
	return r.instantiate(id)
}

// TryGetUnderlyingAgentInstance returns the local instance for id,
// constructing it on first resolve, failing with a LookupError if
// unregistered or a TypeMismatchError if its declared type disagrees
// with typ.
func (r *Runtime) TryGetUnderlyingAgentInstance(id core.AgentId, typ string) (agent.Agent, error) {
	inst, err := r.getOrInstantiate(id)
	if err != nil {
		return nil, err
	}
	if got := inst.AgentType().String(); got != typ {
		return nil, &errs.TypeMismatchError{Expected: typ, Got: got}
	}
	return inst, nil
}
