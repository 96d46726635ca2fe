// Package runtime implements the single-driver-goroutine cooperative
// message loop: the FIFO envelope queue, lazy agent instantiation, the
// intervention chain, and the direct-send/publish public APIs. The
// dispatch-by-message-kind shape is the same one used for per-connection
// handling elsewhere in this module, here applied to in-process
// delivery instead of network connections.
package runtime

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tenzoki/agentruntime/agent"
	"github.com/tenzoki/agentruntime/cancel"
	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
	"github.com/tenzoki/agentruntime/subscription"
)

type runState int32

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
)

// endCondition is re-evaluated by the driver between dequeues; the
// driver stops once it returns true. Stop() installs an always-true
// condition; StopWhenIdle() installs a queue-and-outstanding check;
// StopWhen() installs a caller-supplied predicate.
type endCondition func() bool

// Runtime is the cooperative single-driver-goroutine message loop.
// The zero value is not usable; construct with New.
type Runtime struct {
	queue chan *Envelope

	factories     *factoryTable
	subscriptions *subscription.Registry

	instancesMu sync.RWMutex
	instances   map[core.AgentId]agent.Agent

	intervention *interventionChain

	outstanding int64
	wg          sync.WaitGroup

	mu         sync.Mutex
	state      runState
	endCond    endCondition
	driverDone chan struct{}
}

// New constructs a Runtime with a bounded envelope queue of the given
// capacity (use 0 only for tests that never enqueue more than they
// immediately drain; production callers should size this to expected
// burst depth, matching the broker's bounded-channel backpressure
// idiom).
func New(queueCapacity int) *Runtime {
	return &Runtime{
		queue:         make(chan *Envelope, queueCapacity),
		factories:     newFactoryTable(),
		subscriptions: subscription.NewRegistry(),
		instances:     make(map[core.AgentId]agent.Agent),
		intervention:  newInterventionChain(),
	}
}

// RegisterFactory installs factory under typ, rejecting duplicates.
func (r *Runtime) RegisterFactory(typ string, factory AgentFactory) error {
	return r.factories.Register(typ, factory)
}

// AddSubscription adds s to the subscription registry.
func (r *Runtime) AddSubscription(s subscription.Subscription) error {
	return r.subscriptions.AddSubscription(s)
}

// RemoveSubscription removes the subscription identified by id.
func (r *Runtime) RemoveSubscription(id string) error {
	return r.subscriptions.RemoveSubscription(id)
}

// UseIntervention appends h to the intervention chain, run in
// registration order ahead of dispatch.
func (r *Runtime) UseIntervention(h InterventionHandler) {
	r.intervention.add(h)
}

// Start begins the driver loop as a background goroutine. It is an
// error to call Start twice without an intervening Stop-and-drain.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return errs.NewValidation("runtime already started")
	}
	r.state = stateRunning
	r.endCond = nil
	r.driverDone = make(chan struct{})
	r.mu.Unlock()

	go r.driverLoop(ctx)
	return nil
}

// Stop halts the driver's dequeue loop as soon as it next checks its
// end condition. It does not cancel in-flight handler goroutines;
// callers that need that must cancel their own tokens.
func (r *Runtime) Stop() {
	r.setEndCondition(func() bool { return true })
}

// StopWhenIdle halts the driver once the queue is empty and no
// handler goroutines are outstanding.
func (r *Runtime) StopWhenIdle() {
	r.setEndCondition(func() bool {
		return len(r.queue) == 0 && atomic.LoadInt64(&r.outstanding) == 0
	})
}

// StopWhen halts the driver once predicate returns true.
func (r *Runtime) StopWhen(predicate func() bool) {
	r.setEndCondition(predicate)
}

func (r *Runtime) setEndCondition(cond endCondition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning && r.state != stateStopping {
		return
	}
	r.state = stateStopping
	r.endCond = cond
}

// Wait blocks until the driver loop has exited.
func (r *Runtime) Wait() {
	r.mu.Lock()
	done := r.driverDone
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// driverLoop is the single driver goroutine: it is the sole consumer
// of r.queue, so no lock is required around dequeue itself.
func (r *Runtime) driverLoop(ctx context.Context) {
	defer close(r.driverDone)
	defer func() {
		r.mu.Lock()
		r.state = stateIdle
		r.endCond = nil
		r.mu.Unlock()
	}()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.shouldStop() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			r.processEnvelope(ctx, env)
		case <-ticker.C:
			// re-check the end condition even when the queue is idle,
			// so StopWhenIdle/StopWhen observe a steady state.
		}
	}
}

func (r *Runtime) shouldStop() bool {
	r.mu.Lock()
	cond := r.endCond
	r.mu.Unlock()
	return cond != nil && cond()
}

func (r *Runtime) processEnvelope(ctx context.Context, env *Envelope) {
	var msg any
	var dropped bool
	switch env.Kind {
	case KindSend:
		msg, dropped = r.intervention.runSend(env.Message, nil)
	case KindPublish:
		msg, dropped = r.intervention.runPublish(env.Message, nil)
	}
	if dropped {
		if env.Kind == KindSend && env.result != nil {
			env.result <- sendResult{nil, errs.NewMessageDropped("intervention chain dropped message " + env.MessageID)}
		}
		return
	}
	env.Message = msg

	switch env.Kind {
	case KindSend:
		r.wg.Add(1)
		atomic.AddInt64(&r.outstanding, 1)
		go r.runSendHandler(ctx, env)
	case KindPublish:
		recipients := r.subscriptions.GetSubscribedRecipients(*env.TopicID)
		for _, rid := range recipients {
			if env.Sender != nil && rid == *env.Sender {
				continue
			}
			r.wg.Add(1)
			atomic.AddInt64(&r.outstanding, 1)
			go r.runPublishHandler(ctx, env, rid)
		}
	}
}

func (r *Runtime) runSendHandler(ctx context.Context, env *Envelope) {
	defer r.wg.Done()
	defer atomic.AddInt64(&r.outstanding, -1)

	recipient := *env.Recipient
	inst, err := r.getOrInstantiate(recipient)
	if err != nil {
		env.result <- sendResult{nil, err}
		return
	}

	mctx := agent.MessageContext{
		Sender:            env.Sender,
		IsRPC:             true,
		CancellationToken: env.CancellationToken,
		MessageID:         env.MessageID,
	}

	value, err := inst.OnMessage(ctx, env.Message, mctx)
	if err != nil {
		env.result <- sendResult{nil, err}
		return
	}

	out, dropped := r.intervention.runResponse(value, mctx)
	if dropped {
		env.result <- sendResult{nil, errs.NewMessageDropped("intervention chain dropped response " + env.MessageID)}
		return
	}
	env.result <- sendResult{out, nil}
}

func (r *Runtime) runPublishHandler(ctx context.Context, env *Envelope, recipient core.AgentId) {
	defer r.wg.Done()
	defer atomic.AddInt64(&r.outstanding, -1)

	childToken := cancel.New()
	if env.CancellationToken != nil {
		env.CancellationToken.Link(childToken.Cancel)
	}

	inst, err := r.getOrInstantiate(recipient)
	if err != nil {
		log.Printf("[runtime] publish to %s failed: %v", recipient, err)
		return
	}

	mctx := agent.MessageContext{
		Sender:            env.Sender,
		TopicID:           env.TopicID,
		IsRPC:             false,
		CancellationToken: childToken,
		MessageID:         env.MessageID,
	}

	if _, err := inst.OnMessage(ctx, env.Message, mctx); err != nil {
		log.Printf("[runtime] handler %s returned error for published message %s: %v", recipient, env.MessageID, err)
	}
}

// SendOption configures a SendMessage call.
type SendOption func(*Envelope)

// WithSendMessageID overrides the generated message id.
func WithSendMessageID(id string) SendOption { return func(e *Envelope) { e.MessageID = id } }

// WithSender sets the sender id observed by the recipient.
func WithSender(id core.AgentId) SendOption { return func(e *Envelope) { e.Sender = &id } }

// WithCancellationToken attaches an existing token instead of
// allocating a fresh one.
func WithCancellationToken(t *cancel.Token) SendOption { return func(e *Envelope) { e.CancellationToken = t } }

// SendMessage enqueues a direct-send envelope and blocks until the
// recipient's handler returns, the cancellation token fires, or ctx
// is done.
func (r *Runtime) SendMessage(ctx context.Context, message any, recipient core.AgentId, opts ...SendOption) (any, error) {
	env := &Envelope{
		Message:   message,
		Recipient: &recipient,
		Kind:      KindSend,
		result:    make(chan sendResult, 1),
	}
	for _, opt := range opts {
		opt(env)
	}
	env.MessageID = newMessageID(env.MessageID)
	if env.CancellationToken == nil {
		env.CancellationToken = cancel.New()
	}

	select {
	case r.queue <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-env.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-env.CancellationToken.Done():
		return nil, errs.NewCancelled("send " + env.MessageID)
	}
}

// PublishOption configures a PublishMessage call.
type PublishOption = SendOption

// WithPublishMessageID overrides the generated message id.
func WithPublishMessageID(id string) PublishOption { return WithSendMessageID(id) }

// PublishMessage enqueues a publish envelope and returns as soon as
// it is accepted onto the queue, without waiting for delivery.
func (r *Runtime) PublishMessage(ctx context.Context, message any, topic core.TopicId, opts ...PublishOption) error {
	env := &Envelope{
		Message: message,
		TopicID: &topic,
		Kind:    KindPublish,
	}
	for _, opt := range opts {
		opt(env)
	}
	env.MessageID = newMessageID(env.MessageID)
	if env.CancellationToken == nil {
		env.CancellationToken = cancel.New()
	}

	select {
	case r.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveState emits {"type/key": agent.SaveState(), ...} for every
// currently instantiated agent.
func (r *Runtime) SaveState() (map[string]map[string]any, error) {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()

	out := make(map[string]map[string]any, len(r.instances))
	for id, inst := range r.instances {
		state, err := inst.SaveState()
		if err != nil {
			return nil, errs.NewSerialization("save state for "+id.String(), err)
		}
		out[id.String()] = state
	}
	return out, nil
}

// LoadState applies per-agent state for every id whose type is a
// registered factory key, constructing the instance if necessary.
// Ids with an unregistered type are skipped with a logged warning.
func (r *Runtime) LoadState(state map[string]map[string]any) error {
	for idStr, agentState := range state {
		id, err := core.ParseAgentID(idStr)
		if err != nil {
			log.Printf("[runtime] skipping malformed persisted agent id %q: %v", idStr, err)
			continue
		}
		if !r.factories.has(id.Type) {
			log.Printf("[runtime] skipping persisted state for unregistered agent type %q", id.Type)
			continue
		}
		inst, err := r.getOrInstantiate(id)
		if err != nil {
			return err
		}
		if err := inst.LoadState(agentState); err != nil {
			return err
		}
	}
	return nil
}

// Close calls Close on every instantiated agent, collecting the
// first error but still attempting every instance.
func (r *Runtime) Close() error {
	r.instancesMu.RLock()
	defer r.instancesMu.RUnlock()

	var firstErr error
	for id, inst := range r.instances {
		if err := inst.Close(); err != nil {
			log.Printf("[runtime] error closing agent %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
