package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
	"github.com/tenzoki/agentruntime/runtime"
)

// RemoteCallHandler answers an rpc_request a peer worker routed to one
// of this worker's locally-registered agent types. It is the wire-level
// analogue of Agent.OnMessage.
type RemoteCallHandler func(ctx context.Context, target core.AgentId, payload json.RawMessage) (result any, err error)

// Worker is a client connection to a Host: it claims agent types,
// registers subscriptions, answers inbound RPC requests for its own
// types, issues outbound RPC requests for remote types, and forwards
// published events through a local runtime.Runtime. Adapted from
// internal/client.BrokerClient's reconnect-with-backoff and
// request/response correlation idiom.
type Worker struct {
	opts ConnectionOptions
	rt   *runtime.Runtime

	connMu sync.Mutex
	conn   *frameConn
	lostCh chan struct{}
	sendCh chan *Frame

	setupMu sync.Mutex
	ackCh   chan *Frame

	pendingMu sync.Mutex
	pending   map[string]chan *Frame

	handlersMu sync.Mutex
	handlers   map[string]RemoteCallHandler

	closed chan struct{}
}

// NewWorker constructs a Worker bound to rt, the local runtime that
// owns the agent instances this worker fronts.
func NewWorker(opts ConnectionOptions, rt *runtime.Runtime) *Worker {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.RecvQueueSize <= 0 {
		opts.RecvQueueSize = 64
	}
	return &Worker{
		opts:     opts,
		rt:       rt,
		sendCh:   make(chan *Frame, opts.SendQueueSize),
		ackCh:    make(chan *Frame, 1),
		pending:  make(map[string]chan *Frame),
		handlers: make(map[string]RemoteCallHandler),
		closed:   make(chan struct{}),
	}
}

// Connect dials the host, retrying per the configured RetryPolicy, then
// starts the long-lived write loop and a supervisor that keeps the read
// side connected for the life of the Worker: a read failure triggers
// reconnection of the receive stream while the send queue (sendCh) and
// any pending RPC correlation entries survive untouched, mirroring
// BrokerClient's reconnect-on-read-error idiom.
func (w *Worker) Connect(ctx context.Context) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	go w.writeLoop()
	go w.readLoop()
	go w.superviseReconnect(ctx)
	return nil
}

func (w *Worker) dial(ctx context.Context) (*frameConn, error) {
	policy := w.opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		conn, err := net.Dial("tcp", w.opts.HostAddress)
		if err == nil {
			return newFrameConn(conn), nil
		}
		lastErr = err
		if w.opts.Debug {
			log.Printf("[worker] connect attempt %d/%d to %s failed: %v", attempt, policy.MaxAttempts, w.opts.HostAddress, err)
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to connect to host %s after %d attempts: %w", w.opts.HostAddress, policy.MaxAttempts, lastErr)
}

// superviseReconnect watches for the current connection going away
// (signaled on connLost by readLoop) and redials, restarting readLoop
// on the new connection. writeLoop is long-lived and re-reads w.conn
// under connMu on every send, so it needs no restart.
func (w *Worker) superviseReconnect(ctx context.Context) {
	for {
		select {
		case <-w.connLost():
		case <-w.closed:
			return
		}
		select {
		case <-w.closed:
			return
		default:
		}

		conn, err := w.dial(ctx)
		if err != nil {
			log.Printf("[worker] giving up reconnecting to host: %v", err)
			return
		}
		w.connMu.Lock()
		w.conn = conn
		w.connMu.Unlock()
		go w.readLoop()
	}
}

// connLost returns a channel closed the next time readLoop observes the
// connection drop, so superviseReconnect can wake exactly once per drop.
func (w *Worker) connLost() <-chan struct{} {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.lostCh == nil {
		w.lostCh = make(chan struct{})
	}
	return w.lostCh
}

func (w *Worker) writeLoop() {
	for {
		select {
		case f := <-w.sendCh:
			for {
				w.connMu.Lock()
				conn := w.conn
				w.connMu.Unlock()
				if conn != nil {
					err := conn.writeFrame(f)
					if err == nil {
						break
					}
					log.Printf("[worker] write error, awaiting reconnect: %v", err)
				}
				select {
				case <-time.After(10 * time.Millisecond):
				case <-w.closed:
					return
				}
			}
		case <-w.closed:
			return
		}
	}
}

func (w *Worker) readLoop() {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return
	}
	for {
		frame, err := conn.readFrame()
		if err != nil {
			log.Printf("[worker] connection to host lost: %v", err)
			w.connMu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			lostCh := w.lostCh
			w.lostCh = nil
			w.connMu.Unlock()
			if lostCh != nil {
				close(lostCh)
			}
			return
		}
		w.dispatch(frame)
	}
}

func (w *Worker) dispatch(frame *Frame) {
	switch frame.Kind {
	case KindAck, KindNack:
		select {
		case w.ackCh <- frame:
		default:
		}
	case KindRPCRequest:
		go w.serveRemoteCall(frame)
	case KindRPCResponse:
		w.deliverResponse(frame)
	case KindEvent:
		w.deliverEvent(frame)
	default:
		log.Printf("[worker] received unknown frame kind %q", frame.Kind)
	}
}

// RegisterAgentType claims typeName with the host and installs handler
// to answer rpc_request frames the host routes for it.
func (w *Worker) RegisterAgentType(typeName string, handler RemoteCallHandler) error {
	w.handlersMu.Lock()
	w.handlers[typeName] = handler
	w.handlersMu.Unlock()

	w.setupMu.Lock()
	defer w.setupMu.Unlock()

	w.sendCh <- &Frame{Kind: KindRegisterAgentType, AgentTypeName: typeName}
	reply := <-w.ackCh
	if reply.Kind == KindNack {
		return errs.NewValidation("register_agent_type " + typeName + ": " + reply.Error)
	}
	return nil
}

// AddSubscription installs a type or type-prefix subscription with the
// host so events matching it are routed to this worker.
func (w *Worker) AddSubscription(ws WireSubscription) error {
	w.setupMu.Lock()
	defer w.setupMu.Unlock()

	w.sendCh <- &Frame{Kind: KindAddSubscription, Subscription: &ws}
	reply := <-w.ackCh
	if reply.Kind == KindNack {
		return errs.NewUndeliverable("add_subscription: " + reply.Error)
	}
	return nil
}

// Call issues an RPC-over-the-wire request to a remote agent and blocks
// for its response, up to timeout (0 means no timeout).
func (w *Worker) Call(ctx context.Context, sender, target core.AgentId, payload any, timeout time.Duration) (json.RawMessage, error) {
	requestID := uuid.NewString()
	dataBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.NewSerialization("failed to marshal rpc payload", err)
	}

	respCh := make(chan *Frame, 1)
	w.pendingMu.Lock()
	w.pending[requestID] = respCh
	w.pendingMu.Unlock()
	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, requestID)
		w.pendingMu.Unlock()
	}()

	w.sendCh <- &Frame{
		Kind:      KindRPCRequest,
		RequestID: requestID,
		Source:    &WireAgentID{Type: sender.Type, Key: sender.Key},
		Target:    &WireAgentID{Type: target.Type, Key: target.Key},
		DataType:  reflect.TypeOf(payload).String(),
		DataBytes: dataBytes,
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = time.After(timeout)
	}

	select {
	case reply := <-respCh:
		if reply.Error != "" {
			return nil, errs.NewRemote(reply.Error)
		}
		return reply.ResultBytes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, errs.NewUndeliverable("rpc request " + requestID + " timed out waiting for host response")
	}
}

func (w *Worker) deliverResponse(frame *Frame) {
	w.pendingMu.Lock()
	ch, ok := w.pending[frame.RequestID]
	w.pendingMu.Unlock()
	if !ok {
		log.Printf("[worker] rpc_response for unknown request %s", frame.RequestID)
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

func (w *Worker) serveRemoteCall(frame *Frame) {
	if frame.Target == nil {
		return
	}
	w.handlersMu.Lock()
	handler, ok := w.handlers[frame.Target.Type]
	w.handlersMu.Unlock()

	reply := &Frame{Kind: KindRPCResponse, RequestID: frame.RequestID}
	if !ok {
		reply.Error = "worker no longer serves type " + frame.Target.Type
		w.sendCh <- reply
		return
	}

	target := core.AgentId{Type: frame.Target.Type, Key: frame.Target.Key}
	result, err := handler(context.Background(), target, frame.DataBytes)
	if err != nil {
		reply.Error = err.Error()
		w.sendCh <- reply
		return
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		reply.Error = "failed to marshal rpc result: " + err.Error()
		w.sendCh <- reply
		return
	}
	reply.ResultType = reflect.TypeOf(result).String()
	reply.ResultBytes = resultBytes
	w.sendCh <- reply
}

// PublishEvent sends payload to the host as a published event on
// topic, for the host to fan out to every worker subscribed to it.
func (w *Worker) PublishEvent(topic core.TopicId, payload any) error {
	dataBytes, err := json.Marshal(payload)
	if err != nil {
		return errs.NewSerialization("failed to marshal event payload", err)
	}
	w.sendCh <- &Frame{
		Kind:        KindEvent,
		TopicType:   topic.Type,
		TopicSource: topic.Source,
		DataType:    reflect.TypeOf(payload).String(),
		DataBytes:   dataBytes,
	}
	if w.opts.Debug && len(w.sendCh) > w.opts.SendQueueSize/2 {
		log.Printf("[worker] send queue at %s of capacity %d after publish", humanize.Comma(int64(len(w.sendCh))), w.opts.SendQueueSize)
	}
	return nil
}

// deliverEvent hands an inbound event down to the local runtime, which
// resolves it against its own subscription registry the same way a
// directly-published message would be.
func (w *Worker) deliverEvent(frame *Frame) {
	topic, err := core.NewTopicID(frame.TopicType, frame.TopicSource)
	if err != nil {
		log.Printf("[worker] dropping inbound event with invalid topic: %v", err)
		return
	}
	var payload any
	if len(frame.DataBytes) > 0 {
		if err := json.Unmarshal(frame.DataBytes, &payload); err != nil {
			log.Printf("[worker] failed to unmarshal inbound event payload: %v", err)
			return
		}
	}
	if err := w.rt.PublishMessage(context.Background(), payload, topic); err != nil {
		log.Printf("[worker] failed to deliver inbound event to local runtime: %v", err)
	}
}

// Close stops the worker's background loops and closes its connection.
func (w *Worker) Close() error {
	select {
	case <-w.closed:
		return nil
	default:
		close(w.closed)
	}
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
