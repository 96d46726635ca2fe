package distributed

import (
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/subscription"
)

type hostClient struct {
	id           string
	conn         *frameConn
	sendCh       chan *Frame
	claimedTypes map[string]bool
}

type pendingKey struct {
	ownerClientID string
	requestID     string
}

// Host routes traffic between workers: RegisterAgentType claims, a
// shared subscription registry, and RPC request/response correlation
// keyed by (owning client, request id). One goroutine per accepted
// connection reads frames and dispatches on the "kind" discriminator.
type Host struct {
	listener net.Listener

	mu         sync.Mutex
	clients    map[string]*hostClient
	typeOwners map[string]string // agent type -> owning client id

	subscriptions *subscription.Registry

	pendingMu sync.Mutex
	pending   map[pendingKey]string // (owner, requestID) -> origin client id

	sendQueueSize int
}

// NewHost constructs a Host with the given per-connection send queue
// depth (applies the same bounded-channel backpressure idiom as the
// worker side, §4.10).
func NewHost(sendQueueSize int) *Host {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Host{
		clients:       make(map[string]*hostClient),
		typeOwners:    make(map[string]string),
		subscriptions: subscription.NewRegistry(),
		pending:       make(map[pendingKey]string),
		sendQueueSize: sendQueueSize,
	}
}

// Serve accepts connections on listener until it is closed, handling
// each on its own goroutine.
func (h *Host) Serve(listener net.Listener) error {
	h.listener = listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go h.handleConnection(conn)
	}
}

func (h *Host) handleConnection(conn net.Conn) {
	client := &hostClient{
		id:           uuid.NewString(),
		conn:         newFrameConn(conn),
		sendCh:       make(chan *Frame, h.sendQueueSize),
		claimedTypes: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go h.writeLoop(client)
	defer h.handleDisconnect(client)

	for {
		frame, err := client.conn.readFrame()
		if err != nil {
			log.Printf("[host] client %s read error, disconnecting: %v", client.id, err)
			return
		}
		h.dispatch(client, frame)
	}
}

func (h *Host) writeLoop(client *hostClient) {
	for frame := range client.sendCh {
		if err := client.conn.writeFrame(frame); err != nil {
			log.Printf("[host] client %s write error: %v", client.id, err)
			return
		}
	}
}

func (h *Host) dispatch(client *hostClient, frame *Frame) {
	switch frame.Kind {
	case KindRegisterAgentType:
		h.handleRegisterAgentType(client, frame)
	case KindAddSubscription:
		h.handleAddSubscription(client, frame)
	case KindRPCRequest:
		h.handleRPCRequest(client, frame)
	case KindRPCResponse:
		h.handleRPCResponse(client, frame)
	case KindEvent:
		h.handleEvent(client, frame)
	default:
		log.Printf("[host] client %s sent unknown frame kind %q", client.id, frame.Kind)
	}
}

func (h *Host) handleRegisterAgentType(client *hostClient, frame *Frame) {
	h.mu.Lock()
	if owner, exists := h.typeOwners[frame.AgentTypeName]; exists && owner != client.id {
		h.mu.Unlock()
		client.sendCh <- &Frame{Kind: KindNack, AgentTypeName: frame.AgentTypeName, Error: "type already claimed by another worker"}
		return
	}
	h.typeOwners[frame.AgentTypeName] = client.id
	client.claimedTypes[frame.AgentTypeName] = true
	h.mu.Unlock()

	client.sendCh <- &Frame{Kind: KindAck, AgentTypeName: frame.AgentTypeName}
}

func (h *Host) handleAddSubscription(client *hostClient, frame *Frame) {
	ws := frame.Subscription
	if ws == nil {
		client.sendCh <- &Frame{Kind: KindNack, Error: "add_subscription frame missing subscription"}
		return
	}

	var sub subscription.Subscription
	switch ws.Variant {
	case VariantType:
		sub = subscription.NewTypeSubscription(ws.TopicType, ws.AgentType)
	case VariantTypePrefix:
		sub = subscription.NewTypePrefixSubscription(ws.TopicTypePrefix, ws.AgentType)
	default:
		client.sendCh <- &Frame{Kind: KindNack, Error: "unsupported subscription variant " + ws.Variant}
		return
	}

	if err := h.subscriptions.AddSubscription(sub); err != nil {
		client.sendCh <- &Frame{Kind: KindNack, Error: err.Error()}
		return
	}
	client.sendCh <- &Frame{Kind: KindAck}
}

func (h *Host) handleRPCRequest(client *hostClient, frame *Frame) {
	if frame.Target == nil {
		client.sendCh <- &Frame{Kind: KindRPCResponse, RequestID: frame.RequestID, Error: "rpc_request missing target"}
		return
	}

	h.mu.Lock()
	ownerID, ok := h.typeOwners[frame.Target.Type]
	var owner *hostClient
	if ok {
		owner = h.clients[ownerID]
	}
	h.mu.Unlock()

	if !ok || owner == nil {
		client.sendCh <- &Frame{Kind: KindRPCResponse, RequestID: frame.RequestID, Error: "no worker has registered target type " + frame.Target.Type}
		return
	}

	h.pendingMu.Lock()
	h.pending[pendingKey{ownerClientID: ownerID, requestID: frame.RequestID}] = client.id
	h.pendingMu.Unlock()

	owner.sendCh <- frame
}

func (h *Host) handleRPCResponse(client *hostClient, frame *Frame) {
	h.pendingMu.Lock()
	key := pendingKey{ownerClientID: client.id, requestID: frame.RequestID}
	originID, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.pendingMu.Unlock()

	if !ok {
		log.Printf("[host] rpc_response for unknown request %s from client %s", frame.RequestID, client.id)
		return
	}

	h.mu.Lock()
	origin := h.clients[originID]
	h.mu.Unlock()
	if origin == nil {
		return
	}
	origin.sendCh <- frame
}

func (h *Host) handleEvent(client *hostClient, frame *Frame) {
	topic := core.TopicId{Type: frame.TopicType, Source: frame.TopicSource}
	recipients := h.subscriptions.GetSubscribedRecipients(topic)

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := make(map[string]bool)
	for _, rid := range recipients {
		ownerID, ok := h.typeOwners[rid.Type]
		if !ok || delivered[ownerID] {
			continue
		}
		owner, ok := h.clients[ownerID]
		if !ok {
			continue
		}
		delivered[ownerID] = true
		owner.sendCh <- frame
	}
}

func (h *Host) handleDisconnect(client *hostClient) {
	h.mu.Lock()
	for t := range client.claimedTypes {
		if h.typeOwners[t] == client.id {
			delete(h.typeOwners, t)
		}
	}
	delete(h.clients, client.id)
	h.mu.Unlock()

	h.pendingMu.Lock()
	var toNotify []struct {
		origin    string
		requestID string
	}
	for key, origin := range h.pending {
		if key.ownerClientID == client.id {
			toNotify = append(toNotify, struct {
				origin    string
				requestID string
			}{origin, key.requestID})
			delete(h.pending, key)
		} else if origin == client.id {
			delete(h.pending, key)
		}
	}
	h.pendingMu.Unlock()

	h.mu.Lock()
	for _, n := range toNotify {
		if origin, ok := h.clients[n.origin]; ok {
			origin.sendCh <- &Frame{Kind: KindRPCResponse, RequestID: n.requestID, Error: "client disconnected before responding"}
		}
	}
	h.mu.Unlock()

	close(client.sendCh)
	_ = client.conn.Close()
	log.Printf("[host] client %s disconnected", client.id)
}
