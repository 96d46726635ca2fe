package distributed

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func newTestHost(t *testing.T) (*Host, net.Listener) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	host := NewHost(16)
	go func() {
		_ = host.Serve(listener)
	}()
	return host, listener
}

func dialHostConn(t *testing.T, listener net.Listener) *frameConn {
	t.Helper()
	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	return newFrameConn(conn)
}

func TestWorkerDisconnectReleasesTypeAndFailsPendingRPC(t *testing.T) {
	_, listener := newTestHost(t)
	defer listener.Close()

	workerConn := dialHostConn(t, listener)
	if err := workerConn.writeFrame(&Frame{Kind: KindRegisterAgentType, AgentTypeName: "a"}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	reply, err := workerConn.readFrame()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if reply.Kind != KindAck {
		t.Fatalf("expected ack for registration, got %+v", reply)
	}

	callerConn := dialHostConn(t, listener)
	requestID := "req-1"
	dataBytes, _ := json.Marshal("ping")
	if err := callerConn.writeFrame(&Frame{
		Kind:      KindRPCRequest,
		RequestID: requestID,
		Source:    &WireAgentID{Type: "caller", Key: "c1"},
		Target:    &WireAgentID{Type: "a", Key: "k1"},
		DataBytes: dataBytes,
	}); err != nil {
		t.Fatalf("write rpc_request: %v", err)
	}

	// The host should have forwarded the request to the worker; the
	// worker now disconnects without ever answering it.
	time.Sleep(50 * time.Millisecond)
	if _, err := workerConn.readFrame(); err != nil {
		t.Fatalf("worker expected to receive forwarded rpc_request: %v", err)
	}
	if err := workerConn.Close(); err != nil {
		t.Fatalf("close worker conn: %v", err)
	}

	callerConn.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	disconnectReply, err := callerConn.readFrame()
	if err != nil {
		t.Fatalf("caller expected a disconnect rpc_response: %v", err)
	}
	if disconnectReply.Kind != KindRPCResponse || disconnectReply.RequestID != requestID {
		t.Fatalf("unexpected reply after worker disconnect: %+v", disconnectReply)
	}
	if disconnectReply.Error == "" {
		t.Error("expected a non-empty disconnect error")
	}

	// The type should now be free for a second worker to claim.
	time.Sleep(50 * time.Millisecond)
	secondWorker := dialHostConn(t, listener)
	defer secondWorker.Close()
	if err := secondWorker.writeFrame(&Frame{Kind: KindRegisterAgentType, AgentTypeName: "a"}); err != nil {
		t.Fatalf("write second register: %v", err)
	}
	secondReply, err := secondWorker.readFrame()
	if err != nil {
		t.Fatalf("read second ack: %v", err)
	}
	if secondReply.Kind != KindAck {
		t.Fatalf("expected second worker to successfully claim released type, got %+v", secondReply)
	}
}
