package core

import "testing"

func TestAgentIDRoundTrip(t *testing.T) {
	id, err := NewAgentID("echo", "1")
	if err != nil {
		t.Fatalf("NewAgentID: %v", err)
	}
	parsed, err := ParseAgentID(id.String())
	if err != nil {
		t.Fatalf("ParseAgentID: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: got %v, want %v", parsed, id)
	}
}

func TestNewAgentIDRejectsInvalidType(t *testing.T) {
	if _, err := NewAgentID("bad type!", "1"); err == nil {
		t.Error("expected an agent type containing a space and '!' to be rejected")
	}
}

func TestTopicIDAllowsRPCWellKnownCharacters(t *testing.T) {
	if _, err := NewTopicID("svc:rpc_request=caller", "key1"); err != nil {
		t.Errorf("expected topic type with ':' and '=' to validate, got %v", err)
	}
}

func TestAgentTypeRejectsRPCCharacters(t *testing.T) {
	if _, err := NewAgentType("svc:rpc_request=caller"); err == nil {
		t.Error("expected agent type (narrower than topic type) to reject ':' and '='")
	}
}
