// Package core defines the value types agents and topics are addressed
// by: AgentId, AgentType, and TopicId. These are immutable value
// structs, safe as map keys, with canonical "type/key" string forms.
package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tenzoki/agentruntime/errs"
)

var (
	agentTypePattern = regexp.MustCompile(`^[\w\-\.]+$`)
	topicTypePattern = regexp.MustCompile(`^[\w\-\.\:\=]+$`)
)

// AgentType is the registration key for a factory, distinguished from
// a fully qualified AgentId.
type AgentType struct {
	Name string
}

func NewAgentType(name string) (AgentType, error) {
	if !agentTypePattern.MatchString(name) {
		return AgentType{}, errs.NewValidation(fmt.Sprintf("agent type %q does not match %s", name, agentTypePattern.String()))
	}
	return AgentType{Name: name}, nil
}

func (t AgentType) String() string { return t.Name }

// AgentId addresses exactly one agent instance: a registered type
// plus an arbitrary key.
type AgentId struct {
	Type string
	Key  string
}

// NewAgentID validates typ against the agent-type regex and returns
// the constructed identifier.
func NewAgentID(typ, key string) (AgentId, error) {
	if !agentTypePattern.MatchString(typ) {
		return AgentId{}, errs.NewValidation(fmt.Sprintf("agent id type %q does not match %s", typ, agentTypePattern.String()))
	}
	return AgentId{Type: typ, Key: key}, nil
}

// String returns the canonical "type/key" form.
func (id AgentId) String() string { return id.Type + "/" + id.Key }

// ParseAgentID splits a canonical "type/key" string at the first "/".
func ParseAgentID(s string) (AgentId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return AgentId{}, errs.NewValidation(fmt.Sprintf("agent id %q is not in type/key form", s))
	}
	return NewAgentID(parts[0], parts[1])
}

// TopicId addresses a publish-subscribe channel: a topic type plus an
// originating source.
type TopicId struct {
	Type   string
	Source string
}

// NewTopicID validates typ against the topic-type regex (a superset
// of the agent-type regex that additionally allows ':' and '=', used
// by the well-known RPC-over-publish topic names).
func NewTopicID(typ, source string) (TopicId, error) {
	if !topicTypePattern.MatchString(typ) {
		return TopicId{}, errs.NewValidation(fmt.Sprintf("topic id type %q does not match %s", typ, topicTypePattern.String()))
	}
	return TopicId{Type: typ, Source: source}, nil
}

// String returns the canonical "type/source" form.
func (t TopicId) String() string { return t.Type + "/" + t.Source }

// ParseTopicID splits a canonical "type/source" string at the first "/".
func ParseTopicID(s string) (TopicId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return TopicId{}, errs.NewValidation(fmt.Sprintf("topic id %q is not in type/source form", s))
	}
	return NewTopicID(parts[0], parts[1])
}
