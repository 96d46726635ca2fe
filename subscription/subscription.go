// Package subscription implements the predicate+projection types that
// map topics to agent ids, and the registry that resolves a topic to
// its ordered, non-deduplicated list of recipients, caching the
// result the way the broker caches connection routing tables.
package subscription

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tenzoki/agentruntime/core"
)

// Subscription is a predicate over topics plus a projection from a
// matching topic to the agent id that should receive it.
type Subscription interface {
	ID() string
	IsMatch(topic core.TopicId) bool
	MapToAgent(topic core.TopicId) core.AgentId
	// EqualsKey returns the (agentType, topicType) pair used for the
	// non-id half of the registry's duplicate-rejection equality rule.
	EqualsKey() (agentType, topicType string)
}

// TypeSubscription matches topics whose type exactly equals TopicType
// and routes them to AgentType, keyed by the topic's source.
type TypeSubscription struct {
	id        string
	TopicType string
	AgentType string
}

// NewTypeSubscription builds a TypeSubscription with a fresh id.
func NewTypeSubscription(topicType, agentType string) *TypeSubscription {
	return &TypeSubscription{id: uuid.NewString(), TopicType: topicType, AgentType: agentType}
}

func (s *TypeSubscription) ID() string { return s.id }

func (s *TypeSubscription) IsMatch(topic core.TopicId) bool { return topic.Type == s.TopicType }

func (s *TypeSubscription) MapToAgent(topic core.TopicId) core.AgentId {
	return core.AgentId{Type: s.AgentType, Key: topic.Source}
}

func (s *TypeSubscription) EqualsKey() (string, string) { return s.AgentType, s.TopicType }

// TypePrefixSubscription matches topics whose type has Prefix as a
// prefix (the empty prefix matches every topic) and routes them to
// AgentType, keyed by the topic's source.
type TypePrefixSubscription struct {
	id        string
	Prefix    string
	AgentType string
}

// NewTypePrefixSubscription builds a TypePrefixSubscription with a
// fresh id. This is the variant the runtime auto-installs for every
// newly instantiated agent, with Prefix = type + ":".
func NewTypePrefixSubscription(prefix, agentType string) *TypePrefixSubscription {
	return &TypePrefixSubscription{id: uuid.NewString(), Prefix: prefix, AgentType: agentType}
}

func (s *TypePrefixSubscription) ID() string { return s.id }

func (s *TypePrefixSubscription) IsMatch(topic core.TopicId) bool {
	return strings.HasPrefix(topic.Type, s.Prefix)
}

func (s *TypePrefixSubscription) MapToAgent(topic core.TopicId) core.AgentId {
	return core.AgentId{Type: s.AgentType, Key: topic.Source}
}

func (s *TypePrefixSubscription) EqualsKey() (string, string) { return s.AgentType, s.Prefix }

// NewDefaultSubscription builds a TypeSubscription for the
// well-known "default" topic type, routed to agentType as resolved
// from the instantiation context at registration time.
func NewDefaultSubscription(agentType string) *TypeSubscription {
	return NewTypeSubscription("default", agentType)
}
