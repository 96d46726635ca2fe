package subscription

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tenzoki/agentruntime/core"
	"github.com/tenzoki/agentruntime/errs"
)

// Registry holds the ordered set of live subscriptions and a cache of
// topic -> recipients built lazily on first resolve: no deduplication,
// and a full cache rebuild across every previously seen topic whenever
// the subscription set changes (see DESIGN.md Open Question 1).
type Registry struct {
	mu            sync.RWMutex
	subscriptions []Subscription
	seenTopics    []core.TopicId
	cache         map[uint64][]core.AgentId
}

// NewRegistry returns an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[uint64][]core.AgentId)}
}

func topicCacheKey(topic core.TopicId) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(topic.Type)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(topic.Source)
	return h.Sum64()
}

// AddSubscription rejects a duplicate (by id, or by the variant's
// (agentType, topicType) key), then invalidates and rebuilds the
// cache for every topic already seen.
func (r *Registry) AddSubscription(s Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	aType, tType := s.EqualsKey()
	for _, existing := range r.subscriptions {
		if existing.ID() == s.ID() {
			return errs.NewValidation("subscription " + s.ID() + " already registered")
		}
		exA, exT := existing.EqualsKey()
		if exA == aType && exT == tType {
			return errs.NewValidation("subscription for (agentType=" + aType + ", topicType=" + tType + ") already registered")
		}
	}

	r.subscriptions = append(r.subscriptions, s)
	r.rebuildLocked()
	return nil
}

// RemoveSubscription errors if id is not registered, otherwise
// removes it and rebuilds the cache.
func (r *Registry) RemoveSubscription(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, s := range r.subscriptions {
		if s.ID() == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errs.NewLookup("subscription " + id + " not found")
	}
	r.subscriptions = append(r.subscriptions[:idx], r.subscriptions[idx+1:]...)
	r.rebuildLocked()
	return nil
}

// rebuildLocked recomputes the cache entry for every topic already
// seen. Callers must hold mu for writing.
func (r *Registry) rebuildLocked() {
	r.cache = make(map[uint64][]core.AgentId, len(r.seenTopics))
	for _, topic := range r.seenTopics {
		r.cache[topicCacheKey(topic)] = r.matchLocked(topic)
	}
}

func (r *Registry) matchLocked(topic core.TopicId) []core.AgentId {
	var recipients []core.AgentId
	for _, s := range r.subscriptions {
		if s.IsMatch(topic) {
			recipients = append(recipients, s.MapToAgent(topic))
		}
	}
	return recipients
}

// GetSubscribedRecipients returns the ordered, non-deduplicated list
// of agent ids subscribed to topic, evaluating every subscription's
// IsMatch on first sight of topic and serving the cache thereafter.
func (r *Registry) GetSubscribedRecipients(topic core.TopicId) []core.AgentId {
	key := topicCacheKey(topic)

	r.mu.RLock()
	recipients, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return recipients
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock in case another goroutine raced us.
	if recipients, ok := r.cache[key]; ok {
		return recipients
	}
	recipients = r.matchLocked(topic)
	r.seenTopics = append(r.seenTopics, topic)
	r.cache[key] = recipients
	return recipients
}
