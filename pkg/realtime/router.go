package realtime

import (
	"strings"
	"sync"
)

// Topic namespaces
const (
	productPrefix    = "product:"
	stockAlertPrefix = "stock-alerts:"

	// TopicSearchAnalytics is the opt-in search analytics room
	TopicSearchAnalytics = "search-analytics"
)

// ProductTopic returns the topic watched by viewers of a product
func ProductTopic(productID string) string {
	return productPrefix + productID
}

// StockAlertTopic returns the topic for stock alert subscribers of a product
func StockAlertTopic(productID string) string {
	return stockAlertPrefix + productID
}

// IsProductTopic reports whether a topic is in the product namespace
func IsProductTopic(topic string) bool {
	return strings.HasPrefix(topic, productPrefix)
}

// ProductIDFromTopic extracts the product id from a product topic
func ProductIDFromTopic(topic string) string {
	return strings.TrimPrefix(topic, productPrefix)
}

// TopicRouter maintains topic membership with both forward and reverse
// indexes under a single lock.
// Forward: topic -> set of connections (for fan-out and counts)
// Reverse: connection -> set of topics (for disconnect cleanup)
type TopicRouter struct {
	mu     sync.RWMutex
	topics map[string]map[string]bool
	conns  map[string]map[string]bool
}

// NewTopicRouter creates an empty router
func NewTopicRouter() *TopicRouter {
	return &TopicRouter{
		topics: make(map[string]map[string]bool),
		conns:  make(map[string]map[string]bool),
	}
}

// Join adds a connection to a topic. Joining twice has no additional effect.
func (r *TopicRouter) Join(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]bool)
	}
	r.topics[topic][connID] = true
	if r.conns[connID] == nil {
		r.conns[connID] = make(map[string]bool)
	}
	r.conns[connID][topic] = true
}

// Leave removes a connection from a topic. Idempotent.
func (r *TopicRouter) Leave(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.topics[topic]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
	if topics, ok := r.conns[connID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.conns, connID)
		}
	}
}

// MembersOf returns the connections currently in a topic
func (r *TopicRouter) MembersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.topics[topic]
	if len(members) == 0 {
		return nil
	}
	result := make([]string, 0, len(members))
	for connID := range members {
		result = append(result, connID)
	}
	return result
}

// CountOf returns the number of connections in a topic
func (r *TopicRouter) CountOf(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// TopicsOf returns all topics a connection belongs to
func (r *TopicRouter) TopicsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := r.conns[connID]
	if len(topics) == 0 {
		return nil
	}
	result := make([]string, 0, len(topics))
	for topic := range topics {
		result = append(result, topic)
	}
	return result
}

// LeaveAll removes a connection from every topic and returns the topics it
// was removed from. Used on disconnect to drive recount broadcasts.
func (r *TopicRouter) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics, ok := r.conns[connID]
	if !ok {
		return nil
	}
	affected := make([]string, 0, len(topics))
	for topic := range topics {
		affected = append(affected, topic)
		if members, ok := r.topics[topic]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	delete(r.conns, connID)
	return affected
}

// ActiveProducts returns the number of product topics with at least one member
func (r *TopicRouter) ActiveProducts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for topic, members := range r.topics {
		if IsProductTopic(topic) && len(members) > 0 {
			count++
		}
	}
	return count
}
