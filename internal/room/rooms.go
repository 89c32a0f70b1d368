// ABOUTME: In-memory topic manager for conversation and per-user fan-out
// ABOUTME: Publishes events to every connection subscribed to a topic key

package room

import (
	"log/slog"
	"strconv"
	"sync"
)

const (
	// SendBufferSize is the default channel buffer for each connection's
	// outbound queue.
	SendBufferSize = 64
)

// Event is the envelope carried to subscribers and written to the wire as
// {"event": ..., "data": ...}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// ConversationTopic returns the topic key for connections actively viewing
// a conversation.
func ConversationTopic(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

// UserTopic returns the topic key reaching every connection belonging to a
// user, across devices.
func UserTopic(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Manager provides in-memory pub/sub over ephemeral topics. Topics are
// derived state: they are rebuilt by connections re-subscribing after a
// reconnect and are never persisted. A connection registers one outbound
// channel and may subscribe it to any number of topics; the channel is owned
// by the connection, so the manager never closes it.
type Manager struct {
	mu     sync.RWMutex
	topics map[string]map[string]chan Event // topic -> connID -> outbound channel
	logger *slog.Logger
}

// NewManager creates a topic manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		topics: make(map[string]map[string]chan Event),
		logger: logger.With("component", "rooms"),
	}
}

// Subscribe adds a connection's outbound channel to a topic. Subscribing the
// same connection to the same topic twice is a no-op.
func (m *Manager) Subscribe(topic, connID string, ch chan Event) {
	m.mu.Lock()
	if _, ok := m.topics[topic]; !ok {
		m.topics[topic] = make(map[string]chan Event)
	}
	m.topics[topic][connID] = ch
	m.mu.Unlock()

	m.logger.Debug("subscriber added", "topic", topic, "conn_id", connID)
}

// Unsubscribe removes a connection from a topic. Removing a connection that
// never joined is a harmless no-op.
func (m *Manager) Unsubscribe(topic, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.topics[topic]
	if !ok {
		return
	}
	if _, exists := subs[connID]; !exists {
		return
	}

	delete(subs, connID)
	if len(subs) == 0 {
		delete(m.topics, topic)
	}

	m.logger.Debug("subscriber removed", "topic", topic, "conn_id", connID)
}

// UnsubscribeAll removes a connection from every topic it joined. Called
// when the connection goes away.
func (m *Manager) UnsubscribeAll(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for topic, subs := range m.topics {
		if _, ok := subs[connID]; !ok {
			continue
		}
		delete(subs, connID)
		if len(subs) == 0 {
			delete(m.topics, topic)
		}
	}

	m.logger.Debug("connection removed from all topics", "conn_id", connID)
}

// Publish sends an event to all current subscribers of a topic.
// Non-blocking: the event is dropped for subscribers whose channels are full.
func (m *Manager) Publish(topic string, event Event) {
	m.mu.RLock()
	subs, ok := m.topics[topic]
	if !ok || len(subs) == 0 {
		m.mu.RUnlock()
		return
	}

	// Copy channels under the read lock to avoid holding it during sends
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			m.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"event", event.Name)
		}
	}
}

// Subscribers returns the number of connections currently in a topic.
func (m *Manager) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics[topic])
}
