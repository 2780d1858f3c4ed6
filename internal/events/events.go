// Package events provides in-process fan-out of normalized relay events
// to WebSocket subscribers.
package events

import (
	"encoding/json"
	"log"
	"sync"
)

// subscriber represents a connected consumer.
type subscriber struct {
	ch chan []byte
}

// Manager broadcasts JSON frames to a dynamic set of subscribers. The
// single producer (the relay's consumer task) is never blocked: slow
// consumers whose buffers fill up are disconnected instead.
type Manager struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewManager creates an empty fan-out manager.
func NewManager() *Manager {
	return &Manager{
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish serializes an event and broadcasts it to all subscribers.
// Marshal failures are logged and the event is skipped; nothing here
// may fail the producer.
func (m *Manager) Publish(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Printf("Warning: marshal outbound event: %v", err)
		return
	}
	m.broadcast(frame)
}

// Subscribe registers a consumer and returns its frame channel. The
// returned cancel function must be called when the consumer is done.
// The channel is closed by the manager on shutdown or if the consumer
// falls too far behind.
func (m *Manager) Subscribe() (<-chan []byte, func()) {
	sub := &subscriber{
		ch: make(chan []byte, 256),
	}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.ch)
		}
		m.mu.Unlock()
	}

	return sub.ch, cancel
}

// Shutdown disconnects all subscribers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		close(sub.ch)
		delete(m.subs, sub)
	}
}

// broadcast sends a frame to all subscribers. Slow consumers whose
// buffers are full get their channel closed (they should reconnect).
func (m *Manager) broadcast(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		select {
		case sub.ch <- frame:
		default:
			close(sub.ch)
			delete(m.subs, sub)
		}
	}
}
