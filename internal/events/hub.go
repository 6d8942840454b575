// Package events provides an in-process fan-out of device change events.
//
// The telemetry router publishes after each committed write; the API layer
// relays events to WebSocket clients. Delivery is best-effort: a subscriber
// that falls behind loses events rather than blocking the router.
package events

import (
	"sync"
	"time"
)

// Event types published by the telemetry router.
const (
	TypeStateChanged    = "device.state_changed"
	TypePresenceChanged = "device.presence_changed"
	TypeStatusReported  = "device.status_reported"
)

// defaultBuffer is the per-subscriber channel buffer size.
const defaultBuffer = 64

// Event describes a change to a device, emitted after the write committed.
type Event struct {
	Type     string         `json:"type"`
	DeviceID string         `json:"device_id"`
	At       time.Time      `json:"at"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Hub fans events out to subscribers.
//
// All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewHub creates a hub. buffer is the per-subscriber channel depth; zero
// selects the default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call more
// than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
