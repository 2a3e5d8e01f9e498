// Package feed pushes session lifecycle events to websocket subscribers, for
// researcher dashboards watching data collection in real time.
package feed

import (
	"sync"
	"time"
)

// Event types published by the API.
const (
	EventSessionStarted   = "session_started"
	EventSessionCompleted = "session_completed"
	EventSessionAbandoned = "session_abandoned"
	EventResultAccepted   = "result_accepted"
	EventResultRejected   = "result_rejected"
	EventExposureLogged   = "exposure_logged"
)

// Event is one lifecycle notification.
type Event struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	TaskType      string `json:"task_type,omitempty"`
	At            int64  `json:"at"` // unix ms
}

// Subscriber is one connected listener. Events are dropped, not queued,
// when its buffer is full; the feed is advisory and never blocks the API.
type Subscriber struct {
	ID            string
	ParticipantID string // empty subscribes to all participants
	Ch            chan Event
	JoinedAt      time.Time
}

// HubStats summarizes the hub for the health endpoint.
type HubStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Hub is an in-memory fan-out of events to subscribers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	published int64
	dropped   int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a listener. participantID filters events to one
// participant; empty receives everything.
func (h *Hub) Subscribe(id, participantID string) *Subscriber {
	sub := &Subscriber{
		ID:            id,
		ParticipantID: participantID,
		Ch:            make(chan Event, 16),
		JoinedAt:      time.Now(),
	}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return sub
}

// SetFilter changes a subscriber's participant filter in place.
func (h *Hub) SetFilter(id, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		sub.ParticipantID = participantID
	}
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.Ch)
	}
}

// Publish delivers an event to every matching subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published++
	for _, sub := range h.subs {
		if sub.ParticipantID != "" && sub.ParticipantID != e.ParticipantID {
			continue
		}
		select {
		case sub.Ch <- e:
		default:
			h.dropped++
		}
	}
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Subscribers: len(h.subs),
		Published:   h.published,
		Dropped:     h.dropped,
	}
}
