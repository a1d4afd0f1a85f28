// Package events implements a target-addressed pub/sub bus used to fan
// out daemon lifecycle events to multiple external observers (the C6
// control transport, the C7 desktop notifier). It is deliberately more
// general than the closed response/error/status vocabulary a single
// daemon emits (see internal/daemon's Emitter): many daemons publish
// onto one bus, and subscribers filter by target (an AI name, or "all").
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of daemon event being broadcast.
type EventType string

// Event type constants, mirroring the three events a daemon emits
// (spec.md §4.4) plus one for promotion-visible request lifecycle
// changes tracked by the bridge orchestrator.
const (
	EventResponse EventType = "response"
	EventError    EventType = "error"
	EventStatus   EventType = "status"
	EventRequest  EventType = "request"
)

// Priority constants for events, independent of a Request's own
// priority field — a label for how urgent the event itself is. The Bus
// carries it on the event but does not reorder by it: each subscriber
// channel is delivered in publish order.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event is a broadcastable envelope around a daemon event.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // daemon/AI name that emitted it
	Target    string                 `json:"target"` // subscriber target, or "all"
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates a new event with an auto-generated ID and timestamp.
func NewEvent(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns all defined event types.
func AllEventTypes() []EventType {
	return []EventType{EventResponse, EventError, EventStatus, EventRequest}
}
