package bus

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders the importance of an event for consumers. The dispatch
// queue itself stays FIFO; priority is carried on the envelope only.
type Priority uint8

const (
	_priority_beg Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
	_priority_end
)

func (p Priority) IsAvailable() bool {
	return p > _priority_beg && p < _priority_end
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is the unit passed through the in-memory bus. Immutable once
// published; handlers must treat the payload as read-only.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      Priority       `json:"priority"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func newEvent(eventType string, payload map[string]any, priority Priority, source, correlationID string) Event {
	if !priority.IsAvailable() {
		priority = PriorityNormal
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		Priority:      priority,
		Source:        source,
		CorrelationID: correlationID,
	}
}
