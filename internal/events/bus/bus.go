// Package bus provides event bus abstractions for the A2A server.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on the bus and, verbatim, on the stream
// channel. Field names follow the wire protocol (camelCase).
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TaskID    string                 `json:"taskId,omitempty"`
	StepID    string                 `json:"stepId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, taskID, stepID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TaskID:    taskID,
		StepID:    stepID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the fan-out seam between the execution plane and the stream
// gateway. The in-memory implementation serves a single process; the NATS
// implementation lets a separate process serve streams.
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}
