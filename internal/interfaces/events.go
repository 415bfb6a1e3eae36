package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated      EventType = "job_created"
	EventJobFinalized    EventType = "job_finalized"
	EventTaskUpdated     EventType = "task_updated"
	EventProductUpdated  EventType = "product_updated"
	EventResourceUpdated EventType = "resource_updated"
	EventScheduleUpdated EventType = "schedule_updated"
	EventRunnerSynced    EventType = "runner_synced"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus. Handlers run on the publishing
// goroutine and must not block.
type EventService interface {
	// Subscribe registers a handler for an event type and returns a
	// subscription id for Unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) (int, error)

	// Unsubscribe removes the subscription with the given id
	Unsubscribe(eventType EventType, id int) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
