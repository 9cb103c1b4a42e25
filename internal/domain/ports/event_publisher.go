package ports

import (
	"context"

	"github.com/peoplecore/backend/internal/domain/events"
)

// EventHandler is a function that handles a published event payload.
type EventHandler func(ctx context.Context, payload interface{}) error

// EventPublisher delivers domain events to subscribers. The engine emits
// workflow events through this one-directional surface; notification and
// audit layers subscribe on the application side.
type EventPublisher interface {
	Publish(ctx context.Context, eventType events.EventType, payload interface{}) error
	Subscribe(eventType events.EventType, handler EventHandler) func()
}

// EventSink accepts events for durable, transactional delivery. The outbox
// implementation persists the event in the caller's transaction and a
// background worker publishes it after commit.
type EventSink interface {
	Enqueue(ctx context.Context, eventType events.EventType, payload interface{}) error
}
