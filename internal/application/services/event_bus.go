package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/peoplecore/backend/internal/domain/events"
	"github.com/peoplecore/backend/internal/domain/ports"
)

// EventBus manages the in-process publish-subscribe surface the hosting
// application attaches its notification and audit handlers to.
// It implements ports.EventPublisher.
type EventBus struct {
	handlers map[events.EventType]map[int]ports.EventHandler
	nextID   int
	mu       sync.RWMutex
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[events.EventType]map[int]ports.EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(eventType events.EventType, handler ports.EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[int]ports.EventHandler)
	}

	id := eb.nextID
	eb.nextID++
	eb.handlers[eventType][id] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// Publish delivers an event to all registered handlers in sequence.
// The first handler error aborts delivery and is returned to the caller,
// which for outbox-driven publishes triggers a redelivery attempt.
func (eb *EventBus) Publish(ctx context.Context, eventType events.EventType, payload interface{}) error {
	eb.mu.RLock()
	registered := make([]ports.EventHandler, 0, len(eb.handlers[eventType]))
	for _, h := range eb.handlers[eventType] {
		registered = append(registered, h)
	}
	eb.mu.RUnlock()

	for _, handler := range registered {
		if err := handler(ctx, payload); err != nil {
			return fmt.Errorf("event handler error for %s: %w", eventType, err)
		}
	}

	return nil
}

// PublishAsync publishes an event asynchronously, logging failures.
func (eb *EventBus) PublishAsync(eventType events.EventType, payload interface{}) {
	go func() {
		if err := eb.Publish(context.Background(), eventType, payload); err != nil {
			log.Printf("⚠️ EventBus async publish error: %v", err)
		}
	}()
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[events.EventType]map[int]ports.EventHandler)
}
