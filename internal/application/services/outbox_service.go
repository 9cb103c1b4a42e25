package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/peoplecore/backend/internal/domain/events"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/internal/infrastructure/database"
	"github.com/peoplecore/backend/internal/infrastructure/persistence"
	"github.com/peoplecore/backend/pkg/constants"
)

// OutboxService implements the Outbox Pattern for workflow events: the
// engine enqueues events inside the transaction that records the workflow
// transition, and a background worker publishes them via the EventBus after
// commit. It implements ports.EventSink.
type OutboxService struct {
	db       *database.Connection
	repo     *persistence.OutboxRepository
	eventBus *EventBus

	// Worker control
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ ports.EventSink = (*OutboxService)(nil)

// NewOutboxService creates a new OutboxService
func NewOutboxService(db *database.Connection, eventBus *EventBus) *OutboxService {
	return &OutboxService{
		db:       db,
		repo:     persistence.NewOutboxRepository(db.DB()),
		eventBus: eventBus,
		stopCh:   make(chan struct{}),
	}
}

// Enqueue stores an event in the outbox table. When the context carries a
// transaction the event is persisted atomically with the workflow change.
func (s *OutboxService) Enqueue(ctx context.Context, eventType events.EventType, payload interface{}) error {
	id, err := s.repo.Enqueue(ctx, string(eventType), payload)
	if err != nil {
		return err
	}
	log.Printf("📨 [Outbox] Enqueued event %s (ID: %s)", eventType, id)
	return nil
}

// StartWorker starts the background worker that publishes pending events.
func (s *OutboxService) StartWorker(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("📤 Outbox worker started with %v interval", interval)

		for {
			select {
			case <-s.stopCh:
				log.Printf("📤 Outbox worker stopping...")
				return
			case <-ticker.C:
				if err := s.ProcessOutbox(context.Background()); err != nil {
					log.Printf("⚠️ Outbox worker error: %v", err)
				}
			}
		}
	}()
}

// StopWorker stops the background worker gracefully
func (s *OutboxService) StopWorker() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	log.Printf("📤 Outbox worker stopped")
}

// ProcessOutbox publishes all pending events. Each event is claimed and
// finalized in its own transaction so concurrent workers never double-publish.
func (s *OutboxService) ProcessOutbox(ctx context.Context) error {
	pending, err := s.repo.GetPendingEvents(ctx, constants.OutboxBatchSize)
	if err != nil {
		return err
	}

	for _, e := range pending {
		if err := s.processEventAtomic(ctx, e.ID, e.EventType, e.Payload, e.RetryCount); err != nil {
			log.Printf("⚠️ Failed to process outbox event %s: %v", e.ID, err)
		}
	}

	return nil
}

// processEventAtomic claims an event, publishes it, and updates status atomically
func (s *OutboxService) processEventAtomic(ctx context.Context, id, eventType, payloadJSON string, retryCount int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	claimedID, err := s.repo.ClaimEvent(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if claimedID == "" {
		return nil // Already claimed by another worker
	}

	payload, err := decodePayload(events.EventType(eventType), payloadJSON)
	if err != nil {
		log.Printf("❌ [Outbox] Event %s failed payload unmarshal: %v", id, err)
		if markErr := s.repo.UpdateStatus(ctx, tx, id, persistence.OutboxStatusFailed, fmt.Sprintf("invalid payload: %v", err)); markErr != nil {
			return fmt.Errorf("failed to mark event as failed: %w", markErr)
		}
		return tx.Commit()
	}

	if err := s.eventBus.Publish(ctx, events.EventType(eventType), payload); err != nil {
		newRetryCount := retryCount + 1
		if newRetryCount >= constants.OutboxMaxRetryAttempts {
			if markErr := s.repo.UpdateStatus(ctx, tx, id, persistence.OutboxStatusFailed, fmt.Sprintf("max retries exceeded: %v", err)); markErr != nil {
				return fmt.Errorf("failed to mark event as failed: %w", markErr)
			}
			return tx.Commit()
		}

		if updateErr := s.repo.IncrementRetry(ctx, tx, id, newRetryCount, err.Error()); updateErr != nil {
			return fmt.Errorf("failed to update retry count: %w", updateErr)
		}
		log.Printf("⚠️ [Outbox] Event %s failed (attempt %d/%d): %v", id, newRetryCount, constants.OutboxMaxRetryAttempts, err)
		return tx.Commit()
	}

	if err := s.repo.UpdateStatus(ctx, tx, id, persistence.OutboxStatusProcessed, ""); err != nil {
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	return tx.Commit()
}

// CleanupProcessed removes old processed events from the outbox.
func (s *OutboxService) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	return s.repo.CleanupProcessed(ctx, cutoff)
}

// decodePayload unmarshals an outbox payload into its typed event struct so
// subscribers receive the same shapes the engine emits.
func decodePayload(eventType events.EventType, payloadJSON string) (interface{}, error) {
	var target interface{}
	switch eventType {
	case events.WorkflowStepAdvanced:
		target = &events.StepAdvancedPayload{}
	case events.WorkflowCompleted:
		target = &events.CompletedPayload{}
	case events.WorkflowRejected:
		target = &events.RejectedPayload{}
	case events.WorkflowCancelled:
		target = &events.CancelledPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal([]byte(payloadJSON), target); err != nil {
		return nil, err
	}
	return target, nil
}
