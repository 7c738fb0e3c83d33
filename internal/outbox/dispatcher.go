package outbox

import (
	"context"
	"time"

	"gorm.io/gorm"

	"contralock/internal/logger"
	"contralock/internal/models"
)

const dispatchBatchSize = 100

// Dispatcher tails unpublished domain events in id order and delivers each to
// the stream publisher and the notification bridge. Delivery is at-least-once:
// an event is marked published only after the publisher accepted it, so a
// crash in between redelivers.
type Dispatcher struct {
	db        *gorm.DB
	log       *logger.Logger
	publisher Publisher
	bridge    *NotificationBridge
}

func NewDispatcher(db *gorm.DB, log *logger.Logger, publisher Publisher, bridge *NotificationBridge) *Dispatcher {
	return &Dispatcher{db: db, log: log, publisher: publisher, bridge: bridge}
}

// DispatchPending delivers one batch and returns how many events were
// published. Called by the scheduler on an interval and by tests directly.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	var events []models.DomainEvent
	err := d.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(dispatchBatchSize).
		Find(&events).Error
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range events {
		event := &events[i]
		if err := d.publisher.Publish(ctx, event); err != nil {
			// Stop at the first failure to preserve publish order; the
			// next sweep retries from here.
			d.log.Error("outbox: failed to publish event %d (%s): %v", event.ID, event.EventType, err)
			return published, err
		}
		if d.bridge != nil {
			d.bridge.Handle(ctx, event)
		}

		now := time.Now()
		err := d.db.WithContext(ctx).Model(&models.DomainEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"published":    true,
				"published_at": now,
			}).Error
		if err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
