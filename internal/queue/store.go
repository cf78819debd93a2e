package queue

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists queue messages. It owns all interaction with the
// queue tables and expects a direct, single-session database handle:
// the SKIP LOCKED lease only excludes concurrent workers while the
// locking transaction runs on one stable session.
type Store struct {
	db *gorm.DB
}

// NewStore creates a message store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert stores a new message
func (s *Store) Insert(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	return nil
}

// Lease atomically claims up to batchSize visible messages and hides
// them for visibilityTimeout. Rows locked by a concurrent worker are
// skipped, so a message is never leased twice at once.
func (s *Store) Lease(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]*Message, error) {
	var leased []*Message

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var candidates []*Message
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("visible_at <= ?", now).
			Order("priority DESC, visible_at ASC").
			Limit(batchSize).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		if len(candidates) == 0 {
			return nil
		}

		ids := make([]string, 0, len(candidates))
		for _, m := range candidates {
			ids = append(ids, m.ID)
		}

		invisibleUntil := now.Add(visibilityTimeout)
		err = tx.Model(&Message{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"visible_at":            invisibleUntil,
				"processing_started_at": now,
			}).Error
		if err != nil {
			return err
		}

		for _, m := range candidates {
			m.VisibleAt = invisibleUntil
			started := now
			m.ProcessingStartedAt = &started
		}
		leased = candidates
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to lease messages: %w", err)
	}
	return leased, nil
}

// Delete removes a message permanently. Deleting an already removed
// message is not an error: the lease may have expired and another
// worker finished the job first.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&Message{}).Error
}

// UpdateForRetry re-queues a message with an incremented retry count
// and a new visibility horizon. The processing marker is cleared so
// Counts reports the backoff window as queued, not in-flight.
func (s *Store) UpdateForRetry(ctx context.Context, id string, retryCount int, visibleAt time.Time, lastError string) error {
	return s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":           retryCount,
			"visible_at":            visibleAt,
			"last_error":            lastError,
			"processing_started_at": nil,
		}).Error
}

// MoveToDeadLetter moves a message into terminal dead letter storage
func (s *Store) MoveToDeadLetter(ctx context.Context, msg *Message, jobErr string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dl := &DeadLetter{
			ID:         msg.ID,
			Type:       msg.Type,
			Payload:    msg.Payload,
			Priority:   msg.Priority,
			RetryCount: msg.RetryCount,
			Error:      jobErr,
			EnqueuedAt: msg.CreatedAt,
			FailedAt:   time.Now(),
		}
		if err := tx.Create(dl).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", msg.ID).Delete(&Message{}).Error
	})
}

// Counts returns queued, processing and dead-lettered message counts
// plus the enqueue time of the oldest visible message.
func (s *Store) Counts(ctx context.Context) (queued, processing, deadLettered int64, oldest *time.Time, err error) {
	now := time.Now()

	err = s.db.WithContext(ctx).
		Model(&Message{}).
		Where("visible_at <= ?", now).
		Count(&queued).Error
	if err != nil {
		return
	}

	err = s.db.WithContext(ctx).
		Model(&Message{}).
		Where("visible_at > ? AND processing_started_at IS NOT NULL", now).
		Count(&processing).Error
	if err != nil {
		return
	}

	err = s.db.WithContext(ctx).
		Model(&DeadLetter{}).
		Count(&deadLettered).Error
	if err != nil {
		return
	}

	var first Message
	result := s.db.WithContext(ctx).
		Where("visible_at <= ?", now).
		Order("created_at ASC").
		Limit(1).
		Find(&first)
	if result.Error != nil {
		err = result.Error
		return
	}
	if result.RowsAffected > 0 {
		oldest = &first.CreatedAt
	}
	return
}
