package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"jastip/pkg/log"
)

// Config queue service configuration
type Config struct {
	DefaultMaxRetries int
	VisibilityTimeout time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// Service is the transactional queue facade. All durability lives in
// the store, the service holds no job state across restarts, only
// process-local completion counters for stats.
type Service struct {
	store *Store
	cfg   Config

	completed       atomic.Int64
	processingNanos atomic.Int64
}

// NewService creates a queue service
func NewService(store *Store, cfg Config) *Service {
	if cfg.DefaultMaxRetries == 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	return &Service{store: store, cfg: cfg}
}

// EnqueueOption customizes a single enqueue call
type EnqueueOption func(*Message)

// WithPriority sets the message priority
func WithPriority(p Priority) EnqueueOption {
	return func(m *Message) { m.Priority = p }
}

// WithMaxRetries sets the retry budget
func WithMaxRetries(n int) EnqueueOption {
	return func(m *Message) { m.MaxRetries = n }
}

// WithDelay hides the message until the delay passes
func WithDelay(d time.Duration) EnqueueOption {
	return func(m *Message) { m.VisibleAt = time.Now().Add(d) }
}

// Enqueue stores a new job and returns its message ID
func (s *Service) Enqueue(ctx context.Context, jobType JobType, payload interface{}, opts ...EnqueueOption) (string, error) {
	if !jobType.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	msg := &Message{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    body,
		Priority:   PriorityNormal,
		MaxRetries: s.cfg.DefaultMaxRetries,
		VisibleAt:  now,
		CreatedAt:  now,
	}
	for _, opt := range opts {
		opt(msg)
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		return "", err
	}

	log.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"type":       msg.Type,
		"priority":   msg.Priority,
	}).Debug("Message enqueued")

	return msg.ID, nil
}

// Lease claims up to batchSize messages for visibilityTimeout. Delivery
// is at least once: an unacknowledged message becomes visible again and
// handlers must tolerate redelivery.
func (s *Service) Lease(ctx context.Context, batchSize int) ([]*Message, error) {
	return s.store.Lease(ctx, batchSize, s.cfg.VisibilityTimeout)
}

// Acknowledge removes a message after successful processing
func (s *Service) Acknowledge(ctx context.Context, msg *Message) error {
	if err := s.store.Delete(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", msg.ID, err)
	}

	s.completed.Add(1)
	if msg.ProcessingStartedAt != nil {
		s.processingNanos.Add(time.Since(*msg.ProcessingStartedAt).Nanoseconds())
	}
	return nil
}

// RequeueWithBackoff re-queues a failed message with exponential delay,
// or dead-letters it once the retry budget is spent.
func (s *Service) RequeueWithBackoff(ctx context.Context, msg *Message, jobErr error) error {
	errText := truncateError(jobErr)

	if msg.RetryCount >= msg.MaxRetries {
		if err := s.store.MoveToDeadLetter(ctx, msg, errText); err != nil {
			return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
		}
		log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"type":       msg.Type,
			"retries":    msg.RetryCount,
			"error":      errText,
		}).Error("Message moved to dead letter queue")
		return nil
	}

	retryCount := msg.RetryCount + 1
	delay := s.backoff(retryCount)
	visibleAt := time.Now().Add(delay)

	if err := s.store.UpdateForRetry(ctx, msg.ID, retryCount, visibleAt, errText); err != nil {
		return fmt.Errorf("failed to requeue message %s: %w", msg.ID, err)
	}

	log.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"type":       msg.Type,
		"retry":      retryCount,
		"delay":      delay.String(),
		"error":      errText,
	}).Warn("Message requeued with backoff")
	return nil
}

// DeadLetter moves a message straight to the dead letter queue,
// bypassing the retry budget. Used for configuration and payload
// faults where a retry cannot help.
func (s *Service) DeadLetter(ctx context.Context, msg *Message, jobErr error) error {
	errText := truncateError(jobErr)
	if err := s.store.MoveToDeadLetter(ctx, msg, errText); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
	}
	log.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"type":       msg.Type,
		"payload":    string(msg.Payload),
		"error":      errText,
	}).Error("Message dead-lettered without retry")
	return nil
}

// Stats returns a read-only snapshot of queue state
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	queued, processing, deadLettered, oldest, err := s.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect queue stats: %w", err)
	}

	stats := &Stats{
		Queued:         queued,
		Processing:     processing,
		DeadLettered:   deadLettered,
		Completed:      s.completed.Load(),
		OldestQueuedAt: oldest,
	}
	if stats.Completed > 0 {
		stats.AvgProcessingTime = time.Duration(s.processingNanos.Load() / stats.Completed)
	}
	return stats, nil
}

// backoff returns base * 2^(retry-1) capped at the configured maximum
func (s *Service) backoff(retry int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if delay > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return delay
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	if len(text) > 1000 {
		text = text[:1000]
	}
	return text
}
