package queue

import (
	"context"
	"time"

	"jastip/internal/model"
	"jastip/internal/monitor"
	"jastip/pkg/log"
)

// Producer is the enqueue boundary used by the API process. It knows
// which job kind, priority and delay each order lifecycle event needs.
type Producer struct {
	service *Service
	metrics *monitor.Metrics
}

// NewProducer creates a producer
func NewProducer(service *Service, metrics *monitor.Metrics) *Producer {
	return &Producer{
		service: service,
		metrics: metrics,
	}
}

func (p *Producer) enqueue(ctx context.Context, jobType JobType, payload interface{}, opts ...EnqueueOption) (string, error) {
	id, err := p.service.Enqueue(ctx, jobType, payload, opts...)
	if err == nil {
		p.metrics.ObserveEnqueue(string(jobType))
	}
	return id, err
}

// EnqueueAutoRefundJob schedules an auto refund check for an order
func (p *Producer) EnqueueAutoRefundJob(ctx context.Context, orderID uint64) (string, error) {
	return p.enqueue(ctx, JobTypeAutoRefund,
		model.AutoRefundPayload{OrderID: orderID},
		WithPriority(PriorityNormal),
	)
}

// EnqueueExpireDPJob schedules a down payment expiry check, delayed
// until the deadline passes.
func (p *Producer) EnqueueExpireDPJob(ctx context.Context, orderID uint64, deadline time.Duration) (string, error) {
	return p.enqueue(ctx, JobTypeExpireDP,
		model.ExpireDPPayload{OrderID: orderID},
		WithPriority(PriorityHigh),
		WithDelay(deadline),
	)
}

// EnqueueStockReleaseJob schedules a stock reservation release
func (p *Producer) EnqueueStockReleaseJob(ctx context.Context, orderID uint64, shouldRefund bool) (string, error) {
	return p.enqueue(ctx, JobTypeStockRelease,
		model.StockReleasePayload{OrderID: orderID, ShouldRefund: shouldRefund},
		WithPriority(PriorityHigh),
	)
}

// EnqueueNotificationJob schedules an outbound notification
func (p *Producer) EnqueueNotificationJob(ctx context.Context, recipientPhone, message string, metadata map[string]string) (string, error) {
	return p.enqueue(ctx, JobTypeNotificationSend,
		model.NotificationPayload{
			RecipientPhone: recipientPhone,
			Message:        message,
			Metadata:       metadata,
		},
		WithPriority(PriorityLow),
	)
}

// BatchEnqueueAutoRefund enqueues auto refund jobs for many orders.
// Best effort: a failed enqueue is logged and skipped, the rest of the
// batch proceeds.
func (p *Producer) BatchEnqueueAutoRefund(ctx context.Context, orderIDs []uint64) []string {
	ids := make([]string, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		id, err := p.EnqueueAutoRefundJob(ctx, orderID)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
				"error":    err.Error(),
			}).Error("Failed to enqueue auto refund job, skipping")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// GetQueueStatus returns a read-only queue snapshot
func (p *Producer) GetQueueStatus(ctx context.Context) (*Stats, error) {
	return p.service.Stats(ctx)
}
