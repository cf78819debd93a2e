package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"jastip/internal/model"
	"jastip/internal/notify"
	"jastip/internal/queue"
	"jastip/internal/service/order"
)

// Handlers executes one unit of order lifecycle progress per job kind.
// Dispatch matches exhaustively over the closed job type set, adding a
// kind without a handler arm is a compile-visible change here, not a
// runtime lookup miss.
type Handlers struct {
	orders   order.OrderService
	notifier notify.Notifier
}

// NewHandlers creates the handler set
func NewHandlers(orders order.OrderService, notifier notify.Notifier) *Handlers {
	return &Handlers{
		orders:   orders,
		notifier: notifier,
	}
}

// Dispatch routes a message to its handler. Errors wrapped with
// queue.Permanent must be dead-lettered by the caller, anything else
// is retryable.
func (h *Handlers) Dispatch(ctx context.Context, msg *queue.Message) error {
	switch msg.Type {
	case queue.JobTypeAutoRefund:
		return h.handleAutoRefund(ctx, msg.Payload)
	case queue.JobTypeExpireDP:
		return h.handleExpireDP(ctx, msg.Payload)
	case queue.JobTypeStockRelease:
		return h.handleStockRelease(ctx, msg.Payload)
	case queue.JobTypeNotificationSend:
		return h.handleNotificationSend(ctx, msg.Payload)
	default:
		return queue.Permanent(fmt.Errorf("%w: %s", queue.ErrUnknownJobType, msg.Type))
	}
}

func (h *Handlers) handleAutoRefund(ctx context.Context, payload json.RawMessage) error {
	var p model.AutoRefundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("malformed auto refund payload: %w", err))
	}
	if p.OrderID == 0 {
		return queue.Permanent(fmt.Errorf("auto refund payload missing order id"))
	}

	_, err := h.orders.AutoRefund(ctx, p.OrderID)
	return err
}

func (h *Handlers) handleExpireDP(ctx context.Context, payload json.RawMessage) error {
	var p model.ExpireDPPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("malformed expire DP payload: %w", err))
	}
	if p.OrderID == 0 {
		return queue.Permanent(fmt.Errorf("expire DP payload missing order id"))
	}

	_, err := h.orders.ExpireDownPayment(ctx, p.OrderID)
	return err
}

func (h *Handlers) handleStockRelease(ctx context.Context, payload json.RawMessage) error {
	var p model.StockReleasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("malformed stock release payload: %w", err))
	}
	if p.OrderID == 0 {
		return queue.Permanent(fmt.Errorf("stock release payload missing order id"))
	}

	return h.orders.ReleaseStock(ctx, p.OrderID, p.ShouldRefund)
}

func (h *Handlers) handleNotificationSend(ctx context.Context, payload json.RawMessage) error {
	var p model.NotificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("malformed notification payload: %w", err))
	}
	if p.RecipientPhone == "" {
		return queue.Permanent(fmt.Errorf("notification payload missing recipient"))
	}

	return h.notifier.Send(ctx, p.RecipientPhone, p.Message, p.Metadata)
}
