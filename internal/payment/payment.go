package payment

import (
	"context"

	"jastip/internal/model"
	"jastip/pkg/log"
)

// RefundProvider returns a down payment to the buyer. Implementations
// talk to the external payment collaborator, the core only needs the
// call to be safe to repeat for the same order.
type RefundProvider interface {
	Refund(ctx context.Context, order *model.Order) error
}

// LogRefundProvider records refund requests without calling a gateway.
// Used until a payment gateway integration is configured, and in tests.
type LogRefundProvider struct{}

// NewLogRefundProvider creates a logging refund provider
func NewLogRefundProvider() *LogRefundProvider {
	return &LogRefundProvider{}
}

// Refund logs the refund request
func (p *LogRefundProvider) Refund(ctx context.Context, order *model.Order) error {
	log.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"order_no": order.OrderNo,
		"amount":   order.DownPayment,
	}).Info("Refund requested")
	return nil
}
