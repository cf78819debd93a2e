package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jastip/internal/model"
	"jastip/internal/payment"
	"jastip/internal/queue"
	"jastip/internal/repository"
	"jastip/internal/stocklock"
	"jastip/pkg/log"
)

var (
	// ErrOrderNotPendingDP order is not waiting for a down payment
	ErrOrderNotPendingDP = errors.New("order is not pending down payment")
	// ErrOrderNotAwaitingValidation order is not waiting for validation
	ErrOrderNotAwaitingValidation = errors.New("order is not awaiting validation")
)

// Config order lifecycle configuration
type Config struct {
	// AutoRefundGrace how long an order may sit awaiting validation
	// before the auto refund job rejects it
	AutoRefundGrace time.Duration
}

// OrderService order lifecycle transitions. Every mutating method
// re-checks current order state before acting, so duplicate or
// out-of-order job delivery is harmless.
type OrderService interface {
	// Cancel an order whose down payment deadline passed. Returns
	// true when the order state changed, false for a stale job.
	ExpireDownPayment(ctx context.Context, orderID uint64) (bool, error)

	// Refund an order stuck awaiting validation past the grace
	// period. Returns true when the order state changed.
	AutoRefund(ctx context.Context, orderID uint64) (bool, error)

	// Release the stock reservation of an order, optionally
	// refunding the down payment.
	ReleaseStock(ctx context.Context, orderID uint64, shouldRefund bool) error

	// Record a completed down payment
	ConfirmDownPayment(ctx context.Context, orderNo string) (*model.Order, error)

	// Resolve a validated order: approve commits the sale, reject
	// refunds the buyer.
	ValidateOrder(ctx context.Context, orderNo string, approve bool) (*model.Order, error)
}

// orderService order service implementation
type orderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	locks       *stocklock.Service
	refunds     payment.RefundProvider
	producer    *queue.Producer
	cfg         Config
}

// NewOrderService creates an order service
func NewOrderService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	locks *stocklock.Service,
	refunds payment.RefundProvider,
	producer *queue.Producer,
	cfg Config,
) OrderService {
	if cfg.AutoRefundGrace == 0 {
		cfg.AutoRefundGrace = 24 * time.Hour
	}
	return &orderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		locks:       locks,
		refunds:     refunds,
		producer:    producer,
		cfg:         cfg,
	}
}

// ExpireDownPayment cancels an order whose DP deadline passed
func (s *orderService) ExpireDownPayment(ctx context.Context, orderID uint64) (bool, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// The order row is gone, nothing left to expire.
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
			}).Warn("Expire DP job for missing order, skipping")
			return false, nil
		}
		return false, err
	}

	if !order.IsPendingDP() || !order.IsDPExpired() {
		// Paid in time or already resolved, stale job.
		return false, nil
	}

	reason := "down payment deadline passed"
	changed, err := s.orderRepo.TransitionStatus(ctx, orderID,
		model.OrderStatusPendingDP, model.OrderStatusCancelled,
		map[string]interface{}{"cancel_reason": reason})
	if err != nil {
		return false, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	if !changed {
		// Another worker or a payment raced us, state already moved.
		return false, nil
	}

	s.locks.Release(orderID)
	s.notify(ctx, order, fmt.Sprintf("Order %s was cancelled: the down payment was not received in time.", order.OrderNo))

	log.WithFields(map[string]interface{}{
		"order_id": orderID,
		"order_no": order.OrderNo,
	}).Info("Order cancelled, down payment expired")
	return true, nil
}

// AutoRefund rejects and refunds an order stuck awaiting validation
func (s *orderService) AutoRefund(ctx context.Context, orderID uint64) (bool, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
			}).Warn("Auto refund job for missing order, skipping")
			return false, nil
		}
		return false, err
	}

	if !order.IsAwaitingValidation() {
		return false, nil
	}
	if time.Since(order.CreatedAt) < s.cfg.AutoRefundGrace {
		return false, nil
	}

	// Refund before the transition: the provider is safe to repeat,
	// so a crash between the two steps costs nothing on redelivery.
	if err := s.refunds.Refund(ctx, order); err != nil {
		return false, fmt.Errorf("failed to refund order %d: %w", orderID, err)
	}

	now := time.Now()
	changed, err := s.orderRepo.TransitionStatus(ctx, orderID,
		model.OrderStatusAwaitingValidation, model.OrderStatusRefunded,
		map[string]interface{}{"refunded_at": now})
	if err != nil {
		return false, fmt.Errorf("failed to mark order %d refunded: %w", orderID, err)
	}
	if !changed {
		return false, nil
	}

	s.locks.Release(orderID)
	s.notify(ctx, order, fmt.Sprintf("Order %s was refunded: it was not validated within the allowed period.", order.OrderNo))

	log.WithFields(map[string]interface{}{
		"order_id": orderID,
		"order_no": order.OrderNo,
	}).Info("Order auto-refunded after validation timeout")
	return true, nil
}

// ReleaseStock releases the reservation of an order
func (s *orderService) ReleaseStock(ctx context.Context, orderID uint64, shouldRefund bool) error {
	s.locks.Release(orderID)

	if !shouldRefund {
		return nil
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
			}).Warn("Stock release refund for missing order, skipping")
			return nil
		}
		return err
	}

	if err := s.refunds.Refund(ctx, order); err != nil {
		return fmt.Errorf("failed to refund order %d: %w", orderID, err)
	}
	return nil
}

// ConfirmDownPayment records a completed down payment
func (s *orderService) ConfirmDownPayment(ctx context.Context, orderNo string) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	changed, err := s.orderRepo.TransitionStatus(ctx, order.ID,
		model.OrderStatusPendingDP, model.OrderStatusAwaitingValidation,
		map[string]interface{}{"dp_paid_at": now})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm down payment for order %s: %w", orderNo, err)
	}
	if !changed {
		return nil, ErrOrderNotPendingDP
	}

	order.Status = model.OrderStatusAwaitingValidation
	order.DPPaidAt = &now
	return order, nil
}

// ValidateOrder resolves an order awaiting validation
func (s *orderService) ValidateOrder(ctx context.Context, orderNo string, approve bool) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	if !order.IsAwaitingValidation() {
		return nil, ErrOrderNotAwaitingValidation
	}

	if approve {
		// Commit the sale before the transition. If the commit fails
		// the order stays awaiting_validation with its reservation in
		// place, so the admin can simply retry; releasing the lock
		// without incrementing sold would let later checkouts oversell.
		if err := s.productRepo.CommitSale(ctx, order.ProductID, order.Quantity); err != nil {
			return nil, fmt.Errorf("failed to commit sale for order %s: %w", orderNo, err)
		}

		now := time.Now()
		changed, err := s.orderRepo.TransitionStatus(ctx, order.ID,
			model.OrderStatusAwaitingValidation, model.OrderStatusConfirmed,
			map[string]interface{}{"validated_at": now})
		if err != nil || !changed {
			if revertErr := s.productRepo.RevertSale(ctx, order.ProductID, order.Quantity); revertErr != nil {
				log.WithFields(map[string]interface{}{
					"order_id":   order.ID,
					"product_id": order.ProductID,
					"error":      revertErr.Error(),
				}).Error("Failed to revert sale after lost validation race")
			}
			if err != nil {
				return nil, fmt.Errorf("failed to confirm order %s: %w", orderNo, err)
			}
			return nil, ErrOrderNotAwaitingValidation
		}

		// The reservation is now a committed sale, the lock must not
		// keep counting against available stock.
		s.locks.Release(order.ID)

		order.Status = model.OrderStatusConfirmed
		order.ValidatedAt = &now
		s.notify(ctx, order, fmt.Sprintf("Order %s is confirmed. We will purchase your item on the trip.", order.OrderNo))
		return order, nil
	}

	changed, err := s.orderRepo.TransitionStatus(ctx, order.ID,
		model.OrderStatusAwaitingValidation, model.OrderStatusRejected,
		map[string]interface{}{"cancel_reason": "rejected by seller"})
	if err != nil {
		return nil, fmt.Errorf("failed to reject order %s: %w", orderNo, err)
	}
	if !changed {
		return nil, ErrOrderNotAwaitingValidation
	}

	// Refund and lock release run asynchronously so the admin call
	// returns fast even when the payment collaborator is slow.
	if _, err := s.producer.EnqueueStockReleaseJob(ctx, order.ID, true); err != nil {
		log.WithFields(map[string]interface{}{
			"order_id": order.ID,
			"error":    err.Error(),
		}).Error("Failed to enqueue stock release for rejected order")
	}

	order.Status = model.OrderStatusRejected
	s.notify(ctx, order, fmt.Sprintf("Order %s was rejected by the seller. Your down payment will be refunded.", order.OrderNo))
	return order, nil
}

// notify enqueues a notification job. Failures are logged, never
// propagated: notification delivery retries on its own schedule and
// must not affect order state.
func (s *orderService) notify(ctx context.Context, order *model.Order, message string) {
	if order.ContactPhone == "" {
		return
	}
	_, err := s.producer.EnqueueNotificationJob(ctx, order.ContactPhone, message, map[string]string{
		"order_no": order.OrderNo,
	})
	if err != nil {
		log.WithFields(map[string]interface{}{
			"order_id": order.ID,
			"error":    err.Error(),
		}).Error("Failed to enqueue notification")
	}
}
