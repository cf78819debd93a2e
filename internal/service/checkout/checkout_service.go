package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jastip/internal/model"
	"jastip/internal/queue"
	"jastip/internal/repository"
	"jastip/internal/stocklock"
	"jastip/pkg/log"
	"jastip/pkg/snowflake"
)

var (
	// ErrProductUnavailable product is not open for orders
	ErrProductUnavailable = errors.New("product is not available")
	// ErrDuplicateRequest the same checkout request was already accepted
	ErrDuplicateRequest = errors.New("duplicate checkout request")
)

// downPaymentRatio share of the total charged as down payment
const downPaymentRatio = 0.5

// Config checkout configuration
type Config struct {
	// DownPaymentDeadline time the buyer has to complete the DP
	DownPaymentDeadline time.Duration
	// LockTTL reservation lifetime, slightly longer than the DP
	// deadline so the expiry job always finds the lock alive
	LockTTL time.Duration
}

// Request checkout request
type Request struct {
	RequestID    string `json:"request_id" binding:"required"`
	UserID       uint64 `json:"user_id" binding:"required"`
	ProductID    uint64 `json:"product_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
	ContactPhone string `json:"contact_phone" binding:"required"`
}

// CheckoutService checkout service interface
type CheckoutService interface {
	// Checkout reserves stock, creates the order and schedules its
	// down payment expiry
	Checkout(ctx context.Context, req *Request) (*model.Order, error)
}

// checkoutService checkout service implementation
type checkoutService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	locks       *stocklock.Service
	producer    *queue.Producer
	redis       *redis.Client
	idGenerator *snowflake.IDGenerator
	cfg         Config
}

// NewCheckoutService creates a checkout service
func NewCheckoutService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	locks *stocklock.Service,
	producer *queue.Producer,
	redisClient *redis.Client,
	idGenerator *snowflake.IDGenerator,
	cfg Config,
) CheckoutService {
	if cfg.DownPaymentDeadline == 0 {
		cfg.DownPaymentDeadline = 30 * time.Minute
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = cfg.DownPaymentDeadline + 5*time.Minute
	}
	return &checkoutService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		locks:       locks,
		producer:    producer,
		redis:       redisClient,
		idGenerator: idGenerator,
		cfg:         cfg,
	}
}

// Checkout reserves stock and creates an order.
//
// Ordering matters: the reservation is taken before the order row is
// committed so the oversell window starts first, and the expiry job is
// enqueued last. When the enqueue fails the whole checkout unwinds,
// a reservation must never outlive its expiry job.
func (s *checkoutService) Checkout(ctx context.Context, req *Request) (*model.Order, error) {
	if err := s.markRequest(ctx, req.RequestID); err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive() {
		return nil, ErrProductUnavailable
	}

	orderID := uint64(s.idGenerator.NextID())
	orderNo := fmt.Sprintf("JT%d", orderID)

	if err := s.locks.Acquire(ctx, req.ProductID, orderID, req.Quantity, s.cfg.LockTTL); err != nil {
		return nil, err
	}

	totalAmount := product.Price * int64(req.Quantity)
	downPayment := int64(float64(totalAmount) * downPaymentRatio)

	order := &model.Order{
		ID:           orderID,
		OrderNo:      orderNo,
		UserID:       req.UserID,
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		Price:        product.Price,
		TotalAmount:  totalAmount,
		DownPayment:  downPayment,
		Status:       model.OrderStatusPendingDP,
		ContactPhone: req.ContactPhone,
		DPDeadline:   time.Now().Add(s.cfg.DownPaymentDeadline),
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		s.locks.Release(orderID)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if _, err := s.producer.EnqueueExpireDPJob(ctx, orderID, s.cfg.DownPaymentDeadline); err != nil {
		// Unwind: without the expiry job the reservation would hold
		// stock forever for an order nobody is watching.
		s.locks.Release(orderID)
		reason := "failed to schedule down payment expiry"
		if _, terr := s.orderRepo.TransitionStatus(ctx, orderID,
			model.OrderStatusPendingDP, model.OrderStatusCancelled,
			map[string]interface{}{"cancel_reason": reason}); terr != nil {
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
				"error":    terr.Error(),
			}).Error("Failed to cancel order after enqueue failure")
		}
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"order_id":   orderID,
		"order_no":   orderNo,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	}).Info("Checkout accepted")
	return order, nil
}

// markRequest claims the request ID so a double submission is rejected
// before any stock is reserved.
func (s *checkoutService) markRequest(ctx context.Context, requestID string) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("checkout:request:%s", requestID)
	ok, err := s.redis.SetNX(ctx, key, 1, 24*time.Hour).Result()
	if err != nil {
		// Redis being down must not block checkouts, the stock lock
		// still protects against oversell.
		log.WithFields(map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Failed to mark checkout request, continuing")
		return nil
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}
