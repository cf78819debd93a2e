package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"jastip/internal/model"
)

var (
	// ErrOrderNotFound order does not exist
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound product does not exist
	ErrProductNotFound = errors.New("product not found")
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create order
	Create(ctx context.Context, order *model.Order) error

	// Get order by ID
	GetByID(ctx context.Context, id uint64) (*model.Order, error)

	// Get order by order number
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)

	// Transition order status with a state guard. Returns false when the
	// order was not in the expected state, which callers treat as a no-op.
	TransitionStatus(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) (bool, error)

	// List orders stuck in awaiting_validation created before the cutoff
	ListStaleAwaitingValidation(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error)

	// List orders currently holding a reservation (pending DP or awaiting validation)
	ListReservationHolders(ctx context.Context) ([]*model.Order, error)

	// Count orders per status
	CountByStatus(ctx context.Context, statuses []int8) (map[int8]int64, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates an order
func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID gets an order by ID
func (r *orderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo gets an order by order number
func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// TransitionStatus moves an order from one status to another atomically.
// The WHERE guard makes redelivered jobs harmless: a second attempt finds
// the order already moved and reports zero rows.
func (r *orderRepository) TransitionStatus(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListStaleAwaitingValidation lists orders awaiting validation past the grace period
func (r *orderRepository) ListStaleAwaitingValidation(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderStatusAwaitingValidation, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListReservationHolders lists orders whose stock reservation should still be alive
func (r *orderRepository) ListReservationHolders(ctx context.Context) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []int8{model.OrderStatusPendingDP, model.OrderStatusAwaitingValidation}).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}
	return orders, nil
}

// CountByStatus counts orders grouped by status
func (r *orderRepository) CountByStatus(ctx context.Context, statuses []int8) (map[int8]int64, error) {
	type row struct {
		Status int8
		Total  int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Select("status, COUNT(*) AS total").
		Where("status IN ?", statuses).
		Group("status").
		Scan(&rows).Error

	if err != nil {
		return nil, err
	}

	counts := make(map[int8]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
