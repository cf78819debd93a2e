package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"jastip/internal/model"
	"jastip/internal/queue"
	"jastip/internal/repository"
	"jastip/internal/stocklock"
)

// MockOrderRepository is a mock implementation of repository.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) TransitionStatus(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, from, to, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) ListStaleAwaitingValidation(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockOrderRepository) ListReservationHolders(ctx context.Context) ([]*model.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockOrderRepository) CountByStatus(ctx context.Context, statuses []int8) (map[int8]int64, error) {
	args := m.Called(ctx, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int8]int64), args.Error(1)
}

// MockProductRepository is a mock implementation of repository.ProductRepository
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Product), args.Error(1)
}

func (m *MockProductRepository) AvailableStock(ctx context.Context, id uint64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockProductRepository) CommitSale(ctx context.Context, id uint64, quantity int) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

func (m *MockProductRepository) RevertSale(ctx context.Context, id uint64, quantity int) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

// MockRefundProvider is a mock implementation of payment.RefundProvider
type MockRefundProvider struct {
	mock.Mock
}

func (m *MockRefundProvider) Refund(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

type testDeps struct {
	orderRepo   *MockOrderRepository
	productRepo *MockProductRepository
	locks       *stocklock.Service
	refunds     *MockRefundProvider
	dbMock      sqlmock.Sqlmock
	svc         OrderService
}

func newTestDeps(t *testing.T) *testDeps {
	sqlDB, dbMock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	orderRepo := new(MockOrderRepository)
	productRepo := new(MockProductRepository)
	refunds := new(MockRefundProvider)
	locks := stocklock.NewService(productRepo)
	producer := queue.NewProducer(queue.NewService(queue.NewStore(gormDB), queue.Config{}), nil)

	svc := NewOrderService(orderRepo, productRepo, locks, refunds, producer, Config{
		AutoRefundGrace: 24 * time.Hour,
	})

	return &testDeps{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		locks:       locks,
		refunds:     refunds,
		dbMock:      dbMock,
		svc:         svc,
	}
}

// expectEnqueue sets expectations for one queue message insert
func (d *testDeps) expectEnqueue() {
	d.dbMock.ExpectBegin()
	d.dbMock.ExpectExec("INSERT INTO `queue_messages`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	d.dbMock.ExpectCommit()
}

func TestExpireDownPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("missing order is a no-op", func(t *testing.T) {
		d := newTestDeps(t)
		d.orderRepo.On("GetByID", mock.Anything, uint64(1)).Return(nil, repository.ErrOrderNotFound)

		changed, err := d.svc.ExpireDownPayment(ctx, 1)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("order already resolved is a no-op", func(t *testing.T) {
		d := newTestDeps(t)
		d.orderRepo.On("GetByID", mock.Anything, uint64(1)).Return(&model.Order{
			ID:     1,
			Status: model.OrderStatusCancelled,
		}, nil)

		changed, err := d.svc.ExpireDownPayment(ctx, 1)
		require.NoError(t, err)
		assert.False(t, changed)
		d.orderRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("deadline not yet passed is a no-op", func(t *testing.T) {
		d := newTestDeps(t)
		d.orderRepo.On("GetByID", mock.Anything, uint64(1)).Return(&model.Order{
			ID:         1,
			Status:     model.OrderStatusPendingDP,
			DPDeadline: time.Now().Add(10 * time.Minute),
		}, nil)

		changed, err := d.svc.ExpireDownPayment(ctx, 1)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("expired order is cancelled and its lock released", func(t *testing.T) {
		d := newTestDeps(t)

		// The order holds a reservation from checkout.
		d.productRepo.On("AvailableStock", mock.Anything, uint64(5)).Return(10, nil)
		require.NoError(t, d.locks.Acquire(ctx, 5, 1, 2, time.Hour))

		d.orderRepo.On("GetByID", mock.Anything, uint64(1)).Return(&model.Order{
			ID:           1,
			OrderNo:      "JT1",
			ProductID:    5,
			Status:       model.OrderStatusPendingDP,
			ContactPhone: "+628123",
			DPDeadline:   time.Now().Add(-time.Minute),
		}, nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(1),
			model.OrderStatusPendingDP, model.OrderStatusCancelled, mock.Anything).
			Return(true, nil)
		d.expectEnqueue()

		changed, err := d.svc.ExpireDownPayment(ctx, 1)
		require.NoError(t, err)
		assert.True(t, changed)

		_, held := d.locks.Get(1)
		assert.False(t, held, "reservation must be released")
	})

	t.Run("lost transition race is a no-op", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByID", mock.Anything, uint64(1)).Return(&model.Order{
			ID:         1,
			Status:     model.OrderStatusPendingDP,
			DPDeadline: time.Now().Add(-time.Minute),
		}, nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(1),
			model.OrderStatusPendingDP, model.OrderStatusCancelled, mock.Anything).
			Return(false, nil)

		changed, err := d.svc.ExpireDownPayment(ctx, 1)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestAutoRefund(t *testing.T) {
	ctx := context.Background()

	staleOrder := func() *model.Order {
		return &model.Order{
			ID:           2,
			OrderNo:      "JT2",
			ProductID:    5,
			Status:       model.OrderStatusAwaitingValidation,
			ContactPhone: "+628123",
			CreatedAt:    time.Now().Add(-48 * time.Hour),
		}
	}

	t.Run("stale order is refunded", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByID", mock.Anything, uint64(2)).Return(staleOrder(), nil)
		d.refunds.On("Refund", mock.Anything, mock.Anything).Return(nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(2),
			model.OrderStatusAwaitingValidation, model.OrderStatusRefunded, mock.Anything).
			Return(true, nil)
		d.expectEnqueue()

		changed, err := d.svc.AutoRefund(ctx, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		d.refunds.AssertExpectations(t)
	})

	t.Run("refund failure leaves the order untouched", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByID", mock.Anything, uint64(2)).Return(staleOrder(), nil)
		d.refunds.On("Refund", mock.Anything, mock.Anything).Return(errors.New("provider down"))

		_, err := d.svc.AutoRefund(ctx, 2)
		require.Error(t, err)
		d.orderRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("order within grace period is a no-op", func(t *testing.T) {
		d := newTestDeps(t)

		o := staleOrder()
		o.CreatedAt = time.Now().Add(-time.Hour)
		d.orderRepo.On("GetByID", mock.Anything, uint64(2)).Return(o, nil)

		changed, err := d.svc.AutoRefund(ctx, 2)
		require.NoError(t, err)
		assert.False(t, changed)
		d.refunds.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	})

	t.Run("redelivery after completion is a no-op", func(t *testing.T) {
		d := newTestDeps(t)

		o := staleOrder()
		o.Status = model.OrderStatusRefunded
		d.orderRepo.On("GetByID", mock.Anything, uint64(2)).Return(o, nil)

		changed, err := d.svc.AutoRefund(ctx, 2)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestReleaseStock(t *testing.T) {
	ctx := context.Background()

	t.Run("release without refund touches no order state", func(t *testing.T) {
		d := newTestDeps(t)

		require.NoError(t, d.svc.ReleaseStock(ctx, 3, false))
		d.orderRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("refund for a missing order is skipped", func(t *testing.T) {
		d := newTestDeps(t)
		d.orderRepo.On("GetByID", mock.Anything, uint64(3)).Return(nil, repository.ErrOrderNotFound)

		require.NoError(t, d.svc.ReleaseStock(ctx, 3, true))
		d.refunds.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	})

	t.Run("refund runs after release", func(t *testing.T) {
		d := newTestDeps(t)

		d.productRepo.On("AvailableStock", mock.Anything, uint64(5)).Return(10, nil)
		require.NoError(t, d.locks.Acquire(ctx, 5, 3, 1, time.Hour))

		d.orderRepo.On("GetByID", mock.Anything, uint64(3)).Return(&model.Order{ID: 3}, nil)
		d.refunds.On("Refund", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, d.svc.ReleaseStock(ctx, 3, true))

		_, held := d.locks.Get(3)
		assert.False(t, held)
		d.refunds.AssertExpectations(t)
	})
}

func TestConfirmDownPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order moves to awaiting validation", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT4").Return(&model.Order{
			ID:      4,
			OrderNo: "JT4",
			Status:  model.OrderStatusPendingDP,
		}, nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(4),
			model.OrderStatusPendingDP, model.OrderStatusAwaitingValidation, mock.Anything).
			Return(true, nil)

		o, err := d.svc.ConfirmDownPayment(ctx, "JT4")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusAwaitingValidation, o.Status)
		assert.NotNil(t, o.DPPaidAt)
	})

	t.Run("already paid or expired order conflicts", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT4").Return(&model.Order{
			ID:      4,
			OrderNo: "JT4",
			Status:  model.OrderStatusPendingDP,
		}, nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(4),
			model.OrderStatusPendingDP, model.OrderStatusAwaitingValidation, mock.Anything).
			Return(false, nil)

		_, err := d.svc.ConfirmDownPayment(ctx, "JT4")
		assert.ErrorIs(t, err, ErrOrderNotPendingDP)
	})
}

func TestValidateOrder(t *testing.T) {
	ctx := context.Background()

	awaiting := func() *model.Order {
		return &model.Order{
			ID:           6,
			OrderNo:      "JT6",
			ProductID:    5,
			Quantity:     2,
			Status:       model.OrderStatusAwaitingValidation,
			ContactPhone: "+628123",
		}
	}

	t.Run("approval commits the sale and releases the lock", func(t *testing.T) {
		d := newTestDeps(t)

		d.productRepo.On("AvailableStock", mock.Anything, uint64(5)).Return(10, nil)
		require.NoError(t, d.locks.Acquire(ctx, 5, 6, 2, time.Hour))

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT6").Return(awaiting(), nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(6),
			model.OrderStatusAwaitingValidation, model.OrderStatusConfirmed, mock.Anything).
			Return(true, nil)
		d.productRepo.On("CommitSale", mock.Anything, uint64(5), 2).Return(nil)
		d.expectEnqueue()

		o, err := d.svc.ValidateOrder(ctx, "JT6", true)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusConfirmed, o.Status)

		_, held := d.locks.Get(6)
		assert.False(t, held, "committed sale must not keep reserving stock")
		d.productRepo.AssertExpectations(t)
	})

	t.Run("commit failure keeps the reservation", func(t *testing.T) {
		d := newTestDeps(t)

		d.productRepo.On("AvailableStock", mock.Anything, uint64(5)).Return(10, nil)
		require.NoError(t, d.locks.Acquire(ctx, 5, 6, 2, time.Hour))

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT6").Return(awaiting(), nil)
		d.productRepo.On("CommitSale", mock.Anything, uint64(5), 2).
			Return(errors.New("deadlock found"))

		_, err := d.svc.ValidateOrder(ctx, "JT6", true)
		require.Error(t, err)

		// Nothing transitioned and the lock still counts against
		// available stock, so a retry sees the same state.
		d.orderRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		_, held := d.locks.Get(6)
		assert.True(t, held, "failed commit must not release the reservation")
	})

	t.Run("lost validation race reverts the sale", func(t *testing.T) {
		d := newTestDeps(t)

		d.productRepo.On("AvailableStock", mock.Anything, uint64(5)).Return(10, nil)
		require.NoError(t, d.locks.Acquire(ctx, 5, 6, 2, time.Hour))

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT6").Return(awaiting(), nil)
		d.productRepo.On("CommitSale", mock.Anything, uint64(5), 2).Return(nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(6),
			model.OrderStatusAwaitingValidation, model.OrderStatusConfirmed, mock.Anything).
			Return(false, nil)
		d.productRepo.On("RevertSale", mock.Anything, uint64(5), 2).Return(nil)

		_, err := d.svc.ValidateOrder(ctx, "JT6", true)
		assert.ErrorIs(t, err, ErrOrderNotAwaitingValidation)
		d.productRepo.AssertExpectations(t)

		_, held := d.locks.Get(6)
		assert.True(t, held, "lost race must not release the reservation")
	})

	t.Run("rejection defers refund to the queue", func(t *testing.T) {
		d := newTestDeps(t)

		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT6").Return(awaiting(), nil)
		d.orderRepo.On("TransitionStatus", mock.Anything, uint64(6),
			model.OrderStatusAwaitingValidation, model.OrderStatusRejected, mock.Anything).
			Return(true, nil)
		// One insert for the stock release job, one for the notification.
		d.expectEnqueue()
		d.expectEnqueue()

		o, err := d.svc.ValidateOrder(ctx, "JT6", false)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusRejected, o.Status)
		d.refunds.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
		assert.NoError(t, d.dbMock.ExpectationsWereMet())
	})

	t.Run("order not awaiting validation conflicts", func(t *testing.T) {
		d := newTestDeps(t)

		o := awaiting()
		o.Status = model.OrderStatusConfirmed
		d.orderRepo.On("GetByOrderNo", mock.Anything, "JT6").Return(o, nil)

		_, err := d.svc.ValidateOrder(ctx, "JT6", true)
		assert.ErrorIs(t, err, ErrOrderNotAwaitingValidation)
	})
}
