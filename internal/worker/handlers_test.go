package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jastip/internal/model"
	"jastip/internal/queue"
)

// MockOrderService is a mock implementation of order.OrderService
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) ExpireDownPayment(ctx context.Context, orderID uint64) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderService) AutoRefund(ctx context.Context, orderID uint64) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderService) ReleaseStock(ctx context.Context, orderID uint64, shouldRefund bool) error {
	args := m.Called(ctx, orderID, shouldRefund)
	return args.Error(0)
}

func (m *MockOrderService) ConfirmDownPayment(ctx context.Context, orderNo string) (*model.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) ValidateOrder(ctx context.Context, orderNo string, approve bool) (*model.Order, error) {
	args := m.Called(ctx, orderNo, approve)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, recipientPhone, message string, metadata map[string]string) error {
	args := m.Called(ctx, recipientPhone, message, metadata)
	return args.Error(0)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("auto refund routes to order service", func(t *testing.T) {
		orders := new(MockOrderService)
		orders.On("AutoRefund", mock.Anything, uint64(42)).Return(true, nil)

		h := NewHandlers(orders, new(MockNotifier))
		msg := &queue.Message{Type: queue.JobTypeAutoRefund, Payload: []byte(`{"order_id":42}`)}

		require.NoError(t, h.Dispatch(ctx, msg))
		orders.AssertExpectations(t)
	})

	t.Run("expire DP routes to order service", func(t *testing.T) {
		orders := new(MockOrderService)
		orders.On("ExpireDownPayment", mock.Anything, uint64(7)).Return(false, nil)

		h := NewHandlers(orders, new(MockNotifier))
		msg := &queue.Message{Type: queue.JobTypeExpireDP, Payload: []byte(`{"order_id":7}`)}

		require.NoError(t, h.Dispatch(ctx, msg))
		orders.AssertExpectations(t)
	})

	t.Run("stock release carries the refund flag", func(t *testing.T) {
		orders := new(MockOrderService)
		orders.On("ReleaseStock", mock.Anything, uint64(9), true).Return(nil)

		h := NewHandlers(orders, new(MockNotifier))
		msg := &queue.Message{Type: queue.JobTypeStockRelease, Payload: []byte(`{"order_id":9,"should_refund":true}`)}

		require.NoError(t, h.Dispatch(ctx, msg))
		orders.AssertExpectations(t)
	})

	t.Run("notification routes to notifier", func(t *testing.T) {
		notifier := new(MockNotifier)
		notifier.On("Send", mock.Anything, "+628123", "hello",
			map[string]string{"order_no": "JT1"}).Return(nil)

		h := NewHandlers(new(MockOrderService), notifier)
		msg := &queue.Message{
			Type:    queue.JobTypeNotificationSend,
			Payload: []byte(`{"recipient_phone":"+628123","message":"hello","metadata":{"order_no":"JT1"}}`),
		}

		require.NoError(t, h.Dispatch(ctx, msg))
		notifier.AssertExpectations(t)
	})

	t.Run("handler errors propagate as retryable", func(t *testing.T) {
		orders := new(MockOrderService)
		orders.On("AutoRefund", mock.Anything, uint64(42)).Return(false, errors.New("db down"))

		h := NewHandlers(orders, new(MockNotifier))
		msg := &queue.Message{Type: queue.JobTypeAutoRefund, Payload: []byte(`{"order_id":42}`)}

		err := h.Dispatch(ctx, msg)
		require.Error(t, err)
		assert.False(t, queue.IsPermanent(err))
	})
}

func TestDispatchPermanentFailures(t *testing.T) {
	ctx := context.Background()
	h := NewHandlers(new(MockOrderService), new(MockNotifier))

	tests := []struct {
		name string
		msg  *queue.Message
	}{
		{
			name: "unknown job type",
			msg:  &queue.Message{Type: queue.JobType("SOMETHING_ELSE"), Payload: []byte(`{}`)},
		},
		{
			name: "malformed payload",
			msg:  &queue.Message{Type: queue.JobTypeAutoRefund, Payload: []byte(`not json`)},
		},
		{
			name: "missing order id",
			msg:  &queue.Message{Type: queue.JobTypeExpireDP, Payload: []byte(`{}`)},
		},
		{
			name: "missing stock release order id",
			msg:  &queue.Message{Type: queue.JobTypeStockRelease, Payload: []byte(`{}`)},
		},
		{
			name: "missing notification recipient",
			msg:  &queue.Message{Type: queue.JobTypeNotificationSend, Payload: []byte(`{"message":"hi"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Dispatch(ctx, tt.msg)
			require.Error(t, err)
			assert.True(t, queue.IsPermanent(err), "must be dead-lettered, not retried")
		})
	}
}
