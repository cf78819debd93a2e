package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jastip/internal/model"
	"jastip/internal/repository"
	"jastip/internal/service/order"
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

// MockOrderRepo is a mock implementation of repository.OrderRepository
type MockOrderRepo struct {
	mock.Mock
}

func (m *MockOrderRepo) Create(ctx context.Context, o *model.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockOrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepo) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepo) TransitionStatus(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, from, to, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepo) ListStaleAwaitingValidation(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockOrderRepo) ListReservationHolders(ctx context.Context) ([]*model.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockOrderRepo) CountByStatus(ctx context.Context, statuses []int8) (map[int8]int64, error) {
	args := m.Called(ctx, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int8]int64), args.Error(1)
}

func setupOrderRouter(svc order.OrderService, repo repository.OrderRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewOrderHandler(svc, repo)
	router.GET("/orders/:order_no", h.GetOrder)
	router.POST("/orders/:order_no/pay", h.ConfirmDownPayment)
	router.POST("/orders/:order_no/validate", h.ValidateOrder)
	return router
}

func TestOrderHandler_GetOrder(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo := new(MockOrderRepo)
		repo.On("GetByOrderNo", mock.Anything, "JT1").Return(&model.Order{
			ID:      1,
			OrderNo: "JT1",
			Status:  model.OrderStatusPendingDP,
		}, nil)

		router := setupOrderRouter(new(MockOrderService), repo)
		req, _ := http.NewRequest("GET", "/orders/JT1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(MockOrderRepo)
		repo.On("GetByOrderNo", mock.Anything, "JT404").
			Return(nil, repository.ErrOrderNotFound)

		router := setupOrderRouter(new(MockOrderService), repo)
		req, _ := http.NewRequest("GET", "/orders/JT404", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestOrderHandler_ConfirmDownPayment(t *testing.T) {
	t.Run("successful payment", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("ConfirmDownPayment", mock.Anything, "JT1").Return(&model.Order{
			ID:      1,
			OrderNo: "JT1",
			Status:  model.OrderStatusAwaitingValidation,
		}, nil)

		router := setupOrderRouter(svc, new(MockOrderRepo))
		req, _ := http.NewRequest("POST", "/orders/JT1/pay", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp["data"].(map[string]interface{})
		assert.Equal(t, "awaiting_validation", data["status"])
	})

	t.Run("state conflict", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("ConfirmDownPayment", mock.Anything, "JT1").
			Return(nil, order.ErrOrderNotPendingDP)

		router := setupOrderRouter(svc, new(MockOrderRepo))
		req, _ := http.NewRequest("POST", "/orders/JT1/pay", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestOrderHandler_ValidateOrder(t *testing.T) {
	t.Run("approval", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("ValidateOrder", mock.Anything, "JT1", true).Return(&model.Order{
			ID:      1,
			OrderNo: "JT1",
			Status:  model.OrderStatusConfirmed,
		}, nil)

		router := setupOrderRouter(svc, new(MockOrderRepo))
		body := bytes.NewReader([]byte(`{"approve":true}`))
		req, _ := http.NewRequest("POST", "/orders/JT1/validate", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("rejection", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("ValidateOrder", mock.Anything, "JT1", false).Return(&model.Order{
			ID:      1,
			OrderNo: "JT1",
			Status:  model.OrderStatusRejected,
		}, nil)

		router := setupOrderRouter(svc, new(MockOrderRepo))
		body := bytes.NewReader([]byte(`{"approve":false}`))
		req, _ := http.NewRequest("POST", "/orders/JT1/validate", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("not awaiting validation", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("ValidateOrder", mock.Anything, "JT1", true).
			Return(nil, order.ErrOrderNotAwaitingValidation)

		router := setupOrderRouter(svc, new(MockOrderRepo))
		body := bytes.NewReader([]byte(`{"approve":true}`))
		req, _ := http.NewRequest("POST", "/orders/JT1/validate", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
