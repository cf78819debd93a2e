package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"jastip/internal/repository"
	"jastip/internal/service/order"
	"jastip/pkg/utils"
)

// OrderHandler order handler
type OrderHandler struct {
	orderService order.OrderService
	orderRepo    repository.OrderRepository
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orderService order.OrderService, orderRepo repository.OrderRepository) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		orderRepo:    orderRepo,
	}
}

// GetOrder gets an order by order number
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderNo := c.Param("order_no")
	if orderNo == "" {
		utils.Error(c, utils.CodeInvalidParam, "missing order_no parameter")
		return
	}

	o, err := h.orderRepo.GetByOrderNo(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			utils.Error(c, utils.CodeOrderNotFound, "order not found")
			return
		}
		utils.Error(c, utils.CodeInternalError, "failed to load order")
		return
	}

	utils.Success(c, o)
}

// ConfirmDownPayment records a completed down payment
func (h *OrderHandler) ConfirmDownPayment(c *gin.Context) {
	orderNo := c.Param("order_no")
	if orderNo == "" {
		utils.Error(c, utils.CodeInvalidParam, "missing order_no parameter")
		return
	}

	o, err := h.orderService.ConfirmDownPayment(c.Request.Context(), orderNo)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			utils.Error(c, utils.CodeOrderNotFound, "order not found")
		case errors.Is(err, order.ErrOrderNotPendingDP):
			utils.Error(c, utils.CodeOrderStateConflict, "order is not pending down payment")
		default:
			utils.Error(c, utils.CodeInternalError, "failed to confirm down payment")
		}
		return
	}

	utils.Success(c, gin.H{
		"order_no": o.OrderNo,
		"status":   o.StatusName(),
	})
}

// validateRequest order validation request
type validateRequest struct {
	Approve bool `json:"approve"`
}

// ValidateOrder resolves an order awaiting validation
func (h *OrderHandler) ValidateOrder(c *gin.Context) {
	orderNo := c.Param("order_no")
	if orderNo == "" {
		utils.Error(c, utils.CodeInvalidParam, "missing order_no parameter")
		return
	}

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.CodeInvalidParam, err.Error())
		return
	}

	o, err := h.orderService.ValidateOrder(c.Request.Context(), orderNo, req.Approve)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			utils.Error(c, utils.CodeOrderNotFound, "order not found")
		case errors.Is(err, order.ErrOrderNotAwaitingValidation):
			utils.Error(c, utils.CodeOrderStateConflict, "order is not awaiting validation")
		default:
			utils.Error(c, utils.CodeInternalError, "failed to validate order")
		}
		return
	}

	utils.Success(c, gin.H{
		"order_no": o.OrderNo,
		"status":   o.StatusName(),
	})
}
