package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"jastip/internal/monitor"
	"jastip/internal/repository"
	"jastip/internal/service/checkout"
	"jastip/internal/stocklock"
	"jastip/pkg/utils"
)

// CheckoutHandler checkout handler
type CheckoutHandler struct {
	checkoutService checkout.CheckoutService
	metrics         *monitor.Metrics
}

// NewCheckoutHandler creates a checkout handler
func NewCheckoutHandler(checkoutService checkout.CheckoutService, metrics *monitor.Metrics) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		metrics:         metrics,
	}
}

// Checkout reserves stock and creates an order
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.CodeInvalidParam, err.Error())
		return
	}

	order, err := h.checkoutService.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.metrics.ObserveCheckout("rejected")
		switch {
		case errors.Is(err, checkout.ErrDuplicateRequest):
			utils.Error(c, utils.CodeDuplicateRequest, "checkout request was already accepted")
		case errors.Is(err, checkout.ErrProductUnavailable):
			utils.Error(c, utils.CodeProductUnavailable, "product is not available")
		case errors.Is(err, repository.ErrProductNotFound):
			utils.Error(c, utils.CodeProductNotFound, "product not found")
		case errors.Is(err, stocklock.ErrInsufficientStock):
			utils.Error(c, utils.CodeInsufficientStock, "not enough stock available")
		case errors.Is(err, stocklock.ErrInvalidQuantity):
			utils.Error(c, utils.CodeInvalidParam, "invalid quantity")
		case errors.Is(err, stocklock.ErrDuplicateOrderLock):
			utils.Error(c, utils.CodeDuplicateRequest, "order already holds a reservation")
		default:
			utils.Error(c, utils.CodeInternalError, "checkout failed")
		}
		return
	}

	h.metrics.ObserveCheckout("accepted")
	utils.Success(c, gin.H{
		"order_no":     order.OrderNo,
		"total_amount": order.TotalAmount,
		"down_payment": order.DownPayment,
		"dp_deadline":  order.DPDeadline,
		"status":       order.StatusName(),
	})
}
