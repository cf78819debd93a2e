package model

// AutoRefundPayload payload for ORDER_AUTO_REFUND jobs
type AutoRefundPayload struct {
	OrderID uint64 `json:"order_id"`
}

// ExpireDPPayload payload for ORDER_EXPIRE_DP jobs
type ExpireDPPayload struct {
	OrderID uint64 `json:"order_id"`
}

// StockReleasePayload payload for STOCK_RELEASE jobs
type StockReleasePayload struct {
	OrderID      uint64 `json:"order_id"`
	ShouldRefund bool   `json:"should_refund"`
}

// NotificationPayload payload for NOTIFICATION_SEND jobs
type NotificationPayload struct {
	RecipientPhone string            `json:"recipient_phone"`
	Message        string            `json:"message"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
