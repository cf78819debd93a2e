package model

import (
	"time"
)

// Order order model
type Order struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`
	UserID        uint64     `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	ProductID     uint64     `gorm:"type:bigint unsigned;not null;index" json:"product_id"`
	Quantity      int        `gorm:"type:int;not null" json:"quantity"`
	Price         int64      `gorm:"type:bigint;not null" json:"price"`
	TotalAmount   int64      `gorm:"type:bigint;not null" json:"total_amount"`
	DownPayment   int64      `gorm:"type:bigint;not null;default:0" json:"down_payment"`
	Status        int8       `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	ContactPhone  string     `gorm:"type:varchar(20);not null" json:"contact_phone"`
	DPDeadline    time.Time  `gorm:"type:timestamp;not null;index" json:"dp_deadline"`
	DPPaidAt      *time.Time `gorm:"type:timestamp" json:"dp_paid_at,omitempty"`
	ValidatedAt   *time.Time `gorm:"type:timestamp" json:"validated_at,omitempty"`
	RefundedAt    *time.Time `gorm:"type:timestamp" json:"refunded_at,omitempty"`
	CancelReason  *string    `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	CreatedAt     time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderStatus order status const
const (
	OrderStatusPendingDP          int8 = 1 // waiting for down payment
	OrderStatusAwaitingValidation int8 = 2 // DP received, waiting for manual validation
	OrderStatusConfirmed          int8 = 3 // validated, seller committed to buy
	OrderStatusCompleted          int8 = 4 // delivered
	OrderStatusCancelled          int8 = 5 // buyer never paid or cancelled
	OrderStatusRejected           int8 = 6 // seller rejected the order
	OrderStatusRefunded           int8 = 7 // DP returned to the buyer
)

// IsPendingDP check order is waiting for down payment
func (o *Order) IsPendingDP() bool {
	return o.Status == OrderStatusPendingDP
}

// IsAwaitingValidation check order is waiting for manual validation
func (o *Order) IsAwaitingValidation() bool {
	return o.Status == OrderStatusAwaitingValidation
}

// IsConfirmed check order is confirmed
func (o *Order) IsConfirmed() bool {
	return o.Status == OrderStatusConfirmed
}

// IsCompleted check order is completed
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted
}

// IsCancelled check order is cancelled
func (o *Order) IsCancelled() bool {
	return o.Status == OrderStatusCancelled
}

// IsRejected check order is rejected
func (o *Order) IsRejected() bool {
	return o.Status == OrderStatusRejected
}

// IsRefunded check order is refunded
func (o *Order) IsRefunded() bool {
	return o.Status == OrderStatusRefunded
}

// IsResolved check order has reached a terminal or confirmed state
func (o *Order) IsResolved() bool {
	switch o.Status {
	case OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusRefunded:
		return true
	}
	return false
}

// IsDPExpired check down payment deadline has passed
func (o *Order) IsDPExpired() bool {
	return time.Now().After(o.DPDeadline)
}

// StatusName returns a human readable status name
func (o *Order) StatusName() string {
	switch o.Status {
	case OrderStatusPendingDP:
		return "pending_dp"
	case OrderStatusAwaitingValidation:
		return "awaiting_validation"
	case OrderStatusConfirmed:
		return "confirmed"
	case OrderStatusCompleted:
		return "completed"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}
