package model

import (
	"time"
)

// Product product model. Stock counts committed inventory only,
// in-flight reservations live in the stock lock table.
type Product struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TripID      uint64    `gorm:"type:bigint unsigned;not null;index" json:"trip_id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	Price       int64     `gorm:"type:bigint;not null" json:"price"`
	Stock       int       `gorm:"type:int;not null;default:0" json:"stock"`
	Sold        int       `gorm:"type:int;not null;default:0" json:"sold"`
	Status      int8      `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	CreatedAt   time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (Product) TableName() string {
	return "products"
}

// ProductStatus product status const
const (
	ProductStatusActive   int8 = 1
	ProductStatusInactive int8 = 2
	ProductStatusDeleted  int8 = 3
)

// IsActive check if product is open for orders
func (p *Product) IsActive() bool {
	return p.Status == ProductStatusActive
}

// Available returns the committed stock still available for sale
func (p *Product) Available() int {
	available := p.Stock - p.Sold
	if available < 0 {
		return 0
	}
	return available
}
