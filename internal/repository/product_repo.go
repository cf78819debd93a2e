package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"jastip/internal/model"
)

// ErrInsufficientCommittedStock sale would exceed committed stock
var ErrInsufficientCommittedStock = errors.New("insufficient committed stock")

// ProductRepository product repository interface
type ProductRepository interface {
	// Get product by ID
	GetByID(ctx context.Context, id uint64) (*model.Product, error)

	// Available stock (total minus sold) for a product
	AvailableStock(ctx context.Context, id uint64) (int, error)

	// Commit a confirmed sale, decrementing available stock
	CommitSale(ctx context.Context, id uint64, quantity int) error

	// Revert a committed sale (refund after confirmation)
	RevertSale(ctx context.Context, id uint64, quantity int) error
}

// productRepository product repository implementation
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// GetByID gets a product by ID
func (r *productRepository) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&product).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// AvailableStock returns committed stock still available for sale
func (r *productRepository) AvailableStock(ctx context.Context, id uint64) (int, error) {
	product, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return product.Available(), nil
}

// CommitSale increments sold only while enough stock remains. The guard in
// the WHERE clause keeps two concurrent confirmations from overselling.
func (r *productRepository) CommitSale(ctx context.Context, id uint64, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock - sold >= ?", id, quantity).
		Update("sold", gorm.Expr("sold + ?", quantity))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientCommittedStock
	}
	return nil
}

// RevertSale returns previously committed quantity back to stock
func (r *productRepository) RevertSale(ctx context.Context, id uint64, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND sold >= ?", id, quantity).
		Update("sold", gorm.Expr("sold - ?", quantity))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("cannot revert more than sold")
	}
	return nil
}
