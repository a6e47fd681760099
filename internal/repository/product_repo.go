package repository

import (
	"context"
	"errors"

	"fuelengine/internal/model"

	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("商品不存在")

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) CreateSubProduct(ctx context.Context, subProduct *model.SubProduct) error {
	return r.db.WithContext(ctx).Create(subProduct).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, productID int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) ListSubProducts(ctx context.Context, productID int64) ([]*model.SubProduct, error) {
	var subProducts []*model.SubProduct
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Find(&subProducts).Error
	return subProducts, err
}
