package service

import (
	"context"
	"errors"
	"fmt"

	"fuelengine/internal/model"
	"fuelengine/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrSubProductNotFound = errors.New("子商品未配置")

// QtyOutOfRangeError 数量越界错误，携带被违反的边界供调用方展示
type QtyOutOfRangeError struct {
	Qty decimal.Decimal
	Min decimal.Decimal
	Max decimal.Decimal
}

func (e *QtyOutOfRangeError) Error() string {
	return fmt.Sprintf("申请数量 %s 超出允许范围 [%s, %s]", e.Qty, e.Min, e.Max)
}

// Resolution 目录解析结果
type Resolution struct {
	SubProductID   int64           `json:"sub_product_id"`
	SubProductCode string          `json:"sub_product_code"`
	Category       string          `json:"category"`
	MinQty         decimal.Decimal `json:"min_qty"`
	MaxQty         decimal.Decimal `json:"max_qty"`
	PackagingUnit  string          `json:"packaging_unit"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	PackagedUnits  int64           `json:"packaged_units"` // 桶装商品的折算桶数，升装为 0
}

// ResolveSubProduct 子商品解析（纯函数）
// 数量超过商品阈值选批发变体，否则零售变体，再校验该变体的数量上下限
// 同样输入必然得到同样输出，数量变更后可安全重新解析，不残留任何副作用
func ResolveSubProduct(product *model.Product, subProducts []*model.SubProduct, qty decimal.Decimal) (*Resolution, error) {
	category := model.CategoryRetail
	if qty.GreaterThan(product.BulkThreshold) {
		category = model.CategoryBulk
	}

	for _, sp := range subProducts {
		if sp.Category != category {
			continue
		}
		if qty.LessThan(sp.MinQty) || qty.GreaterThan(sp.MaxQty) {
			return nil, &QtyOutOfRangeError{Qty: qty, Min: sp.MinQty, Max: sp.MaxQty}
		}

		resolution := &Resolution{
			SubProductID:   sp.ID,
			SubProductCode: sp.Code,
			Category:       sp.Category,
			MinQty:         sp.MinQty,
			MaxQty:         sp.MaxQty,
			PackagingUnit:  sp.PackagingUnit,
			UnitPrice:      sp.UnitPrice,
		}
		if sp.PackagingUnit == model.PackagingUnitBarrel {
			resolution.PackagedUnits = model.PackagedUnits(qty)
		}
		return resolution, nil
	}

	return nil, ErrSubProductNotFound
}

type CatalogService struct {
	productRepo *repository.ProductRepository
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{
		productRepo: repository.NewProductRepository(db),
	}
}

// Resolve 加载商品配置后委托给纯函数解析
func (s *CatalogService) Resolve(ctx context.Context, productID int64, qty decimal.Decimal) (*Resolution, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	subProducts, err := s.productRepo.ListSubProducts(ctx, productID)
	if err != nil {
		return nil, err
	}

	return ResolveSubProduct(product, subProducts, qty)
}
