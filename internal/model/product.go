package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryRetail = "RETAIL" // 零售子商品
	CategoryBulk   = "BULK"   // 批发子商品
)

const (
	PackagingUnitLiter  = "LITER"
	PackagingUnitBarrel = "BARREL"
)

// BarrelCapacityLiters 每桶容量（升）
const BarrelCapacityLiters = 200

// Product 商品表
// BulkThreshold 是零售/批发的切换阈值，按商品配置，禁止在调用点写死
type Product struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Name          string          `gorm:"type:varchar(128);not null" json:"name"`
	BulkThreshold decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"bulk_threshold"` // 数量超过该值按批发子商品计价
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// SubProduct 子商品表
// 每个商品有零售/批发两个变体，各自独立的数量上下限、包装单位和单价，
// 单价即定价服务的数据面
type SubProduct struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID     int64           `gorm:"index;not null" json:"product_id"`
	Code          string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Category      string          `gorm:"type:varchar(20);not null" json:"category"`
	MinQty        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"min_qty"`
	MaxQty        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"max_qty"`
	PackagingUnit string          `gorm:"type:varchar(20);not null" json:"packaging_unit"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubProduct) TableName() string {
	return "sub_product"
}

// PackagedUnits 桶装商品的折算桶数，向上取整（绝不向下）
// 数量仍以升为单位上报，桶数只用于展示和复核
func PackagedUnits(qty decimal.Decimal) int64 {
	return qty.Div(decimal.NewFromInt(BarrelCapacityLiters)).Ceil().IntPart()
}
