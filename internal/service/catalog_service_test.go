package service

import (
	"errors"
	"testing"

	"fuelengine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() (*model.Product, []*model.SubProduct) {
	product := &model.Product{
		ID:            1,
		Code:          "DIESEL-0",
		Name:          "0号柴油",
		BulkThreshold: d("5000"),
	}
	subProducts := []*model.SubProduct{
		{
			ID: 11, ProductID: 1, Code: "DIESEL-0-R",
			Category: model.CategoryRetail,
			MinQty:   d("10"), MaxQty: d("5000"),
			PackagingUnit: model.PackagingUnitLiter,
			UnitPrice:     d("8.50"),
		},
		{
			ID: 12, ProductID: 1, Code: "DIESEL-0-B",
			Category: model.CategoryBulk,
			MinQty:   d("3000"), MaxQty: d("100000"),
			PackagingUnit: model.PackagingUnitBarrel,
			UnitPrice:     d("7.20"),
		},
	}
	return product, subProducts
}

func TestResolveSubProduct_ThresholdBoundary(t *testing.T) {
	product, subProducts := testCatalog()

	// 阈值 5000：不超过走零售，超过走批发
	r, err := ResolveSubProduct(product, subProducts, d("4999"))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryRetail, r.Category)
	assert.True(t, r.UnitPrice.Equal(d("8.50")))

	r, err = ResolveSubProduct(product, subProducts, d("5000"))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryRetail, r.Category, "恰好等于阈值仍按零售")

	r, err = ResolveSubProduct(product, subProducts, d("5001"))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryBulk, r.Category)
	assert.True(t, r.UnitPrice.Equal(d("7.20")))
}

func TestResolveSubProduct_PackagedUnits(t *testing.T) {
	product, subProducts := testCatalog()

	// 零售升装商品不折算桶数
	r, err := ResolveSubProduct(product, subProducts, d("100"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.PackagedUnits)

	// 批发桶装：5001 升 -> 26 桶（向上取整）
	r, err = ResolveSubProduct(product, subProducts, d("5001"))
	require.NoError(t, err)
	assert.Equal(t, int64(26), r.PackagedUnits)

	r, err = ResolveSubProduct(product, subProducts, d("6000"))
	require.NoError(t, err)
	assert.Equal(t, int64(30), r.PackagedUnits)
}

func TestResolveSubProduct_QtyOutOfRange(t *testing.T) {
	product, subProducts := testCatalog()

	// 低于零售下限：错误里带被违反的边界
	_, err := ResolveSubProduct(product, subProducts, d("5"))
	var qtyErr *QtyOutOfRangeError
	require.True(t, errors.As(err, &qtyErr))
	assert.True(t, qtyErr.Min.Equal(d("10")))
	assert.True(t, qtyErr.Max.Equal(d("5000")))

	// 超过批发上限
	_, err = ResolveSubProduct(product, subProducts, d("100001"))
	require.True(t, errors.As(err, &qtyErr))
	assert.True(t, qtyErr.Max.Equal(d("100000")))
}

func TestResolveSubProduct_Deterministic(t *testing.T) {
	product, subProducts := testCatalog()

	first, err := ResolveSubProduct(product, subProducts, d("4321"))
	require.NoError(t, err)
	second, err := ResolveSubProduct(product, subProducts, d("4321"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "同样输入必须得到同样解析结果")
}

func TestResolveSubProduct_MissingVariant(t *testing.T) {
	product, subProducts := testCatalog()

	// 只配了零售变体时批发数量解析不到
	_, err := ResolveSubProduct(product, subProducts[:1], d("6000"))
	assert.ErrorIs(t, err, ErrSubProductNotFound)
}
