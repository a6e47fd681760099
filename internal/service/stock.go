package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// StockProvider 站点库存服务契约（外部系统，完成申请时校验实际加注量）
type StockProvider interface {
	GetAvailableStock(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// RedisStockProvider 默认实现：读库存服务回写到 redis 的库存快照
// 键不存在按零库存处理
type RedisStockProvider struct {
	client *redis.Client
}

func NewRedisStockProvider(client *redis.Client) *RedisStockProvider {
	return &RedisStockProvider{client: client}
}

func stockKey(productID int64) string {
	return fmt.Sprintf("fuel:stock:product:%d", productID)
}

func (p *RedisStockProvider) GetAvailableStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	val, err := p.client.Get(ctx, stockKey(productID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("查询库存失败: %w", err)
	}

	stock, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("库存数据格式异常: %w", err)
	}
	return stock, nil
}
