package repository

import (
	"context"
	"errors"

	"fuelengine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCustomerNotFound  = errors.New("客户不存在")
	ErrInsufficientFunds = errors.New("可用余额不足")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
	// ErrHoldInvariant 冻结余额即将变负，说明前面有未入账的变动，
	// 属于不可恢复错误，宁可中止也绝不截断为零
	ErrHoldInvariant = errors.New("冻结余额不变量被破坏")
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, customer *model.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *CustomerRepository) GetByID(ctx context.Context, customerID int64) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("id = ?", customerID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, customerID int64) (*model.Customer, error) {
	var customer model.Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", customerID).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// Reserve 预留资金：可用转冻结，CAS 单条 UPDATE 保证原子性
// 两个并发预留必须串行化——靠 version 条件，输掉的一方拿到
// ErrOptimisticLock 由上层用最新快照重试
func (r *CustomerRepository) Reserve(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND raw_balance >= ? AND version = ?", customerID, amount, version).
		Updates(map[string]interface{}{
			"raw_balance":  gorm.Expr("raw_balance - ?", amount),
			"hold_balance": gorm.Expr("hold_balance + ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		customer, err := r.GetByID(ctx, customerID)
		if err != nil {
			return err
		}
		if customer.RawBalance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		return ErrOptimisticLock
	}

	return nil
}

// ReserveHoldOnly 日限额客户预留：只登记冻结，不动可用余额
// 日限额准入由未结清天数管控，资金不是闸门，但冻结合计仍要
// 和在途申请对得上，取消、完成走同一套凭据流程
func (r *CustomerRepository) ReserveHoldOnly(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND version = ?", customerID, version).
		Updates(map[string]interface{}{
			"hold_balance": gorm.Expr("hold_balance + ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, customerID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}

// Release 释放冻结：冻结退回可用（取消申请时调用）
// 冻结不足说明账目已经乱了，返回不变量错误而不是补零
func (r *CustomerRepository) Release(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND hold_balance >= ?", customerID, amount).
		Updates(map[string]interface{}{
			"raw_balance":  gorm.Expr("raw_balance + ?", amount),
			"hold_balance": gorm.Expr("hold_balance - ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, customerID); err != nil {
			return err
		}
		return ErrHoldInvariant
	}

	return nil
}

// ReleaseHoldOnly 日限额客户释放：只扣减冻结，可用余额不动
// 预留时没有从可用划出资金，释放自然也没有资金可退
func (r *CustomerRepository) ReleaseHoldOnly(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND hold_balance >= ?", customerID, amount).
		Updates(map[string]interface{}{
			"hold_balance": gorm.Expr("hold_balance - ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, customerID); err != nil {
			return err
		}
		return ErrHoldInvariant
	}

	return nil
}

// Consume 核销冻结：冻结永久扣减，资金不回到可用（完成申请时调用）
func (r *CustomerRepository) Consume(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND hold_balance >= ?", customerID, amount).
		Updates(map[string]interface{}{
			"hold_balance": gorm.Expr("hold_balance - ?", amount),
			"used_amount":  gorm.Expr("used_amount + ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, customerID); err != nil {
			return err
		}
		return ErrHoldInvariant
	}

	return nil
}

// Recharge 充值：可用余额增加
func (r *CustomerRepository) Recharge(ctx context.Context, tx *gorm.DB, customerID int64, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]interface{}{
			"raw_balance": gorm.Expr("raw_balance + ?", amount),
			"version":     gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}

	return nil
}

// SwitchBillingMode 切换计费模式，管理员显式操作
// 切到后付费时可用余额重置为 授信额度 - 已核销金额
func (r *CustomerRepository) SwitchBillingMode(ctx context.Context, tx *gorm.DB, customer *model.Customer) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND version = ?", customer.ID, customer.Version).
		Updates(map[string]interface{}{
			"billing_mode": customer.BillingMode,
			"credit_limit": customer.CreditLimit,
			"day_limit":    customer.DayLimit,
			"raw_balance":  customer.RawBalance,
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// SetDaysElapsed 刷新未结清交易天数计数
func (r *CustomerRepository) SetDaysElapsed(ctx context.Context, tx *gorm.DB, customerID int64, days int) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ?", customerID).
		Update("days_elapsed", days).Error
}

// ListByBillingMode 按计费模式列出客户（日限额刷新任务使用）
func (r *CustomerRepository) ListByBillingMode(ctx context.Context, mode string, limit int) ([]*model.Customer, error) {
	var customers []*model.Customer
	err := r.db.WithContext(ctx).
		Where("billing_mode = ?", mode).
		Limit(limit).
		Find(&customers).Error
	return customers, err
}
