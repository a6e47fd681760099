package repository

import (
	"context"
	"errors"

	"fuelengine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.BalanceTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByRequestNoAndType 按申请单号和流水类型查流水
// RELEASE/CONSUME 动账前先查这里：已有同类流水说明预留凭据已终结，直接幂等返回
func (r *TransactionRepository) GetByRequestNoAndType(ctx context.Context, tx *gorm.DB, requestNo, transType string) (*model.BalanceTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.BalanceTransaction
	err := tx.WithContext(ctx).
		Where("request_no = ? AND type = ?", requestNo, transType).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByCustomerID(ctx context.Context, customerID int64, page, pageSize int) ([]*model.BalanceTransaction, int64, error) {
	var transactions []*model.BalanceTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceTransaction{}).Where("customer_id = ?", customerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// CountUnsettledDays 未结清交易天数：未结清 CONSUME 流水按自然日去重计数
// 同一天多笔核销只算一天
func (r *TransactionRepository) CountUnsettledDays(ctx context.Context, tx *gorm.DB, customerID int64) (int, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.BalanceTransaction{}).
		Where("customer_id = ? AND type = ? AND settled = ?", customerID, model.TransactionTypeConsume, false).
		Distinct("txn_date").
		Count(&count).Error
	return int(count), err
}

// GetOldestUnsettledDay 最早一个未结清交易日，没有则返回空串
func (r *TransactionRepository) GetOldestUnsettledDay(ctx context.Context, tx *gorm.DB, customerID int64) (string, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.BalanceTransaction
	err := tx.WithContext(ctx).
		Where("customer_id = ? AND type = ? AND settled = ?", customerID, model.TransactionTypeConsume, false).
		Order("txn_date ASC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return trans.TxnDate, nil
}

// SumUnsettledByDay 某个交易日未结清核销金额合计
func (r *TransactionRepository) SumUnsettledByDay(ctx context.Context, tx *gorm.DB, customerID int64, txnDate string) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var result struct {
		Total decimal.Decimal
	}
	err := tx.WithContext(ctx).
		Model(&model.BalanceTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("customer_id = ? AND type = ? AND settled = ? AND txn_date = ?",
			customerID, model.TransactionTypeConsume, false, txnDate).
		Scan(&result).Error
	return result.Total, err
}

// SettleDay 结清某个交易日的全部核销流水
func (r *TransactionRepository) SettleDay(ctx context.Context, tx *gorm.DB, customerID int64, txnDate string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.BalanceTransaction{}).
		Where("customer_id = ? AND type = ? AND settled = ? AND txn_date = ?",
			customerID, model.TransactionTypeConsume, false, txnDate).
		Update("settled", true)
	return result.RowsAffected, result.Error
}
