package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 资金流水类型常量
// ============================================================================

const (
	TransactionTypeRecharge = "RECHARGE" // 充值：可用余额增加
	TransactionTypeReserve  = "RESERVE"  // 预留：可用转冻结
	TransactionTypeRelease  = "RELEASE"  // 释放：冻结退回可用（取消）
	TransactionTypeConsume  = "CONSUME"  // 核销：冻结永久扣减（完成）
	TransactionTypeSettle   = "SETTLE"   // 结清：日限额客户清偿某日欠款
)

// ============================================================================
// 资金流水实体
// ============================================================================

// BalanceTransaction 客户资金流水表
// 记录可用/冻结余额的每一次变动，是对账和日限额计数的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改金额，不删除 —— 保证审计可追溯
// 2. 每笔流水关联申请单号 —— RESERVE 流水即该申请的预留凭据，
//    RELEASE/CONSUME 先查凭据再动账，天然幂等
// 3. 记录变动前后的可用与冻结余额 —— 便于校验资金守恒
// 4. TxnDate 记录交易自然日，日限额按未结清的不同天数计数，
//    同一天多笔只算一天
type BalanceTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	CustomerID    int64           `gorm:"index;not null" json:"customer_id"`
	RequestNo     string          `gorm:"type:varchar(64);index" json:"request_no"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"` // 始终为正，方向由 Type 表达
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	RawBefore     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"raw_before"`
	RawAfter      decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"raw_after"`
	HoldBefore    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"hold_before"`
	HoldAfter     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"hold_after"`
	TxnDate       string          `gorm:"type:varchar(10);index;not null" json:"txn_date"` // 格式 2006-01-02
	Settled       bool            `gorm:"not null;default:false" json:"settled"`           // 日限额口径：该笔核销是否已结清
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceTransaction) TableName() string {
	return "balance_transaction"
}
