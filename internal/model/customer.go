package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 计费模式常量
// ============================================================================

const (
	BillingModePrepaid  = "PREPAID"   // 预付费：先充值后加油
	BillingModePostpaid = "POSTPAID"  // 后付费：按授信额度消费
	BillingModeDayLimit = "DAY_LIMIT" // 日限额：按未结清交易天数管控
)

// ValidBillingMode 校验计费模式是否合法
func ValidBillingMode(mode string) bool {
	switch mode {
	case BillingModePrepaid, BillingModePostpaid, BillingModeDayLimit:
		return true
	}
	return false
}

// Customer 客户账户表
// 记录客户的计费模式和资金水位，是整个准入引擎的核心数据
//
// 【余额口径】
// RawBalance  可用余额：未被任何在途申请占用的资金
// HoldBalance 冻结余额：处理中申请占用的资金，取消时退回、完成时核销
// 准入判断只看 RawBalance，冻结资金不是新申请的可用额度
//
// 后付费客户的 RawBalance 维护为 credit_limit - used_amount - 在途冻结，
// 这样三种模式共用同一条余额比较路径
type Customer struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(128);not null" json:"name"`
	BillingMode string          `gorm:"type:varchar(20);not null" json:"billing_mode"`                 // 计费模式（互斥，只能管理员显式切换）
	CreditLimit decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"credit_limit"`     // 授信额度（仅后付费有意义）
	DayLimit    int             `gorm:"not null;default:0" json:"day_limit"`                           // 容忍的未结清交易天数（仅日限额有意义）
	RawBalance  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"raw_balance"`      // 可用余额
	HoldBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"hold_balance"`     // 冻结余额
	UsedAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"used_amount"`      // 累计核销金额（后付费口径）
	DaysElapsed int             `gorm:"not null;default:0" json:"days_elapsed"`                        // 未结清交易天数（日限额口径）
	Version     int             `gorm:"not null;default:0" json:"version"`                             // 乐观锁版本号
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customer"
}

// AvailableForSpend 展示口径的总额度 = 可用 + 冻结
// 只用于展示，准入判断永远不用这个值
func (c *Customer) AvailableForSpend() decimal.Decimal {
	return c.RawBalance.Add(c.HoldBalance)
}
