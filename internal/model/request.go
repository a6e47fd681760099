package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RequestStatusPending    = "PENDING"
	RequestStatusProcessing = "PROCESSING"
	RequestStatusCompleted  = "COMPLETED"
	RequestStatusCancelled  = "CANCELLED"
)

// ValidStatusTransitions 合法状态流转表
// 只有 Processing -> Cancelled 一条中途退出路径，其余一律单向前进
var ValidStatusTransitions = map[string][]string{
	RequestStatusPending:    {RequestStatusProcessing, RequestStatusCancelled},
	RequestStatusProcessing: {RequestStatusCompleted, RequestStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	EligibilityYes     = "YES"
	EligibilityNo      = "NO"
	EligibilityUnknown = "UNKNOWN"
)

// FillingRequest 加油申请表
//
// 【关键点】ReservedAmount 在 Pending -> Processing 时一次性定价
// （unit_price × requested_qty），之后即使价目表变化也不再重算，
// 保证冻结金额与最终核销金额永远一致
type FillingRequest struct {
	ID                int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo         string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	CustomerID        int64            `gorm:"index;not null" json:"customer_id"`
	ProductID         int64            `gorm:"not null" json:"product_id"`
	SubProductID      int64            `gorm:"not null" json:"sub_product_id"`         // 目录解析结果，禁止操作员手填
	Category          string           `gorm:"type:varchar(20);not null" json:"category"` // RETAIL / BULK，由数量阈值推导
	RequestedQty      decimal.Decimal  `gorm:"type:decimal(18,2);not null" json:"requested_qty"`
	ActualQty         *decimal.Decimal `gorm:"type:decimal(18,2)" json:"actual_qty"`
	UnitPrice         decimal.Decimal  `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	ReservedAmount    decimal.Decimal  `gorm:"type:decimal(18,2);not null" json:"reserved_amount"`
	Status            string           `gorm:"type:varchar(20);index;not null" json:"status"`
	Eligibility       string           `gorm:"type:varchar(10);not null;default:UNKNOWN" json:"eligibility"` // 创建时的参考结论，处理前会重新权威判定
	EligibilityReason string           `gorm:"type:varchar(256)" json:"eligibility_reason"`
	Remarks           string           `gorm:"type:varchar(256)" json:"remarks"`
	CreatedBy         int64            `gorm:"not null" json:"created_by"`
	ProcessedBy       int64            `json:"processed_by"`
	CompletedBy       int64            `json:"completed_by"`
	CancelledBy       int64            `json:"cancelled_by"`
	ProcessedAt       *time.Time       `json:"processed_at"`
	CompletedAt       *time.Time       `json:"completed_at"`
	CancelledAt       *time.Time       `json:"cancelled_at"`
	CreatedAt         time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FillingRequest) TableName() string {
	return "filling_request"
}
