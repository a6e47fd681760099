package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 申请状态事件类型，随状态流转写入 outbox，由发送任务投递给审计/通知方
const (
	EventRequestCreated    = "REQUEST_CREATED"
	EventRequestOtpSent    = "REQUEST_OTP_SENT"
	EventRequestProcessing = "REQUEST_PROCESSING"
	EventRequestCompleted  = "REQUEST_COMPLETED"
	EventRequestCancelled  = "REQUEST_CANCELLED"
)

// OutboxMessage 事务性 outbox 消息表
// 状态流转与消息写入同一个事务提交，发送任务异步投递，
// 保证审计事件严格在事务提交之后、且最终送达
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
