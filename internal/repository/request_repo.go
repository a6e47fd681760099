package repository

import (
	"context"
	"errors"
	"time"

	"fuelengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRequestNotFound   = errors.New("申请不存在")
	ErrInvalidTransition = errors.New("申请状态不允许该操作")
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, tx *gorm.DB, request *model.FillingRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(request).Error
}

func (r *RequestRepository) GetByRequestNo(ctx context.Context, requestNo string) (*model.FillingRequest, error) {
	var request model.FillingRequest
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &request, nil
}

// UpdateStatus 条件更新状态：先查流转表，再用 WHERE status = 旧状态 兜底，
// 两个并发流转只有一个能命中行
// extra 携带经办人、时间戳等随状态一起落库的审计字段
func (r *RequestRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, requestNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.FillingRequest{}).
		Where("request_no = ? AND status = ?", requestNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}

	return nil
}

// UpdateResolution 数量变更后回写重新解析的子商品信息（仅 Pending）
func (r *RequestRepository) UpdateResolution(ctx context.Context, requestNo string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.FillingRequest{}).
		Where("request_no = ? AND status = ?", requestNo, model.RequestStatusPending).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateEligibility 回写资格判定结论（创建时参考值，处理前权威值）
func (r *RequestRepository) UpdateEligibility(ctx context.Context, tx *gorm.DB, requestNo string, eligibility, reason string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.FillingRequest{}).
		Where("request_no = ?", requestNo).
		Updates(map[string]interface{}{
			"eligibility":        eligibility,
			"eligibility_reason": reason,
		}).Error
}

// GetStalePending 查询超时未处理的 Pending 申请（超时任务使用）
func (r *RequestRepository) GetStalePending(ctx context.Context, before time.Time, limit int) ([]*model.FillingRequest, error) {
	var requests []*model.FillingRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.RequestStatusPending, before).
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *RequestRepository) ListByCustomerID(ctx context.Context, customerID int64, page, pageSize int) ([]*model.FillingRequest, int64, error) {
	var requests []*model.FillingRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.FillingRequest{}).Where("customer_id = ?", customerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}

// CountProcessingByCustomerID 在途处理中申请数（切换计费模式前校验）
func (r *RequestRepository) CountProcessingByCustomerID(ctx context.Context, customerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.FillingRequest{}).
		Where("customer_id = ? AND status = ?", customerID, model.RequestStatusProcessing).
		Count(&count).Error
	return count, err
}
