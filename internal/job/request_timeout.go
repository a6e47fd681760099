package job

import (
	"context"
	"log"
	"time"

	"fuelengine/internal/config"
	"fuelengine/internal/model"
	"fuelengine/internal/repository"

	"gorm.io/gorm"
)

// RequestTimeoutJob 定期取消超时未处理的 Pending 申请
// Pending 阶段没有任何资金预留，纯状态流转即可，无需补偿动账
type RequestTimeoutJob struct {
	db          *gorm.DB
	requestRepo *repository.RequestRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewRequestTimeoutJob(db *gorm.DB, cfg *config.Config) *RequestTimeoutJob {
	return &RequestTimeoutJob{
		db:          db,
		requestRepo: repository.NewRequestRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   100,
	}
}

func (j *RequestTimeoutJob) Start(ctx context.Context) {
	log.Println("[RequestTimeoutJob] 申请超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RequestTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[RequestTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.cancelStaleRequests(ctx)
		}
	}
}

func (j *RequestTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *RequestTimeoutJob) cancelStaleRequests(ctx context.Context) {
	timeout := time.Duration(j.cfg.Business.PendingTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		return
	}
	before := time.Now().Add(-timeout)

	requests, err := j.requestRepo.GetStalePending(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[RequestTimeoutJob] 查询超时申请失败: %v", err)
		return
	}

	if len(requests) == 0 {
		return
	}

	log.Printf("[RequestTimeoutJob] 发现 %d 个超时申请", len(requests))

	cancelledCount := 0
	for _, request := range requests {
		now := time.Now()
		err := j.requestRepo.UpdateStatus(ctx, nil, request.RequestNo,
			model.RequestStatusPending, model.RequestStatusCancelled,
			map[string]interface{}{
				"remarks":      "超时未处理，系统自动取消",
				"cancelled_at": &now,
			})
		if err != nil {
			log.Printf("[RequestTimeoutJob] 取消申请失败: requestNo=%s, err=%v", request.RequestNo, err)
			continue
		}
		cancelledCount++
		log.Printf("[RequestTimeoutJob] 申请已超时取消: requestNo=%s, customerID=%d", request.RequestNo, request.CustomerID)
	}

	log.Printf("[RequestTimeoutJob] 本次取消 %d 个超时申请", cancelledCount)
}
