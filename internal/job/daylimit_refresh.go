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

// DayLimitRefreshJob 日限额天数校准任务
// days_elapsed 在核销和结清时同步维护，这里按流水定期重算一遍，
// 发现脱节就纠正（自愈口径，计数永远以流水为准）
type DayLimitRefreshJob struct {
	db              *gorm.DB
	customerRepo    *repository.CustomerRepository
	transactionRepo *repository.TransactionRepository
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewDayLimitRefreshJob(db *gorm.DB, cfg *config.Config) *DayLimitRefreshJob {
	return &DayLimitRefreshJob{
		db:              db,
		customerRepo:    repository.NewCustomerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        5 * time.Minute,
		batchSize:       200,
	}
}

func (j *DayLimitRefreshJob) Start(ctx context.Context) {
	log.Println("[DayLimitRefreshJob] 日限额校准任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DayLimitRefreshJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DayLimitRefreshJob] 任务停止")
			return
		case <-ticker.C:
			j.refreshDayCounters(ctx)
		}
	}
}

func (j *DayLimitRefreshJob) Stop() {
	close(j.stopCh)
}

func (j *DayLimitRefreshJob) refreshDayCounters(ctx context.Context) {
	customers, err := j.customerRepo.ListByBillingMode(ctx, model.BillingModeDayLimit, j.batchSize)
	if err != nil {
		log.Printf("[DayLimitRefreshJob] 查询日限额客户失败: %v", err)
		return
	}

	for _, customer := range customers {
		days, err := j.transactionRepo.CountUnsettledDays(ctx, nil, customer.ID)
		if err != nil {
			log.Printf("[DayLimitRefreshJob] 统计未结清天数失败: customerID=%d, err=%v", customer.ID, err)
			continue
		}

		if days == customer.DaysElapsed {
			continue
		}

		log.Printf("[DayLimitRefreshJob] 发现天数计数脱节: customerID=%d, 记录=%d, 流水=%d",
			customer.ID, customer.DaysElapsed, days)

		if err := j.customerRepo.SetDaysElapsed(ctx, nil, customer.ID, days); err != nil {
			log.Printf("[DayLimitRefreshJob] 校准天数失败: customerID=%d, err=%v", customer.ID, err)
		}
	}
}
