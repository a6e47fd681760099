package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"fuelengine/internal/config"
	"fuelengine/internal/infrastructure/lock"
	"fuelengine/internal/model"
	"fuelengine/internal/repository"
	"fuelengine/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPermissionDenied = errors.New("当前角色无权执行该操作")
	ErrIneligible       = errors.New("资格校验未通过")
	ErrStockNotEnough   = errors.New("站点库存不足")
	ErrRemarksRequired  = errors.New("取消申请必须填写备注")
	ErrInvalidQuantity  = errors.New("数量必须大于0")
)

// RequestService 加油申请生命周期
//
// 状态机：Pending -> Processing -> {Completed, Cancelled}，外加 Pending -> Cancelled
// 资金动作挂接点：
//   进入 Processing 时预留（可用转冻结）
//   Completed 核销冻结，Cancelled 释放冻结
// 余额变动和状态流转永远在同一个数据库事务里提交，崩溃不会留下
// 状态与账目脱节的申请
type RequestService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	customerRepo    *repository.CustomerRepository
	requestRepo     *repository.RequestRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	catalog         *CatalogService
	reservation     *ReservationService
	otp             *OtpService
	stock           StockProvider
}

func NewRequestService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, stock StockProvider) *RequestService {
	return &RequestService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		customerRepo:    repository.NewCustomerRepository(db),
		requestRepo:     repository.NewRequestRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		catalog:         NewCatalogService(db),
		reservation:     NewReservationService(db),
		otp:             NewOtpService(redisClient, cfg.Business.OtpTTLSeconds),
		stock:           stock,
	}
}

type CreateRequestInput struct {
	CustomerID int64
	ProductID  int64
	Qty        decimal.Decimal
}

// Create 创建申请：解析目录、做参考性资格预判，落库为 Pending
// 这里的资格结论只是给操作员看的，处理前还会重新权威判定
func (s *RequestService) Create(ctx context.Context, operator model.Operator, in *CreateRequestInput) (*model.FillingRequest, error) {
	if !model.CanPerform(operator.Role, model.OpCreateRequest) {
		return nil, ErrPermissionDenied
	}
	if !in.Qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	resolution, err := s.catalog.Resolve(ctx, in.ProductID, in.Qty)
	if err != nil {
		return nil, err
	}

	customer, err := s.customerRepo.GetByID(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}

	amount := resolution.UnitPrice.Mul(in.Qty)
	verdict := Evaluate(customer, amount)
	eligibility := model.EligibilityYes
	if !verdict.Eligible {
		eligibility = model.EligibilityNo
	}

	request := &model.FillingRequest{
		RequestNo:         idgen.GenerateRequestNo(),
		CustomerID:        in.CustomerID,
		ProductID:         in.ProductID,
		SubProductID:      resolution.SubProductID,
		Category:          resolution.Category,
		RequestedQty:      in.Qty,
		UnitPrice:         resolution.UnitPrice,
		ReservedAmount:    amount,
		Status:            model.RequestStatusPending,
		Eligibility:       eligibility,
		EligibilityReason: verdict.Reason,
		CreatedBy:         operator.ID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requestRepo.Create(ctx, tx, request); err != nil {
			return fmt.Errorf("创建申请失败: %w", err)
		}
		return s.writeEvent(ctx, tx, model.EventRequestCreated, request.RequestNo, map[string]interface{}{
			"request_no":  request.RequestNo,
			"customer_id": request.CustomerID,
			"product_id":  request.ProductID,
			"category":    request.Category,
			"qty":         request.RequestedQty,
			"amount":      request.ReservedAmount,
			"eligibility": request.Eligibility,
			"operator_id": operator.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	return request, nil
}

// UpdateQuantity 变更申请数量（仅 Pending）
// 数量跨过商品阈值时子商品自动重新解析，可能在零售/批发之间切换
func (s *RequestService) UpdateQuantity(ctx context.Context, operator model.Operator, requestNo string, qty decimal.Decimal) (*model.FillingRequest, error) {
	if !model.CanPerform(operator.Role, model.OpUpdateQuantity) {
		return nil, ErrPermissionDenied
	}
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	request, err := s.requestRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if request.Status != model.RequestStatusPending {
		return nil, repository.ErrInvalidTransition
	}

	resolution, err := s.catalog.Resolve(ctx, request.ProductID, qty)
	if err != nil {
		return nil, err
	}

	customer, err := s.customerRepo.GetByID(ctx, request.CustomerID)
	if err != nil {
		return nil, err
	}

	amount := resolution.UnitPrice.Mul(qty)
	verdict := Evaluate(customer, amount)
	eligibility := model.EligibilityYes
	if !verdict.Eligible {
		eligibility = model.EligibilityNo
	}

	err = s.requestRepo.UpdateResolution(ctx, requestNo, map[string]interface{}{
		"sub_product_id":     resolution.SubProductID,
		"category":           resolution.Category,
		"requested_qty":      qty,
		"unit_price":         resolution.UnitPrice,
		"reserved_amount":    amount,
		"eligibility":        eligibility,
		"eligibility_reason": verdict.Reason,
	})
	if err != nil {
		return nil, err
	}

	return s.requestRepo.GetByRequestNo(ctx, requestNo)
}

// SendOtp 签发处理确认验证码
// 验证码通过 outbox 交给通知服务投递，接口本身不回显
func (s *RequestService) SendOtp(ctx context.Context, operator model.Operator, requestNo string) error {
	if !model.CanPerform(operator.Role, model.OpSendOtp) {
		return ErrPermissionDenied
	}

	request, err := s.requestRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return err
	}
	if request.Status != model.RequestStatusPending {
		return repository.ErrInvalidTransition
	}

	code, err := s.otp.Issue(ctx, requestNo)
	if err != nil {
		return err
	}

	return s.writeEvent(ctx, nil, model.EventRequestOtpSent, requestNo, map[string]interface{}{
		"request_no":  requestNo,
		"customer_id": request.CustomerID,
		"otp_code":    code,
		"ttl_seconds": s.cfg.Business.OtpTTLSeconds,
		"operator_id": operator.ID,
	})
}

// BeginProcessing 进入处理：验证码 + 权威资格判定 + 资金预留 + 状态流转
//
// 申请金额在这里一次性定死（当前价目 × 申请数量），之后不再重算，
// 冻结多少将来就核销多少
//
// 并发正确性：同客户两笔申请同时进入处理时，靠客户表乐观锁 CAS 串行化，
// 输掉的一方拿最新余额快照重试，重试耗尽按余额不足上报（与非并发的
// 余额不足同形）。客户维度分布式锁只是降低冲突概率的前置挡板
func (s *RequestService) BeginProcessing(ctx context.Context, operator model.Operator, requestNo, otpCode string) (*model.FillingRequest, error) {
	if !model.CanPerform(operator.Role, model.OpBeginProcessing) {
		return nil, ErrPermissionDenied
	}

	request, err := s.requestRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if request.Status != model.RequestStatusPending {
		return nil, repository.ErrInvalidTransition
	}

	// 验证码单次有效，校验成功即消费，只解锁这一次处理
	if err := s.otp.Verify(ctx, requestNo, otpCode); err != nil {
		return nil, err
	}

	// 定价时点：进入处理的瞬间
	resolution, err := s.catalog.Resolve(ctx, request.ProductID, request.RequestedQty)
	if err != nil {
		return nil, err
	}
	amount := resolution.UnitPrice.Mul(request.RequestedQty)

	customerLock := lock.NewCustomerLock(s.redisClient, request.CustomerID, requestNo)
	if err := customerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer customerLock.Unlock(ctx)

	maxRetry := s.cfg.Business.ReserveMaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}

	for i := 0; i < maxRetry; i++ {
		customer, err := s.customerRepo.GetByID(ctx, request.CustomerID)
		if err != nil {
			return nil, err
		}

		// 权威资格判定：创建到处理之间余额可能已经变了
		verdict := Evaluate(customer, amount)
		if !verdict.Eligible {
			if uerr := s.requestRepo.UpdateEligibility(ctx, nil, requestNo, model.EligibilityNo, verdict.Reason); uerr != nil {
				return nil, uerr
			}
			return nil, fmt.Errorf("%w: %s", ErrIneligible, verdict.Reason)
		}

		attempt := &model.FillingRequest{
			RequestNo:      requestNo,
			CustomerID:     request.CustomerID,
			ReservedAmount: amount,
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.reservation.ReserveTx(ctx, tx, customer, attempt); err != nil {
				return err
			}

			now := time.Now()
			err := s.requestRepo.UpdateStatus(ctx, tx, requestNo,
				model.RequestStatusPending, model.RequestStatusProcessing,
				map[string]interface{}{
					"sub_product_id":     resolution.SubProductID,
					"category":           resolution.Category,
					"unit_price":         resolution.UnitPrice,
					"reserved_amount":    amount,
					"eligibility":        model.EligibilityYes,
					"eligibility_reason": "",
					"processed_by":       operator.ID,
					"processed_at":       &now,
				})
			if err != nil {
				return err
			}

			return s.writeEvent(ctx, tx, model.EventRequestProcessing, requestNo, map[string]interface{}{
				"request_no":  requestNo,
				"customer_id": request.CustomerID,
				"amount":      amount,
				"from_status": model.RequestStatusPending,
				"to_status":   model.RequestStatusProcessing,
				"operator_id": operator.ID,
			})
		})

		if errors.Is(err, repository.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Printf("申请进入处理: requestNo=%s, customerID=%d, amount=%s", requestNo, request.CustomerID, amount)
		return s.requestRepo.GetByRequestNo(ctx, requestNo)
	}

	// 重试耗尽：按余额不足上报，调用方区分不了并发与否，也不该区分
	return nil, repository.ErrInsufficientFunds
}

// Complete 完成申请：库存校验 + 核销冻结 + 状态流转
func (s *RequestService) Complete(ctx context.Context, operator model.Operator, requestNo string, actualQty decimal.Decimal) (*model.FillingRequest, error) {
	if !model.CanPerform(operator.Role, model.OpCompleteRequest) {
		return nil, ErrPermissionDenied
	}
	if !actualQty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	request, err := s.requestRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if request.Status != model.RequestStatusProcessing {
		return nil, repository.ErrInvalidTransition
	}

	stock, err := s.stock.GetAvailableStock(ctx, request.ProductID)
	if err != nil {
		return nil, err
	}
	if actualQty.GreaterThan(stock) {
		return nil, fmt.Errorf("%w: 实际加注 %s，库存 %s", ErrStockNotEnough, actualQty, stock)
	}

	customerLock := lock.NewCustomerLock(s.redisClient, request.CustomerID, requestNo)
	if err := customerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer customerLock.Unlock(ctx)

	customer, err := s.customerRepo.GetByID(ctx, request.CustomerID)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.reservation.ConsumeTx(ctx, tx, customer, requestNo); err != nil {
			return err
		}

		now := time.Now()
		err := s.requestRepo.UpdateStatus(ctx, tx, requestNo,
			model.RequestStatusProcessing, model.RequestStatusCompleted,
			map[string]interface{}{
				"actual_qty":   actualQty,
				"completed_by": operator.ID,
				"completed_at": &now,
			})
		if err != nil {
			return err
		}

		return s.writeEvent(ctx, tx, model.EventRequestCompleted, requestNo, map[string]interface{}{
			"request_no":  requestNo,
			"customer_id": request.CustomerID,
			"amount":      request.ReservedAmount,
			"actual_qty":  actualQty,
			"from_status": model.RequestStatusProcessing,
			"to_status":   model.RequestStatusCompleted,
			"operator_id": operator.ID,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrHoldInvariant) {
			log.Printf("[严重] 核销时冻结余额不变量被破坏，事务已中止: requestNo=%s, customerID=%d", requestNo, request.CustomerID)
		}
		return nil, err
	}

	log.Printf("申请已完成: requestNo=%s, customerID=%d, amount=%s", requestNo, request.CustomerID, request.ReservedAmount)
	return s.requestRepo.GetByRequestNo(ctx, requestNo)
}

// Cancel 取消申请（Pending 或 Processing）
// Pending 取消没有预留，不动账；Processing 取消先释放冻结再流转，
// 同一事务提交，refunded 标志告诉调用方是否发生了退回
func (s *RequestService) Cancel(ctx context.Context, operator model.Operator, requestNo, remarks string) (bool, error) {
	if !model.CanPerform(operator.Role, model.OpCancelRequest) {
		return false, ErrPermissionDenied
	}
	if remarks == "" {
		return false, ErrRemarksRequired
	}

	request, err := s.requestRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return false, err
	}
	if request.Status != model.RequestStatusPending && request.Status != model.RequestStatusProcessing {
		return false, repository.ErrInvalidTransition
	}

	customerLock := lock.NewCustomerLock(s.redisClient, request.CustomerID, requestNo)
	if err := customerLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return false, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer customerLock.Unlock(ctx)

	refunded := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if request.Status == model.RequestStatusProcessing {
			customer, err := s.customerRepo.GetByID(ctx, request.CustomerID)
			if err != nil {
				return err
			}
			err = s.reservation.ReleaseTx(ctx, tx, customer, requestNo)
			if err != nil && !errors.Is(err, ErrAlreadyFinalized) {
				return err
			}
			refunded = err == nil
		}

		now := time.Now()
		err := s.requestRepo.UpdateStatus(ctx, tx, requestNo,
			request.Status, model.RequestStatusCancelled,
			map[string]interface{}{
				"remarks":      remarks,
				"cancelled_by": operator.ID,
				"cancelled_at": &now,
			})
		if err != nil {
			return err
		}

		return s.writeEvent(ctx, tx, model.EventRequestCancelled, requestNo, map[string]interface{}{
			"request_no":  requestNo,
			"customer_id": request.CustomerID,
			"amount":      request.ReservedAmount,
			"refunded":    refunded,
			"remarks":     remarks,
			"from_status": request.Status,
			"to_status":   model.RequestStatusCancelled,
			"operator_id": operator.ID,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrHoldInvariant) {
			log.Printf("[严重] 释放时冻结余额不变量被破坏，事务已中止: requestNo=%s, customerID=%d", requestNo, request.CustomerID)
		}
		return false, err
	}

	log.Printf("申请已取消: requestNo=%s, refunded=%v, remarks=%s", requestNo, refunded, remarks)
	return refunded, nil
}

func (s *RequestService) GetRequest(ctx context.Context, requestNo string) (*model.FillingRequest, error) {
	return s.requestRepo.GetByRequestNo(ctx, requestNo)
}

func (s *RequestService) ListCustomerRequests(ctx context.Context, customerID int64, page, pageSize int) ([]*model.FillingRequest, int64, error) {
	return s.requestRepo.ListByCustomerID(ctx, customerID, page, pageSize)
}

// writeEvent 写入审计事件到 outbox，与业务变更同事务提交，
// 由发送任务在事务提交后异步投递，绝不在提交前外发
func (s *RequestService) writeEvent(ctx context.Context, tx *gorm.DB, eventType, requestNo string, payload map[string]interface{}) error {
	payload["event_type"] = eventType
	payload["occurred_at"] = time.Now().Format(time.RFC3339)
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: requestNo,
		EventType:  eventType,
		Topic:      s.cfg.Kafka.Topic.RequestEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入审计事件失败: %w", err)
	}
	return nil
}
