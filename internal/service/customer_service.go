package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fuelengine/internal/config"
	"fuelengine/internal/model"
	"fuelengine/internal/repository"
	"fuelengine/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidBillingMode  = errors.New("计费模式不合法")
	ErrInvalidAmount       = errors.New("金额必须大于0")
	ErrNothingToSettle     = errors.New("没有待结清的欠款")
	ErrSettleNotEnough     = errors.New("结清金额不足以覆盖最早欠款日")
	ErrProcessingInFlight  = errors.New("存在处理中的申请，不能切换计费模式")
	ErrSettleModeMismatch  = errors.New("只有日限额客户需要结清欠款日")
)

// CustomerService 客户账户管理
// 计费模式互斥，只能在这里显式切换，引擎自己永远不推断模式；
// 余额字段只由预留管理动账，这里只负责充值、切换、结清这几个入口
type CustomerService struct {
	db              *gorm.DB
	cfg             *config.Config
	customerRepo    *repository.CustomerRepository
	requestRepo     *repository.RequestRepository
	transactionRepo *repository.TransactionRepository
}

func NewCustomerService(db *gorm.DB, cfg *config.Config) *CustomerService {
	return &CustomerService{
		db:              db,
		cfg:             cfg,
		customerRepo:    repository.NewCustomerRepository(db),
		requestRepo:     repository.NewRequestRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type CreateCustomerInput struct {
	Name        string
	BillingMode string
	CreditLimit decimal.Decimal
	DayLimit    int
}

func (s *CustomerService) CreateCustomer(ctx context.Context, operator model.Operator, in *CreateCustomerInput) (*model.Customer, error) {
	if !model.CanPerform(operator.Role, model.OpManageCustomer) {
		return nil, ErrPermissionDenied
	}
	if !model.ValidBillingMode(in.BillingMode) {
		return nil, ErrInvalidBillingMode
	}

	customer := &model.Customer{
		Name:        in.Name,
		BillingMode: in.BillingMode,
		CreditLimit: in.CreditLimit,
		DayLimit:    in.DayLimit,
	}
	// 后付费客户开户即有授信额度可用
	if in.BillingMode == model.BillingModePostpaid {
		customer.RawBalance = in.CreditLimit
	}

	if err := s.customerRepo.Create(ctx, customer); err != nil {
		return nil, fmt.Errorf("创建客户失败: %w", err)
	}
	return customer, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, customerID int64) (*model.Customer, error) {
	return s.customerRepo.GetByID(ctx, customerID)
}

// Recharge 充值（预付费口径，其他模式也允许，作为还款入账）
func (s *CustomerService) Recharge(ctx context.Context, operator model.Operator, customerID int64, amount decimal.Decimal) error {
	if !model.CanPerform(operator.Role, model.OpManageCustomer) {
		return ErrPermissionDenied
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.Recharge(ctx, tx, customerID, amount); err != nil {
			return fmt.Errorf("充值入账失败: %w", err)
		}

		trans := &model.BalanceTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			CustomerID:    customerID,
			Amount:        amount,
			Type:          model.TransactionTypeRecharge,
			RawBefore:     customer.RawBalance,
			RawAfter:      customer.RawBalance.Add(amount),
			HoldBefore:    customer.HoldBalance,
			HoldAfter:     customer.HoldBalance,
			TxnDate:       time.Now().Format("2006-01-02"),
			Settled:       true,
			Remark:        fmt.Sprintf("充值-操作员%d", operator.ID),
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录充值流水失败: %w", err)
		}
		return nil
	})
}

type SwitchBillingModeInput struct {
	CustomerID  int64
	BillingMode string
	CreditLimit decimal.Decimal
	DayLimit    int
}

// SwitchBillingMode 切换计费模式（管理员显式操作）
// 有处理中申请时禁止切换，避免在途冻结跨口径
func (s *CustomerService) SwitchBillingMode(ctx context.Context, operator model.Operator, in *SwitchBillingModeInput) (*model.Customer, error) {
	if !model.CanPerform(operator.Role, model.OpManageCustomer) {
		return nil, ErrPermissionDenied
	}
	if !model.ValidBillingMode(in.BillingMode) {
		return nil, ErrInvalidBillingMode
	}

	inFlight, err := s.requestRepo.CountProcessingByCustomerID(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		return nil, ErrProcessingInFlight
	}

	customer, err := s.customerRepo.GetByID(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}

	customer.BillingMode = in.BillingMode
	customer.CreditLimit = decimal.Zero
	customer.DayLimit = 0

	switch in.BillingMode {
	case model.BillingModePostpaid:
		customer.CreditLimit = in.CreditLimit
		// 可用余额重置为 授信额度 - 已核销
		customer.RawBalance = in.CreditLimit.Sub(customer.UsedAmount)
	case model.BillingModeDayLimit:
		customer.DayLimit = in.DayLimit
		customer.RawBalance = decimal.Zero
	case model.BillingModePrepaid:
		// 预付费从零开始，余额走充值入账
		customer.RawBalance = decimal.Zero
	}

	if err := s.customerRepo.SwitchBillingMode(ctx, nil, customer); err != nil {
		return nil, err
	}

	log.Printf("计费模式已切换: customerID=%d, mode=%s, operator=%d", in.CustomerID, in.BillingMode, operator.ID)
	return s.customerRepo.GetByID(ctx, in.CustomerID)
}

type SettleResult struct {
	SettleNo    string          `json:"settle_no"`
	SettledDay  string          `json:"settled_day"`
	DayAmount   decimal.Decimal `json:"day_amount"`
	DaysElapsed int             `json:"days_elapsed"`
}

// SettleOldestDay 日限额客户结清最早的欠款日，恢复准入资格
//
// 策略可配置（settle_requires_full_day）：
//   true  -> 结清金额必须覆盖该日全部核销金额才清掉这一天
//   false -> 任意金额的还款都视为清掉这一天
// 不管哪种策略，每次调用最多清一天，days_elapsed 按流水重算
func (s *CustomerService) SettleOldestDay(ctx context.Context, operator model.Operator, customerID int64, amount decimal.Decimal) (*SettleResult, error) {
	if !model.CanPerform(operator.Role, model.OpManageCustomer) {
		return nil, ErrPermissionDenied
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.BillingMode != model.BillingModeDayLimit {
		return nil, ErrSettleModeMismatch
	}

	result := &SettleResult{SettleNo: idgen.GenerateSettleNo()}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		day, err := s.transactionRepo.GetOldestUnsettledDay(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if day == "" {
			return ErrNothingToSettle
		}

		dayAmount, err := s.transactionRepo.SumUnsettledByDay(ctx, tx, customerID, day)
		if err != nil {
			return err
		}

		if s.cfg.Business.SettleRequiresFullDay && amount.LessThan(dayAmount) {
			return fmt.Errorf("%w: 该日欠款 %s，还款 %s", ErrSettleNotEnough, dayAmount, amount)
		}

		if _, err := s.transactionRepo.SettleDay(ctx, tx, customerID, day); err != nil {
			return fmt.Errorf("结清欠款日失败: %w", err)
		}

		days, err := s.transactionRepo.CountUnsettledDays(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if err := s.customerRepo.SetDaysElapsed(ctx, tx, customerID, days); err != nil {
			return err
		}

		trans := &model.BalanceTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			CustomerID:    customerID,
			Amount:        amount,
			Type:          model.TransactionTypeSettle,
			RawBefore:     customer.RawBalance,
			RawAfter:      customer.RawBalance,
			HoldBefore:    customer.HoldBalance,
			HoldAfter:     customer.HoldBalance,
			TxnDate:       time.Now().Format("2006-01-02"),
			Settled:       true,
			Remark:        fmt.Sprintf("结清-%s-%s", day, result.SettleNo),
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录结清流水失败: %w", err)
		}

		result.SettledDay = day
		result.DayAmount = dayAmount
		result.DaysElapsed = days
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("欠款日已结清: customerID=%d, day=%s, daysElapsed=%d", customerID, result.SettledDay, result.DaysElapsed)
	return result, nil
}

func (s *CustomerService) ListTransactions(ctx context.Context, customerID int64, page, pageSize int) ([]*model.BalanceTransaction, int64, error) {
	return s.transactionRepo.ListByCustomerID(ctx, customerID, page, pageSize)
}
