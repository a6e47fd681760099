package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fuelengine/internal/model"
	"fuelengine/internal/repository"
	"fuelengine/pkg/idgen"

	"gorm.io/gorm"
)

var (
	// ErrAlreadyFinalized 预留凭据已被释放或核销，重复操作是无害的空操作，
	// 绝不能第二次动账
	ErrAlreadyFinalized = errors.New("预留凭据已终结")
	// ErrReservationMissing 找不到该申请的预留流水，说明状态和账目已经脱节
	ErrReservationMissing = errors.New("预留凭据不存在")
)

// ReservationService 资金预留管理
//
// 预留凭据就是 RESERVE 流水行（按申请单号定位），释放/核销先查凭据
// 再动账，天然幂等。三个操作都要求在上层的数据库事务内执行，
// 保证余额变动和申请状态流转一次性提交
type ReservationService struct {
	customerRepo    *repository.CustomerRepository
	transactionRepo *repository.TransactionRepository
}

func NewReservationService(db *gorm.DB) *ReservationService {
	return &ReservationService{
		customerRepo:    repository.NewCustomerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// ReserveTx 预留资金：可用转冻结，并落 RESERVE 流水
// customer 是调用方刚读出的快照，CAS 带 version 条件，
// 版本不匹配返回乐观锁冲突，由调用方拿最新快照重试
func (s *ReservationService) ReserveTx(ctx context.Context, tx *gorm.DB, customer *model.Customer, request *model.FillingRequest) error {
	existing, err := s.transactionRepo.GetByRequestNoAndType(ctx, tx, request.RequestNo, model.TransactionTypeReserve)
	if err != nil {
		return fmt.Errorf("查询预留流水失败: %w", err)
	}
	if existing != nil {
		return nil
	}

	// 日限额客户资金不设闸门，预留只登记冻结；其余模式可用转冻结
	amount := request.ReservedAmount
	rawAfter := customer.RawBalance
	if customer.BillingMode == model.BillingModeDayLimit {
		err = s.customerRepo.ReserveHoldOnly(ctx, tx, customer.ID, amount, customer.Version)
	} else {
		err = s.customerRepo.Reserve(ctx, tx, customer.ID, amount, customer.Version)
		rawAfter = customer.RawBalance.Sub(amount)
	}
	if err != nil {
		return err
	}

	trans := &model.BalanceTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    customer.ID,
		RequestNo:     request.RequestNo,
		Amount:        amount,
		Type:          model.TransactionTypeReserve,
		RawBefore:     customer.RawBalance,
		RawAfter:      rawAfter,
		HoldBefore:    customer.HoldBalance,
		HoldAfter:     customer.HoldBalance.Add(amount),
		TxnDate:       time.Now().Format("2006-01-02"),
		Settled:       true, // 预留本身不构成欠款
		Remark:        fmt.Sprintf("预留-%s", request.RequestNo),
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录预留流水失败: %w", err)
	}

	return nil
}

// ReleaseTx 释放预留：冻结退回可用（取消处理中申请时调用）
// 已有 RELEASE 或 CONSUME 流水则返回 ErrAlreadyFinalized，不再动账
func (s *ReservationService) ReleaseTx(ctx context.Context, tx *gorm.DB, customer *model.Customer, requestNo string) error {
	reserve, err := s.finalizeCheck(ctx, tx, requestNo)
	if err != nil {
		return err
	}

	// 与预留对称：日限额客户没有资金可退，只扣减冻结
	amount := reserve.Amount
	rawAfter := customer.RawBalance
	if customer.BillingMode == model.BillingModeDayLimit {
		err = s.customerRepo.ReleaseHoldOnly(ctx, tx, customer.ID, amount)
	} else {
		err = s.customerRepo.Release(ctx, tx, customer.ID, amount)
		rawAfter = customer.RawBalance.Add(amount)
	}
	if err != nil {
		return err
	}

	trans := &model.BalanceTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    customer.ID,
		RequestNo:     requestNo,
		Amount:        amount,
		Type:          model.TransactionTypeRelease,
		RawBefore:     customer.RawBalance,
		RawAfter:      rawAfter,
		HoldBefore:    customer.HoldBalance,
		HoldAfter:     customer.HoldBalance.Sub(amount),
		TxnDate:       time.Now().Format("2006-01-02"),
		Settled:       true,
		Remark:        fmt.Sprintf("取消释放-%s", requestNo),
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录释放流水失败: %w", err)
	}

	return nil
}

// ConsumeTx 核销预留：冻结永久扣减，资金不回可用（完成申请时调用）
// 日限额客户的 CONSUME 流水以未结清状态入账，构成欠款天数
func (s *ReservationService) ConsumeTx(ctx context.Context, tx *gorm.DB, customer *model.Customer, requestNo string) error {
	reserve, err := s.finalizeCheck(ctx, tx, requestNo)
	if err != nil {
		return err
	}

	amount := reserve.Amount
	if err := s.customerRepo.Consume(ctx, tx, customer.ID, amount); err != nil {
		return err
	}

	trans := &model.BalanceTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    customer.ID,
		RequestNo:     requestNo,
		Amount:        amount,
		Type:          model.TransactionTypeConsume,
		RawBefore:     customer.RawBalance,
		RawAfter:      customer.RawBalance,
		HoldBefore:    customer.HoldBalance,
		HoldAfter:     customer.HoldBalance.Sub(amount),
		TxnDate:       time.Now().Format("2006-01-02"),
		Settled:       customer.BillingMode != model.BillingModeDayLimit,
		Remark:        fmt.Sprintf("完成核销-%s", requestNo),
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录核销流水失败: %w", err)
	}

	if customer.BillingMode == model.BillingModeDayLimit {
		days, err := s.transactionRepo.CountUnsettledDays(ctx, tx, customer.ID)
		if err != nil {
			return fmt.Errorf("统计未结清天数失败: %w", err)
		}
		if err := s.customerRepo.SetDaysElapsed(ctx, tx, customer.ID, days); err != nil {
			return fmt.Errorf("更新未结清天数失败: %w", err)
		}
	}

	return nil
}

// finalizeCheck 定位预留凭据并校验尚未终结
func (s *ReservationService) finalizeCheck(ctx context.Context, tx *gorm.DB, requestNo string) (*model.BalanceTransaction, error) {
	reserve, err := s.transactionRepo.GetByRequestNoAndType(ctx, tx, requestNo, model.TransactionTypeReserve)
	if err != nil {
		return nil, fmt.Errorf("查询预留流水失败: %w", err)
	}
	if reserve == nil {
		return nil, ErrReservationMissing
	}

	for _, finalType := range []string{model.TransactionTypeRelease, model.TransactionTypeConsume} {
		final, err := s.transactionRepo.GetByRequestNoAndType(ctx, tx, requestNo, finalType)
		if err != nil {
			return nil, fmt.Errorf("查询终结流水失败: %w", err)
		}
		if final != nil {
			return nil, ErrAlreadyFinalized
		}
	}

	return reserve, nil
}
