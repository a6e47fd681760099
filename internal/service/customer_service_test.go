package service

import (
	"context"
	"testing"

	"fuelengine/internal/model"
	"fuelengine/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCustomerService(t *testing.T) (*CustomerService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewCustomerService(db, newTestConfig()), db
}

// seedUnsettledConsume 直接落一笔未结清核销流水（模拟历史欠款日）
func seedUnsettledConsume(t *testing.T, db *gorm.DB, customerID int64, txnDate, amount string) {
	t.Helper()
	require.NoError(t, db.Create(&model.BalanceTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    customerID,
		Amount:        d(amount),
		Type:          model.TransactionTypeConsume,
		TxnDate:       txnDate,
		Settled:       false,
	}).Error)
}

func TestCreateCustomer_PostpaidStartsWithCredit(t *testing.T) {
	svc, _ := newCustomerService(t)

	customer, err := svc.CreateCustomer(context.Background(), testAdmin, &CreateCustomerInput{
		Name: "运输公司A", BillingMode: model.BillingModePostpaid, CreditLimit: d("50000"),
	})
	require.NoError(t, err)

	// 后付费开户即有授信额度可用
	assert.True(t, customer.RawBalance.Equal(d("50000")))
	assert.True(t, customer.CreditLimit.Equal(d("50000")))
}

func TestCreateCustomer_Validation(t *testing.T) {
	svc, _ := newCustomerService(t)
	ctx := context.Background()

	_, err := svc.CreateCustomer(ctx, testAdmin, &CreateCustomerInput{
		Name: "X", BillingMode: "WEEKLY",
	})
	assert.ErrorIs(t, err, ErrInvalidBillingMode)

	// 账户管理只有管理员能做
	_, err = svc.CreateCustomer(ctx, testSupervisor, &CreateCustomerInput{
		Name: "X", BillingMode: model.BillingModePrepaid,
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRecharge(t *testing.T) {
	svc, db := newCustomerService(t)
	ctx := context.Background()
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModePrepaid, RawBalance: d("100"),
	})

	require.NoError(t, svc.Recharge(ctx, testAdmin, customer.ID, d("900")))

	fresh := reloadCustomer(t, db, customer.ID)
	assert.True(t, fresh.RawBalance.Equal(d("1000")))

	var count int64
	require.NoError(t, db.Model(&model.BalanceTransaction{}).
		Where("customer_id = ? AND type = ?", customer.ID, model.TransactionTypeRecharge).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, svc.Recharge(ctx, testAdmin, customer.ID, d("0")), ErrInvalidAmount)
	assert.ErrorIs(t, svc.Recharge(ctx, testAdmin, customer.ID, d("-5")), ErrInvalidAmount)
}

func TestSwitchBillingMode(t *testing.T) {
	svc, db := newCustomerService(t)
	ctx := context.Background()
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModePrepaid,
		RawBalance: d("300"), UsedAmount: d("2000"),
	})

	// 切到后付费：可用余额重置为 授信 - 已核销
	updated, err := svc.SwitchBillingMode(ctx, testAdmin, &SwitchBillingModeInput{
		CustomerID: customer.ID, BillingMode: model.BillingModePostpaid, CreditLimit: d("10000"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.BillingModePostpaid, updated.BillingMode)
	assert.True(t, updated.RawBalance.Equal(d("8000")))

	// 切到日限额：资金不再是闸门
	updated, err = svc.SwitchBillingMode(ctx, testAdmin, &SwitchBillingModeInput{
		CustomerID: customer.ID, BillingMode: model.BillingModeDayLimit, DayLimit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.DayLimit)
	assert.True(t, updated.RawBalance.Equal(d("0")))
	assert.True(t, updated.CreditLimit.Equal(d("0")))
}

func TestSwitchBillingMode_BlockedByInFlightRequest(t *testing.T) {
	svc, db := newCustomerService(t)
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModePrepaid, RawBalance: d("1000"),
	})
	require.NoError(t, db.Create(&model.FillingRequest{
		RequestNo: "FRQ-INFLIGHT", CustomerID: customer.ID, ProductID: 1, SubProductID: 11,
		Category: model.CategoryRetail, RequestedQty: d("100"), UnitPrice: d("8.50"),
		ReservedAmount: d("850"), Status: model.RequestStatusProcessing,
		Eligibility: model.EligibilityYes, CreatedBy: 1,
	}).Error)

	// 在途冻结跨计费口径说不清楚，直接禁止切换
	_, err := svc.SwitchBillingMode(context.Background(), testAdmin, &SwitchBillingModeInput{
		CustomerID: customer.ID, BillingMode: model.BillingModePostpaid, CreditLimit: d("10000"),
	})
	assert.ErrorIs(t, err, ErrProcessingInFlight)
}

func TestSettleOldestDay(t *testing.T) {
	svc, db := newCustomerService(t)
	ctx := context.Background()
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModeDayLimit,
		DayLimit: 2, DaysElapsed: 2, UsedAmount: d("500"),
	})
	seedUnsettledConsume(t, db, customer.ID, "2026-08-01", "300")
	seedUnsettledConsume(t, db, customer.ID, "2026-08-02", "200")

	// 每次只清最早的一天
	result, err := svc.SettleOldestDay(ctx, testAdmin, customer.ID, d("300"))
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", result.SettledDay)
	assert.True(t, result.DayAmount.Equal(d("300")))
	assert.Equal(t, 1, result.DaysElapsed)

	fresh := reloadCustomer(t, db, customer.ID)
	assert.Equal(t, 1, fresh.DaysElapsed, "结清一天即恢复一天额度")

	// 第二天也结清后没有欠款可结
	_, err = svc.SettleOldestDay(ctx, testAdmin, customer.ID, d("200"))
	require.NoError(t, err)
	_, err = svc.SettleOldestDay(ctx, testAdmin, customer.ID, d("100"))
	assert.ErrorIs(t, err, ErrNothingToSettle)
}

func TestSettleOldestDay_FullDayPolicy(t *testing.T) {
	svc, db := newCustomerService(t)
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModeDayLimit, DayLimit: 2, DaysElapsed: 1,
	})
	seedUnsettledConsume(t, db, customer.ID, "2026-08-01", "300")

	// settle_requires_full_day=true：还款盖不住整日欠款就不清这一天
	_, err := svc.SettleOldestDay(context.Background(), testAdmin, customer.ID, d("100"))
	assert.ErrorIs(t, err, ErrSettleNotEnough)

	fresh := reloadCustomer(t, db, customer.ID)
	assert.Equal(t, 1, fresh.DaysElapsed)
}

func TestSettleOldestDay_PartialPaymentPolicy(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	cfg.Business.SettleRequiresFullDay = false
	svc := NewCustomerService(db, cfg)

	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModeDayLimit, DayLimit: 2, DaysElapsed: 1,
	})
	seedUnsettledConsume(t, db, customer.ID, "2026-08-01", "300")

	// 宽松策略下任意还款都清掉最早一天
	result, err := svc.SettleOldestDay(context.Background(), testAdmin, customer.ID, d("100"))
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", result.SettledDay)
	assert.Equal(t, 0, result.DaysElapsed)
}

func TestSettleOldestDay_OnlyDayLimitMode(t *testing.T) {
	svc, db := newCustomerService(t)
	customer := seedCustomer(t, db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModePrepaid, RawBalance: d("1000"),
	})

	_, err := svc.SettleOldestDay(context.Background(), testAdmin, customer.ID, d("100"))
	assert.ErrorIs(t, err, ErrSettleModeMismatch)
}
