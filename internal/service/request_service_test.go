package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fuelengine/internal/model"
	"fuelengine/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type requestTestEnv struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client
	svc *RequestService
}

func newRequestTestEnv(t *testing.T) *requestTestEnv {
	t.Helper()

	db := newTestDB(t)
	mr, rdb := newTestRedis(t)
	cfg := newTestConfig()

	env := &requestTestEnv{
		db:  db,
		mr:  mr,
		rdb: rdb,
		svc: NewRequestService(db, rdb, cfg, NewRedisStockProvider(rdb)),
	}
	env.seedCatalog(t)
	return env
}

// seedCatalog 0号柴油：阈值 5000 升，零售 8.50/升，批发 7.20/升（桶装）
func (e *requestTestEnv) seedCatalog(t *testing.T) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Product{
		ID: 1, Code: "DIESEL-0", Name: "0号柴油", BulkThreshold: d("5000"),
	}).Error)
	require.NoError(t, e.db.Create(&model.SubProduct{
		ID: 11, ProductID: 1, Code: "DIESEL-0-R", Category: model.CategoryRetail,
		MinQty: d("10"), MaxQty: d("5000"), PackagingUnit: model.PackagingUnitLiter, UnitPrice: d("8.50"),
	}).Error)
	require.NoError(t, e.db.Create(&model.SubProduct{
		ID: 12, ProductID: 1, Code: "DIESEL-0-B", Category: model.CategoryBulk,
		MinQty: d("3000"), MaxQty: d("100000"), PackagingUnit: model.PackagingUnitBarrel, UnitPrice: d("7.20"),
	}).Error)
}

func (e *requestTestEnv) seedPrepaid(t *testing.T, raw string) *model.Customer {
	t.Helper()
	return seedCustomer(t, e.db, &model.Customer{
		Name: "测试客户", BillingMode: model.BillingModePrepaid, RawBalance: d(raw),
	})
}

func (e *requestTestEnv) setStock(t *testing.T, productID int64, qty string) {
	t.Helper()
	require.NoError(t, e.rdb.Set(context.Background(), fmt.Sprintf("fuel:stock:product:%d", productID), qty, 0).Err())
}

// otpFor 测试从 redis 直接取码，线上走通知服务投递
func (e *requestTestEnv) otpFor(t *testing.T, requestNo string) string {
	t.Helper()
	code, err := e.rdb.Get(context.Background(), fmt.Sprintf("fuel:otp:request:%s", requestNo)).Result()
	require.NoError(t, err)
	return code
}

func (e *requestTestEnv) createPending(t *testing.T, customerID int64, qty string) *model.FillingRequest {
	t.Helper()
	request, err := e.svc.Create(context.Background(), testAdmin, &CreateRequestInput{
		CustomerID: customerID, ProductID: 1, Qty: d(qty),
	})
	require.NoError(t, err)
	return request
}

func (e *requestTestEnv) beginProcessing(t *testing.T, requestNo string) *model.FillingRequest {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.svc.SendOtp(ctx, testAdmin, requestNo))
	request, err := e.svc.BeginProcessing(ctx, testAdmin, requestNo, e.otpFor(t, requestNo))
	require.NoError(t, err)
	return request
}

func TestRequestLifecycle_HappyPath(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	env.setStock(t, 1, "100000")

	// 创建：目录解析 + 参考性资格结论
	request := env.createPending(t, customer.ID, "100")
	assert.Equal(t, model.RequestStatusPending, request.Status)
	assert.Equal(t, model.CategoryRetail, request.Category)
	assert.Equal(t, int64(11), request.SubProductID)
	assert.True(t, request.UnitPrice.Equal(d("8.50")))
	assert.True(t, request.ReservedAmount.Equal(d("850")))
	assert.Equal(t, model.EligibilityYes, request.Eligibility)

	// 进入处理：验证码 + 预留
	request = env.beginProcessing(t, request.RequestNo)
	assert.Equal(t, model.RequestStatusProcessing, request.Status)
	assert.Equal(t, testAdmin.ID, request.ProcessedBy)
	require.NotNil(t, request.ProcessedAt)

	fresh := reloadCustomer(t, env.db, customer.ID)
	assert.True(t, fresh.RawBalance.Equal(d("99150")))
	assert.True(t, fresh.HoldBalance.Equal(d("850")))

	// 完成：核销冻结，金额按预留时定的价，不按实际加注量重算
	request, err := env.svc.Complete(ctx, testAdmin, request.RequestNo, d("95"))
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, request.Status)
	require.NotNil(t, request.ActualQty)
	assert.True(t, request.ActualQty.Equal(d("95")))
	assert.Equal(t, testAdmin.ID, request.CompletedBy)

	final := reloadCustomer(t, env.db, customer.ID)
	assert.True(t, final.RawBalance.Equal(d("99150")))
	assert.True(t, final.HoldBalance.Equal(d("0")))
	assert.True(t, final.UsedAmount.Equal(d("850")))

	// 每次流转都有审计事件进 outbox
	for _, eventType := range []string{
		model.EventRequestCreated, model.EventRequestOtpSent,
		model.EventRequestProcessing, model.EventRequestCompleted,
	} {
		var count int64
		require.NoError(t, env.db.Model(&model.OutboxMessage{}).
			Where("event_type = ? AND message_key = ?", eventType, request.RequestNo).
			Count(&count).Error)
		assert.Equal(t, int64(1), count, "事件 %s 应恰好一条", eventType)
	}
}

func TestRequestLifecycle_CancelProcessingRefunds(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "1000")

	request := env.createPending(t, customer.ID, "70") // 595 元
	env.beginProcessing(t, request.RequestNo)

	mid := reloadCustomer(t, env.db, customer.ID)
	require.True(t, mid.HoldBalance.Equal(d("595")))

	refunded, err := env.svc.Cancel(ctx, testAdmin, request.RequestNo, "客户改期")
	require.NoError(t, err)
	assert.True(t, refunded)

	final := reloadCustomer(t, env.db, customer.ID)
	assert.True(t, final.RawBalance.Equal(d("1000")), "取消后冻结全额退回")
	assert.True(t, final.HoldBalance.Equal(d("0")))

	got, err := env.svc.GetRequest(ctx, request.RequestNo)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCancelled, got.Status)
	assert.Equal(t, "客户改期", got.Remarks)
	assert.Equal(t, testAdmin.ID, got.CancelledBy)
}

func TestRequestLifecycle_CancelPendingNoRefund(t *testing.T) {
	env := newRequestTestEnv(t)
	customer := env.seedPrepaid(t, "1000")
	request := env.createPending(t, customer.ID, "70")

	// Pending 没有预留，取消不动账
	refunded, err := env.svc.Cancel(context.Background(), testAdmin, request.RequestNo, "录错了")
	require.NoError(t, err)
	assert.False(t, refunded)

	fresh := reloadCustomer(t, env.db, customer.ID)
	assert.True(t, fresh.RawBalance.Equal(d("1000")))
	assert.True(t, fresh.HoldBalance.Equal(d("0")))
}

func TestRequestLifecycle_CancelRequiresRemarks(t *testing.T) {
	env := newRequestTestEnv(t)
	customer := env.seedPrepaid(t, "1000")
	request := env.createPending(t, customer.ID, "70")

	_, err := env.svc.Cancel(context.Background(), testAdmin, request.RequestNo, "")
	assert.ErrorIs(t, err, ErrRemarksRequired)
}

func TestRequestLifecycle_CompletedIsTerminal(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	env.setStock(t, 1, "100000")

	request := env.createPending(t, customer.ID, "100")
	env.beginProcessing(t, request.RequestNo)
	_, err := env.svc.Complete(ctx, testAdmin, request.RequestNo, d("100"))
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, testAdmin, request.RequestNo, "反悔")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	_, err = env.svc.Complete(ctx, testAdmin, request.RequestNo, d("100"))
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestBeginProcessing_OtpGate(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	request := env.createPending(t, customer.ID, "100")

	// 没发过验证码：任何输入都等同过期
	_, err := env.svc.BeginProcessing(ctx, testAdmin, request.RequestNo, "123456")
	assert.ErrorIs(t, err, ErrOtpExpired)

	require.NoError(t, env.svc.SendOtp(ctx, testAdmin, request.RequestNo))
	code := env.otpFor(t, request.RequestNo)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	_, err = env.svc.BeginProcessing(ctx, testAdmin, request.RequestNo, wrong)
	assert.ErrorIs(t, err, ErrOtpMismatch)

	// 错误尝试不消费验证码，正确的码仍然有效
	got, err := env.svc.BeginProcessing(ctx, testAdmin, request.RequestNo, code)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusProcessing, got.Status)
}

func TestBeginProcessing_OtpExpires(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	request := env.createPending(t, customer.ID, "100")

	require.NoError(t, env.svc.SendOtp(ctx, testAdmin, request.RequestNo))
	code := env.otpFor(t, request.RequestNo)

	env.mr.FastForward(61 * time.Second)
	_, err := env.svc.BeginProcessing(ctx, testAdmin, request.RequestNo, code)
	assert.ErrorIs(t, err, ErrOtpExpired)

	got, err := env.svc.GetRequest(ctx, request.RequestNo)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status, "验证失败不动状态")
}

func TestBeginProcessing_AuthoritativeEligibilityCheck(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "1000")
	request := env.createPending(t, customer.ID, "100") // 850 元，创建时资格通过
	assert.Equal(t, model.EligibilityYes, request.Eligibility)

	// 创建到处理之间余额被别的在途申请占掉了
	require.NoError(t, env.db.Model(&model.Customer{}).
		Where("id = ?", customer.ID).
		Updates(map[string]interface{}{
			"raw_balance":  d("100"),
			"hold_balance": d("900"),
			"version":      gorm.Expr("version + 1"),
		}).Error)

	require.NoError(t, env.svc.SendOtp(ctx, testAdmin, request.RequestNo))
	_, err := env.svc.BeginProcessing(ctx, testAdmin, request.RequestNo, env.otpFor(t, request.RequestNo))
	assert.ErrorIs(t, err, ErrIneligible)

	// 申请留在 Pending，权威结论回写
	got, err := env.svc.GetRequest(ctx, request.RequestNo)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
	assert.Equal(t, model.EligibilityNo, got.Eligibility)
	assert.NotEmpty(t, got.EligibilityReason)
}

func TestComplete_StockGate(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	request := env.createPending(t, customer.ID, "100")
	env.beginProcessing(t, request.RequestNo)

	// 库存键不存在按零库存处理
	_, err := env.svc.Complete(ctx, testAdmin, request.RequestNo, d("100"))
	assert.ErrorIs(t, err, ErrStockNotEnough)

	env.setStock(t, 1, "50")
	_, err = env.svc.Complete(ctx, testAdmin, request.RequestNo, d("100"))
	assert.ErrorIs(t, err, ErrStockNotEnough)

	got, err := env.svc.GetRequest(ctx, request.RequestNo)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusProcessing, got.Status, "库存不足不吞掉冻结")

	env.setStock(t, 1, "100")
	_, err = env.svc.Complete(ctx, testAdmin, request.RequestNo, d("100"))
	require.NoError(t, err)
}

func TestUpdateQuantity_CrossesBulkThreshold(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")

	request := env.createPending(t, customer.ID, "4999")
	assert.Equal(t, model.CategoryRetail, request.Category)

	// 数量跨过阈值自动切到批发变体，单价、金额一起换算
	updated, err := env.svc.UpdateQuantity(ctx, testAdmin, request.RequestNo, d("5001"))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryBulk, updated.Category)
	assert.Equal(t, int64(12), updated.SubProductID)
	assert.True(t, updated.UnitPrice.Equal(d("7.20")))
	assert.True(t, updated.ReservedAmount.Equal(d("36007.20")), "amount=%s", updated.ReservedAmount)

	// 改回去也能回到零售
	updated, err = env.svc.UpdateQuantity(ctx, testAdmin, request.RequestNo, d("100"))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryRetail, updated.Category)
}

func TestUpdateQuantity_OnlyPending(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	request := env.createPending(t, customer.ID, "100")
	env.beginProcessing(t, request.RequestNo)

	// 金额已冻结，数量不允许再动
	_, err := env.svc.UpdateQuantity(ctx, testAdmin, request.RequestNo, d("200"))
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestRequestService_RoleGates(t *testing.T) {
	env := newRequestTestEnv(t)
	ctx := context.Background()
	customer := env.seedPrepaid(t, "100000")
	request := env.createPending(t, customer.ID, "100")

	// 受限操作员不可取消、不可改数量
	_, err := env.svc.Cancel(ctx, testOperator, request.RequestNo, "想取消")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = env.svc.UpdateQuantity(ctx, testOperator, request.RequestNo, d("200"))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// 但可以推进流程
	require.NoError(t, env.svc.SendOtp(ctx, testOperator, request.RequestNo))
	_, err = env.svc.BeginProcessing(ctx, testOperator, request.RequestNo, env.otpFor(t, request.RequestNo))
	require.NoError(t, err)

	// 主管可以取消
	_, err = env.svc.Cancel(ctx, testSupervisor, request.RequestNo, "主管叫停")
	require.NoError(t, err)
}

func TestCreate_QtyOutOfRangeSurfacesBounds(t *testing.T) {
	env := newRequestTestEnv(t)
	customer := env.seedPrepaid(t, "100000")

	_, err := env.svc.Create(context.Background(), testAdmin, &CreateRequestInput{
		CustomerID: customer.ID, ProductID: 1, Qty: d("5"),
	})
	var qtyErr *QtyOutOfRangeError
	require.ErrorAs(t, err, &qtyErr)
	assert.True(t, qtyErr.Min.Equal(d("10")))
}
