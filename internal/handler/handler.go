package handler

import (
	"errors"
	"strconv"

	"fuelengine/internal/config"
	"fuelengine/internal/model"
	"fuelengine/internal/repository"
	"fuelengine/internal/service"
	"fuelengine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	customerService *service.CustomerService
	catalogService  *service.CatalogService
	requestService  *service.RequestService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		customerService: service.NewCustomerService(db, cfg),
		catalogService:  service.NewCatalogService(db),
		requestService:  service.NewRequestService(db, rdb, cfg, service.NewRedisStockProvider(rdb)),
	}
}

// respondError 业务错误统一映射为响应码
func respondError(c *gin.Context, err error) {
	var qtyErr *service.QtyOutOfRangeError

	switch {
	case errors.Is(err, repository.ErrCustomerNotFound):
		response.BusinessError(c, response.CodeCustomerNotFound, err.Error())
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, service.ErrSubProductNotFound):
		response.BusinessError(c, response.CodeProductNotFound, err.Error())
	case errors.Is(err, repository.ErrRequestNotFound):
		response.BusinessError(c, response.CodeRequestNotFound, err.Error())
	case errors.As(err, &qtyErr):
		response.BusinessError(c, response.CodeQtyOutOfRange, err.Error())
	case errors.Is(err, service.ErrIneligible):
		response.BusinessError(c, response.CodeIneligible, err.Error())
	case errors.Is(err, repository.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrOtpExpired):
		response.BusinessError(c, response.CodeOtpExpired, err.Error())
	case errors.Is(err, service.ErrOtpMismatch):
		response.BusinessError(c, response.CodeOtpMismatch, err.Error())
	case errors.Is(err, service.ErrOtpConsumed):
		response.BusinessError(c, response.CodeOtpConsumed, err.Error())
	case errors.Is(err, service.ErrStockNotEnough):
		response.BusinessError(c, response.CodeStockNotEnough, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		response.PermissionDenied(c, err.Error())
	case errors.Is(err, service.ErrNothingToSettle),
		errors.Is(err, service.ErrSettleNotEnough),
		errors.Is(err, service.ErrSettleModeMismatch):
		response.BusinessError(c, response.CodeSettleRejected, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidBillingMode),
		errors.Is(err, service.ErrRemarksRequired),
		errors.Is(err, service.ErrProcessingInFlight):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseDecimal(c *gin.Context, raw, field string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		response.ParamError(c, field+" 参数错误")
		return decimal.Zero, false
	}
	return d, true
}

// ============================================================
// 客户账户接口
// ============================================================

// CreateCustomerRequest 开户请求
type CreateCustomerRequest struct {
	Name        string `json:"name" binding:"required"`
	BillingMode string `json:"billing_mode" binding:"required"`
	CreditLimit string `json:"credit_limit"`
	DayLimit    int    `json:"day_limit"`
}

// CreateCustomer 开户
// POST /api/v1/customer/create
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	creditLimit := decimal.Zero
	if req.CreditLimit != "" {
		var ok bool
		if creditLimit, ok = parseDecimal(c, req.CreditLimit, "credit_limit"); !ok {
			return
		}
	}

	customer, err := h.customerService.CreateCustomer(c.Request.Context(), getOperator(c), &service.CreateCustomerInput{
		Name:        req.Name,
		BillingMode: req.BillingMode,
		CreditLimit: creditLimit,
		DayLimit:    req.DayLimit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, customer)
}

// GetBalance 查询客户余额（受限操作员不可见）
// GET /api/v1/customer/balance?customer_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	operator := getOperator(c)
	if !model.CanPerform(operator.Role, model.OpViewBalance) {
		response.PermissionDenied(c, "当前角色不可查看余额")
		return
	}

	customerID, err := strconv.ParseInt(c.Query("customer_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "customer_id 参数错误")
		return
	}

	customer, err := h.customerService.GetCustomer(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"customer_id":         customer.ID,
		"billing_mode":        customer.BillingMode,
		"raw_balance":         customer.RawBalance,
		"hold_balance":        customer.HoldBalance,
		"available_for_spend": customer.AvailableForSpend(), // 仅展示口径
		"credit_limit":        customer.CreditLimit,
		"used_amount":         customer.UsedAmount,
		"day_limit":           customer.DayLimit,
		"days_elapsed":        customer.DaysElapsed,
	})
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	CustomerID int64  `json:"customer_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// Recharge 充值
// POST /api/v1/customer/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseDecimal(c, req.Amount, "amount")
	if !ok {
		return
	}

	if err := h.customerService.Recharge(c.Request.Context(), getOperator(c), req.CustomerID, amount); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "充值成功"})
}

// SwitchBillingModeRequest 切换计费模式请求
type SwitchBillingModeRequest struct {
	CustomerID  int64  `json:"customer_id" binding:"required"`
	BillingMode string `json:"billing_mode" binding:"required"`
	CreditLimit string `json:"credit_limit"`
	DayLimit    int    `json:"day_limit"`
}

// SwitchBillingMode 切换计费模式
// POST /api/v1/customer/switch-mode
func (h *Handler) SwitchBillingMode(c *gin.Context) {
	var req SwitchBillingModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	creditLimit := decimal.Zero
	if req.CreditLimit != "" {
		var ok bool
		if creditLimit, ok = parseDecimal(c, req.CreditLimit, "credit_limit"); !ok {
			return
		}
	}

	customer, err := h.customerService.SwitchBillingMode(c.Request.Context(), getOperator(c), &service.SwitchBillingModeInput{
		CustomerID:  req.CustomerID,
		BillingMode: req.BillingMode,
		CreditLimit: creditLimit,
		DayLimit:    req.DayLimit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, customer)
}

// SettleRequest 结清欠款日请求
type SettleRequest struct {
	CustomerID int64  `json:"customer_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// SettleDay 日限额客户结清最早欠款日
// POST /api/v1/customer/settle
func (h *Handler) SettleDay(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseDecimal(c, req.Amount, "amount")
	if !ok {
		return
	}

	result, err := h.customerService.SettleOldestDay(c.Request.Context(), getOperator(c), req.CustomerID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// ListTransactions 客户资金流水
// GET /api/v1/customer/transactions?customer_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	operator := getOperator(c)
	if !model.CanPerform(operator.Role, model.OpViewBalance) {
		response.PermissionDenied(c, "当前角色不可查看流水")
		return
	}

	customerID, err := strconv.ParseInt(c.Query("customer_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "customer_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.customerService.ListTransactions(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 目录接口
// ============================================================

// ResolveCatalog 子商品解析（UI 只许调这里，禁止自行复刻阈值）
// GET /api/v1/catalog/resolve?product_id=xxx&qty=xxx
func (h *Handler) ResolveCatalog(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Query("product_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "product_id 参数错误")
		return
	}

	qty, ok := parseDecimal(c, c.Query("qty"), "qty")
	if !ok {
		return
	}

	resolution, err := h.catalogService.Resolve(c.Request.Context(), productID, qty)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resolution)
}

// ============================================================
// 加油申请接口
// ============================================================

// CreateFillingRequest 创建申请请求
type CreateFillingRequest struct {
	CustomerID int64  `json:"customer_id" binding:"required"`
	ProductID  int64  `json:"product_id" binding:"required"`
	Qty        string `json:"qty" binding:"required"`
}

// CreateRequest 创建加油申请
// POST /api/v1/request/create
func (h *Handler) CreateRequest(c *gin.Context) {
	var req CreateFillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	qty, ok := parseDecimal(c, req.Qty, "qty")
	if !ok {
		return
	}

	request, err := h.requestService.Create(c.Request.Context(), getOperator(c), &service.CreateRequestInput{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Qty:        qty,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, request)
}

// UpdateQuantityRequest 变更数量请求
type UpdateQuantityRequest struct {
	RequestNo string `json:"request_no" binding:"required"`
	Qty       string `json:"qty" binding:"required"`
}

// UpdateQuantity 变更申请数量（可能触发零售/批发重新解析）
// POST /api/v1/request/quantity
func (h *Handler) UpdateQuantity(c *gin.Context) {
	var req UpdateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	qty, ok := parseDecimal(c, req.Qty, "qty")
	if !ok {
		return
	}

	request, err := h.requestService.UpdateQuantity(c.Request.Context(), getOperator(c), req.RequestNo, qty)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, request)
}

// SendOtp 发送处理确认验证码
// POST /api/v1/request/otp/send
func (h *Handler) SendOtp(c *gin.Context) {
	var req struct {
		RequestNo string `json:"request_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.requestService.SendOtp(c.Request.Context(), getOperator(c), req.RequestNo); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "验证码已发送"})
}

// BeginProcessingRequest 进入处理请求
type BeginProcessingRequest struct {
	RequestNo string `json:"request_no" binding:"required"`
	OtpCode   string `json:"otp_code" binding:"required"`
}

// BeginProcessing 申请进入处理
// POST /api/v1/request/process
//
// 【关键点】这是整个引擎最核心的操作，需要保证：
// 1. 验证码单次有效：一次校验成功只解锁这一次流转
// 2. 原子性：资金预留、流水记录、状态流转必须同时成功或同时失败
// 3. 并发安全：同客户并发申请靠乐观锁串行化，冻结合计绝不超出可用余额
func (h *Handler) BeginProcessing(c *gin.Context) {
	var req BeginProcessingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.requestService.BeginProcessing(c.Request.Context(), getOperator(c), req.RequestNo, req.OtpCode)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, request)
}

// CompleteRequestBody 完成申请请求
type CompleteRequestBody struct {
	RequestNo string `json:"request_no" binding:"required"`
	ActualQty string `json:"actual_qty" binding:"required"`
}

// CompleteRequest 完成申请（核销冻结资金）
// POST /api/v1/request/complete
func (h *Handler) CompleteRequest(c *gin.Context) {
	var req CompleteRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	actualQty, ok := parseDecimal(c, req.ActualQty, "actual_qty")
	if !ok {
		return
	}

	request, err := h.requestService.Complete(c.Request.Context(), getOperator(c), req.RequestNo, actualQty)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, request)
}

// CancelRequestBody 取消申请请求
type CancelRequestBody struct {
	RequestNo string `json:"request_no" binding:"required"`
	Remarks   string `json:"remarks" binding:"required"`
}

// CancelRequest 取消申请（处理中的申请释放冻结资金）
// POST /api/v1/request/cancel
func (h *Handler) CancelRequest(c *gin.Context) {
	var req CancelRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	refunded, err := h.requestService.Cancel(c.Request.Context(), getOperator(c), req.RequestNo, req.Remarks)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":  "申请已取消",
		"refunded": refunded,
	})
}

// GetRequest 查询申请详情
// GET /api/v1/request/detail?request_no=xxx
func (h *Handler) GetRequest(c *gin.Context) {
	requestNo := c.Query("request_no")
	if requestNo == "" {
		response.ParamError(c, "request_no 参数不能为空")
		return
	}

	request, err := h.requestService.GetRequest(c.Request.Context(), requestNo)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, request)
}

// ListRequests 查询客户申请列表
// GET /api/v1/request/list?customer_id=xxx&page=1&page_size=10
func (h *Handler) ListRequests(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Query("customer_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "customer_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	requests, total, err := h.requestService.ListCustomerRequests(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
