package handler

import (
	"fuelengine/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	// API 路由组（全部要求操作员身份）
	api := r.Group("/api/v1")
	api.Use(OperatorMiddleware())
	{
		// 客户账户
		customer := api.Group("/customer")
		{
			customer.POST("/create", h.CreateCustomer)
			customer.GET("/balance", h.GetBalance)
			customer.POST("/recharge", h.Recharge)
			customer.POST("/switch-mode", h.SwitchBillingMode)
			customer.POST("/settle", h.SettleDay)
			customer.GET("/transactions", h.ListTransactions)
		}

		// 商品目录
		catalog := api.Group("/catalog")
		{
			catalog.GET("/resolve", h.ResolveCatalog)
		}

		// 加油申请
		request := api.Group("/request")
		{
			request.POST("/create", h.CreateRequest)
			request.POST("/quantity", h.UpdateQuantity)
			request.POST("/otp/send", h.SendOtp)
			request.POST("/process", h.BeginProcessing)
			request.POST("/complete", h.CompleteRequest)
			request.POST("/cancel", h.CancelRequest)
			request.GET("/detail", h.GetRequest)
			request.GET("/list", h.ListRequests)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
