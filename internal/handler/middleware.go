package handler

import (
	"log"
	"strconv"
	"time"

	"fuelengine/internal/model"
	"fuelengine/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Operator-Id, X-Operator-Role")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

const operatorContextKey = "operator"

// OperatorMiddleware 操作员身份中间件
// 身份/角色由外部身份服务认证后通过网关头传入，这里只做解析和角色合法性校验，
// 会话建立时解析一次，后续权限判定全走类型化的角色能力表
func OperatorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID, err := strconv.ParseInt(c.GetHeader("X-Operator-Id"), 10, 64)
		if err != nil || operatorID <= 0 {
			response.Error(c, response.CodeUnauthorized, "缺少操作员身份")
			c.Abort()
			return
		}

		role := model.Role(c.GetHeader("X-Operator-Role"))
		if !model.ValidRole(role) {
			response.Error(c, response.CodeUnauthorized, "操作员角色不合法")
			c.Abort()
			return
		}

		c.Set(operatorContextKey, model.Operator{ID: operatorID, Role: role})
		c.Next()
	}
}

func getOperator(c *gin.Context) model.Operator {
	operator, _ := c.Get(operatorContextKey)
	return operator.(model.Operator)
}
