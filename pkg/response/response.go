package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码
const (
	CodeCustomerNotFound  = 1001
	CodeProductNotFound   = 1002
	CodeRequestNotFound   = 1003
	CodeQtyOutOfRange     = 1004
	CodeIneligible        = 1005
	CodeInsufficientFunds = 1006
	CodeInvalidTransition = 1007
	CodeOtpExpired        = 1008
	CodeOtpMismatch       = 1009
	CodeOtpConsumed       = 1010
	CodeStockNotEnough    = 1011
	CodePermissionDenied  = 1012
	CodeSettleRejected    = 1013
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func PermissionDenied(c *gin.Context, message string) {
	Error(c, CodePermissionDenied, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
