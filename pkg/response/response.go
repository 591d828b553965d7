package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"freightdesk/internal/apperr"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeConflict      = 409
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务规则错误码，HTTP 状态码统一为 400
const (
	CodeOrderCanceled        = 1001
	CodeStatusSkip           = 1002
	CodeCancelAfterDelivery  = 1003
	CodeShippingMethodChange = 1004
	CodeBalanceNotEnough     = 1005
)

var businessCodes = []struct {
	err  error
	code int
}{
	{apperr.ErrOrderCanceled, CodeOrderCanceled},
	{apperr.ErrStatusSkip, CodeStatusSkip},
	{apperr.ErrCancelAfterDelivery, CodeCancelAfterDelivery},
	{apperr.ErrShippingMethodChange, CodeShippingMethodChange},
	{apperr.ErrInsufficientBalance, CodeBalanceNotEnough},
}

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// PageData 分页列表
type PageData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func ServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeServerError, "internal server error")
}

// FromError 按错误类型输出状态码和错误码，内部错误不透出细节
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	Error(c, kind.HTTPStatus(), Code(err), apperr.MessageOf(err))
}

// Code 错误对应的业务码
func Code(err error) int {
	kind := apperr.KindOf(err)
	if kind == apperr.KindBusinessRule {
		for _, b := range businessCodes {
			if errors.Is(err, b.err) {
				return b.code
			}
		}
		return CodeBusinessError
	}
	return kind.HTTPStatus()
}
