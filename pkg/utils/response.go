package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ResponseCode business response code
type ResponseCode int

// Response codes
const (
	CodeSuccess ResponseCode = 0

	// Parameter errors (1xxx)
	CodeInvalidParam ResponseCode = 1001

	// Product and stock errors (2xxx)
	CodeProductNotFound    ResponseCode = 2001
	CodeProductUnavailable ResponseCode = 2002
	CodeInsufficientStock  ResponseCode = 2003

	// Order errors (3xxx)
	CodeOrderNotFound      ResponseCode = 3001
	CodeOrderStateConflict ResponseCode = 3002
	CodeDuplicateRequest   ResponseCode = 3003

	// System errors (5xxx)
	CodeRateLimit     ResponseCode = 5001
	CodeInternalError ResponseCode = 5000
)

// Response standard response structure
type Response struct {
	Code      ResponseCode `json:"code"`
	Message   string       `json:"message"`
	Data      interface{}  `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Success returns a success response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// Error returns an error response, the HTTP status derives from the
// business code
func Error(c *gin.Context, code ResponseCode, message string) {
	c.JSON(httpStatus(code), Response{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// httpStatus maps a business code to an HTTP status
func httpStatus(code ResponseCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeProductNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeProductUnavailable, CodeInsufficientStock, CodeOrderStateConflict, CodeDuplicateRequest:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
