package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeUnsupportedChain   = "UNSUPPORTED_CHAIN"
	ErrCodeUnsupportedToken   = "UNSUPPORTED_TOKEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the JSON body of every error
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SendBadRequest sends a 400 Bad Request error
func SendBadRequest(c *gin.Context, code, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Code:    code,
		Message: message,
		Details: det,
	})
}

// SendUnauthorized sends a 401 Unauthorized error
func SendUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

// SendForbidden sends a 403 Forbidden error
func SendForbidden(c *gin.Context, code, message string) {
	c.JSON(http.StatusForbidden, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendInternalError sends a 500 Internal Server Error
func SendInternalError(c *gin.Context, code, message string) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendServiceUnavailable sends a 503 Service Unavailable error
func SendServiceUnavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Code:    ErrCodeServiceUnavailable,
		Message: message,
	})
}

// SendDomainError maps a domain error onto an HTTP status
func SendDomainError(c *gin.Context, err error) {
	code := domainerrors.GetErrorCode(err)
	switch {
	case domainerrors.IsInvalidInput(err):
		SendBadRequest(c, ErrCodeValidationError, err.Error())
	case errors.Is(err, domainerrors.ErrUnsupportedChain), errors.Is(err, domainerrors.ErrUnsupportedToken):
		SendBadRequest(c, code, err.Error())
	case domainerrors.IsAddressNotOwned(err):
		SendForbidden(c, code, err.Error())
	case domainerrors.IsProviderUnavailable(err):
		SendServiceUnavailable(c, err.Error())
	default:
		SendInternalError(c, ErrCodeInternalError, "Internal server error")
	}
}
