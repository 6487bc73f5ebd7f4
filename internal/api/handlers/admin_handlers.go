package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/rail-service/deposit_watcher/pkg/logger"
)

// AddressLocks is the operator view of the address lock registry
type AddressLocks interface {
	IsLocked(address string) bool
	LockedAt(address string) (time.Time, bool)
	Unlock(address string)
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	locks     AddressLocks
	validator *validator.Validate
	logger    *logger.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(locks AddressLocks, log *logger.Logger) *AdminHandler {
	return &AdminHandler{locks: locks, validator: validator.New(), logger: log}
}

// UnlockAddressRequest is the body of the unlock endpoint
type UnlockAddressRequest struct {
	Address string `json:"address" validate:"required,printascii,min=24,max=128"`
}

// UnlockAddress releases a deposit address lock by hand
// @Summary Unlock deposit address
// @Tags admin
// @Accept json
// @Produce json
// @Router /api/v1/admin/addresses/unlock [post]
func (h *AdminHandler) UnlockAddress(c *gin.Context) {
	var req UnlockAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, "Invalid request payload", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("Request validation failed", "error", err)
		SendBadRequest(c, ErrCodeValidationError, "Request validation failed", map[string]interface{}{
			"validation_errors": err.Error(),
		})
		return
	}
	address := req.Address

	wasLocked := h.locks.IsLocked(address)
	h.locks.Unlock(address)
	h.logger.Info("Address unlocked by operator",
		"address", address,
		"was_locked", wasLocked,
		"request_id", c.GetString("request_id"))

	c.JSON(http.StatusOK, gin.H{
		"address":    address,
		"was_locked": wasLocked,
	})
}

// AddressLockStatus reports whether an address is locked
func (h *AdminHandler) AddressLockStatus(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	lockedAt, locked := h.locks.LockedAt(address)

	body := gin.H{"address": address, "locked": locked}
	if locked {
		body["locked_at"] = lockedAt
	}
	c.JSON(http.StatusOK, body)
}
