package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/withdrawal"
)

type WithdrawalHandler struct {
	db          *gorm.DB
	coordinator *withdrawal.Coordinator
}

func NewWithdrawalHandler(db *gorm.DB, coordinator *withdrawal.Coordinator) *WithdrawalHandler {
	return &WithdrawalHandler{db: db, coordinator: coordinator}
}

func (h *WithdrawalHandler) CreateWithdrawal(c *gin.Context) {
	var input withdrawal.CreateWithdrawalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if userID, ok := c.Get("user_id"); ok && input.RequestedBy == 0 {
		input.RequestedBy, _ = userID.(int64)
	}

	result, err := h.coordinator.CreateWithdrawal(c.Request.Context(), input)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, result)
}

func (h *WithdrawalHandler) GetWithdrawal(c *gin.Context) {
	id, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid withdrawal ID")
		return
	}

	var result models.WithdrawalRequest
	if err := h.db.WithContext(c.Request.Context()).
		Preload("LineItems").
		First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "Withdrawal not found")
			return
		}
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	success(c, result)
}
