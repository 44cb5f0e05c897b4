package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/ledger"
)

type StockHandler struct {
	db                *gorm.DB
	ledger            *ledger.StockLedger
	expiryHorizonDays int
}

func NewStockHandler(db *gorm.DB, stockLedger *ledger.StockLedger, expiryHorizonDays int) *StockHandler {
	if expiryHorizonDays <= 0 {
		expiryHorizonDays = 90
	}
	return &StockHandler{db: db, ledger: stockLedger, expiryHorizonDays: expiryHorizonDays}
}

func (h *StockHandler) GetStock(c *gin.Context) {
	reagentID, err := parseInt64Param(c, "reagent_id")
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid reagent ID")
		return
	}

	ctx := c.Request.Context()
	total, err := h.ledger.TotalStock(ctx, reagentID)
	if err != nil {
		serviceError(c, err)
		return
	}
	nearExpiry, err := h.ledger.NearExpiryStock(ctx, reagentID, h.expiryHorizonDays)
	if err != nil {
		serviceError(c, err)
		return
	}

	var batches []models.Batch
	if err := h.db.WithContext(ctx).
		Where("reagent_id = ?", reagentID).
		Order("expiry_date").
		Find(&batches).Error; err != nil {
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}

	success(c, gin.H{
		"reagent_id":        reagentID,
		"total_stock":       total,
		"near_expiry_stock": nearExpiry,
		"batches":           batches,
	})
}

type consumeRequest struct {
	ReagentID   int64           `json:"reagent_id" binding:"required"`
	BatchNumber string          `json:"batch_number" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	DocumentRef string          `json:"document_ref"`
}

func (h *StockHandler) ConsumeStock(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var consumedBy int64
	if userID, ok := c.Get("user_id"); ok {
		consumedBy, _ = userID.(int64)
	}

	batch, err := h.ledger.ConsumeStock(c.Request.Context(), req.ReagentID, req.BatchNumber, req.Quantity, req.DocumentRef, consumedBy)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, batch)
}

func (h *StockHandler) ListTransactions(c *gin.Context) {
	limit := parseIntQueryDefault(c, "limit", 50)
	offset := parseIntQueryDefault(c, "offset", 0)

	rows, total, err := h.ledger.ListTransactions(c.Request.Context(), ledger.TransactionFilter{
		ReagentID: parseInt64Query(c, "reagent_id"),
		Type:      models.TransactionType(c.Query("type")),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"pagination": gin.H{
			"total_count": total,
			"limit":       limit,
			"offset":      offset,
		},
	})
}

func (h *StockHandler) ListReagents(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.Reagent{})

	if supplierID := parseInt64Query(c, "supplier_id"); supplierID != 0 {
		query = query.Where("supplier_id = ?", supplierID)
	}
	if search := c.Query("search"); search != "" {
		term := "%" + search + "%"
		query = query.Where("reagent_code LIKE ? OR reagent_name LIKE ?", term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}

	limit := parseIntQueryDefault(c, "limit", 50)
	offset := parseIntQueryDefault(c, "offset", 0)

	var reagents []models.Reagent
	if err := query.Order("reagent_code").Offset(offset).Limit(limit).Find(&reagents).Error; err != nil {
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    reagents,
		"pagination": gin.H{
			"total_count": total,
			"limit":       limit,
			"offset":      offset,
		},
	})
}
