package handlers

import (
	"github.com/gin-gonic/gin"

	"labstock-system/internal/services/suggestion"
)

type ReplenishmentHandler struct {
	engine *suggestion.Engine
}

func NewReplenishmentHandler(engine *suggestion.Engine) *ReplenishmentHandler {
	return &ReplenishmentHandler{engine: engine}
}

func (h *ReplenishmentHandler) ListSuggestions(c *gin.Context) {
	filter := suggestion.Filter{
		SupplierID: parseInt64Query(c, "supplier_id"),
		Category:   c.Query("category"),
		Search:     c.Query("search"),
	}

	suggestions, err := h.engine.Suggestions(c.Request.Context(), filter)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, suggestions)
}
