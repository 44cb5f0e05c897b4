package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"labstock-system/internal/services/reconcile"
)

type DeliveryHandler struct {
	reconciler *reconcile.DocumentReconciler
}

func NewDeliveryHandler(reconciler *reconcile.DocumentReconciler) *DeliveryHandler {
	return &DeliveryHandler{reconciler: reconciler}
}

func (h *DeliveryHandler) CreateDelivery(c *gin.Context) {
	var input reconcile.CreateDeliveryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if userID, ok := c.Get("user_id"); ok && input.ReceivedBy == 0 {
		input.ReceivedBy, _ = userID.(int64)
	}

	delivery, err := h.reconciler.CreateDelivery(c.Request.Context(), input)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, delivery)
}

// ReceiveDelivery runs reconciliation for every unprocessed item of the
// delivery and returns the per-item report. Item errors do not fail the
// request; they are listed in the report.
func (h *DeliveryHandler) ReceiveDelivery(c *gin.Context) {
	id, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	report, err := h.reconciler.ReceiveDelivery(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, report)
}
