// Package withdrawal creates withdrawal requests against framework orders.
// It validates available balance and selects a funding order; it never moves
// stock — that happens when a delivery later reconciles the request.
package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/allocation"
	"labstock-system/internal/services/engine"
)

// eligibleStatuses are the framework-order states a withdrawal may draw from.
var eligibleStatuses = []models.OrderStatus{
	models.OrderStatusPendingSAPDetails,
	models.OrderStatusApproved,
	models.OrderStatusPartiallyReceived,
}

type RequestedItem struct {
	ReagentID int64           `json:"reagent_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type CreateWithdrawalInput struct {
	SupplierID  int64           `json:"supplier_id" binding:"required"`
	Items       []RequestedItem `json:"items" binding:"required"`
	RequestedBy int64           `json:"requested_by"`

	// ConfirmTemporary must be set when the caller has already acknowledged
	// that the selected framework order lacks a permanent order number.
	ConfirmTemporary bool `json:"confirm_temporary"`
}

type Coordinator struct {
	db      *gorm.DB
	tracker *allocation.AllocationTracker
}

func NewCoordinator(db *gorm.DB, tracker *allocation.AllocationTracker) *Coordinator {
	return &Coordinator{db: db, tracker: tracker}
}

// CreateWithdrawal validates the requested items against live framework
// balances, picks the first framework order able to fund all of them, and
// creates the request with its line items in their initial states.
//
// Selection is first-fit in list order, not best-fit: the source process has
// no priority rule beyond iteration order.
func (c *Coordinator) CreateWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*models.WithdrawalRequest, error) {
	if len(input.Items) == 0 {
		return nil, &engine.ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	reagents := make(map[int64]models.Reagent, len(input.Items))
	for _, item := range input.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, &engine.ValidationError{Field: "quantity", Reason: "must be greater than 0"}
		}

		var reagent models.Reagent
		if err := c.db.WithContext(ctx).First(&reagent, item.ReagentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &engine.ReferenceIntegrityError{Kind: "reagent", ID: item.ReagentID}
			}
			return nil, err
		}
		// A withdrawal draws from a single framework order, so the items
		// cannot span suppliers.
		if reagent.SupplierID != input.SupplierID {
			return nil, &engine.ValidationError{
				Field:       "supplier_id",
				ReagentCode: reagent.ReagentCode,
				Reason:      "reagent belongs to a different supplier",
			}
		}
		reagents[item.ReagentID] = reagent
	}

	// Balance check first, naming the specific insufficient item.
	for _, item := range input.Items {
		available, err := c.tracker.NetAvailableBalance(ctx, item.ReagentID)
		if err != nil {
			return nil, err
		}
		if available.LessThan(item.Quantity) {
			return nil, &engine.InsufficientBalanceError{
				ReagentCode: reagents[item.ReagentID].ReagentCode,
				Requested:   item.Quantity,
				Available:   available,
			}
		}
	}

	order, err := c.selectFrameworkOrder(ctx, input.SupplierID, input.Items)
	if err != nil {
		return nil, err
	}

	if order.IsTemporary() && !input.ConfirmTemporary {
		return nil, &engine.RequiresConfirmationError{FrameworkOrderID: order.ID}
	}

	withdrawal := models.WithdrawalRequest{
		WithdrawalNumber: "WDR-" + uuid.NewString()[:8],
		FrameworkOrderID: order.ID,
		SupplierID:       input.SupplierID,
		Status:           models.WithdrawalStatusSubmitted,
		RequestedBy:      input.RequestedBy,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&withdrawal).Error; err != nil {
			return err
		}
		lines := make([]models.WithdrawalLineItem, len(input.Items))
		for i, item := range input.Items {
			lines[i] = models.WithdrawalLineItem{
				WithdrawalID:      withdrawal.ID,
				ReagentID:         item.ReagentID,
				QuantityRequested: item.Quantity,
				QuantityReceived:  decimal.Zero,
				QuantityRemaining: item.Quantity,
				LineStatus:        models.WLineStatusPending,
				CreatedAt:         time.Now(),
				UpdatedAt:         time.Now(),
			}
		}
		return tx.Create(&lines).Error
	})
	if err != nil {
		return nil, err
	}

	withdrawal.LineItems = nil
	if err := c.db.WithContext(ctx).Preload("LineItems").First(&withdrawal, withdrawal.ID).Error; err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

// selectFrameworkOrder returns the first eligible framework order whose line
// items can supply every requested item in full from their own remaining
// balance.
func (c *Coordinator) selectFrameworkOrder(ctx context.Context, supplierID int64, items []RequestedItem) (*models.Order, error) {
	var orders []models.Order
	err := c.db.WithContext(ctx).
		Where("supplier_id = ?", supplierID).
		Where("order_type = ?", models.OrderTypeFramework).
		Where("status IN ?", eligibleStatuses).
		Order("id").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	for i := range orders {
		balances, err := c.tracker.FrameworkLineBalances(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		if coversAll(balances, items) {
			return &orders[i], nil
		}
	}
	return nil, &engine.NoMatchingFrameworkOrderError{SupplierID: supplierID}
}

func coversAll(balances map[int64]decimal.Decimal, items []RequestedItem) bool {
	for _, item := range items {
		remaining, ok := balances[item.ReagentID]
		if !ok || remaining.LessThan(item.Quantity) {
			return false
		}
	}
	return true
}
