// Package allocation computes how much of each reagent's ordered quantity is
// still unreceived, and how much of that remainder is already claimed by
// pending withdrawals. Every number is recomputed live from the record store:
// a framework order's balance depends on the state of every withdrawal
// against it, so a cached value is stale the moment any sibling moves.
package allocation

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
)

// openFrameworkStatuses are the order header states whose line balances still
// count as available.
var openFrameworkStatuses = []models.OrderStatus{
	models.OrderStatusPendingSAPDetails,
	models.OrderStatusApproved,
	models.OrderStatusPartiallyReceived,
}

type AllocationTracker struct {
	db *gorm.DB
}

func NewAllocationTracker(db *gorm.DB) *AllocationTracker {
	return &AllocationTracker{db: db}
}

// AvailableFromFramework sums (ordered - received) over open framework-order
// line items for the reagent.
func (t *AllocationTracker) AvailableFromFramework(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	var lines []models.OrderLineItem
	err := t.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("order_line_items.reagent_id = ?", reagentID).
		Where("orders.order_type = ?", models.OrderTypeFramework).
		Where("orders.status IN ?", openFrameworkStatuses).
		Where("order_line_items.line_status <> ?", models.LineStatusCancelled).
		Find(&lines).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, li := range lines {
		total = total.Add(li.QuantityOrdered.Sub(li.QuantityReceived))
	}
	return total, nil
}

// PendingWithdrawalQuantity sums (requested - received) over withdrawal line
// items not yet fully delivered.
func (t *AllocationTracker) PendingWithdrawalQuantity(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	lines, err := t.pendingLines(ctx, reagentID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, li := range lines {
		total = total.Add(li.QuantityRequested.Sub(li.QuantityReceived))
	}
	return total, nil
}

// InDeliveryQuantity sums the remainder of pending lines already picked for a
// delivery but not yet receipted.
func (t *AllocationTracker) InDeliveryQuantity(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	lines, err := t.pendingLines(ctx, reagentID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, li := range lines {
		if li.InDelivery {
			total = total.Add(li.QuantityRequested.Sub(li.QuantityReceived))
		}
	}
	return total, nil
}

func (t *AllocationTracker) pendingLines(ctx context.Context, reagentID int64) ([]models.WithdrawalLineItem, error) {
	var lines []models.WithdrawalLineItem
	err := t.db.WithContext(ctx).
		Where("reagent_id = ?", reagentID).
		Where("line_status IN ?", []models.WithdrawalLineStatus{
			models.WLineStatusPending,
			models.WLineStatusPartiallyDelivered,
		}).
		Find(&lines).Error
	return lines, err
}

// NetAvailableBalance is what the withdrawal coordinator validates against
// before creating a new withdrawal. Always recomputed from scratch.
func (t *AllocationTracker) NetAvailableBalance(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	available, err := t.AvailableFromFramework(ctx, reagentID)
	if err != nil {
		return decimal.Zero, err
	}
	pending, err := t.PendingWithdrawalQuantity(ctx, reagentID)
	if err != nil {
		return decimal.Zero, err
	}
	inDelivery, err := t.InDeliveryQuantity(ctx, reagentID)
	if err != nil {
		return decimal.Zero, err
	}
	return available.Sub(pending).Sub(inDelivery), nil
}

// FrameworkLineBalances returns remaining quantity per reagent for a single
// framework order's non-cancelled line items.
func (t *AllocationTracker) FrameworkLineBalances(ctx context.Context, orderID int64) (map[int64]decimal.Decimal, error) {
	var lines []models.OrderLineItem
	err := t.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("line_status <> ?", models.LineStatusCancelled).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}

	balances := make(map[int64]decimal.Decimal, len(lines))
	for _, li := range lines {
		balances[li.ReagentID] = balances[li.ReagentID].Add(li.QuantityOrdered.Sub(li.QuantityReceived))
	}
	return balances, nil
}
