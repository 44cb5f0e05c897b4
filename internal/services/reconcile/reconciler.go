// Package reconcile processes accepted delivery line items: it updates the
// stock ledger, then cascades quantity and status updates up through order
// line items, orders, withdrawal requests and the funding framework order.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/engine"
	"labstock-system/internal/services/ledger"
)

// walkInBatchNumber buckets receipts for batch-exempt reagents so their
// quantities still accumulate under one batch record.
const walkInBatchNumber = "NOBATCH"

const cascadeRetries = 3

// InventoryNotifier is the out-of-engine inventory-refresh collaborator.
// Calls are fire-and-forget; failures are not reported.
type InventoryNotifier interface {
	InventoryChanged(ctx context.Context, reagentIDs []int64)
}

type ItemError struct {
	DeliveryLineItemID int64  `json:"delivery_line_item_id"`
	ReagentCode        string `json:"reagent_code"`
	Message            string `json:"message"`
	Warning            bool   `json:"warning"`
}

type ReconciliationReport struct {
	DeliveryID     int64       `json:"delivery_id"`
	ProcessedCount int         `json:"processed_count"`
	Errors         []ItemError `json:"errors"`
}

type DocumentReconciler struct {
	db       *gorm.DB
	ledger   *ledger.StockLedger
	notifier InventoryNotifier

	mu         sync.Mutex
	orderLocks map[int64]*sync.Mutex
}

func NewDocumentReconciler(db *gorm.DB, stockLedger *ledger.StockLedger, notifier InventoryNotifier) *DocumentReconciler {
	return &DocumentReconciler{
		db:         db,
		ledger:     stockLedger,
		notifier:   notifier,
		orderLocks: make(map[int64]*sync.Mutex),
	}
}

// frameworkLock serializes cascades per framework order. The cascade reads
// the entire withdrawal set before writing the recomputed balance; two
// concurrent cascades on the same order would race and leave it stale.
func (r *DocumentReconciler) frameworkLock(orderID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.orderLocks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		r.orderLocks[orderID] = lock
	}
	return lock
}

type DeliveryItemInput struct {
	ReagentID            int64           `json:"reagent_id" binding:"required"`
	OrderLineItemID      *int64          `json:"order_line_item_id"`
	WithdrawalLineItemID *int64          `json:"withdrawal_line_item_id"`
	QuantityReceived     decimal.Decimal `json:"quantity_received"`
	BatchNumber          string          `json:"batch_number"`
	ExpiryDate           *time.Time      `json:"expiry_date"`
	CoaURL               *string         `json:"coa_url"`
}

type CreateDeliveryInput struct {
	SupplierID int64               `json:"supplier_id" binding:"required"`
	ReceivedBy int64               `json:"received_by"`
	Items      []DeliveryItemInput `json:"items" binding:"required"`
}

// CreateDelivery records the delivery header and bulk-inserts its line items.
// Nothing is reconciled until ReceiveDelivery runs.
func (r *DocumentReconciler) CreateDelivery(ctx context.Context, input CreateDeliveryInput) (*models.Delivery, error) {
	if len(input.Items) == 0 {
		return nil, &engine.ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	delivery := models.Delivery{
		DeliveryNumber: "DLV-" + uuid.NewString()[:8],
		SupplierID:     input.SupplierID,
		Status:         models.DeliveryStatusPending,
		ItemCount:      len(input.Items),
		ReceivedBy:     input.ReceivedBy,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&delivery).Error; err != nil {
			return err
		}
		items := make([]models.DeliveryLineItem, len(input.Items))
		for i, in := range input.Items {
			items[i] = models.DeliveryLineItem{
				DeliveryID:           delivery.ID,
				ReagentID:            in.ReagentID,
				OrderLineItemID:      in.OrderLineItemID,
				WithdrawalLineItemID: in.WithdrawalLineItemID,
				QuantityReceived:     in.QuantityReceived,
				BatchNumber:          in.BatchNumber,
				ExpiryDate:           in.ExpiryDate,
				CoaURL:               in.CoaURL,
				CreatedAt:            time.Now(),
				UpdatedAt:            time.Now(),
			}
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// ReceiveDelivery reconciles every unprocessed line item of the delivery.
// Per-item errors are collected and processing continues; only a missing
// delivery header aborts. Already-accepted items are skipped, so re-running
// a receipt is safe.
func (r *DocumentReconciler) ReceiveDelivery(ctx context.Context, deliveryID int64) (*ReconciliationReport, error) {
	var delivery models.Delivery
	if err := r.db.WithContext(ctx).First(&delivery, deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &engine.ReferenceIntegrityError{Kind: "delivery", ID: deliveryID}
		}
		return nil, err
	}

	var items []models.DeliveryLineItem
	if err := r.db.WithContext(ctx).
		Where("delivery_id = ? AND accepted = ?", deliveryID, false).
		Order("id").
		Find(&items).Error; err != nil {
		return nil, err
	}

	report := &ReconciliationReport{DeliveryID: deliveryID}
	touched := make(map[int64]bool)

	for i := range items {
		item := &items[i]
		warning, err := r.processItem(ctx, &delivery, item)
		if warning != nil {
			report.Errors = append(report.Errors, *warning)
		}
		if err != nil {
			report.Errors = append(report.Errors, ItemError{
				DeliveryLineItemID: item.ID,
				ReagentCode:        r.reagentCode(ctx, item.ReagentID),
				Message:            err.Error(),
			})
			msg := err.Error()
			item.ErrorMessage = &msg
			item.UpdatedAt = time.Now()
			_ = r.db.WithContext(ctx).Save(item).Error
			continue
		}
		report.ProcessedCount++
		touched[item.ReagentID] = true
	}

	var accepted int64
	if err := r.db.WithContext(ctx).Model(&models.DeliveryLineItem{}).
		Where("delivery_id = ? AND accepted = ?", deliveryID, true).
		Count(&accepted).Error; err != nil {
		return report, err
	}

	switch {
	case int(accepted) >= delivery.ItemCount:
		delivery.Status = models.DeliveryStatusProcessed
	case accepted > 0:
		delivery.Status = models.DeliveryStatusPartial
	}
	delivery.ProcessedCount = int(accepted)
	delivery.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(&delivery).Error; err != nil {
		return report, err
	}

	if r.notifier != nil && len(touched) > 0 {
		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		r.notifier.InventoryChanged(ctx, ids)
	}
	return report, nil
}

func (r *DocumentReconciler) reagentCode(ctx context.Context, reagentID int64) string {
	var reagent models.Reagent
	if err := r.db.WithContext(ctx).First(&reagent, reagentID).Error; err != nil {
		return fmt.Sprintf("reagent#%d", reagentID)
	}
	return reagent.ReagentCode
}

// processItem runs one accepted delivery line item as a single transaction:
// validate, upsert the batch, append ledger and audit rows, then cascade the
// linked source. The returned ItemError, if any, is a non-fatal warning.
func (r *DocumentReconciler) processItem(ctx context.Context, delivery *models.Delivery, item *models.DeliveryLineItem) (*ItemError, error) {
	var reagent models.Reagent
	if err := r.db.WithContext(ctx).First(&reagent, item.ReagentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &engine.ReferenceIntegrityError{Kind: "reagent", ID: item.ReagentID}
		}
		return nil, err
	}

	if item.QuantityReceived.LessThanOrEqual(decimal.Zero) {
		return nil, &engine.ValidationError{Field: "quantity_received", ReagentCode: reagent.ReagentCode, Reason: "must be greater than 0"}
	}
	if item.OrderLineItemID != nil && item.WithdrawalLineItemID != nil {
		return nil, &engine.ValidationError{Field: "linked_source", ReagentCode: reagent.ReagentCode, Reason: "cannot link both an order line and a withdrawal line"}
	}

	batchNumber := item.BatchNumber
	if batchNumber == "" {
		if !reagent.BatchExempt {
			return nil, &engine.ValidationError{Field: "batch_number", ReagentCode: reagent.ReagentCode, Reason: "required for this reagent"}
		}
		batchNumber = walkInBatchNumber
	}
	if item.ExpiryDate == nil && !reagent.ExpiryExempt {
		return nil, &engine.ValidationError{Field: "expiry_date", ReagentCode: reagent.ReagentCode, Reason: "required for this reagent"}
	}

	// The framework cascade must be serialized per order, so resolve the
	// funding order before opening the transaction.
	var frameworkOrderID int64
	if item.WithdrawalLineItemID != nil {
		var wLine models.WithdrawalLineItem
		if err := r.db.WithContext(ctx).First(&wLine, *item.WithdrawalLineItemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &engine.ReferenceIntegrityError{Kind: "withdrawal line item", ID: *item.WithdrawalLineItemID}
			}
			return nil, err
		}
		var withdrawal models.WithdrawalRequest
		if err := r.db.WithContext(ctx).First(&withdrawal, wLine.WithdrawalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &engine.ReferenceIntegrityError{Kind: "withdrawal request", ID: wLine.WithdrawalID}
			}
			return nil, err
		}
		frameworkOrderID = withdrawal.FrameworkOrderID
	}

	if frameworkOrderID != 0 {
		lock := r.frameworkLock(frameworkOrderID)
		lock.Lock()
		defer lock.Unlock()
	}

	var warning *ItemError
	var err error
	for attempt := 0; attempt < cascadeRetries; attempt++ {
		warning, err = r.processItemTx(ctx, delivery, item, &reagent, batchNumber)
		var conflict *engine.ConcurrencyConflictError
		if errors.As(err, &conflict) {
			// Stale cascade read; the retry re-reads current state.
			continue
		}
		break
	}
	return warning, err
}

func (r *DocumentReconciler) processItemTx(ctx context.Context, delivery *models.Delivery, item *models.DeliveryLineItem, reagent *models.Reagent, batchNumber string) (*ItemError, error) {
	var warning *ItemError

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accepted := item.QuantityReceived

		// Resolve the linked source first so over-receipt is clamped before
		// any stock moves.
		var orderLine *models.OrderLineItem
		var wLine *models.WithdrawalLineItem

		switch {
		case item.OrderLineItemID != nil:
			var li models.OrderLineItem
			if err := tx.First(&li, *item.OrderLineItemID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &engine.ReferenceIntegrityError{Kind: "order line item", ID: *item.OrderLineItemID}
				}
				return err
			}
			if li.LineStatus == models.LineStatusCancelled {
				return &engine.ValidationError{Field: "order_line_item", ReagentCode: reagent.ReagentCode, Reason: "line is cancelled"}
			}
			clamped, w, err := clampToRemaining(accepted, li.QuantityRemaining, reagent.ReagentCode, batchNumber, item.ID)
			if err != nil {
				return err
			}
			accepted, warning = clamped, w
			orderLine = &li

		case item.WithdrawalLineItemID != nil:
			var li models.WithdrawalLineItem
			if err := tx.First(&li, *item.WithdrawalLineItemID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &engine.ReferenceIntegrityError{Kind: "withdrawal line item", ID: *item.WithdrawalLineItemID}
				}
				return err
			}
			if li.LineStatus == models.WLineStatusCancelled || li.LineStatus == models.WLineStatusRejected {
				return &engine.ValidationError{Field: "withdrawal_line_item", ReagentCode: reagent.ReagentCode, Reason: "line is " + string(li.LineStatus)}
			}
			clamped, w, err := clampToRemaining(accepted, li.QuantityRemaining, reagent.ReagentCode, batchNumber, item.ID)
			if err != nil {
				return err
			}
			accepted, warning = clamped, w
			wLine = &li
		}

		if _, err := r.ledger.UpsertBatch(ctx, tx, reagent.ID, batchNumber, accepted, item.ExpiryDate); err != nil {
			return err
		}
		if err := r.ledger.RecordTransaction(ctx, tx, reagent.ID, models.TransactionDelivery, accepted, batchNumber, delivery.DeliveryNumber, delivery.ReceivedBy); err != nil {
			return err
		}

		event := models.ReceiptEvent{
			DeliveryID:         delivery.ID,
			DeliveryLineItemID: item.ID,
			ReagentID:          reagent.ID,
			BatchNumber:        batchNumber,
			QuantityReceived:   accepted,
			ReceivedBy:         delivery.ReceivedBy,
			CreatedAt:          time.Now(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		if orderLine != nil {
			if err := r.applyOrderLineReceipt(ctx, tx, orderLine, accepted); err != nil {
				return err
			}
		}
		if wLine != nil {
			if err := r.applyWithdrawalLineReceipt(ctx, tx, wLine, accepted); err != nil {
				return err
			}
		}

		item.QuantityReceived = accepted
		item.Accepted = true
		if warning != nil {
			msg := warning.Message
			item.ErrorMessage = &msg
		}
		item.UpdatedAt = time.Now()
		return tx.Save(item).Error
	})
	if err != nil {
		return nil, err
	}
	return warning, nil
}

// clampToRemaining rejects receipts against an exhausted line and clamps
// over-receipts to the remaining value, surfacing the clamp as a warning
// rather than silently over-receiving.
func clampToRemaining(qty, remaining decimal.Decimal, reagentCode, batchNumber string, itemID int64) (decimal.Decimal, *ItemError, error) {
	if remaining.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil, &engine.ValidationError{
			Field: "quantity_received", ReagentCode: reagentCode,
			Reason: "linked line is already fully received",
		}
	}
	if qty.GreaterThan(remaining) {
		// Overages within the quantity tolerance are rounding noise from
		// partial-unit receipts; clamp them silently.
		if qty.Sub(remaining).LessThanOrEqual(engine.QuantityEpsilon) {
			return remaining, nil, nil
		}
		over := &engine.OverReceiptError{
			ReagentCode: reagentCode,
			BatchNumber: batchNumber,
			Requested:   qty,
			Remaining:   remaining,
		}
		return remaining, &ItemError{
			DeliveryLineItemID: itemID,
			ReagentCode:        reagentCode,
			Message:            over.Error(),
			Warning:            true,
		}, nil
	}
	return qty, nil, nil
}

func (r *DocumentReconciler) applyOrderLineReceipt(ctx context.Context, tx *gorm.DB, line *models.OrderLineItem, accepted decimal.Decimal) error {
	line.QuantityReceived = line.QuantityReceived.Add(accepted)
	line.QuantityRemaining = line.QuantityOrdered.Sub(line.QuantityReceived)
	line.LineStatus = models.DeriveOrderLineStatus(line.LineStatus, line.QuantityOrdered, line.QuantityReceived)
	line.UpdatedAt = time.Now()
	if err := tx.Save(line).Error; err != nil {
		return err
	}
	return r.rollupOrder(ctx, tx, line.OrderID)
}

func (r *DocumentReconciler) applyWithdrawalLineReceipt(ctx context.Context, tx *gorm.DB, line *models.WithdrawalLineItem, accepted decimal.Decimal) error {
	line.QuantityReceived = line.QuantityReceived.Add(accepted)
	line.QuantityRemaining = line.QuantityRequested.Sub(line.QuantityReceived)
	line.LineStatus = models.DeriveWithdrawalLineStatus(line.LineStatus, line.QuantityRequested, line.QuantityReceived)
	if line.LineStatus == models.WLineStatusDelivered {
		line.InDelivery = false
	}
	line.UpdatedAt = time.Now()
	if err := tx.Save(line).Error; err != nil {
		return err
	}

	var withdrawal models.WithdrawalRequest
	if err := tx.First(&withdrawal, line.WithdrawalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &engine.ReferenceIntegrityError{Kind: "withdrawal request", ID: line.WithdrawalID}
		}
		return err
	}

	var lines []models.WithdrawalLineItem
	if err := tx.Where("withdrawal_id = ?", withdrawal.ID).Find(&lines).Error; err != nil {
		return err
	}
	next := models.RollupWithdrawalStatus(withdrawal.Status, lines)
	if next != withdrawal.Status {
		withdrawal.Status = next
		withdrawal.UpdatedAt = time.Now()
		if err := tx.Save(&withdrawal).Error; err != nil {
			return err
		}
	}

	if withdrawal.FrameworkOrderID != 0 {
		return r.cascadeFrameworkOrder(ctx, tx, withdrawal.FrameworkOrderID)
	}
	return nil
}

func (r *DocumentReconciler) rollupOrder(ctx context.Context, tx *gorm.DB, orderID int64) error {
	var order models.Order
	if err := tx.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &engine.ReferenceIntegrityError{Kind: "order", ID: orderID}
		}
		return err
	}

	var lines []models.OrderLineItem
	if err := tx.Where("order_id = ?", orderID).Find(&lines).Error; err != nil {
		return err
	}

	next := models.RollupOrderStatus(order.Status, lines)
	if next != order.Status {
		order.Status = next
		order.UpdatedAt = time.Now()
		return tx.Save(&order).Error
	}
	return nil
}

// cascadeFrameworkOrder re-aggregates every withdrawal drawing on the
// framework order and rewrites each of its line items from that aggregate.
// The balance is shared across many independent withdrawals; maintaining it
// incrementally would drift, so it is fully recomputed on each trigger. The
// header write carries an optimistic version check; a stale read surfaces as
// ConcurrencyConflictError and the caller retries after a re-read.
func (r *DocumentReconciler) cascadeFrameworkOrder(ctx context.Context, tx *gorm.DB, orderID int64) error {
	var order models.Order
	if err := tx.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &engine.ReferenceIntegrityError{Kind: "framework order", ID: orderID}
		}
		return err
	}
	if order.OrderType != models.OrderTypeFramework {
		return nil
	}

	var wLines []models.WithdrawalLineItem
	if err := tx.
		Joins("JOIN withdrawal_requests ON withdrawal_requests.id = withdrawal_line_items.withdrawal_id").
		Where("withdrawal_requests.framework_order_id = ?", orderID).
		Where("withdrawal_line_items.line_status NOT IN ?", []models.WithdrawalLineStatus{
			models.WLineStatusCancelled,
			models.WLineStatusRejected,
		}).
		Find(&wLines).Error; err != nil {
		return err
	}

	receivedByReagent := make(map[int64]decimal.Decimal)
	for _, li := range wLines {
		receivedByReagent[li.ReagentID] = receivedByReagent[li.ReagentID].Add(li.QuantityReceived)
	}

	var lines []models.OrderLineItem
	if err := tx.Where("order_id = ?", orderID).Order("id").Find(&lines).Error; err != nil {
		return err
	}

	// Distribute the per-reagent aggregate across that reagent's lines in
	// order, so an order with several lines for one reagent never double
	// counts.
	for i := range lines {
		line := &lines[i]
		if line.LineStatus == models.LineStatusCancelled {
			continue
		}
		pool := receivedByReagent[line.ReagentID]
		share := decimal.Min(pool, line.QuantityOrdered)
		receivedByReagent[line.ReagentID] = pool.Sub(share)

		line.QuantityReceived = share
		line.QuantityRemaining = line.QuantityOrdered.Sub(share)
		line.LineStatus = models.DeriveOrderLineStatus(line.LineStatus, line.QuantityOrdered, share)
		line.UpdatedAt = time.Now()
		if err := tx.Save(line).Error; err != nil {
			return err
		}
	}

	next := models.RollupOrderStatus(order.Status, lines)
	result := tx.Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":     next,
			"version":    order.Version + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &engine.ConcurrencyConflictError{FrameworkOrderID: orderID}
	}
	return nil
}
