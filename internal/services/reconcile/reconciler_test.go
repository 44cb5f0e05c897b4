package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/engine"
	"labstock-system/internal/services/ledger"
	"labstock-system/internal/services/testutil"
)

func ptr(v int64) *int64 { return &v }

type fixture struct {
	db         *gorm.DB
	reconciler *DocumentReconciler
	supplier   models.Supplier
	reagent    models.Reagent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)

	f := &fixture{
		db:         db,
		reconciler: NewDocumentReconciler(db, ledger.NewStockLedger(db), nil),
	}
	f.supplier = models.Supplier{SupplierCode: "SUP-01", SupplierName: "Acme Diagnostics", IsActive: true}
	require.NoError(t, db.Create(&f.supplier).Error)
	f.reagent = models.Reagent{
		ReagentCode: "RG-001", ReagentName: "Glucose Reagent",
		SupplierID: f.supplier.ID, IsActive: true,
		ExpiryExempt: true,
	}
	require.NoError(t, db.Create(&f.reagent).Error)
	return f
}

func (f *fixture) createOrderLine(t *testing.T, orderType models.OrderType, ordered int64) models.OrderLineItem {
	t.Helper()
	order := models.Order{
		OrderType: orderType, SupplierID: f.supplier.ID,
		OrderNumber: "ORD-100", Status: models.OrderStatusApproved,
	}
	require.NoError(t, f.db.Create(&order).Error)

	o := decimal.NewFromInt(ordered)
	line := models.OrderLineItem{
		OrderID: order.ID, ReagentID: f.reagent.ID,
		QuantityOrdered: o, QuantityRemaining: o,
		LineStatus: models.LineStatusOpen,
	}
	require.NoError(t, f.db.Create(&line).Error)
	return line
}

func (f *fixture) createWithdrawalLine(t *testing.T, frameworkOrderID, requested int64) models.WithdrawalLineItem {
	t.Helper()
	w := models.WithdrawalRequest{
		WithdrawalNumber: "WDR-" + uuid.NewString()[:8], FrameworkOrderID: frameworkOrderID,
		SupplierID: f.supplier.ID, Status: models.WithdrawalStatusSubmitted,
	}
	require.NoError(t, f.db.Create(&w).Error)

	req := decimal.NewFromInt(requested)
	line := models.WithdrawalLineItem{
		WithdrawalID: w.ID, ReagentID: f.reagent.ID,
		QuantityRequested: req, QuantityRemaining: req,
		LineStatus: models.WLineStatusPending, InDelivery: true,
	}
	require.NoError(t, f.db.Create(&line).Error)
	return line
}

func (f *fixture) receive(t *testing.T, items ...DeliveryItemInput) *ReconciliationReport {
	t.Helper()
	ctx := context.Background()
	delivery, err := f.reconciler.CreateDelivery(ctx, CreateDeliveryInput{
		SupplierID: f.supplier.ID, ReceivedBy: 7, Items: items,
	})
	require.NoError(t, err)

	report, err := f.reconciler.ReceiveDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	return report
}

func TestCreateDelivery_RequiresItems(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.CreateDelivery(context.Background(), CreateDeliveryInput{SupplierID: f.supplier.ID})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReceiveDelivery_MissingDelivery(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ReceiveDelivery(context.Background(), 9999)
	var rerr *engine.ReferenceIntegrityError
	require.ErrorAs(t, err, &rerr)
}

// TestReceiveDelivery_WalkIn verifies an unlinked item lands in the batch and
// the ledger without touching any order or withdrawal.
func TestReceiveDelivery_WalkIn(t *testing.T) {
	f := newFixture(t)
	report := f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(10), BatchNumber: "LOT-A",
	})

	assert.Equal(t, 1, report.ProcessedCount)
	assert.Empty(t, report.Errors)

	var batch models.Batch
	require.NoError(t, f.db.Where("reagent_id = ? AND batch_number = ?", f.reagent.ID, "LOT-A").First(&batch).Error)
	assert.True(t, batch.CurrentQuantity.Equal(decimal.NewFromInt(10)))

	var tx models.InventoryTransaction
	require.NoError(t, f.db.Where("reagent_id = ? AND type = ?", f.reagent.ID, models.TransactionDelivery).First(&tx).Error)
	assert.True(t, tx.Quantity.Equal(decimal.NewFromInt(10)))

	var event models.ReceiptEvent
	require.NoError(t, f.db.Where("reagent_id = ?", f.reagent.ID).First(&event).Error)
	assert.True(t, event.QuantityReceived.Equal(decimal.NewFromInt(10)))

	var delivery models.Delivery
	require.NoError(t, f.db.First(&delivery).Error)
	assert.Equal(t, models.DeliveryStatusProcessed, delivery.Status)
	assert.Equal(t, 1, delivery.ProcessedCount)
}

// TestReceiveDelivery_BatchExemptUsesBucket verifies batch-exempt reagents
// accumulate under the shared no-batch bucket.
func TestReceiveDelivery_BatchExemptUsesBucket(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&f.reagent).Update("batch_exempt", true).Error)

	f.receive(t, DeliveryItemInput{ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(4)})
	f.receive(t, DeliveryItemInput{ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(3)})

	var batch models.Batch
	require.NoError(t, f.db.Where("reagent_id = ? AND batch_number = ?", f.reagent.ID, "NOBATCH").First(&batch).Error)
	assert.True(t, batch.CurrentQuantity.Equal(decimal.NewFromInt(7)))
}

// TestReceiveDelivery_ValidationErrorsCollected verifies a bad item does not
// abort the run; the valid sibling is still processed.
func TestReceiveDelivery_ValidationErrorsCollected(t *testing.T) {
	f := newFixture(t)
	report := f.receive(t,
		DeliveryItemInput{ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(5)}, // missing batch number
		DeliveryItemInput{ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(8), BatchNumber: "LOT-B"},
	)

	assert.Equal(t, 1, report.ProcessedCount)
	require.Len(t, report.Errors, 1)
	assert.False(t, report.Errors[0].Warning)
	assert.Equal(t, "RG-001", report.Errors[0].ReagentCode)

	var delivery models.Delivery
	require.NoError(t, f.db.First(&delivery).Error)
	assert.Equal(t, models.DeliveryStatusPartial, delivery.Status)

	// The failed item carries the error message for later inspection.
	var failed models.DeliveryLineItem
	require.NoError(t, f.db.Where("accepted = ?", false).First(&failed).Error)
	require.NotNil(t, failed.ErrorMessage)
}

func TestReceiveDelivery_ExpiryRequired(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&f.reagent).Update("expiry_exempt", false).Error)

	report := f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(5), BatchNumber: "LOT-A",
	})
	assert.Equal(t, 0, report.ProcessedCount)
	require.Len(t, report.Errors, 1)
}

func TestReceiveDelivery_RejectsDoubleLink(t *testing.T) {
	f := newFixture(t)
	line := f.createOrderLine(t, models.OrderTypeImmediate, 10)

	report := f.receive(t, DeliveryItemInput{
		ReagentID:            f.reagent.ID,
		OrderLineItemID:      ptr(line.ID),
		WithdrawalLineItemID: ptr(line.ID),
		QuantityReceived:     decimal.NewFromInt(5),
		BatchNumber:          "LOT-A",
	})
	assert.Equal(t, 0, report.ProcessedCount)
	require.Len(t, report.Errors, 1)
}

// TestReceiveDelivery_OrderLineReceipt walks an order line from open through
// partial to fully received across two deliveries.
func TestReceiveDelivery_OrderLineReceipt(t *testing.T) {
	f := newFixture(t)
	line := f.createOrderLine(t, models.OrderTypeImmediate, 50)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromInt(30), BatchNumber: "LOT-A",
	})

	var got models.OrderLineItem
	require.NoError(t, f.db.First(&got, line.ID).Error)
	assert.True(t, got.QuantityReceived.Equal(decimal.NewFromInt(30)))
	assert.True(t, got.QuantityRemaining.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, models.LineStatusPartiallyReceived, got.LineStatus)

	var order models.Order
	require.NoError(t, f.db.First(&order, line.OrderID).Error)
	assert.Equal(t, models.OrderStatusPartiallyReceived, order.Status)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromInt(20), BatchNumber: "LOT-B",
	})

	require.NoError(t, f.db.First(&got, line.ID).Error)
	assert.True(t, got.QuantityReceived.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.QuantityRemaining.Equal(decimal.Zero))
	assert.Equal(t, models.LineStatusFullyReceived, got.LineStatus)

	require.NoError(t, f.db.First(&order, line.OrderID).Error)
	assert.Equal(t, models.OrderStatusFullyReceived, order.Status)

	// ordered = received + remaining must hold after every receipt.
	assert.True(t, got.QuantityOrdered.Equal(got.QuantityReceived.Add(got.QuantityRemaining)))
}

// TestReceiveDelivery_OverReceiptClamped verifies quantity beyond the line's
// remaining balance is clamped and surfaced as a warning, not an error.
func TestReceiveDelivery_OverReceiptClamped(t *testing.T) {
	f := newFixture(t)
	line := f.createOrderLine(t, models.OrderTypeImmediate, 10)

	report := f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromInt(15), BatchNumber: "LOT-A",
	})

	assert.Equal(t, 1, report.ProcessedCount)
	require.Len(t, report.Errors, 1)
	assert.True(t, report.Errors[0].Warning)

	var got models.OrderLineItem
	require.NoError(t, f.db.First(&got, line.ID).Error)
	assert.True(t, got.QuantityReceived.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, models.LineStatusFullyReceived, got.LineStatus)

	var batch models.Batch
	require.NoError(t, f.db.Where("batch_number = ?", "LOT-A").First(&batch).Error)
	assert.True(t, batch.CurrentQuantity.Equal(decimal.NewFromInt(10)))
}

// TestReceiveDelivery_OverageWithinTolerance verifies a sub-tolerance overage
// is clamped silently instead of raising a warning.
func TestReceiveDelivery_OverageWithinTolerance(t *testing.T) {
	f := newFixture(t)
	line := f.createOrderLine(t, models.OrderTypeImmediate, 10)

	report := f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromFloat(10.005), BatchNumber: "LOT-A",
	})

	assert.Equal(t, 1, report.ProcessedCount)
	assert.Empty(t, report.Errors)

	var got models.OrderLineItem
	require.NoError(t, f.db.First(&got, line.ID).Error)
	assert.True(t, got.QuantityReceived.Equal(decimal.NewFromInt(10)))
}

// TestReceiveDelivery_ExhaustedLineRejected verifies a receipt against a line
// with nothing remaining is a hard error.
func TestReceiveDelivery_ExhaustedLineRejected(t *testing.T) {
	f := newFixture(t)
	line := f.createOrderLine(t, models.OrderTypeImmediate, 10)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromInt(10), BatchNumber: "LOT-A",
	})
	report := f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, OrderLineItemID: ptr(line.ID),
		QuantityReceived: decimal.NewFromInt(5), BatchNumber: "LOT-B",
	})

	assert.Equal(t, 0, report.ProcessedCount)
	require.Len(t, report.Errors, 1)
	assert.False(t, report.Errors[0].Warning)
}

// TestReceiveDelivery_WithdrawalCascade verifies receipts against a withdrawal
// line propagate to the funding framework order's line and header.
func TestReceiveDelivery_WithdrawalCascade(t *testing.T) {
	f := newFixture(t)
	orderLine := f.createOrderLine(t, models.OrderTypeFramework, 100)
	wLine := f.createWithdrawalLine(t, orderLine.OrderID, 80)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, WithdrawalLineItemID: ptr(wLine.ID),
		QuantityReceived: decimal.NewFromInt(30), BatchNumber: "LOT-A",
	})

	var gotW models.WithdrawalLineItem
	require.NoError(t, f.db.First(&gotW, wLine.ID).Error)
	assert.True(t, gotW.QuantityReceived.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, models.WLineStatusPartiallyDelivered, gotW.LineStatus)
	assert.True(t, gotW.InDelivery)

	var withdrawal models.WithdrawalRequest
	require.NoError(t, f.db.First(&withdrawal, gotW.WithdrawalID).Error)
	assert.Equal(t, models.WithdrawalStatusInDelivery, withdrawal.Status)

	var gotLine models.OrderLineItem
	require.NoError(t, f.db.First(&gotLine, orderLine.ID).Error)
	assert.True(t, gotLine.QuantityReceived.Equal(decimal.NewFromInt(30)))
	assert.True(t, gotLine.QuantityRemaining.Equal(decimal.NewFromInt(70)))

	var order models.Order
	require.NoError(t, f.db.First(&order, orderLine.OrderID).Error)
	assert.Equal(t, models.OrderStatusPartiallyReceived, order.Status)
	assert.Equal(t, int64(1), order.Version)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, WithdrawalLineItemID: ptr(wLine.ID),
		QuantityReceived: decimal.NewFromInt(45), BatchNumber: "LOT-B",
	})

	require.NoError(t, f.db.First(&gotLine, orderLine.ID).Error)
	assert.True(t, gotLine.QuantityReceived.Equal(decimal.NewFromInt(75)))
	assert.True(t, gotLine.QuantityRemaining.Equal(decimal.NewFromInt(25)))

	require.NoError(t, f.db.First(&order, orderLine.OrderID).Error)
	assert.Equal(t, int64(2), order.Version)
}

// TestReceiveDelivery_CascadeAggregatesAcrossWithdrawals verifies the
// framework order line is rewritten from the sum over all withdrawals drawing
// on it, not just the one being receipted.
func TestReceiveDelivery_CascadeAggregatesAcrossWithdrawals(t *testing.T) {
	f := newFixture(t)
	orderLine := f.createOrderLine(t, models.OrderTypeFramework, 100)
	first := f.createWithdrawalLine(t, orderLine.OrderID, 30)
	second := f.createWithdrawalLine(t, orderLine.OrderID, 45)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, WithdrawalLineItemID: ptr(first.ID),
		QuantityReceived: decimal.NewFromInt(30), BatchNumber: "LOT-A",
	})
	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, WithdrawalLineItemID: ptr(second.ID),
		QuantityReceived: decimal.NewFromInt(45), BatchNumber: "LOT-B",
	})

	var gotLine models.OrderLineItem
	require.NoError(t, f.db.First(&gotLine, orderLine.ID).Error)
	assert.True(t, gotLine.QuantityReceived.Equal(decimal.NewFromInt(75)))
	assert.True(t, gotLine.QuantityRemaining.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, models.LineStatusPartiallyReceived, gotLine.LineStatus)
}

// TestReceiveDelivery_WithdrawalCompleted verifies a fully delivered line
// clears its in-delivery flag and completes the withdrawal.
func TestReceiveDelivery_WithdrawalCompleted(t *testing.T) {
	f := newFixture(t)
	orderLine := f.createOrderLine(t, models.OrderTypeFramework, 100)
	wLine := f.createWithdrawalLine(t, orderLine.OrderID, 40)

	f.receive(t, DeliveryItemInput{
		ReagentID: f.reagent.ID, WithdrawalLineItemID: ptr(wLine.ID),
		QuantityReceived: decimal.NewFromInt(40), BatchNumber: "LOT-A",
	})

	var gotW models.WithdrawalLineItem
	require.NoError(t, f.db.First(&gotW, wLine.ID).Error)
	assert.Equal(t, models.WLineStatusDelivered, gotW.LineStatus)
	assert.False(t, gotW.InDelivery)

	var withdrawal models.WithdrawalRequest
	require.NoError(t, f.db.First(&withdrawal, gotW.WithdrawalID).Error)
	assert.Equal(t, models.WithdrawalStatusCompleted, withdrawal.Status)
}

// TestReceiveDelivery_Rerun verifies re-running a receipt skips items already
// accepted instead of double counting them.
func TestReceiveDelivery_Rerun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	delivery, err := f.reconciler.CreateDelivery(ctx, CreateDeliveryInput{
		SupplierID: f.supplier.ID, ReceivedBy: 7,
		Items: []DeliveryItemInput{{
			ReagentID: f.reagent.ID, QuantityReceived: decimal.NewFromInt(10), BatchNumber: "LOT-A",
		}},
	})
	require.NoError(t, err)

	first, err := f.reconciler.ReceiveDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ProcessedCount)

	second, err := f.reconciler.ReceiveDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)

	var batch models.Batch
	require.NoError(t, f.db.Where("batch_number = ?", "LOT-A").First(&batch).Error)
	assert.True(t, batch.CurrentQuantity.Equal(decimal.NewFromInt(10)))
}
