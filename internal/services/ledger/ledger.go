// Package ledger owns physical batches and the append-only inventory
// transaction log. It is the source of truth for how much of a reagent
// exists right now.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
	"labstock-system/internal/services/engine"
)

type StockLedger struct {
	db *gorm.DB
}

func NewStockLedger(db *gorm.DB) *StockLedger {
	return &StockLedger{db: db}
}

// UpsertBatch adds delta to the batch identified by (reagent, batch number),
// creating it on first sight. The composite key is what lets repeated partial
// receipts accumulate into one batch record instead of duplicating it.
// It runs inside the caller's transaction.
func (l *StockLedger) UpsertBatch(ctx context.Context, tx *gorm.DB, reagentID int64, batchNumber string, delta decimal.Decimal, expiryDate *time.Time) (*models.Batch, error) {
	if batchNumber == "" {
		return nil, &engine.ValidationError{Field: "batch_number", Reason: "must not be empty"}
	}

	var batch models.Batch
	err := tx.WithContext(ctx).
		Where("reagent_id = ? AND batch_number = ?", reagentID, batchNumber).
		First(&batch).Error

	if err == gorm.ErrRecordNotFound {
		if delta.IsNegative() {
			return nil, &engine.ValidationError{Field: "quantity", Reason: "cannot create a batch with negative quantity"}
		}
		batch = models.Batch{
			ReagentID:       reagentID,
			BatchNumber:     batchNumber,
			InitialQuantity: delta,
			CurrentQuantity: delta,
			ExpiryDate:      expiryDate,
			Status:          batchStatusFor(delta, expiryDate),
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
			return nil, err
		}
		return &batch, nil
	} else if err != nil {
		return nil, err
	}

	next := batch.CurrentQuantity.Add(delta)
	if next.IsNegative() {
		return nil, &engine.ValidationError{Field: "quantity", Reason: "batch quantity cannot go negative"}
	}

	batch.CurrentQuantity = next
	if expiryDate != nil {
		batch.ExpiryDate = expiryDate
	}
	batch.Status = batchStatusFor(next, batch.ExpiryDate)
	batch.UpdatedAt = time.Now()

	if err := tx.WithContext(ctx).Save(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func batchStatusFor(qty decimal.Decimal, expiry *time.Time) models.BatchStatus {
	if qty.LessThanOrEqual(decimal.Zero) {
		return models.BatchStatusDepleted
	}
	if expiry != nil && expiry.Before(time.Now()) {
		return models.BatchStatusExpired
	}
	return models.BatchStatusActive
}

// RecordTransaction appends an immutable ledger row. It fails only on missing
// required fields; it never reads or updates existing rows.
func (l *StockLedger) RecordTransaction(ctx context.Context, tx *gorm.DB, reagentID int64, txType models.TransactionType, quantity decimal.Decimal, batchNumber, documentRef string, createdBy int64) error {
	if reagentID == 0 {
		return &engine.ValidationError{Field: "reagent_id", Reason: "required"}
	}
	if txType == "" {
		return &engine.ValidationError{Field: "type", Reason: "required"}
	}

	row := models.InventoryTransaction{
		ReagentID:   reagentID,
		Type:        txType,
		Quantity:    quantity,
		BatchNumber: batchNumber,
		DocumentRef: documentRef,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}
	return tx.WithContext(ctx).Create(&row).Error
}

// TotalStock sums current quantity over the reagent's active batches.
func (l *StockLedger) TotalStock(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	var batches []models.Batch
	err := l.db.WithContext(ctx).
		Where("reagent_id = ? AND status = ?", reagentID, models.BatchStatusActive).
		Find(&batches).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.CurrentQuantity)
	}
	return total, nil
}

// NearExpiryStock sums current quantity over batches whose expiry date falls
// within the horizon.
func (l *StockLedger) NearExpiryStock(ctx context.Context, reagentID int64, horizonDays int) (decimal.Decimal, error) {
	horizon := time.Now().AddDate(0, 0, horizonDays)

	var batches []models.Batch
	err := l.db.WithContext(ctx).
		Where("reagent_id = ? AND status = ? AND expiry_date IS NOT NULL AND expiry_date <= ?",
			reagentID, models.BatchStatusActive, horizon).
		Find(&batches).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.CurrentQuantity)
	}
	return total, nil
}

// ConsumeStock draws quantity out of a batch and appends a consumption row in
// one transaction. A batch that reaches zero is marked depleted, never deleted.
func (l *StockLedger) ConsumeStock(ctx context.Context, reagentID int64, batchNumber string, quantity decimal.Decimal, documentRef string, consumedBy int64) (*models.Batch, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, &engine.ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}

	var batch *models.Batch
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = l.UpsertBatch(ctx, tx, reagentID, batchNumber, quantity.Neg(), nil)
		if err != nil {
			return err
		}
		return l.RecordTransaction(ctx, tx, reagentID, models.TransactionConsumption, quantity.Neg(), batchNumber, documentRef, consumedBy)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

type TransactionFilter struct {
	ReagentID int64
	Type      models.TransactionType
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// ListTransactions returns a filtered page of the ledger, newest first.
func (l *StockLedger) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.InventoryTransaction, int64, error) {
	query := l.db.WithContext(ctx).Model(&models.InventoryTransaction{})

	if filter.ReagentID != 0 {
		query = query.Where("reagent_id = ?", filter.ReagentID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.StartDate != "" {
		if start, err := time.Parse("2006-01-02", filter.StartDate); err == nil {
			query = query.Where("created_at >= ?", start)
		}
	}
	if filter.EndDate != "" {
		if end, err := time.Parse("2006-01-02", filter.EndDate); err == nil {
			query = query.Where("created_at < ?", end.Add(24*time.Hour))
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []models.InventoryTransaction
	if err := query.Order("created_at DESC").Offset(filter.Offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
