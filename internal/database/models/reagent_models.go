package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Supplier struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	SupplierCode  string `gorm:"size:100;uniqueIndex"`
	SupplierName  string `gorm:"size:255"`
	ContactPerson *string `gorm:"size:100"`
	Email         *string `gorm:"size:100"`
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Reagents []Reagent `gorm:"foreignKey:SupplierID"`
}

type Reagent struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	ReagentCode  string `gorm:"size:100;uniqueIndex"`
	ReagentName  string `gorm:"size:255"`
	SupplierID   int64  `gorm:"index"`
	Category     string `gorm:"size:100"`
	UnitOfMeasure string `gorm:"size:50"`

	AverageMonthlyUsage decimal.Decimal `gorm:"type:decimal(18,3)"`
	ManualMonthlyUsage  decimal.Decimal `gorm:"type:decimal(18,3)"`
	UseManualUsage      bool

	MinThreshold decimal.Decimal `gorm:"type:decimal(18,3)"`
	MaxThreshold decimal.Decimal `gorm:"type:decimal(18,3)"`

	// Some reagents are delivered without batch tracking or expiry dates
	// (consumables, house chemicals). Receipt validation honors these flags.
	BatchExempt  bool
	ExpiryExempt bool

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time

	Supplier *Supplier `gorm:"foreignKey:SupplierID"`
	Batches  []Batch   `gorm:"foreignKey:ReagentID"`
}

// EffectiveMonthlyUsage returns the manual override when it is flagged on and
// positive, otherwise the computed average.
func (r Reagent) EffectiveMonthlyUsage() decimal.Decimal {
	if r.UseManualUsage && r.ManualMonthlyUsage.GreaterThan(decimal.Zero) {
		return r.ManualMonthlyUsage
	}
	return r.AverageMonthlyUsage
}

type Batch struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ReagentID   int64  `gorm:"uniqueIndex:idx_reagent_batch"`
	BatchNumber string `gorm:"size:100;uniqueIndex:idx_reagent_batch"`

	InitialQuantity decimal.Decimal `gorm:"type:decimal(18,3)"`
	CurrentQuantity decimal.Decimal `gorm:"type:decimal(18,3)"`

	ExpiryDate *time.Time
	Status     BatchStatus `gorm:"size:20"`
	CoaURL     *string     `gorm:"size:500"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Reagent *Reagent `gorm:"foreignKey:ReagentID"`
}

type TransactionType string

const (
	TransactionDelivery    TransactionType = "delivery"
	TransactionConsumption TransactionType = "consumption"
	TransactionAdjustment  TransactionType = "adjustment"
)

// InventoryTransaction rows are append-only; they are never updated or deleted.
type InventoryTransaction struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	ReagentID   int64           `gorm:"index"`
	Type        TransactionType `gorm:"size:20"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,3)"`
	BatchNumber string          `gorm:"size:100"`
	DocumentRef string          `gorm:"size:100;index"`
	CreatedBy   int64
	CreatedAt   time.Time
}

// ReceiptEvent is the audit entry written for every accepted delivery line
// item, one row per acceptance. Append-only.
type ReceiptEvent struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement"`
	DeliveryID         int64           `gorm:"index"`
	DeliveryLineItemID int64           `gorm:"index"`
	ReagentID          int64           `gorm:"index"`
	BatchNumber        string          `gorm:"size:100"`
	QuantityReceived   decimal.Decimal `gorm:"type:decimal(18,3)"`
	ReceivedBy         int64
	CreatedAt          time.Time
}
