package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalRequest draws down a framework order's remaining balance. Stock
// only moves when a later delivery reconciles against its line items.
type WithdrawalRequest struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	WithdrawalNumber string `gorm:"size:100;uniqueIndex"`
	FrameworkOrderID int64  `gorm:"index"`
	SupplierID       int64  `gorm:"index"`

	Status WithdrawalStatus `gorm:"size:30;index"`

	RequestedBy int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	FrameworkOrder *Order               `gorm:"foreignKey:FrameworkOrderID"`
	Supplier       *Supplier            `gorm:"foreignKey:SupplierID"`
	LineItems      []WithdrawalLineItem `gorm:"foreignKey:WithdrawalID"`
}

type WithdrawalLineItem struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	WithdrawalID int64 `gorm:"index"`
	ReagentID    int64 `gorm:"index"`

	QuantityRequested decimal.Decimal `gorm:"type:decimal(18,3)"`
	QuantityReceived  decimal.Decimal `gorm:"type:decimal(18,3)"`
	QuantityRemaining decimal.Decimal `gorm:"type:decimal(18,3)"`

	LineStatus WithdrawalLineStatus `gorm:"size:30;index"`

	// InDelivery marks quantity already picked for a delivery but not yet
	// receipted.
	InDelivery bool

	CreatedAt time.Time
	UpdatedAt time.Time

	Withdrawal *WithdrawalRequest `gorm:"foreignKey:WithdrawalID"`
	Reagent    *Reagent           `gorm:"foreignKey:ReagentID"`
}
