package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeImmediate OrderType = "immediate"
	OrderTypeFramework OrderType = "framework"
)

type Order struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	OrderType  OrderType `gorm:"size:20;index"`
	SupplierID int64     `gorm:"index"`

	// OrderNumber is the permanent number; empty means the order is still
	// temporary. SAPPONumber is assigned by the purchasing system later.
	OrderNumber string `gorm:"size:100;index"`
	SAPPONumber string `gorm:"size:100;column:sap_po_number"`

	Status OrderStatus `gorm:"size:30;index"`

	// Version guards the framework-order cascade: the rolled-up balance is
	// rewritten with an optimistic check so two concurrent cascades cannot
	// leave a stale aggregate.
	Version int64

	OrderedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time

	Supplier  *Supplier       `gorm:"foreignKey:SupplierID"`
	LineItems []OrderLineItem `gorm:"foreignKey:OrderID"`
}

// IsTemporary reports whether the order still lacks both a permanent order
// number and an SAP PO number.
func (o Order) IsTemporary() bool {
	return o.OrderNumber == "" && o.SAPPONumber == ""
}

type OrderLineItem struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	OrderID   int64 `gorm:"index"`
	ReagentID int64 `gorm:"index"`

	QuantityOrdered   decimal.Decimal `gorm:"type:decimal(18,3)"`
	QuantityReceived  decimal.Decimal `gorm:"type:decimal(18,3)"`
	QuantityRemaining decimal.Decimal `gorm:"type:decimal(18,3)"`

	LineStatus OrderLineStatus `gorm:"size:30;index"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Order   *Order   `gorm:"foreignKey:OrderID"`
	Reagent *Reagent `gorm:"foreignKey:ReagentID"`
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusPartial   DeliveryStatus = "partially_processed"
	DeliveryStatusProcessed DeliveryStatus = "processed"
)

type Delivery struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	DeliveryNumber string         `gorm:"size:100;uniqueIndex"`
	SupplierID     int64          `gorm:"index"`
	Status         DeliveryStatus `gorm:"size:30"`
	ItemCount      int
	ProcessedCount int
	ReceivedBy     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Supplier  *Supplier          `gorm:"foreignKey:SupplierID"`
	LineItems []DeliveryLineItem `gorm:"foreignKey:DeliveryID"`
}

// DeliveryLineItem links at most one source line: an order line item or a
// withdrawal line item, never both. With neither set the row is a walk-in
// receipt that only touches the batch and the ledger.
type DeliveryLineItem struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	DeliveryID int64 `gorm:"index"`
	ReagentID  int64 `gorm:"index"`

	OrderLineItemID      *int64 `gorm:"index"`
	WithdrawalLineItemID *int64 `gorm:"index"`

	QuantityReceived decimal.Decimal `gorm:"type:decimal(18,3)"`
	BatchNumber      string          `gorm:"size:100"`
	ExpiryDate       *time.Time
	CoaURL           *string `gorm:"size:500"`

	Accepted     bool
	ErrorMessage *string `gorm:"size:500"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Delivery *Delivery `gorm:"foreignKey:DeliveryID"`
	Reagent  *Reagent  `gorm:"foreignKey:ReagentID"`
}
