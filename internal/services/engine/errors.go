// Package engine holds the error taxonomy shared by the reconciliation
// services. Every error names the specific reagent or document that caused
// it; aggregate-only messages are useless once a multi-document cascade is
// involved.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityEpsilon is the tolerance for comparing reconciled quantities.
var QuantityEpsilon = decimal.NewFromFloat(0.01)

// ValidationError reports a missing or invalid required field on a line.
type ValidationError struct {
	Field       string
	ReagentCode string
	Reason      string
}

func (e *ValidationError) Error() string {
	if e.ReagentCode != "" {
		return fmt.Sprintf("validation failed for reagent %s: %s (%s)", e.ReagentCode, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Field, e.Reason)
}

// InsufficientBalanceError means a requested quantity exceeds the net
// available framework balance for a reagent.
type InsufficientBalanceError struct {
	ReagentCode string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for reagent %s: requested %s, available %s",
		e.ReagentCode, e.Requested.String(), e.Available.String())
}

// NoMatchingFrameworkOrderError means no single framework order can cover
// every requested item.
type NoMatchingFrameworkOrderError struct {
	SupplierID int64
}

func (e *NoMatchingFrameworkOrderError) Error() string {
	return fmt.Sprintf("no framework order for supplier %d can supply all requested items", e.SupplierID)
}

// OverReceiptError reports a receipt that exceeded the remaining quantity on
// its linked source. It is recoverable: the line is clamped to the remaining
// value and the error surfaces as a warning.
type OverReceiptError struct {
	ReagentCode string
	BatchNumber string
	Requested   decimal.Decimal
	Remaining   decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("over-receipt for reagent %s batch %s: received %s exceeds remaining %s, clamped",
		e.ReagentCode, e.BatchNumber, e.Requested.String(), e.Remaining.String())
}

// ConcurrencyConflictError means a stale read was detected while rewriting a
// framework order's rolled-up balance. The cascade must re-read before retry.
type ConcurrencyConflictError struct {
	FrameworkOrderID int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent cascade detected on framework order %d", e.FrameworkOrderID)
}

// ReferenceIntegrityError means a linked record no longer resolves.
type ReferenceIntegrityError struct {
	Kind string
	ID   int64
}

func (e *ReferenceIntegrityError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// RequiresConfirmationError is returned when the selected framework order has
// neither a permanent order number nor an SAP PO number. The caller must
// explicitly opt in before the withdrawal is created.
type RequiresConfirmationError struct {
	FrameworkOrderID int64
}

func (e *RequiresConfirmationError) Error() string {
	return fmt.Sprintf("framework order %d has no permanent order number; confirmation required", e.FrameworkOrderID)
}
