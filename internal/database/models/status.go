package models

import "github.com/shopspring/decimal"

type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusDepleted BatchStatus = "depleted"
	BatchStatusExpired  BatchStatus = "expired"
)

type OrderStatus string

const (
	OrderStatusPendingSAPDetails OrderStatus = "pending_sap_details"
	OrderStatusApproved          OrderStatus = "approved"
	OrderStatusPartiallyReceived OrderStatus = "partially_received"
	OrderStatusFullyReceived     OrderStatus = "fully_received"
	OrderStatusClosed            OrderStatus = "closed"
)

type OrderLineStatus string

const (
	LineStatusOpen              OrderLineStatus = "open"
	LineStatusPartiallyReceived OrderLineStatus = "partially_received"
	LineStatusFullyReceived     OrderLineStatus = "fully_received"
	LineStatusCancelled         OrderLineStatus = "cancelled"
)

type WithdrawalStatus string

const (
	WithdrawalStatusSubmitted  WithdrawalStatus = "submitted"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusInDelivery WithdrawalStatus = "in_delivery"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
)

type WithdrawalLineStatus string

const (
	WLineStatusPending            WithdrawalLineStatus = "pending"
	WLineStatusPartiallyDelivered WithdrawalLineStatus = "partially_delivered"
	WLineStatusDelivered          WithdrawalLineStatus = "delivered"
	WLineStatusCancelled          WithdrawalLineStatus = "cancelled"
	WLineStatusRejected           WithdrawalLineStatus = "rejected"
)

// Header statuses only move forward. A fully received order is never reopened
// by a later write, so every rollup compares ranks and keeps the larger one.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPendingSAPDetails: 0,
	OrderStatusApproved:          1,
	OrderStatusPartiallyReceived: 2,
	OrderStatusFullyReceived:     3,
	OrderStatusClosed:            4,
}

var withdrawalStatusRank = map[WithdrawalStatus]int{
	WithdrawalStatusSubmitted:  0,
	WithdrawalStatusApproved:   1,
	WithdrawalStatusInDelivery: 2,
	WithdrawalStatusCompleted:  3,
}

// DeriveOrderLineStatus returns the line status implied by the quantity pair.
// Cancelled is terminal and never recomputed.
func DeriveOrderLineStatus(current OrderLineStatus, ordered, received decimal.Decimal) OrderLineStatus {
	if current == LineStatusCancelled {
		return LineStatusCancelled
	}
	switch {
	case received.GreaterThanOrEqual(ordered) && ordered.GreaterThan(decimal.Zero):
		return LineStatusFullyReceived
	case received.GreaterThan(decimal.Zero):
		return LineStatusPartiallyReceived
	default:
		return LineStatusOpen
	}
}

// DeriveWithdrawalLineStatus mirrors DeriveOrderLineStatus for the withdrawal
// vocabulary. Cancelled and rejected are terminal.
func DeriveWithdrawalLineStatus(current WithdrawalLineStatus, requested, received decimal.Decimal) WithdrawalLineStatus {
	if current == WLineStatusCancelled || current == WLineStatusRejected {
		return current
	}
	switch {
	case received.GreaterThanOrEqual(requested) && requested.GreaterThan(decimal.Zero):
		return WLineStatusDelivered
	case received.GreaterThan(decimal.Zero):
		return WLineStatusPartiallyDelivered
	default:
		return WLineStatusPending
	}
}

// RollupOrderStatus recomputes the header status from all line items.
// Cancelled lines are excluded; an order whose remaining lines are all fully
// received is fully received. The result never moves the header backward.
func RollupOrderStatus(current OrderStatus, lines []OrderLineItem) OrderStatus {
	derived := deriveOrderStatus(current, lines)
	if orderStatusRank[derived] > orderStatusRank[current] {
		return derived
	}
	return current
}

func deriveOrderStatus(current OrderStatus, lines []OrderLineItem) OrderStatus {
	active := 0
	fully := 0
	anyReceipt := false
	for _, li := range lines {
		if li.LineStatus == LineStatusCancelled {
			continue
		}
		active++
		switch li.LineStatus {
		case LineStatusFullyReceived:
			fully++
			anyReceipt = true
		case LineStatusPartiallyReceived:
			anyReceipt = true
		}
	}
	if active > 0 && fully == active {
		return OrderStatusFullyReceived
	}
	if anyReceipt {
		return OrderStatusPartiallyReceived
	}
	return current
}

// RollupWithdrawalStatus recomputes the withdrawal header from its line items.
// Terminal lines (delivered, cancelled, rejected) count toward completion.
func RollupWithdrawalStatus(current WithdrawalStatus, lines []WithdrawalLineItem) WithdrawalStatus {
	derived := deriveWithdrawalStatus(current, lines)
	if withdrawalStatusRank[derived] > withdrawalStatusRank[current] {
		return derived
	}
	return current
}

func deriveWithdrawalStatus(current WithdrawalStatus, lines []WithdrawalLineItem) WithdrawalStatus {
	if len(lines) == 0 {
		return current
	}
	terminal := 0
	anyDelivery := false
	for _, li := range lines {
		switch li.LineStatus {
		case WLineStatusDelivered:
			terminal++
			anyDelivery = true
		case WLineStatusCancelled, WLineStatusRejected:
			terminal++
		case WLineStatusPartiallyDelivered:
			anyDelivery = true
		}
	}
	if terminal == len(lines) && anyDelivery {
		return WithdrawalStatusCompleted
	}
	if anyDelivery {
		return WithdrawalStatusInDelivery
	}
	return current
}
