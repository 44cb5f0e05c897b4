// Package suggestion computes suggested order quantities per reagent from
// current stock, in-transit quantity and effective monthly usage. The
// computation is a pure function of its inputs: no mutation, safe to
// recompute on every read, tolerant of missing or zero usage data.
package suggestion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"labstock-system/internal/database/models"
)

const (
	SUGGESTIONS_CACHE_KEY = "replenishment:suggestions"
	CACHE_TTL_SHORT       = 5 * time.Minute
)

// weeksPerMonth is the average number of weeks in a month.
var weeksPerMonth = decimal.NewFromFloat(4.33)

// safetyStockWeeks is the buffer kept on top of the planning horizon.
var safetyStockWeeks = decimal.NewFromInt(2)

type StockStatus string

const (
	StockStatusOut  StockStatus = "out_of_stock"
	StockStatusLow  StockStatus = "low_stock"
	StockStatusIn   StockStatus = "in_stock"
	// Overstocked is reserved for future use; it is never computed here.
	StockStatusOver StockStatus = "overstocked"
)

type Suggestion struct {
	ReagentID   int64  `json:"reagent_id"`
	ReagentCode string `json:"reagent_code"`
	ReagentName string `json:"reagent_name"`
	SupplierID  int64  `json:"supplier_id"`

	CurrentStock          decimal.Decimal `json:"current_stock"`
	QuantityInTransit     decimal.Decimal `json:"quantity_in_transit"`
	EffectiveMonthlyUsage decimal.Decimal `json:"effective_monthly_usage"`

	// MonthsOfStock is nil when usage is zero (unlimited coverage).
	MonthsOfStock *decimal.Decimal `json:"months_of_stock"`
	StockStatus   StockStatus      `json:"current_stock_status"`

	PlanningHorizonUsage decimal.Decimal `json:"planning_horizon_usage"`
	SafetyStock          decimal.Decimal `json:"safety_stock"`
	TotalRequired        decimal.Decimal `json:"total_required"`

	SuggestedQuantity            int64 `json:"suggested_quantity"`
	SuggestedQuantityWithoutTemp int64 `json:"suggested_quantity_without_temp"`
	HasTemporaryOrders           bool  `json:"has_temporary_orders"`
}

type suggestionInput struct {
	reagent              models.Reagent
	currentStock         decimal.Decimal
	inTransit            decimal.Decimal
	inTransitConfirmed   decimal.Decimal
	planningHorizonWeeks int64
}

// computeSuggestion derives one suggestion. Zero usage is handled explicitly:
// coverage is unlimited and the stock status depends only on whether any
// stock exists.
func computeSuggestion(in suggestionInput) Suggestion {
	usage := in.reagent.EffectiveMonthlyUsage()

	s := Suggestion{
		ReagentID:             in.reagent.ID,
		ReagentCode:           in.reagent.ReagentCode,
		ReagentName:           in.reagent.ReagentName,
		SupplierID:            in.reagent.SupplierID,
		CurrentStock:          in.currentStock,
		QuantityInTransit:     in.inTransit,
		EffectiveMonthlyUsage: usage,
	}

	if usage.GreaterThan(decimal.Zero) {
		months := in.currentStock.Div(usage)
		s.MonthsOfStock = &months
	}

	switch {
	case in.currentStock.LessThanOrEqual(decimal.Zero):
		s.StockStatus = StockStatusOut
	case s.MonthsOfStock != nil && s.MonthsOfStock.LessThan(decimal.NewFromInt(1)):
		s.StockStatus = StockStatusLow
	default:
		s.StockStatus = StockStatusIn
	}

	horizonMonths := decimal.NewFromInt(in.planningHorizonWeeks).Div(weeksPerMonth)
	s.PlanningHorizonUsage = usage.Mul(horizonMonths)
	s.SafetyStock = usage.Div(weeksPerMonth).Mul(safetyStockWeeks)
	s.TotalRequired = s.PlanningHorizonUsage.Add(s.SafetyStock)

	s.SuggestedQuantity = suggestedQty(s.TotalRequired, in.currentStock.Add(in.inTransit))
	s.SuggestedQuantityWithoutTemp = suggestedQty(s.TotalRequired, in.currentStock.Add(in.inTransitConfirmed))
	s.HasTemporaryOrders = s.SuggestedQuantity != s.SuggestedQuantityWithoutTemp

	return s
}

func suggestedQty(required, netStock decimal.Decimal) int64 {
	qty := required.Sub(netStock).Round(0)
	if qty.IsNegative() {
		return 0
	}
	return qty.IntPart()
}

type Filter struct {
	SupplierID int64
	Category   string
	Search     string
}

type Engine struct {
	db                   *gorm.DB
	redis                *redis.Client
	planningHorizonWeeks int64
}

func NewEngine(db *gorm.DB, redisClient *redis.Client, planningHorizonWeeks int64) *Engine {
	if planningHorizonWeeks <= 0 {
		planningHorizonWeeks = 12
	}
	return &Engine{
		db:                   db,
		redis:                redisClient,
		planningHorizonWeeks: planningHorizonWeeks,
	}
}

// Suggestions recomputes the suggestion list for all active reagents matching
// the filter. The unfiltered list is cached briefly; the cache is advisory
// only and never consulted for balance validation.
func (e *Engine) Suggestions(ctx context.Context, filter Filter) ([]Suggestion, error) {
	cacheable := filter == Filter{}
	if cacheable && e.redis != nil {
		if cached, err := e.redis.Get(ctx, SUGGESTIONS_CACHE_KEY).Result(); err == nil {
			var out []Suggestion
			if json.Unmarshal([]byte(cached), &out) == nil {
				return out, nil
			}
		}
	}

	query := e.db.WithContext(ctx).Model(&models.Reagent{}).Where("is_active = ?", true)
	if filter.SupplierID != 0 {
		query = query.Where("supplier_id = ?", filter.SupplierID)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Search != "" {
		term := "%" + filter.Search + "%"
		query = query.Where("reagent_code LIKE ? OR reagent_name LIKE ?", term, term)
	}

	var reagents []models.Reagent
	if err := query.Find(&reagents).Error; err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(reagents))
	for _, r := range reagents {
		stock, err := e.currentStock(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		inTransit, confirmed, err := e.inTransit(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, computeSuggestion(suggestionInput{
			reagent:              r,
			currentStock:         stock,
			inTransit:            inTransit,
			inTransitConfirmed:   confirmed,
			planningHorizonWeeks: e.planningHorizonWeeks,
		}))
	}

	if cacheable && e.redis != nil {
		if payload, err := json.Marshal(out); err == nil {
			_ = e.redis.Set(ctx, SUGGESTIONS_CACHE_KEY, payload, CACHE_TTL_SHORT)
		}
	}
	return out, nil
}

// InventoryChanged drops the cached suggestion list. It satisfies the
// reconciler's notifier interface; failures are ignored.
func (e *Engine) InventoryChanged(ctx context.Context, reagentIDs []int64) {
	if e.redis != nil {
		_ = e.redis.Del(ctx, SUGGESTIONS_CACHE_KEY)
	}
}

func (e *Engine) currentStock(ctx context.Context, reagentID int64) (decimal.Decimal, error) {
	var batches []models.Batch
	err := e.db.WithContext(ctx).
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

// inTransit returns quantity already on order or in delivery. The first value
// counts everything including temporary (unconfirmed) orders; the second only
// quantity tied to orders that carry a permanent number.
func (e *Engine) inTransit(ctx context.Context, reagentID int64) (all, confirmed decimal.Decimal, err error) {
	type lineRow struct {
		QuantityOrdered  decimal.Decimal `gorm:"column:quantity_ordered"`
		QuantityReceived decimal.Decimal `gorm:"column:quantity_received"`
		OrderNumber      string          `gorm:"column:order_number"`
		SAPPONumber      string          `gorm:"column:sap_po_number"`
	}

	var lines []lineRow
	err = e.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Select("order_line_items.quantity_ordered, order_line_items.quantity_received, orders.order_number, orders.sap_po_number").
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("order_line_items.reagent_id = ?", reagentID).
		Where("orders.order_type = ?", models.OrderTypeImmediate).
		Where("order_line_items.line_status IN ?", []models.OrderLineStatus{
			models.LineStatusOpen,
			models.LineStatusPartiallyReceived,
		}).
		Find(&lines).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for _, li := range lines {
		remaining := li.QuantityOrdered.Sub(li.QuantityReceived)
		all = all.Add(remaining)
		if li.OrderNumber != "" || li.SAPPONumber != "" {
			confirmed = confirmed.Add(remaining)
		}
	}

	// Withdrawal quantity already picked for delivery also counts as in
	// transit; it is always tied to a framework order, so its confirmation
	// follows that order's numbering.
	type wLineRow struct {
		QuantityRequested decimal.Decimal `gorm:"column:quantity_requested"`
		QuantityReceived  decimal.Decimal `gorm:"column:quantity_received"`
		OrderNumber       string          `gorm:"column:order_number"`
		SAPPONumber       string          `gorm:"column:sap_po_number"`
	}

	var wLines []wLineRow
	err = e.db.WithContext(ctx).Model(&models.WithdrawalLineItem{}).
		Select("withdrawal_line_items.quantity_requested, withdrawal_line_items.quantity_received, orders.order_number, orders.sap_po_number").
		Joins("JOIN withdrawal_requests ON withdrawal_requests.id = withdrawal_line_items.withdrawal_id").
		Joins("JOIN orders ON orders.id = withdrawal_requests.framework_order_id").
		Where("withdrawal_line_items.reagent_id = ?", reagentID).
		Where("withdrawal_line_items.in_delivery = ?", true).
		Where("withdrawal_line_items.line_status IN ?", []models.WithdrawalLineStatus{
			models.WLineStatusPending,
			models.WLineStatusPartiallyDelivered,
		}).
		Find(&wLines).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for _, li := range wLines {
		remaining := li.QuantityRequested.Sub(li.QuantityReceived)
		all = all.Add(remaining)
		if li.OrderNumber != "" || li.SAPPONumber != "" {
			confirmed = confirmed.Add(remaining)
		}
	}

	return all, confirmed, nil
}
