// Package model defines the core entities of the alert-to-order pipeline:
// alerts, orders, executions, positions, portfolios and symbol metadata.
package model

import "time"

// Execution modes.
const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"
)

// Order sides. Signed so quantity math is side*qty everywhere.
const (
	SideBuy  = 1
	SideSell = -1
)

// Order kinds (NSE convention: SL = stop-limit, SL-M = stop-market).
const (
	KindMarket    = "MARKET"
	KindLimit     = "LIMIT"
	KindStop      = "SL-M"
	KindStopLimit = "SL"
)

// Product types.
const (
	ProductIntraday = "INTRADAY"
	ProductCNC      = "CNC"
	ProductMargin   = "MARGIN"
	ProductCover    = "CO"
	ProductBracket  = "BO"
	ProductMTF      = "MTF"
)

// Order states. New and Working are the only non-terminal states.
const (
	StatusNew       = "NEW"
	StatusWorking   = "WORKING"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// ValidKind reports whether k is a known order kind.
func ValidKind(k string) bool {
	switch k {
	case KindMarket, KindLimit, KindStop, KindStopLimit:
		return true
	}
	return false
}

// ValidProduct reports whether p is a known product type.
func ValidProduct(p string) bool {
	switch p {
	case ProductIntraday, ProductCNC, ProductMargin, ProductCover, ProductBracket, ProductMTF:
		return true
	}
	return false
}

// Order is a trading intent and its lifecycle state.
type Order struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	AlertID   int64  `json:"alert_id,omitempty"`  // 0 = engine-spawned or manual
	ParentID  int64  `json:"parent_id,omitempty"` // 0 = not a child order
	Strategy  string `json:"strategy,omitempty"`

	Mode    string `json:"mode"` // PAPER, LIVE
	Side    int    `json:"side"` // +1 buy, -1 sell
	Kind    string `json:"kind"`
	Product string `json:"product"`
	Symbol  string `json:"symbol"` // exchange-qualified, e.g. "NSE:SBIN-EQ"
	Qty     int64  `json:"qty"`

	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"` // trigger price for SL / SL-M
	StopLoss     float64 `json:"stop_loss,omitempty"`  // CO/BO protective offset in points
	TakeProfit   float64 `json:"take_profit,omitempty"`
	Tag          string  `json:"tag,omitempty"`
	Validity     string  `json:"validity"` // DAY, IOC
	DisclosedQty int64   `json:"disclosed_qty,omitempty"`

	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"` // rejection reason, audit trail
	BrokerOrderID string     `json:"broker_order_id,omitempty"`
	FillPrice     float64    `json:"fill_price,omitempty"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the order is in an absorbing state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OrderIntent is the canonical, validated-not-yet-persisted shape an
// incoming signal is normalized into before validation.
type OrderIntent struct {
	Symbol       string  `json:"symbol"`
	Side         int     `json:"side"`
	Qty          int64   `json:"qty"`
	Kind         string  `json:"kind"`
	Product      string  `json:"product"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	Tag          string  `json:"tag,omitempty"`
	Validity     string  `json:"validity"`
	DisclosedQty int64   `json:"disclosed_qty,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
	Mode         string  `json:"mode"`
}

// ToOrder converts the intent into a new Order for the given account/alert.
func (in *OrderIntent) ToOrder(accountID, alertID int64) *Order {
	now := time.Now().UTC()
	return &Order{
		AccountID:    accountID,
		AlertID:      alertID,
		Strategy:     in.Strategy,
		Mode:         in.Mode,
		Side:         in.Side,
		Kind:         in.Kind,
		Product:      in.Product,
		Symbol:       in.Symbol,
		Qty:          in.Qty,
		LimitPrice:   in.LimitPrice,
		StopPrice:    in.StopPrice,
		StopLoss:     in.StopLoss,
		TakeProfit:   in.TakeProfit,
		Tag:          in.Tag,
		Validity:     in.Validity,
		DisclosedQty: in.DisclosedQty,
		Status:       StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
