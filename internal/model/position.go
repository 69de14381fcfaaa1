package model

import "time"

// Execution is an immutable fill record. Exactly one per fill event;
// paper orders fill in full or not at all.
type Execution struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	AccountID int64     `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Side      int       `json:"side"`
	Qty       int64     `json:"qty"`
	Price     float64   `json:"price"`
	Mode      string    `json:"mode"`
	FilledAt  time.Time `json:"filled_at"`
}

// Position is the per (account, symbol, mode) aggregate. A position whose
// quantity reaches exactly zero is deleted, never stored.
type Position struct {
	AccountID int64     `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Mode      string    `json:"mode"`
	Qty       int64     `json:"qty"` // signed: positive = long
	AvgPrice  float64   `json:"avg_price"`
	MTM       float64   `json:"mtm"` // last mark-to-market value
	UpdatedAt time.Time `json:"updated_at"`
}

// UnrealizedPnL computes the open P&L of the position at price ltp.
func (p *Position) UnrealizedPnL(ltp float64) float64 {
	return (ltp - p.AvgPrice) * float64(p.Qty)
}

// Portfolio is the per (account, mode) aggregate. Cash moves on every fill;
// P&L figures are recomputed on demand from the position set.
type Portfolio struct {
	AccountID      int64     `json:"account_id"`
	Mode           string    `json:"mode"`
	Cash           float64   `json:"cash"`
	DayPnL         float64   `json:"day_pnl"`
	TotalPnL       float64   `json:"total_pnl"`
	StartingCash   float64   `json:"starting_cash"`
	DayStartEquity float64   `json:"day_start_equity"`
	DayStart       time.Time `json:"day_start"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApplyFill folds one fill into a (qty, avgPrice) pair:
//
//	newQty = prevQty + side*fillQty
//	newAvg = (prevQty*prevAvg + side*fillQty*fillPrice) / |newQty|
//
// A newQty of zero means the position row must be removed. The single
// formula intentionally also covers position-reducing fills (cost-basis
// adjustment rather than realized-P&L split).
func ApplyFill(prevQty int64, prevAvg float64, side int, fillQty int64, fillPrice float64) (newQty int64, newAvg float64) {
	signed := int64(side) * fillQty
	newQty = prevQty + signed
	if newQty == 0 {
		return 0, 0
	}
	newAvg = (float64(prevQty)*prevAvg + float64(signed)*fillPrice) / float64(abs64(newQty))
	return newQty, newAvg
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
