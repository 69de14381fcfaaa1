package model

import "time"

// Event types published on the order lifecycle channel.
const (
	EventAlertReceived = "alert_received"
	EventAlertRejected = "alert_rejected"
	EventOrderCreated  = "order_created"
	EventOrderWorking  = "order_working"
	EventOrderFilled   = "order_filled"
	EventOrderCancel   = "order_cancelled"
	EventOrderRejected = "order_rejected"
)

// Event is one pipeline lifecycle event, fanned out over pub/sub to the
// websocket gateway and notification backends.
type Event struct {
	Type      string    `json:"type"`
	AccountID int64     `json:"account_id,omitempty"`
	AlertID   int64     `json:"alert_id,omitempty"`
	OrderID   int64     `json:"order_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      int       `json:"side,omitempty"`
	Qty       int64     `json:"qty,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// NewOrderEvent builds an event snapshot from an order.
func NewOrderEvent(typ string, o *Order) Event {
	ev := Event{
		Type:      typ,
		AccountID: o.AccountID,
		AlertID:   o.AlertID,
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Qty:       o.Qty,
		Reason:    o.Reason,
		At:        time.Now().UTC(),
	}
	if typ == EventOrderFilled {
		ev.Price = o.FillPrice
	}
	return ev
}
