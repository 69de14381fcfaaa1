package model

import "time"

// SymbolMeta carries the per-symbol trading constraints the validator and
// the fill simulator depend on. Read-mostly, refreshed externally.
type SymbolMeta struct {
	Symbol   string  `json:"symbol"` // exchange-qualified
	Exchange string  `json:"exchange"`
	Segment  string  `json:"segment"`
	TickSize float64 `json:"tick_size"`
	LotSize  int64   `json:"lot_size"`
	Inferred bool    `json:"inferred"` // true when no authoritative record existed
}

// Account is a destination for alerts. Accounts holding a broker
// credential are "subscribed" and receive broadcast signals.
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	WebhookToken string    `json:"-"`
	HasBroker    bool      `json:"has_broker"`
	StartingCash float64   `json:"starting_cash"`
	CreatedAt    time.Time `json:"created_at"`
}
