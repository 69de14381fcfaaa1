// Package marketdata defines the read-only quote contract the validator
// and the paper engine consume, plus the fill-price simulator.
package marketdata

import (
	"context"
	"sync"
)

// Quote is a top-of-book snapshot.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Provider supplies last-traded-price and bid/ask for a symbol. Both calls
// may report "unavailable" (ok=false); that is a soft condition, never an
// error, and callers degrade to no-fill / skipped checks.
type Provider interface {
	LTP(ctx context.Context, symbol string) (float64, bool)
	BidAsk(ctx context.Context, symbol string) (Quote, bool)
}

// StaticProvider is an in-memory Provider for tests and local runs.
type StaticProvider struct {
	mu     sync.RWMutex
	ltps   map[string]float64
	quotes map[string]Quote
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		ltps:   make(map[string]float64),
		quotes: make(map[string]Quote),
	}
}

// Set stores the full quote for a symbol.
func (p *StaticProvider) Set(symbol string, ltp, bid, ask float64) {
	p.mu.Lock()
	p.ltps[symbol] = ltp
	p.quotes[symbol] = Quote{Bid: bid, Ask: ask}
	p.mu.Unlock()
}

// Drop removes all market data for a symbol (simulates an outage).
func (p *StaticProvider) Drop(symbol string) {
	p.mu.Lock()
	delete(p.ltps, symbol)
	delete(p.quotes, symbol)
	p.mu.Unlock()
}

func (p *StaticProvider) LTP(_ context.Context, symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.ltps[symbol]
	return v, ok
}

func (p *StaticProvider) BidAsk(_ context.Context, symbol string) (Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q, ok
}
