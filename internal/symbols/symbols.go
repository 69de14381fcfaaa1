// Package symbols resolves per-symbol trading constraints (tick size, lot
// size, exchange/segment) and provides the compliance checks the validator
// depends on.
package symbols

import (
	"math"
	"strings"
	"sync"

	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/store/sqlite"
)

// tickTolerance is the relative tolerance absorbing float noise when
// checking tick multiples.
const tickTolerance = 1e-6

// Defaults used when no authoritative metadata row exists.
const (
	DefaultTickSize = 0.05
	DefaultLotSize  = 1
	DefaultSegment  = "CM"
)

// Service resolves symbol metadata from the store with an inference
// fallback. Lookups are cached; the cache is read-mostly and invalidated
// wholesale on refresh.
type Service struct {
	store *sqlite.Store

	mu    sync.RWMutex
	cache map[string]model.SymbolMeta
}

// New creates a metadata service over the store.
func New(store *sqlite.Store) *Service {
	return &Service{
		store: store,
		cache: make(map[string]model.SymbolMeta),
	}
}

// Meta returns metadata for an exchange-qualified symbol. When no stored
// record exists the service infers defaults from the symbol itself:
// exchange from the prefix, segment from the suffix, tick/lot from the
// exchange defaults. Inferred records are flagged so callers can log them.
func (s *Service) Meta(symbol string) model.SymbolMeta {
	s.mu.RLock()
	if m, ok := s.cache[symbol]; ok {
		s.mu.RUnlock()
		return m
	}
	s.mu.RUnlock()

	m, found, err := s.store.SymbolMeta(symbol)
	if err != nil || !found {
		m = infer(symbol)
	}

	s.mu.Lock()
	s.cache[symbol] = m
	s.mu.Unlock()
	return m
}

// Refresh drops the cache so the next lookups hit the store again.
func (s *Service) Refresh() {
	s.mu.Lock()
	s.cache = make(map[string]model.SymbolMeta)
	s.mu.Unlock()
}

func infer(symbol string) model.SymbolMeta {
	exchange := "NSE"
	if i := strings.Index(symbol, ":"); i > 0 {
		exchange = symbol[:i]
	}
	segment := DefaultSegment
	switch {
	case strings.HasSuffix(symbol, "-EQ"), strings.HasSuffix(symbol, "-BE"):
		segment = "CM"
	case strings.Contains(symbol, "FUT"), strings.Contains(symbol, "CE"), strings.Contains(symbol, "PE"):
		segment = "FO"
	}
	return model.SymbolMeta{
		Symbol:   symbol,
		Exchange: exchange,
		Segment:  segment,
		TickSize: DefaultTickSize,
		LotSize:  DefaultLotSize,
		Inferred: true,
	}
}

// TickAligned reports whether price is an exact multiple of tick within
// relative tolerance.
func TickAligned(price, tick float64) bool {
	if tick <= 0 {
		return true
	}
	ratio := price / tick
	return math.Abs(ratio-math.Round(ratio)) <= tickTolerance*math.Max(1, math.Abs(ratio))
}

// LotAligned reports whether qty is an exact multiple of lot.
func LotAligned(qty, lot int64) bool {
	if lot <= 0 {
		return true
	}
	return qty%lot == 0
}
