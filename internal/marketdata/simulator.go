package marketdata

import (
	"context"
	"math"

	"alert-pipelinev1/internal/model"
)

// FillRequest carries the order attributes the simulator inspects.
type FillRequest struct {
	Symbol     string
	Side       int // +1 buy, -1 sell
	Kind       string
	LimitPrice float64
	StopPrice  float64
	TickSize   float64 // 0 = no rounding
}

// Simulator computes simulated fill prices from live quotes and a
// configured slippage in basis points.
//
// Contract:
//   - market buy  -> ask + slippage; market sell -> bid - slippage
//   - limit buy   -> min(limit, ask + slippage); limit sell -> max(limit, bid - slippage)
//   - stop orders gate on LTP crossing the trigger, then fill as market
//   - stop-limit gates like a stop, then prices like a limit
//   - missing LTP or bid/ask means no fill this cycle, never an error
//
// The slipped touch price is rounded to the nearest tick before the limit
// comparison, so reported fills stay tick-compliant.
type Simulator struct {
	provider    Provider
	slippageBps float64
}

// NewSimulator creates a fill simulator over the given quote provider.
func NewSimulator(p Provider, slippageBps float64) *Simulator {
	return &Simulator{provider: p, slippageBps: slippageBps}
}

// Fill returns the simulated fill price, or ok=false when the order does
// not fill this cycle (trigger not crossed or market data unavailable).
func (s *Simulator) Fill(ctx context.Context, req FillRequest) (float64, bool) {
	ltp, ltpOK := s.provider.LTP(ctx, req.Symbol)
	quote, quoteOK := s.provider.BidAsk(ctx, req.Symbol)
	if !ltpOK || !quoteOK || quote.Bid <= 0 || quote.Ask <= 0 {
		return 0, false
	}

	// Stop gating: buy triggers at LTP >= stop, sell at LTP <= stop.
	if req.Kind == model.KindStop || req.Kind == model.KindStopLimit {
		if req.Side == model.SideBuy && ltp < req.StopPrice {
			return 0, false
		}
		if req.Side == model.SideSell && ltp > req.StopPrice {
			return 0, false
		}
	}

	var touch float64
	if req.Side == model.SideBuy {
		touch = quote.Ask * (1 + s.slippageBps/10000)
	} else {
		touch = quote.Bid * (1 - s.slippageBps/10000)
	}
	touch = RoundToTick(touch, req.TickSize)

	switch req.Kind {
	case model.KindMarket, model.KindStop:
		return touch, true
	case model.KindLimit, model.KindStopLimit:
		// A resting limit order captures price improvement: it fills at
		// the better of its limit and the slipped touch.
		if req.Side == model.SideBuy {
			if touch > req.LimitPrice {
				return req.LimitPrice, true
			}
			return touch, true
		}
		if touch < req.LimitPrice {
			return req.LimitPrice, true
		}
		return touch, true
	}
	return 0, false
}

// RoundToTick rounds price to the nearest multiple of tick. A zero or
// negative tick leaves the price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
