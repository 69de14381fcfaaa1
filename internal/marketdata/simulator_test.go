package marketdata

import (
	"context"
	"math"
	"testing"

	"alert-pipelinev1/internal/model"
)

const sym = "NSE:SBIN-EQ"

func newSim(slippageBps float64, ltp, bid, ask float64) (*Simulator, *StaticProvider) {
	p := NewStaticProvider()
	p.Set(sym, ltp, bid, ask)
	return NewSimulator(p, slippageBps), p
}

func TestMarketBuySlippedAndTickRounded(t *testing.T) {
	// ask=101.00 with 10bps slippage -> 101.101, nearest 0.05 tick is 101.10
	sim, _ := newSim(10, 101, 100.95, 101)
	price, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindMarket, TickSize: 0.05,
	})
	if !ok {
		t.Fatal("expected fill")
	}
	if math.Abs(price-101.10) > 1e-9 {
		t.Errorf("fill price = %.4f, want 101.10", price)
	}
}

func TestMarketSellUsesBid(t *testing.T) {
	sim, _ := newSim(10, 101, 100.95, 101)
	price, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideSell, Kind: model.KindMarket, TickSize: 0.05,
	})
	if !ok {
		t.Fatal("expected fill")
	}
	// bid=100.95 less 10bps -> 100.849, rounds to 100.85
	if math.Abs(price-100.85) > 1e-9 {
		t.Errorf("fill price = %.4f, want 100.85", price)
	}
}

func TestLimitBuyCapturesImprovement(t *testing.T) {
	sim, _ := newSim(0, 100, 99.95, 100)

	// Limit above the touch: fills at the touch, not the limit.
	price, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindLimit, LimitPrice: 105, TickSize: 0.05,
	})
	if !ok || math.Abs(price-100) > 1e-9 {
		t.Errorf("limit above touch: price=%.4f ok=%v, want 100.00", price, ok)
	}

	// Limit below the touch: fills at the limit.
	price, ok = sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindLimit, LimitPrice: 99.50, TickSize: 0.05,
	})
	if !ok || math.Abs(price-99.50) > 1e-9 {
		t.Errorf("limit below touch: price=%.4f ok=%v, want 99.50", price, ok)
	}
}

func TestLimitSellFillsAtBetterOfLimitOrTouch(t *testing.T) {
	sim, _ := newSim(0, 100, 99.95, 100)
	price, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideSell, Kind: model.KindLimit, LimitPrice: 101, TickSize: 0.05,
	})
	if !ok || math.Abs(price-101) > 1e-9 {
		t.Errorf("sell limit 101: price=%.4f ok=%v, want 101.00", price, ok)
	}
}

func TestStopBuyGatesOnTrigger(t *testing.T) {
	sim, p := newSim(0, 100, 99.95, 100)

	// LTP below the trigger: no fill.
	if _, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindStop, StopPrice: 102, TickSize: 0.05,
	}); ok {
		t.Fatal("stop buy filled below its trigger")
	}

	// LTP crosses: fills as market.
	p.Set(sym, 102.5, 102.45, 102.50)
	price, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindStop, StopPrice: 102, TickSize: 0.05,
	})
	if !ok || math.Abs(price-102.50) > 1e-9 {
		t.Errorf("triggered stop: price=%.4f ok=%v, want 102.50", price, ok)
	}
}

func TestStopSellGatesOnTrigger(t *testing.T) {
	sim, _ := newSim(0, 100, 99.95, 100)
	if _, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideSell, Kind: model.KindStop, StopPrice: 95, TickSize: 0.05,
	}); ok {
		t.Fatal("stop sell filled above its trigger")
	}
}

func TestMissingMarketDataMeansNoFill(t *testing.T) {
	sim, p := newSim(0, 100, 99.95, 100)
	p.Drop(sym)
	if _, ok := sim.Fill(context.Background(), FillRequest{
		Symbol: sym, Side: model.SideBuy, Kind: model.KindMarket, TickSize: 0.05,
	}); ok {
		t.Fatal("filled without market data")
	}
}

func TestRoundToTick(t *testing.T) {
	for _, tc := range []struct {
		price, tick, want float64
	}{
		{101.101, 0.05, 101.10},
		{101.13, 0.05, 101.15},
		{101.101, 0, 101.101},
		{100, 0.05, 100},
	} {
		if got := RoundToTick(tc.price, tc.tick); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("RoundToTick(%.4f, %.2f) = %.4f, want %.4f", tc.price, tc.tick, got, tc.want)
		}
	}
}
