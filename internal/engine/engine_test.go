package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"alert-pipelinev1/internal/marketdata"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/symbols"
)

const sym = "NSE:SBIN-EQ"

type fixture struct {
	store    *sqlite.Store
	provider *marketdata.StaticProvider
	engine   *Engine
	account  model.Account
}

func newFixture(t *testing.T, slippageBps float64) *fixture {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	acct, err := store.EnsureAccount(model.Account{Name: "test", StartingCash: 100000})
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if err := store.EnsurePortfolio(acct.ID, model.ModePaper, acct.StartingCash); err != nil {
		t.Fatalf("ensure portfolio: %v", err)
	}

	provider := marketdata.NewStaticProvider()
	provider.Set(sym, 101, 100.95, 101)

	eng := New(store, provider, symbols.New(store), slippageBps, time.Second, Options{})
	return &fixture{store: store, provider: provider, engine: eng, account: acct}
}

func (f *fixture) newOrder(t *testing.T, mutate func(*model.Order)) *model.Order {
	t.Helper()
	o := &model.Order{
		AccountID: f.account.ID,
		Mode:      model.ModePaper,
		Side:      model.SideBuy,
		Kind:      model.KindMarket,
		Product:   model.ProductIntraday,
		Symbol:    sym,
		Qty:       100,
		Validity:  "DAY",
		Status:    model.StatusNew,
	}
	if mutate != nil {
		mutate(o)
	}
	if err := f.store.CreateOrder(o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestMarketBuyFillsImmediately(t *testing.T) {
	f := newFixture(t, 10)
	o := f.newOrder(t, nil)

	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusFilled {
		t.Fatalf("status = %s, want FILLED", stored.Status)
	}
	// ask 101 + 10bps = 101.101, tick 0.05 -> 101.10
	if math.Abs(stored.FillPrice-101.10) > 1e-9 {
		t.Errorf("fill price = %.4f, want 101.10", stored.FillPrice)
	}

	pos, ok, _ := f.store.Position(f.account.ID, sym, model.ModePaper)
	if !ok || pos.Qty != 100 || math.Abs(pos.AvgPrice-stored.FillPrice) > 1e-9 {
		t.Errorf("position = %+v ok=%v", pos, ok)
	}
}

func TestMarketOrderRejectedWithoutLiquidity(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.Drop(sym)
	o := f.newOrder(t, nil)

	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", stored.Status)
	}
	if stored.Reason != "liquidity unavailable" {
		t.Errorf("reason = %q", stored.Reason)
	}
}

func TestLimitOrderRestsThenFills(t *testing.T) {
	f := newFixture(t, 0)
	o := f.newOrder(t, func(o *model.Order) {
		o.Kind = model.KindLimit
		o.LimitPrice = 100.50 // below the ask, waits
	})

	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusNew {
		t.Fatalf("limit order submitted: status = %s, want NEW", stored.Status)
	}

	// First cycle: order goes WORKING and fills at its limit (touch is
	// worse than the limit for a buy).
	if !f.engine.Cycle(context.Background()) {
		t.Fatal("cycle skipped")
	}
	stored, _ = f.store.Order(o.ID)
	if stored.Status != model.StatusFilled {
		t.Fatalf("status after cycle = %s, want FILLED", stored.Status)
	}
	if math.Abs(stored.FillPrice-100.50) > 1e-9 {
		t.Errorf("fill price = %.4f, want 100.50", stored.FillPrice)
	}
}

func TestStopOrderWaitsForTrigger(t *testing.T) {
	f := newFixture(t, 0)
	o := f.newOrder(t, func(o *model.Order) {
		o.Kind = model.KindStop
		o.StopPrice = 103
	})
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.engine.Cycle(context.Background())
	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusWorking {
		t.Fatalf("untriggered stop: status = %s, want WORKING", stored.Status)
	}

	f.provider.Set(sym, 103.5, 103.45, 103.50)
	f.engine.Cycle(context.Background())
	stored, _ = f.store.Order(o.ID)
	if stored.Status != model.StatusFilled {
		t.Fatalf("triggered stop: status = %s, want FILLED", stored.Status)
	}
	if math.Abs(stored.FillPrice-103.50) > 1e-9 {
		t.Errorf("fill price = %.4f, want 103.50", stored.FillPrice)
	}
}

func TestCoverFillSpawnsStopChild(t *testing.T) {
	f := newFixture(t, 0)
	f.provider.Set(sym, 100, 99.95, 100)
	o := f.newOrder(t, func(o *model.Order) {
		o.Product = model.ProductCover
		o.StopLoss = 5
	})
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	children, err := f.store.ChildOrders(o.ID)
	if err != nil || len(children) != 1 {
		t.Fatalf("children = %d (err=%v), want 1", len(children), err)
	}
	c := children[0]
	if c.Side != model.SideSell || c.Kind != model.KindStop || c.Product != model.ProductIntraday {
		t.Errorf("child: side=%d kind=%s product=%s", c.Side, c.Kind, c.Product)
	}
	if math.Abs(c.StopPrice-95) > 1e-9 {
		t.Errorf("child stop = %.2f, want 95 (fill 100 - 5)", c.StopPrice)
	}
	if c.Qty != o.Qty {
		t.Errorf("child qty = %d, want %d", c.Qty, o.Qty)
	}
}

func TestBracketFillSpawnsBothChildren(t *testing.T) {
	f := newFixture(t, 0)
	f.provider.Set(sym, 100, 99.95, 100)
	o := f.newOrder(t, func(o *model.Order) {
		o.Product = model.ProductBracket
		o.StopLoss = 5
		o.TakeProfit = 10
	})
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	children, err := f.store.ChildOrders(o.ID)
	if err != nil || len(children) != 2 {
		t.Fatalf("children = %d (err=%v), want 2", len(children), err)
	}

	var stop, target *model.Order
	for _, c := range children {
		switch c.Kind {
		case model.KindStop:
			stop = c
		case model.KindLimit:
			target = c
		}
	}
	if stop == nil || target == nil {
		t.Fatalf("missing child kinds: %+v", children)
	}
	if math.Abs(stop.StopPrice-95) > 1e-9 {
		t.Errorf("stop child trigger = %.2f, want 95", stop.StopPrice)
	}
	if math.Abs(target.LimitPrice-110) > 1e-9 {
		t.Errorf("target child limit = %.2f, want 110", target.LimitPrice)
	}
	for _, c := range children {
		if c.Side != model.SideSell || c.Qty != o.Qty {
			t.Errorf("child %d: side=%d qty=%d", c.ID, c.Side, c.Qty)
		}
	}
}

func TestFilledChildCancelsSibling(t *testing.T) {
	f := newFixture(t, 0)
	f.provider.Set(sym, 100, 99.95, 100)
	o := f.newOrder(t, func(o *model.Order) {
		o.Product = model.ProductBracket
		o.StopLoss = 5
		o.TakeProfit = 10
	})
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Price reaches the take-profit: the limit child fills, the stop
	// child must be cancelled.
	f.provider.Set(sym, 110.5, 110.50, 110.55)
	f.engine.Cycle(context.Background())

	children, _ := f.store.ChildOrders(o.ID)
	var filled, cancelled int
	for _, c := range children {
		switch c.Status {
		case model.StatusFilled:
			filled++
		case model.StatusCancelled:
			cancelled++
		}
	}
	if filled != 1 || cancelled != 1 {
		t.Fatalf("children: %d filled, %d cancelled, want 1 and 1", filled, cancelled)
	}
}

func TestCancelIsNoOpOnTerminalOrder(t *testing.T) {
	f := newFixture(t, 0)
	o := f.newOrder(t, nil)
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ok, err := f.engine.Cancel(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Error("cancel of a filled order reported a change")
	}
	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusFilled {
		t.Errorf("status = %s, filled order mutated", stored.Status)
	}
}

func TestCancelOpenOrder(t *testing.T) {
	f := newFixture(t, 0)
	o := f.newOrder(t, func(o *model.Order) {
		o.Kind = model.KindLimit
		o.LimitPrice = 90
	})
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ok, err := f.engine.Cancel(context.Background(), o.ID)
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	stored, _ := f.store.Order(o.ID)
	if stored.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", stored.Status)
	}
}

func TestValuateComputesEquityPnL(t *testing.T) {
	f := newFixture(t, 0)
	f.provider.Set(sym, 100, 99.95, 100)
	o := f.newOrder(t, nil)
	if err := f.engine.Submit(context.Background(), o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Mark up 5 points: 100 shares -> +500 total P&L.
	f.provider.Set(sym, 105, 104.95, 105)
	p, positions, err := f.engine.Valuate(context.Background(), f.account.ID, model.ModePaper)
	if err != nil {
		t.Fatalf("valuate: %v", err)
	}
	if math.Abs(p.TotalPnL-500) > 1e-6 {
		t.Errorf("total pnl = %.2f, want 500", p.TotalPnL)
	}
	if len(positions) != 1 || math.Abs(positions[0].MTM-10500) > 1e-6 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestCycleSingleFlight(t *testing.T) {
	f := newFixture(t, 0)
	if !f.engine.inFlight.CompareAndSwap(false, true) {
		t.Fatal("flag already set")
	}
	if f.engine.Cycle(context.Background()) {
		t.Fatal("cycle ran while another was in flight")
	}
	f.engine.inFlight.Store(false)
	if !f.engine.Cycle(context.Background()) {
		t.Fatal("cycle skipped with no cycle in flight")
	}
}
