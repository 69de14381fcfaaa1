// Package engine runs the paper-trading engine: it walks the open order
// book on a fixed interval, asks the fill simulator for prices, and
// finalizes fills atomically through the store.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"alert-pipelinev1/internal/marketdata"
	"alert-pipelinev1/internal/markethours"
	"alert-pipelinev1/internal/metrics"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/notification"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/symbols"
)

// EventSink receives order lifecycle events. Satisfied by the Redis
// publisher; nil sinks are allowed.
type EventSink interface {
	Publish(ctx context.Context, event any)
}

// Engine is the paper execution engine. One instance per process; the
// processing cycle is single-flight, a tick that arrives while a cycle
// is still running is skipped, not queued.
type Engine struct {
	store    *sqlite.Store
	sim      *marketdata.Simulator
	market   marketdata.Provider
	symbols  *symbols.Service
	interval time.Duration

	events   EventSink
	notifier notification.Notifier
	metrics  *metrics.Metrics
	onTick   func(time.Time)

	inFlight atomic.Bool
}

// Options configures optional engine collaborators.
type Options struct {
	Events   EventSink
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	OnTick   func(time.Time) // health heartbeat
}

// New creates a paper engine.
func New(store *sqlite.Store, market marketdata.Provider, syms *symbols.Service, slippageBps float64, interval time.Duration, opts Options) *Engine {
	return &Engine{
		store:    store,
		sim:      marketdata.NewSimulator(market, slippageBps),
		market:   market,
		symbols:  syms,
		interval: interval,
		events:   opts.Events,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		onTick:   opts.OnTick,
	}
}

// Submit routes a freshly created order into the engine. Paper market
// orders are tried for an immediate fill; a market order that cannot
// fill is rejected rather than left resting. All other kinds rest on
// the open book until a cycle fills them.
func (e *Engine) Submit(ctx context.Context, o *model.Order) error {
	if o.Mode != model.ModePaper {
		return fmt.Errorf("engine only accepts %s orders, got %s", model.ModePaper, o.Mode)
	}
	e.publish(ctx, model.NewOrderEvent(model.EventOrderCreated, o))

	if o.Kind == model.KindMarket {
		if err := e.store.MarkWorking(o.ID); err != nil {
			return fmt.Errorf("mark working: %w", err)
		}
		o.Status = model.StatusWorking
		return e.tryFill(ctx, o)
	}
	return nil
}

// Run drives processing cycles until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("[engine] starting, cycle interval %s", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[engine] stopped")
			return
		case t := <-ticker.C:
			if e.onTick != nil {
				e.onTick(t)
			}
			e.Cycle(ctx)
		}
	}
}

// Cycle runs one processing cycle. Returns false when a previous cycle
// was still in flight and this one was skipped.
func (e *Engine) Cycle(ctx context.Context) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.metrics.IncCycleSkipped()
		return false
	}
	defer e.inFlight.Store(false)

	start := time.Now()
	if err := e.processCycle(ctx); err != nil {
		log.Printf("[engine] cycle error: %v", err)
	}
	e.metrics.ObserveCycle(time.Since(start))
	return true
}

// processCycle walks open paper orders oldest-first and attempts fills.
// A per-order failure is logged and does not abort the rest of the book.
func (e *Engine) processCycle(ctx context.Context) error {
	open, err := e.store.OpenOrders(model.ModePaper)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}

	for _, o := range open {
		if o.Status == model.StatusNew {
			if err := e.store.MarkWorking(o.ID); err != nil {
				log.Printf("[engine] order %d mark working: %v", o.ID, err)
				continue
			}
			o.Status = model.StatusWorking
			e.publish(ctx, model.NewOrderEvent(model.EventOrderWorking, o))
		}
		if err := e.tryFill(ctx, o); err != nil {
			log.Printf("[engine] order %d fill: %v", o.ID, err)
		}
	}
	return nil
}

// tryFill asks the simulator for a price and finalizes the fill. A
// no-fill leaves resting orders on the book; market orders cannot rest
// and are rejected instead.
func (e *Engine) tryFill(ctx context.Context, o *model.Order) error {
	meta := e.symbols.Meta(o.Symbol)
	price, ok := e.sim.Fill(ctx, marketdata.FillRequest{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Kind:       o.Kind,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		TickSize:   meta.TickSize,
	})
	if !ok {
		if o.Kind == model.KindMarket {
			o.Reason = "liquidity unavailable"
			if err := e.store.RejectOrder(o.ID, o.Reason); err != nil {
				return err
			}
			o.Status = model.StatusRejected
			e.metrics.IncOrdersRejected()
			e.publish(ctx, model.NewOrderEvent(model.EventOrderRejected, o))
			e.notify(ctx, notification.LevelWarning, "Order rejected",
				fmt.Sprintf("order %d %s rejected: %s", o.ID, o.Symbol, o.Reason))
		}
		return nil
	}

	children := buildChildren(o, price)
	if err := e.store.FinalizeFill(o, price, children); err != nil {
		if err == sqlite.ErrOrderTerminal {
			return nil
		}
		return err
	}

	e.metrics.IncOrdersFilled()
	e.metrics.AddChildOrders(len(children))
	e.publish(ctx, model.NewOrderEvent(model.EventOrderFilled, o))
	for _, c := range children {
		e.publish(ctx, model.NewOrderEvent(model.EventOrderCreated, c))
	}
	e.notify(ctx, notification.LevelInfo, "Order filled",
		fmt.Sprintf("order %d %s %s %d @ %.2f", o.ID, o.Symbol, sideWord(o.Side), o.Qty, price))

	// A filled bracket child cancels its sibling.
	if o.ParentID != 0 {
		e.cancelSiblings(ctx, o)
	}
	return nil
}

// buildChildren returns the protective orders a filled cover/bracket
// parent spawns. Offsets are raw points off the fill price, applied
// without tick re-rounding.
func buildChildren(o *model.Order, fillPrice float64) []*model.Order {
	if o.ParentID != 0 {
		return nil
	}
	if o.Product != model.ProductCover && o.Product != model.ProductBracket {
		return nil
	}

	// Children are plain intraday orders: the CO/BO product applies to
	// the parent only, so children never spawn grandchildren.
	now := time.Now().UTC()
	stop := &model.Order{
		AccountID: o.AccountID,
		AlertID:   o.AlertID,
		ParentID:  o.ID,
		Strategy:  o.Strategy,
		Mode:      o.Mode,
		Side:      -o.Side,
		Kind:      model.KindStop,
		Product:   model.ProductIntraday,
		Symbol:    o.Symbol,
		Qty:       o.Qty,
		StopPrice: fillPrice - float64(o.Side)*o.StopLoss,
		Validity:  "DAY",
		Status:    model.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if o.Product == model.ProductCover {
		return []*model.Order{stop}
	}

	target := &model.Order{
		AccountID:  o.AccountID,
		AlertID:    o.AlertID,
		ParentID:   o.ID,
		Strategy:   o.Strategy,
		Mode:       o.Mode,
		Side:       -o.Side,
		Kind:       model.KindLimit,
		Product:    model.ProductIntraday,
		Symbol:     o.Symbol,
		Qty:        o.Qty,
		LimitPrice: fillPrice + float64(o.Side)*o.TakeProfit,
		Validity:   "DAY",
		Status:     model.StatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return []*model.Order{stop, target}
}

// cancelSiblings cancels the remaining open children of the filled
// child's parent (one-cancels-other).
func (e *Engine) cancelSiblings(ctx context.Context, filled *model.Order) {
	siblings, err := e.store.ChildOrders(filled.ParentID)
	if err != nil {
		log.Printf("[engine] order %d load siblings: %v", filled.ID, err)
		return
	}
	for _, s := range siblings {
		if s.ID == filled.ID || s.Terminal() {
			continue
		}
		ok, err := e.store.CancelOrder(s.ID)
		if err != nil {
			log.Printf("[engine] cancel sibling %d: %v", s.ID, err)
			continue
		}
		if ok {
			s.Status = model.StatusCancelled
			e.publish(ctx, model.NewOrderEvent(model.EventOrderCancel, s))
		}
	}
}

// Cancel cancels an open order and its open children. Cancelling a
// terminal order is a no-op; ok reports whether anything changed.
func (e *Engine) Cancel(ctx context.Context, id int64) (bool, error) {
	o, err := e.store.Order(id)
	if err != nil {
		return false, err
	}
	ok, err := e.store.CancelOrder(id)
	if err != nil {
		return false, err
	}
	if ok {
		o.Status = model.StatusCancelled
		e.publish(ctx, model.NewOrderEvent(model.EventOrderCancel, o))
	}

	children, err := e.store.ChildOrders(id)
	if err != nil {
		return ok, err
	}
	for _, c := range children {
		if c.Terminal() {
			continue
		}
		if cok, err := e.store.CancelOrder(c.ID); err == nil && cok {
			c.Status = model.StatusCancelled
			e.publish(ctx, model.NewOrderEvent(model.EventOrderCancel, c))
			ok = true
		}
	}
	return ok, nil
}

// Valuate recomputes the account's mark-to-market and P&L figures from
// live quotes. Equity = cash + market value of open positions; total
// P&L is measured against starting cash, day P&L against the equity at
// the first valuation of the calendar day.
func (e *Engine) Valuate(ctx context.Context, accountID int64, mode string) (model.Portfolio, []model.Position, error) {
	positions, err := e.store.Positions(accountID, mode)
	if err != nil {
		return model.Portfolio{}, nil, fmt.Errorf("load positions: %w", err)
	}
	p, err := e.store.Portfolio(accountID, mode)
	if err != nil {
		return model.Portfolio{}, nil, fmt.Errorf("load portfolio: %w", err)
	}

	var marketValue float64
	for i := range positions {
		pos := &positions[i]
		ltp, ok := e.market.LTP(ctx, pos.Symbol)
		if !ok {
			// No quote: value at last known mark.
			marketValue += pos.MTM
			continue
		}
		pos.MTM = ltp * float64(pos.Qty)
		marketValue += pos.MTM
		if err := e.store.UpdatePositionMTM(accountID, pos.Symbol, mode, pos.MTM); err != nil {
			log.Printf("[engine] position mtm %s: %v", pos.Symbol, err)
		}
	}

	now := time.Now().UTC()
	equity := p.Cash + marketValue
	if dayOf(now) != dayOf(p.DayStart) {
		p.DayStartEquity = equity
		p.DayStart = now
	}
	p.TotalPnL = equity - p.StartingCash
	p.DayPnL = equity - p.DayStartEquity
	p.UpdatedAt = now

	if err := e.store.SavePortfolioValuation(p); err != nil {
		return p, positions, fmt.Errorf("save valuation: %w", err)
	}
	return p, positions, nil
}

// dayOf keys the day-P&L roll to the IST trading day.
func dayOf(t time.Time) string {
	return t.In(markethours.IST).Format("2006-01-02")
}

func sideWord(side int) string {
	if side == model.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func (e *Engine) publish(ctx context.Context, ev model.Event) {
	if e.events != nil {
		e.events.Publish(ctx, ev)
	}
}

func (e *Engine) notify(ctx context.Context, level notification.Level, title, body string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, notification.Message{Level: level, Title: title, Body: body}); err != nil {
		log.Printf("[engine] notify: %v", err)
	}
}
