// Package validate implements the multi-stage order validator. It is a
// pure function of the order intent, the account context and the two
// read-only providers; it never mutates persisted state.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"alert-pipelinev1/internal/marketdata"
	"alert-pipelinev1/internal/markethours"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/ratelimit"
	"alert-pipelinev1/internal/symbols"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z]+:[A-Z0-9][A-Z0-9&\-]*$`)
	tagPattern    = regexp.MustCompile(`^[A-Za-z0-9]{1,30}$`)

	// Tags reserved for internal use.
	reservedTags = map[string]bool{
		"SYSTEM":   true,
		"INTERNAL": true,
		"ADMIN":    true,
		"PAPER":    true,
		"LIVE":     true,
	}
)

// Warn when a limit price strays this far (fraction) from the LTP.
const farFromMarketPct = 0.05

// Result accumulates validation output. Errors reject the order;
// warnings are informational and never block acceptance.
type Result struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Accepted reports whether the order passed validation.
func (r *Result) Accepted() bool { return len(r.Errors) == 0 }

func (r *Result) errf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator runs the six validation stages. All stages evaluate and
// accumulate errors; only price cross-checks depend on earlier derived
// values and are skipped when those are missing.
type Validator struct {
	Symbols *symbols.Service
	Market  marketdata.Provider

	MaxNotional float64                  // per-order notional ceiling in rupees
	OrderRate   *ratelimit.SlidingWindow // per-account validated-order throughput
	Clock       func() time.Time         // nil = time.Now
}

// Validate runs every stage against the intent.
func (v *Validator) Validate(ctx context.Context, in *model.OrderIntent, account model.Account) Result {
	var res Result

	v.structural(in, &res)
	meta := v.Symbols.Meta(in.Symbol)
	v.pricing(ctx, in, meta, &res)
	v.quantity(in, meta, &res)
	v.productRules(in, &res)
	v.riskLimits(ctx, in, account, &res)
	v.tagRules(in, &res)

	now := time.Now
	if v.Clock != nil {
		now = v.Clock
	}
	if !markethours.IsMarketOpen(now()) {
		res.warnf("market is closed; order will queue until the next session")
	}
	return res
}

// Stage 1: structural.
func (v *Validator) structural(in *model.OrderIntent, res *Result) {
	if in.Symbol == "" {
		res.errf("symbol is required")
	} else if !symbolPattern.MatchString(in.Symbol) {
		res.errf("symbol %q is not exchange-qualified", in.Symbol)
	}
	if in.Side != model.SideBuy && in.Side != model.SideSell {
		res.errf("side must be +1 (buy) or -1 (sell), got %d", in.Side)
	}
	if !model.ValidKind(in.Kind) {
		res.errf("unknown order kind %q", in.Kind)
	}
	if !model.ValidProduct(in.Product) {
		res.errf("unknown product type %q", in.Product)
	}
	if in.Qty <= 0 {
		res.errf("quantity must be a positive integer, got %d", in.Qty)
	}
}

// Stage 2: pricing — tick compliance plus stop/limit cross-checks.
func (v *Validator) pricing(ctx context.Context, in *model.OrderIntent, meta model.SymbolMeta, res *Result) {
	checkTick := func(name string, price float64) {
		if price != 0 && !symbols.TickAligned(price, meta.TickSize) {
			res.errf("%s %.4f is not a multiple of tick size %.4f", name, price, meta.TickSize)
		}
	}
	checkTick("limit price", in.LimitPrice)
	checkTick("stop price", in.StopPrice)
	checkTick("stop loss", in.StopLoss)
	checkTick("take profit", in.TakeProfit)

	ltp, ltpOK := v.Market.LTP(ctx, in.Symbol)

	if in.Kind == model.KindStop || in.Kind == model.KindStopLimit {
		if in.StopPrice <= 0 {
			res.errf("%s order requires a stop price", in.Kind)
		} else if ltpOK {
			// A buy stop triggers above the market, a sell stop below.
			if in.Side == model.SideBuy && in.StopPrice < ltp {
				res.errf("buy stop %.2f is below last traded price %.2f", in.StopPrice, ltp)
			}
			if in.Side == model.SideSell && in.StopPrice > ltp {
				res.errf("sell stop %.2f is above last traded price %.2f", in.StopPrice, ltp)
			}
		}
	}

	if in.Kind == model.KindStopLimit && in.StopPrice > 0 && in.LimitPrice > 0 {
		if in.Side == model.SideBuy && in.LimitPrice < in.StopPrice {
			res.errf("buy stop-limit: limit %.2f must be at or above stop %.2f", in.LimitPrice, in.StopPrice)
		}
		if in.Side == model.SideSell && in.LimitPrice > in.StopPrice {
			res.errf("sell stop-limit: limit %.2f must be at or below stop %.2f", in.LimitPrice, in.StopPrice)
		}
	}

	if in.Kind == model.KindLimit && in.LimitPrice <= 0 {
		res.errf("limit order requires a limit price")
	}

	if ltpOK && in.LimitPrice > 0 && ltp > 0 {
		dev := (in.LimitPrice - ltp) / ltp
		if dev > farFromMarketPct || dev < -farFromMarketPct {
			res.warnf("limit price %.2f is %.1f%% away from market %.2f", in.LimitPrice, dev*100, ltp)
		}
	}
}

// Stage 3: quantity.
func (v *Validator) quantity(in *model.OrderIntent, meta model.SymbolMeta, res *Result) {
	if in.Qty > 0 && !symbols.LotAligned(in.Qty, meta.LotSize) {
		res.errf("quantity %d is not a multiple of lot size %d", in.Qty, meta.LotSize)
	}
}

// Stage 4: product-type rules.
func (v *Validator) productRules(in *model.OrderIntent, res *Result) {
	switch in.Product {
	case model.ProductCover, model.ProductBracket:
		if in.StopLoss <= 0 {
			res.errf("%s order requires a positive stop loss", in.Product)
		}
		if in.DisclosedQty != 0 {
			res.errf("%s order cannot carry a disclosed quantity", in.Product)
		}
		if in.Validity != "DAY" {
			res.errf("%s order requires DAY validity, got %q", in.Product, in.Validity)
		}
		if in.Kind != model.KindLimit && in.Kind != model.KindMarket {
			res.errf("%s order kind must be LIMIT or MARKET, got %q", in.Product, in.Kind)
		}
		if in.Product == model.ProductBracket && in.TakeProfit <= 0 {
			res.errf("BO order requires a positive take profit")
		}
	case model.ProductMTF:
		res.warnf("MTF orders require external approval before settlement")
	}
}

// Stage 5: risk limits — notional ceiling and order throughput.
func (v *Validator) riskLimits(ctx context.Context, in *model.OrderIntent, account model.Account, res *Result) {
	ref := in.LimitPrice
	if ref == 0 {
		if ltp, ok := v.Market.LTP(ctx, in.Symbol); ok {
			ref = ltp
		} else {
			ref = in.StopPrice
		}
	}
	if v.MaxNotional > 0 && ref > 0 {
		notional := ref * float64(in.Qty)
		if notional > v.MaxNotional {
			res.errf("order notional %.2f exceeds per-order limit %.2f", notional, v.MaxNotional)
		}
	}

	if v.OrderRate != nil && !v.OrderRate.Allow(fmt.Sprintf("account:%d", account.ID)) {
		res.errf("account order rate limit exceeded")
	}
}

// Stage 6: tag rules.
func (v *Validator) tagRules(in *model.OrderIntent, res *Result) {
	if in.Tag == "" {
		return
	}
	if in.Product == model.ProductCover || in.Product == model.ProductBracket {
		res.errf("tags are not allowed on %s orders", in.Product)
		return
	}
	if !tagPattern.MatchString(in.Tag) {
		res.errf("tag must be 1-30 alphanumeric characters")
		return
	}
	if reservedTags[strings.ToUpper(in.Tag)] {
		res.errf("tag %q is reserved", in.Tag)
	}
}
