// Package ingest is the webhook intake: it deduplicates, rate-limits
// and normalizes external signals, then hands accepted orders to the
// execution engine.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"alert-pipelinev1/internal/model"
)

// Field-name synonyms per canonical field, resolved in order. External
// alert sources (TradingView templates, custom scripts) disagree on
// naming and casing; keys are matched lowercase.
var (
	symbolKeys     = []string{"symbol", "ticker", "tradingsymbol", "instrument", "scrip"}
	sideKeys       = []string{"side", "action", "transaction_type", "transactiontype", "signal"}
	qtyKeys        = []string{"qty", "quantity", "order_size", "size", "contracts"}
	kindKeys       = []string{"kind", "order_type", "ordertype", "type"}
	productKeys    = []string{"product", "product_type", "producttype"}
	limitKeys      = []string{"limit_price", "limitprice", "price", "limit"}
	stopKeys       = []string{"stop_price", "stopprice", "trigger_price", "triggerprice", "trigger"}
	stopLossKeys   = []string{"stop_loss", "stoploss", "sl"}
	takeProfitKeys = []string{"take_profit", "takeprofit", "target", "tp", "squareoff"}
	tagKeys        = []string{"tag", "order_tag"}
	validityKeys   = []string{"validity", "tif", "time_in_force", "timeinforce"}
	disclosedKeys  = []string{"disclosed_qty", "disclosedqty", "disclosed_quantity"}
	strategyKeys   = []string{"strategy", "strategy_name", "alert_name"}
	modeKeys       = []string{"mode", "execution_mode"}
	idKeys         = []string{"id", "alert_id", "signal_id", "uuid", "nonce"}
)

// Normalizer maps heterogeneous alert payloads to the canonical order
// intent. Zero value uses no exchange qualification defaults.
type Normalizer struct {
	DefaultExchange string // prefix for unqualified symbols, e.g. "NSE"
	DefaultSuffix   string // segment suffix appended with the prefix, e.g. "-EQ"
}

// PayloadID returns the payload-supplied unique identifier, if any. The
// gate prefers it over a payload hash as the idempotency key.
func PayloadID(raw []byte) string {
	fields, err := parseFields(raw)
	if err != nil {
		return ""
	}
	id, _ := lookupString(fields, idKeys)
	return id
}

// StrategyTag returns the payload's strategy label, if any, so the alert
// can be attributed before normalization runs.
func StrategyTag(raw []byte) string {
	fields, err := parseFields(raw)
	if err != nil {
		return ""
	}
	s, _ := lookupString(fields, strategyKeys)
	return s
}

// Normalize maps raw to an order intent. Missing symbol, side or
// quantity is a normalization failure; kind, product and validity fall
// back to MARKET / INTRADAY / DAY.
func (n *Normalizer) Normalize(raw []byte) (*model.OrderIntent, error) {
	fields, err := parseFields(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	symbol, ok := lookupString(fields, symbolKeys)
	if !ok || symbol == "" {
		return nil, fmt.Errorf("normalize: missing symbol")
	}
	sideRaw, ok := lookupAny(fields, sideKeys)
	if !ok {
		return nil, fmt.Errorf("normalize: missing side")
	}
	side, err := parseSide(sideRaw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	qty, ok := lookupInt(fields, qtyKeys)
	if !ok {
		return nil, fmt.Errorf("normalize: missing quantity")
	}

	intent := &model.OrderIntent{
		Symbol:   n.qualifySymbol(symbol),
		Side:     side,
		Qty:      qty,
		Kind:     model.KindMarket,
		Product:  model.ProductIntraday,
		Validity: "DAY",
		Mode:     model.ModePaper,
	}

	if kind, ok := lookupString(fields, kindKeys); ok {
		intent.Kind = canonicalKind(kind)
	}
	if product, ok := lookupString(fields, productKeys); ok {
		intent.Product = canonicalProduct(product)
	}
	if validity, ok := lookupString(fields, validityKeys); ok {
		intent.Validity = strings.ToUpper(strings.TrimSpace(validity))
	}
	if mode, ok := lookupString(fields, modeKeys); ok && strings.EqualFold(mode, model.ModeLive) {
		intent.Mode = model.ModeLive
	}

	intent.LimitPrice, _ = lookupFloat(fields, limitKeys)
	intent.StopPrice, _ = lookupFloat(fields, stopKeys)
	intent.StopLoss, _ = lookupFloat(fields, stopLossKeys)
	intent.TakeProfit, _ = lookupFloat(fields, takeProfitKeys)
	intent.DisclosedQty, _ = lookupInt(fields, disclosedKeys)
	intent.Tag, _ = lookupString(fields, tagKeys)
	intent.Strategy, _ = lookupString(fields, strategyKeys)

	return intent, nil
}

// qualifySymbol upgrades a bare ticker to the exchange-qualified form,
// e.g. "sbin" -> "NSE:SBIN-EQ". Already-qualified symbols only get
// uppercased.
func (n *Normalizer) qualifySymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ":") {
		return symbol
	}
	if n.DefaultExchange != "" {
		prefix := n.DefaultExchange + ":"
		if !strings.Contains(symbol, "-") && n.DefaultSuffix != "" {
			return prefix + symbol + n.DefaultSuffix
		}
		return prefix + symbol
	}
	return symbol
}

func parseFields(raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	fields := make(map[string]any, len(decoded))
	for k, v := range decoded {
		fields[strings.ToLower(k)] = v
	}
	return fields, nil
}

func lookupAny(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(fields map[string]any, keys []string) (string, bool) {
	v, ok := lookupAny(fields, keys)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}

func lookupFloat(fields map[string]any, keys []string) (float64, bool) {
	v, ok := lookupAny(fields, keys)
	if !ok {
		return 0, false
	}
	switch f := v.(type) {
	case float64:
		return f, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func lookupInt(fields map[string]any, keys []string) (int64, bool) {
	f, ok := lookupFloat(fields, keys)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func parseSide(v any) (int, error) {
	switch s := v.(type) {
	case float64:
		if s == 1 {
			return model.SideBuy, nil
		}
		if s == -1 {
			return model.SideSell, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "buy", "b", "long", "1", "+1":
			return model.SideBuy, nil
		case "sell", "s", "short", "-1":
			return model.SideSell, nil
		}
	}
	return 0, fmt.Errorf("unrecognized side %v", v)
}

func canonicalKind(kind string) string {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(kind), "_", "-")) {
	case "MARKET", "MKT":
		return model.KindMarket
	case "LIMIT", "LMT":
		return model.KindLimit
	case "SL-M", "SLM", "STOP", "STOP-MARKET":
		return model.KindStop
	case "SL", "STOP-LIMIT", "STOPLIMIT":
		return model.KindStopLimit
	}
	// Unknown kinds pass through uppercased for the validator to reject.
	return strings.ToUpper(strings.TrimSpace(kind))
}

func canonicalProduct(product string) string {
	switch strings.ToUpper(strings.TrimSpace(product)) {
	case "INTRADAY", "MIS":
		return model.ProductIntraday
	case "CNC", "DELIVERY":
		return model.ProductCNC
	case "MARGIN", "NRML":
		return model.ProductMargin
	case "CO", "COVER":
		return model.ProductCover
	case "BO", "BRACKET":
		return model.ProductBracket
	case "MTF":
		return model.ProductMTF
	}
	return strings.ToUpper(strings.TrimSpace(product))
}
