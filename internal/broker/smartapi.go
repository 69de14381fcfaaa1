package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"alert-pipelinev1/internal/markethours"
	"alert-pipelinev1/internal/model"
)

const defaultRootURL = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"order.modify": "/rest/secure/angelbroking/order/v1/modifyOrder",
	"order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
}

// SmartAPIConfig holds the Angel One SmartAPI credentials. The TOTP
// secret generates a fresh one-time code on every login.
type SmartAPIConfig struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	RootURL    string // default https://apiconnect.angelone.in
}

// SmartAPI is a minimal SmartAPI order client. It logs in lazily on the
// first call and re-logs-in when the session token is rejected.
type SmartAPI struct {
	cfg    SmartAPIConfig
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	accessToken string
}

// NewSmartAPI creates the client. Credentials are not verified until
// the first order.
func NewSmartAPI(cfg SmartAPIConfig) *SmartAPI {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRootURL
	}
	return &SmartAPI{
		cfg:    cfg,
		client: &http.Client{Timeout: 7 * time.Second},
		now:    time.Now,
	}
}

// PlaceOrder submits a live order and records the broker-assigned id on
// it. Rejected outside market hours; the paper engine has no such
// restriction.
func (s *SmartAPI) PlaceOrder(ctx context.Context, o *model.Order) error {
	if !markethours.IsMarketOpen(s.now()) {
		return fmt.Errorf("market closed, next open %s", markethours.NextOpen(s.now()).Format(time.RFC3339))
	}
	resp, err := s.request(ctx, "order.place", orderParams(o))
	if err != nil {
		return err
	}
	data, _ := resp["data"].(map[string]any)
	id, _ := data["orderid"].(string)
	if id == "" {
		return fmt.Errorf("order.place: no orderid in response")
	}
	o.BrokerOrderID = id
	return nil
}

// ModifyOrder updates price/quantity on a live order.
func (s *SmartAPI) ModifyOrder(ctx context.Context, o *model.Order) error {
	params := orderParams(o)
	params["orderid"] = brokerOrderID(o)
	_, err := s.request(ctx, "order.modify", params)
	return err
}

// CancelOrder cancels a live order.
func (s *SmartAPI) CancelOrder(ctx context.Context, o *model.Order) error {
	_, err := s.request(ctx, "order.cancel", map[string]any{
		"variety": variety(o),
		"orderid": brokerOrderID(o),
	})
	return err
}

// brokerOrderID prefers the broker-assigned id; the local id is a
// fallback for orders persisted before placement completed.
func brokerOrderID(o *model.Order) string {
	if o.BrokerOrderID != "" {
		return o.BrokerOrderID
	}
	return fmt.Sprintf("%d", o.ID)
}

// orderParams maps the pipeline order to SmartAPI wire fields.
func orderParams(o *model.Order) map[string]any {
	exchange, tradingSymbol := splitSymbol(o.Symbol)
	params := map[string]any{
		"variety":         variety(o),
		"exchange":        exchange,
		"tradingsymbol":   tradingSymbol,
		"transactiontype": transactionType(o.Side),
		"ordertype":       wireKind(o.Kind),
		"producttype":     wireProduct(o.Product),
		"duration":        o.Validity,
		"quantity":        o.Qty,
	}
	if o.LimitPrice > 0 {
		params["price"] = o.LimitPrice
	}
	if o.StopPrice > 0 {
		params["triggerprice"] = o.StopPrice
	}
	if o.StopLoss > 0 {
		params["stoploss"] = o.StopLoss
	}
	if o.TakeProfit > 0 {
		params["squareoff"] = o.TakeProfit
	}
	if o.DisclosedQty > 0 {
		params["disclosedquantity"] = o.DisclosedQty
	}
	if o.Tag != "" {
		params["ordertag"] = o.Tag
	}
	return params
}

func variety(o *model.Order) string {
	switch o.Product {
	case model.ProductCover:
		return "STOPLOSS"
	case model.ProductBracket:
		return "ROBO"
	}
	return "NORMAL"
}

func transactionType(side int) string {
	if side == model.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func wireKind(kind string) string {
	switch kind {
	case model.KindStop:
		return "STOPLOSS_MARKET"
	case model.KindStopLimit:
		return "STOPLOSS_LIMIT"
	}
	return kind
}

func wireProduct(product string) string {
	switch product {
	case model.ProductCNC:
		return "DELIVERY"
	case model.ProductMargin:
		return "CARRYFORWARD"
	}
	return "INTRADAY"
}

func splitSymbol(symbol string) (exchange, tradingSymbol string) {
	if i := strings.IndexByte(symbol, ':'); i > 0 {
		return symbol[:i], symbol[i+1:]
	}
	return "NSE", symbol
}

// login exchanges credentials plus a fresh TOTP code for a session token.
func (s *SmartAPI) login(ctx context.Context) error {
	code, err := totp.GenerateCode(s.cfg.TOTPSecret, s.now())
	if err != nil {
		return fmt.Errorf("totp: %w", err)
	}
	resp, err := s.post(ctx, routes["login"], "", map[string]any{
		"clientcode": s.cfg.ClientCode,
		"password":   s.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	data, _ := resp["data"].(map[string]any)
	token, _ := data["jwtToken"].(string)
	if token == "" {
		return fmt.Errorf("login: no session token in response")
	}
	s.accessToken = token
	log.Printf("[broker] session established for %s", s.cfg.ClientCode)
	return nil
}

// request runs one authenticated call, logging in first when needed and
// retrying once on an expired session.
func (s *SmartAPI) request(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken == "" {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := s.post(ctx, routes[route], s.accessToken, params)
	if err != nil && strings.Contains(err.Error(), "status 403") {
		s.accessToken = ""
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		resp, err = s.post(ctx, routes[route], s.accessToken, params)
	}
	return resp, err
}

func (s *SmartAPI) post(ctx context.Context, path, token string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.RootURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", s.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("broker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("broker response decode: %w", err)
	}
	if status, ok := decoded["status"].(bool); ok && !status {
		msg, _ := decoded["message"].(string)
		return nil, fmt.Errorf("broker rejected: %s", msg)
	}
	return decoded, nil
}
