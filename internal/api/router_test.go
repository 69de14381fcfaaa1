package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alert-pipelinev1/internal/engine"
	"alert-pipelinev1/internal/ingest"
	"alert-pipelinev1/internal/marketdata"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/ratelimit"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/symbols"
	"alert-pipelinev1/internal/validate"
)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.EnsureAccount(model.Account{
		Name: "test", WebhookToken: "tok123", HasBroker: true, StartingCash: 100000,
	}); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	provider := marketdata.NewStaticProvider()
	provider.Set("NSE:SBIN-EQ", 100, 99.95, 100)

	syms := symbols.New(store)
	eng := engine.New(store, provider, syms, 0, time.Second, engine.Options{})
	validator := &validate.Validator{Symbols: syms, Market: provider}
	norm := &ingest.Normalizer{DefaultExchange: "NSE", DefaultSuffix: "-EQ"}
	gate := ingest.New(store, norm, validator, eng, nil, ratelimit.New(100, time.Minute), nil, nil)

	server := &Server{Store: store, Gate: gate, Engine: eng}
	ts := httptest.NewServer(server.NewRouter())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestWebhookTokenFromPath(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/webhook/tok123", "application/json",
		strings.NewReader(`{"symbol":"SBIN","side":"buy","qty":10}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ack model.IngestAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.AlertID == 0 || ack.Accounts != 1 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestWebhookUnknownTokenIs401(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/webhook/wrong", "application/json",
		strings.NewReader(`{"symbol":"SBIN","side":"buy","qty":10}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebhookFormBody(t *testing.T) {
	ts, _ := newTestServer(t)
	form := url.Values{"symbol": {"SBIN"}, "side": {"buy"}, "qty": {"10"}}
	resp, err := http.Post(ts.URL+"/webhook/tok123",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/webhook/tok123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestOrdersEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	o := &model.Order{
		AccountID: 1, Mode: model.ModePaper, Side: model.SideBuy,
		Kind: model.KindLimit, Product: model.ProductIntraday,
		Symbol: "NSE:SBIN-EQ", Qty: 10, LimitPrice: 99, Validity: "DAY",
		Status: model.StatusNew,
	}
	if err := store.CreateOrder(o); err != nil {
		t.Fatalf("create order: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/orders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var orders []model.Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != o.ID {
		t.Errorf("orders = %+v", orders)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	o := &model.Order{
		AccountID: 1, Mode: model.ModePaper, Side: model.SideBuy,
		Kind: model.KindLimit, Product: model.ProductIntraday,
		Symbol: "NSE:SBIN-EQ", Qty: 10, LimitPrice: 99, Validity: "DAY",
		Status: model.StatusNew,
	}
	if err := store.CreateOrder(o); err != nil {
		t.Fatalf("create order: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/orders/1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	stored, _ := store.Order(o.ID)
	if stored.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", stored.Status)
	}
}

func TestResetRequiresPost(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/reset")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
