package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alert-pipelinev1/internal/engine"
	"alert-pipelinev1/internal/marketdata"
	"alert-pipelinev1/internal/markethours"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/ratelimit"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/symbols"
	"alert-pipelinev1/internal/validate"
)

const sym = "NSE:SBIN-EQ"

type fixture struct {
	store   *sqlite.Store
	gate    *Gate
	account model.Account
	limiter *ratelimit.SlidingWindow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	acct, err := store.EnsureAccount(model.Account{
		Name: "test", WebhookToken: "tok123", HasBroker: true, StartingCash: 100000,
	})
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	provider := marketdata.NewStaticProvider()
	provider.Set(sym, 100, 99.95, 100)

	syms := symbols.New(store)
	eng := engine.New(store, provider, syms, 0, time.Second, engine.Options{})
	validator := &validate.Validator{
		Symbols: syms,
		Market:  provider,
		Clock: func() time.Time {
			return time.Date(2026, 1, 7, 10, 0, 0, 0, markethours.IST)
		},
	}

	limiter := ratelimit.New(100, time.Minute)
	norm := &Normalizer{DefaultExchange: "NSE", DefaultSuffix: "-EQ"}
	gate := New(store, norm, validator, eng, nil, limiter, nil, nil)
	return &fixture{store: store, gate: gate, account: acct, limiter: limiter}
}

// waitForAlert polls until the alert leaves PENDING (processing is
// asynchronous).
func waitForAlert(t *testing.T, store *sqlite.Store, id int64) *model.Alert {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a, err := store.Alert(id)
		if err != nil {
			t.Fatalf("load alert: %v", err)
		}
		if a.Status != model.AlertPending {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("alert %d still pending", id)
	return nil
}

func TestIngestCreatesOrderAndFills(t *testing.T) {
	f := newFixture(t)
	ack, err := f.gate.Ingest(context.Background(),
		[]byte(`{"symbol":"SBIN","side":"buy","qty":10}`), "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ack.AlertID == 0 || ack.Status != model.AlertPending || ack.Accounts != 1 {
		t.Fatalf("ack = %+v", ack)
	}

	alert := waitForAlert(t, f.store, ack.AlertID)
	if alert.Status != model.AlertProcessed {
		t.Fatalf("alert status = %s (%s), want PROCESSED", alert.Status, alert.Reason)
	}

	orders, err := f.store.RecentOrders(10)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %d (err=%v), want 1", len(orders), err)
	}
	o := orders[0]
	if o.AlertID != ack.AlertID || o.Symbol != sym || o.Status != model.StatusFilled {
		t.Errorf("order = %+v", o)
	}
}

func TestIngestRecordsStrategyOnAlertAndOrder(t *testing.T) {
	f := newFixture(t)
	ack, err := f.gate.Ingest(context.Background(),
		[]byte(`{"symbol":"SBIN","side":"buy","qty":10,"strategy":"momo-breakout"}`),
		"tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	alert := waitForAlert(t, f.store, ack.AlertID)
	if alert.Strategy != "momo-breakout" {
		t.Errorf("alert strategy = %q, want momo-breakout", alert.Strategy)
	}

	orders, err := f.store.RecentOrders(10)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %d (err=%v), want 1", len(orders), err)
	}
	if orders[0].Strategy != "momo-breakout" {
		t.Errorf("order strategy = %q, want momo-breakout", orders[0].Strategy)
	}
}

func TestIngestIdempotentUnderDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"sig-1","symbol":"SBIN","side":"buy","qty":10}`)

	first, err := f.gate.Ingest(context.Background(), payload, "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	waitForAlert(t, f.store, first.AlertID)

	second, err := f.gate.Ingest(context.Background(), payload, "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.AlertID != first.AlertID {
		t.Fatalf("duplicate returned alert %d, want %d", second.AlertID, first.AlertID)
	}

	alerts, _ := f.store.RecentAlerts(10)
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(alerts))
	}
	orders, _ := f.store.RecentOrders(10)
	if len(orders) != 1 {
		t.Errorf("orders = %d, want exactly 1 for N deliveries", len(orders))
	}
}

func TestIngestHashKeyDedupsIdenticalPayloads(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"symbol":"SBIN","side":"buy","qty":10}`)

	first, err := f.gate.Ingest(context.Background(), payload, "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := f.gate.Ingest(context.Background(), payload, "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.AlertID != first.AlertID {
		t.Fatalf("identical payload created a second alert")
	}
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	ack, err := f.gate.Ingest(context.Background(),
		[]byte(`{"side":"buy","qty":10}`), "tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	alert := waitForAlert(t, f.store, ack.AlertID)
	if alert.Status != model.AlertRejected {
		t.Fatalf("alert status = %s, want REJECTED", alert.Status)
	}
	if alert.Reason == "" {
		t.Error("rejected alert has no reason")
	}
	orders, _ := f.store.RecentOrders(10)
	if len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestIngestRecordsValidationFailure(t *testing.T) {
	f := newFixture(t)
	// Tick-misaligned limit price fails validation, not normalization.
	ack, err := f.gate.Ingest(context.Background(),
		[]byte(`{"symbol":"SBIN","side":"buy","qty":10,"order_type":"limit","price":100.07}`),
		"tok123", "1.2.3.4")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	alert := waitForAlert(t, f.store, ack.AlertID)
	if alert.Status != model.AlertRejected {
		t.Fatalf("alert status = %s, want REJECTED", alert.Status)
	}
}

func TestIngestRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.SetClock(time.Now)
	for i := 0; i < 100; i++ {
		f.limiter.Allow("token:tok123")
	}

	_, err := f.gate.Ingest(context.Background(),
		[]byte(`{"symbol":"SBIN","side":"buy","qty":10}`), "tok123", "1.2.3.4")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestIngestUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Ingest(context.Background(),
		[]byte(`{"symbol":"SBIN","side":"buy","qty":10}`), "wrong", "1.2.3.4")
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
}

func TestIngestBroadcastFansOut(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.EnsureAccount(model.Account{
		Name: "second", WebhookToken: "tok456", HasBroker: true, StartingCash: 100000,
	}); err != nil {
		t.Fatalf("second account: %v", err)
	}

	ack, err := f.gate.Ingest(context.Background(),
		[]byte(`{"id":"bcast-1","symbol":"SBIN","side":"buy","qty":10}`), "", "1.2.3.4")
	if err != nil {
		t.Fatalf("broadcast ingest: %v", err)
	}
	if ack.Accounts != 2 {
		t.Fatalf("accounts = %d, want 2", ack.Accounts)
	}

	alerts, _ := f.store.RecentAlerts(10)
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want one per account", len(alerts))
	}
	// Same signal, two accounts, two distinct scoped keys.
	if alerts[0].IdempotencyKey == alerts[1].IdempotencyKey {
		t.Error("broadcast alerts share an idempotency key")
	}
}
