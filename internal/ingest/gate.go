package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"alert-pipelinev1/internal/broker"
	"alert-pipelinev1/internal/engine"
	"alert-pipelinev1/internal/metrics"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/ratelimit"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/validate"
)

var (
	// ErrRateLimited is returned when the source exceeded its ingestion
	// window. Callers map it to a distinct status (HTTP 429).
	ErrRateLimited = errors.New("ingestion rate limit exceeded")

	// ErrUnknownToken is returned when the routing token resolves to no
	// account.
	ErrUnknownToken = errors.New("unknown routing token")

	// ErrNoDestinations is returned for a broadcast signal when no
	// account is subscribed.
	ErrNoDestinations = errors.New("no subscribed accounts")
)

// processTimeout bounds the asynchronous processing of one alert.
const processTimeout = 30 * time.Second

// Gate is the alert ingestion gate. Ingest acknowledges immediately;
// normalization, validation and order creation run asynchronously and
// leave their outcome on the alert's audit trail.
type Gate struct {
	store     *sqlite.Store
	norm      *Normalizer
	validator *validate.Validator
	engine    *engine.Engine
	broker    broker.Broker // nil = live orders are refused
	limiter   *ratelimit.SlidingWindow
	events    engine.EventSink
	metrics   *metrics.Metrics
}

// New creates the gate. broker, events and metrics may be nil.
func New(store *sqlite.Store, norm *Normalizer, v *validate.Validator, eng *engine.Engine,
	brk broker.Broker, limiter *ratelimit.SlidingWindow, events engine.EventSink, m *metrics.Metrics) *Gate {
	return &Gate{
		store:     store,
		norm:      norm,
		validator: v,
		engine:    eng,
		broker:    brk,
		limiter:   limiter,
		events:    events,
		metrics:   m,
	}
}

// Ingest accepts one raw signal. A non-empty token routes to that
// token's account; an empty token broadcasts to every subscribed
// account. source identifies the caller for rate limiting and audit.
//
// Duplicate deliveries (same idempotency key) return the prior alert's
// id and status without reprocessing.
func (g *Gate) Ingest(ctx context.Context, raw []byte, token, source string) (model.IngestAck, error) {
	limitKey := source
	if token != "" {
		limitKey = "token:" + token
	}
	if g.limiter != nil && !g.limiter.Allow(limitKey) {
		g.metrics.IncRateLimited("ingest")
		return model.IngestAck{}, ErrRateLimited
	}

	accounts, err := g.resolveAccounts(token)
	if err != nil {
		return model.IngestAck{}, err
	}

	key := PayloadID(raw)
	if key == "" {
		sum := sha256.Sum256(raw)
		key = hex.EncodeToString(sum[:])
	}

	strategy := StrategyTag(raw)

	var ack model.IngestAck
	for i, acct := range accounts {
		alert := &model.Alert{
			AccountID:      acct.ID,
			Strategy:       strategy,
			Source:         source,
			RawPayload:     string(raw),
			IdempotencyKey: fmt.Sprintf("%d:%s", acct.ID, key),
			Status:         model.AlertPending,
			ReceivedAt:     time.Now().UTC(),
		}
		created, existing, err := g.store.CreateAlert(alert)
		if err != nil {
			return model.IngestAck{}, fmt.Errorf("ingest: %w", err)
		}
		if !created {
			g.metrics.IncDuplicate()
			alert = existing
		} else {
			g.metrics.IncAlerts()
			g.publish(ctx, model.Event{
				Type:      model.EventAlertReceived,
				AccountID: acct.ID,
				AlertID:   alert.ID,
				At:        time.Now().UTC(),
			})
			go g.processAlert(acct, alert, raw)
		}
		if i == 0 {
			ack.AlertID = alert.ID
			ack.Status = alert.Status
		}
	}
	ack.Accounts = len(accounts)
	return ack, nil
}

func (g *Gate) resolveAccounts(token string) ([]model.Account, error) {
	if token != "" {
		acct, ok, err := g.store.AccountByToken(token)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if !ok {
			return nil, ErrUnknownToken
		}
		return []model.Account{acct}, nil
	}
	accounts, err := g.store.SubscribedAccounts()
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoDestinations
	}
	return accounts, nil
}

// processAlert runs the normalize -> validate -> create-order chain for
// one alert. Failures land on the alert's status and reason; the
// original caller already got its acknowledgment.
func (g *Gate) processAlert(acct model.Account, alert *model.Alert, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	intent, err := g.norm.Normalize(raw)
	if err != nil {
		g.metrics.IncAlertRejected()
		g.rejectAlert(ctx, acct, alert, err.Error())
		return
	}
	if intent.Mode == model.ModeLive && (!acct.HasBroker || g.broker == nil) {
		// No live path for this account; fall back to paper.
		log.Printf("[ingest] alert %d requested LIVE without a broker, downgrading to PAPER", alert.ID)
		intent.Mode = model.ModePaper
	}

	res := g.validator.Validate(ctx, intent, acct)
	for _, w := range res.Warnings {
		log.Printf("[ingest] alert %d warning: %s", alert.ID, w)
	}
	if !res.Accepted() {
		g.metrics.IncAlertRejected()
		g.rejectAlert(ctx, acct, alert, strings.Join(res.Errors, "; "))
		return
	}

	if err := g.store.EnsurePortfolio(acct.ID, intent.Mode, acct.StartingCash); err != nil {
		g.rejectAlert(ctx, acct, alert, fmt.Sprintf("portfolio init: %v", err))
		return
	}

	order := intent.ToOrder(acct.ID, alert.ID)
	if err := g.store.CreateOrder(order); err != nil {
		g.rejectAlert(ctx, acct, alert, fmt.Sprintf("create order: %v", err))
		return
	}
	g.metrics.IncOrdersCreated()

	if order.Mode == model.ModeLive {
		if err := g.broker.PlaceOrder(ctx, order); err != nil {
			log.Printf("[ingest] alert %d live placement failed: %v", alert.ID, err)
			if rejErr := g.store.RejectOrder(order.ID, fmt.Sprintf("broker: %v", err)); rejErr != nil {
				log.Printf("[ingest] order %d reject: %v", order.ID, rejErr)
			}
			g.rejectAlert(ctx, acct, alert, fmt.Sprintf("broker: %v", err))
			return
		}
		if err := g.store.SetBrokerOrderID(order.ID, order.BrokerOrderID); err != nil {
			log.Printf("[ingest] order %d broker id: %v", order.ID, err)
		}
	} else {
		if err := g.engine.Submit(ctx, order); err != nil {
			log.Printf("[ingest] alert %d engine submit: %v", alert.ID, err)
		}
	}

	if err := g.store.SetAlertStatus(alert.ID, model.AlertProcessed, ""); err != nil {
		log.Printf("[ingest] alert %d status update: %v", alert.ID, err)
	}
}

func (g *Gate) rejectAlert(ctx context.Context, acct model.Account, alert *model.Alert, reason string) {
	log.Printf("[ingest] alert %d rejected: %s", alert.ID, reason)
	if err := g.store.SetAlertStatus(alert.ID, model.AlertRejected, reason); err != nil {
		log.Printf("[ingest] alert %d status update: %v", alert.ID, err)
	}
	g.publish(ctx, model.Event{
		Type:      model.EventAlertRejected,
		AccountID: acct.ID,
		AlertID:   alert.ID,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

func (g *Gate) publish(ctx context.Context, ev model.Event) {
	if g.events != nil {
		g.events.Publish(ctx, ev)
	}
}
