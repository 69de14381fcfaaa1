package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alert-pipelinev1/config"
	"alert-pipelinev1/internal/api"
	"alert-pipelinev1/internal/broker"
	"alert-pipelinev1/internal/engine"
	"alert-pipelinev1/internal/gateway"
	"alert-pipelinev1/internal/ingest"
	"alert-pipelinev1/internal/metrics"
	"alert-pipelinev1/internal/model"
	"alert-pipelinev1/internal/notification"
	"alert-pipelinev1/internal/ratelimit"
	"alert-pipelinev1/internal/store/redis"
	"alert-pipelinev1/internal/store/sqlite"
	"alert-pipelinev1/internal/symbols"
	"alert-pipelinev1/internal/validate"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[alertserver] starting...")

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[alertserver] sqlite: %v", err)
	}
	defer store.Close()

	quotes, err := redis.NewQuotes(redis.QuotesConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[alertserver] redis: %v", err)
	}

	m := metrics.New()
	quotes.Breaker().OnTrip = m.IncBreakerTrip

	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, quotes.Client(), store.DB(), 10*time.Second)
	metrics.NewServer(cfg.MetricsAddr, health).Start()

	// Seed the default account so single-account deployments work
	// without a provisioning step.
	account, err := store.EnsureAccount(model.Account{
		Name:         cfg.DefaultAccountName,
		WebhookToken: cfg.DefaultWebhookToken,
		HasBroker:    true,
		StartingCash: cfg.StartingCash,
	})
	if err != nil {
		log.Fatalf("[alertserver] account: %v", err)
	}
	if err := store.EnsurePortfolio(account.ID, model.ModePaper, account.StartingCash); err != nil {
		log.Fatalf("[alertserver] portfolio: %v", err)
	}

	notifier := buildNotifier(cfg)
	publisher := redis.NewPublisher(quotes.Client())
	syms := symbols.New(store)

	eng := engine.New(store, quotes, syms, cfg.SlippageBps, cfg.CycleInterval, engine.Options{
		Events:   publisher,
		Notifier: notifier,
		Metrics:  m,
		OnTick:   health.SetEngineLastTick,
	})
	go eng.Run(ctx)

	validator := &validate.Validator{
		Symbols:     syms,
		Market:      quotes,
		MaxNotional: cfg.MaxNotional,
		OrderRate:   ratelimit.New(cfg.OrderRateLimit, cfg.RateWindow),
	}

	var brk broker.Broker
	if cfg.LiveEnabled() {
		brk = broker.NewSmartAPI(broker.SmartAPIConfig{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		})
		log.Println("[alertserver] live broker enabled")
	}

	norm := &ingest.Normalizer{
		DefaultExchange: cfg.DefaultExchange,
		DefaultSuffix:   cfg.DefaultSuffix,
	}
	gate := ingest.New(store, norm, validator, eng, brk,
		ratelimit.New(cfg.IngestRateLimit, cfg.RateWindow), publisher, m)

	hub := gateway.NewHub(quotes.Client(), 500)
	go hub.Run(ctx)

	server := &api.Server{
		Store:  store,
		Gate:   gate,
		Engine: eng,
		WSHub:  hub.HandleWS,
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[alertserver] serving at http://localhost%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[alertserver] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[alertserver] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[alertserver] shutdown: %v", err)
	}
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := notification.Multi{notification.LogNotifier{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.NotifyWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	return backends
}
