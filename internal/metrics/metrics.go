// Package metrics exposes Prometheus metrics and a small health endpoint
// for the alert pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline. All helper
// methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	AlertsTotal     prometheus.Counter
	AlertsDuplicate prometheus.Counter
	AlertsRejected  prometheus.Counter
	RateLimited     *prometheus.CounterVec // labels: scope=ingest|validate

	OrdersCreated  prometheus.Counter
	OrdersRejected prometheus.Counter
	OrdersFilled   prometheus.Counter
	ChildOrders    prometheus.Counter

	CycleDur     prometheus.Histogram
	CycleSkipped prometheus.Counter

	QuoteBreakerTrips prometheus.Counter
}

// New registers and returns all pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_total",
			Help: "Alerts accepted for processing",
		}),
		AlertsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_duplicate_total",
			Help: "Duplicate deliveries answered from the idempotency store",
		}),
		AlertsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_rejected_total",
			Help: "Alerts rejected at normalization or validation",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_rate_limited_total",
			Help: "Requests rejected by a sliding-window limiter",
		}, []string{"scope"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_orders_created_total",
			Help: "Orders created from validated alerts",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_orders_rejected_total",
			Help: "Orders rejected by the engine (e.g. liquidity failure)",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_orders_filled_total",
			Help: "Paper orders filled",
		}),
		ChildOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_child_orders_total",
			Help: "Cover/bracket child orders spawned",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_cycle_duration_seconds",
			Help:    "Paper engine processing cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		CycleSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_cycle_skipped_total",
			Help: "Cycle ticks skipped because a prior cycle was still running",
		}),
		QuoteBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_quote_breaker_trips_total",
			Help: "Times the Redis quote circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.AlertsTotal,
		m.AlertsDuplicate,
		m.AlertsRejected,
		m.RateLimited,
		m.OrdersCreated,
		m.OrdersRejected,
		m.OrdersFilled,
		m.ChildOrders,
		m.CycleDur,
		m.CycleSkipped,
		m.QuoteBreakerTrips,
	)
	return m
}

// Nil-safe increment helpers.

func (m *Metrics) IncAlerts() {
	if m != nil {
		m.AlertsTotal.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.AlertsDuplicate.Inc()
	}
}

func (m *Metrics) IncAlertRejected() {
	if m != nil {
		m.AlertsRejected.Inc()
	}
}

func (m *Metrics) IncRateLimited(scope string) {
	if m != nil {
		m.RateLimited.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) IncOrdersCreated() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) IncOrdersRejected() {
	if m != nil {
		m.OrdersRejected.Inc()
	}
}

func (m *Metrics) IncOrdersFilled() {
	if m != nil {
		m.OrdersFilled.Inc()
	}
}

func (m *Metrics) AddChildOrders(n int) {
	if m != nil {
		m.ChildOrders.Add(float64(n))
	}
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m != nil {
		m.CycleDur.Observe(d.Seconds())
	}
}

func (m *Metrics) IncCycleSkipped() {
	if m != nil {
		m.CycleSkipped.Inc()
	}
}

func (m *Metrics) IncBreakerTrip() {
	if m != nil {
		m.QuoteBreakerTrips.Inc()
	}
}

// HealthStatus is the JSON body served on /health.
type HealthStatus struct {
	mu sync.RWMutex

	SQLiteOK       bool      `json:"sqlite_ok"`
	RedisConnected bool      `json:"redis_connected"`
	EngineLastTick time.Time `json:"engine_last_tick"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status anchored at now.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineLastTick(t time.Time) {
	h.mu.Lock()
	h.EngineLastTick = t
	h.mu.Unlock()
}

func (h *HealthStatus) snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthStatus{
		SQLiteOK:       h.SQLiteOK,
		RedisConnected: h.RedisConnected,
		EngineLastTick: h.EngineLastTick,
		StartedAt:      h.StartedAt,
	}
}

// StartLivenessChecker pings the dependencies on an interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.SetRedisConnected(rdb.Ping(probeCtx).Err() == nil)
				}
				if db != nil {
					h.SetSQLiteOK(db.PingContext(probeCtx) == nil)
				}
				cancel()
			}
		}
	}()
}

// Server serves /metrics and /health.
type Server struct {
	addr   string
	health *HealthStatus
}

// NewServer creates the metrics server.
func NewServer(addr string, health *HealthStatus) *Server {
	return &Server{addr: addr, health: health}
}

// Start runs the server in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.health.snapshot())
	})
	go func() {
		log.Printf("[metrics] serving on %s", s.addr)
		if err := http.ListenAndServe(s.addr, mux); err != nil {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}
