// Package redis provides the Redis-backed market-quote reader and the
// pub/sub event publisher. Quotes live in per-symbol hashes written by an
// external feed:
//
//	HSET quote:NSE:SBIN-EQ ltp 812.40 bid 812.35 ask 812.45
//
// Every read carries a bounded timeout and goes through a circuit breaker;
// any failure surfaces as "quote unavailable", never as a pipeline error.
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"alert-pipelinev1/internal/marketdata"

	goredis "github.com/go-redis/redis/v8"
)

const quoteTimeout = 2 * time.Second

// QuotesConfig configures the quote reader.
type QuotesConfig struct {
	Addr     string
	Password string
	DB       int
}

// Quotes implements marketdata.Provider over Redis quote hashes.
type Quotes struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// Client returns the underlying client for health checks and pub/sub.
func (q *Quotes) Client() *goredis.Client { return q.client }

// NewQuotes connects and pings the Redis server.
func NewQuotes(cfg QuotesConfig) (*Quotes, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Quotes{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// Breaker exposes the circuit breaker so callers can attach metrics.
func (q *Quotes) Breaker() *CircuitBreaker { return q.breaker }

// LTP returns the last traded price for symbol, ok=false when unavailable.
func (q *Quotes) LTP(ctx context.Context, symbol string) (float64, bool) {
	v, ok := q.field(ctx, symbol, "ltp")
	return v, ok
}

// BidAsk returns the top of book for symbol, ok=false when unavailable.
func (q *Quotes) BidAsk(ctx context.Context, symbol string) (marketdata.Quote, bool) {
	var quote marketdata.Quote
	err := q.breaker.Execute(func() error {
		rctx, cancel := context.WithTimeout(ctx, quoteTimeout)
		defer cancel()
		vals, err := q.client.HMGet(rctx, "quote:"+symbol, "bid", "ask").Result()
		if err != nil {
			return err
		}
		bid, err1 := parseField(vals[0])
		ask, err2 := parseField(vals[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("quote fields missing for %s", symbol)
		}
		quote = marketdata.Quote{Bid: bid, Ask: ask}
		return nil
	})
	if err != nil {
		return marketdata.Quote{}, false
	}
	return quote, true
}

func (q *Quotes) field(ctx context.Context, symbol, name string) (float64, bool) {
	var out float64
	err := q.breaker.Execute(func() error {
		rctx, cancel := context.WithTimeout(ctx, quoteTimeout)
		defer cancel()
		raw, err := q.client.HGet(rctx, "quote:"+symbol, name).Result()
		if err != nil {
			return err
		}
		out, err = strconv.ParseFloat(raw, 64)
		return err
	})
	return out, err == nil
}

func parseField(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("nil field")
	}
	return strconv.ParseFloat(s, 64)
}
