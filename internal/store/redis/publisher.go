package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// EventsChannel is the pub/sub channel the pipeline publishes order
// lifecycle events to; the gateway hub subscribes to it.
const EventsChannel = "events:orders"

// Publisher fans pipeline events out via Redis pub/sub. Publishing is
// best-effort: a down Redis is logged, never propagated.
type Publisher struct {
	client *goredis.Client
}

// NewPublisher wraps an existing client.
func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals event as JSON and publishes it on EventsChannel.
func (p *Publisher) Publish(ctx context.Context, event any) {
	if p == nil || p.client == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[redis] event marshal failed: %v", err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Publish(pctx, EventsChannel, body).Err(); err != nil {
		log.Printf("[redis] event publish failed: %v", err)
	}
}
