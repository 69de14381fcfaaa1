// Package gateway streams order lifecycle events to WebSocket clients.
// Events arrive over Redis pub/sub and fan out to every connected peer;
// a replay ring lets late joiners backfill what they missed.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"alert-pipelinev1/internal/store/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub manages WebSocket clients and the Redis subscription.
type Hub struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay *replayRing
}

// NewHub creates a hub with the given replay capacity.
func NewHub(rdb *goredis.Client, replayCap int) *Hub {
	return &Hub{
		rdb:     rdb,
		clients: make(map[*Client]bool),
		replay:  newReplayRing(replayCap),
	}
}

// Run subscribes to the order events channel and fans messages out.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redis.EventsChannel)
	defer pubsub.Close()
	log.Printf("[gateway] subscribed to %s", redis.EventsChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

// broadcast wraps the event in a sequenced envelope, records it for
// replay and pushes it to every client. Slow clients drop messages
// rather than blocking the hub.
func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	envelope, err := json.Marshal(map[string]any{
		"seq":   seq,
		"event": json.RawMessage(payload),
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[gateway] envelope marshal: %v", err)
		return
	}
	h.replay.push(seq, envelope)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
		}
	}
}

// HandleWS upgrades the connection and registers the client. The
// optional last_seq query parameter replays buffered events after that
// sequence number before live delivery starts.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	var lastSeq int64
	if raw := r.URL.Query().Get("last_seq"); raw != "" {
		lastSeq, _ = strconv.ParseInt(raw, 10, 64)
	}
	// The backlog can exceed the send buffer, so it goes straight to the
	// socket; the send channel carries only live traffic.
	for _, msg := range h.replay.since(lastSeq) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
