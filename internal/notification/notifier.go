// Package notification delivers order lifecycle messages (fills,
// rejections, engine faults) to external channels.
package notification

import (
	"context"
	"log"
)

// Level is the message severity.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Message is one notification.
type Message struct {
	Level Level  `json:"level"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier is the interface all backends implement.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the process log. Default backend.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	log.Printf("[notify] [%s] %s: %s", msg.Level, msg.Title, msg.Body)
	return nil
}

// Multi fans one message out to several backends. Delivery failures are
// logged and do not stop the remaining backends.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			log.Printf("[notify] backend %T failed: %v", n, err)
		}
	}
	return nil
}
