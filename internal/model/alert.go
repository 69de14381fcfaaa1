package model

import "time"

// Alert statuses.
const (
	AlertPending   = "PENDING"
	AlertProcessed = "PROCESSED"
	AlertRejected  = "REJECTED"
)

// Alert is the immutable record of one received signal. Only Status,
// Reason and ProcessedAt mutate after creation.
type Alert struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	Strategy       string     `json:"strategy,omitempty"`
	Source         string     `json:"source,omitempty"` // network origin or routing token
	RawPayload     string     `json:"raw_payload"`
	IdempotencyKey string     `json:"idempotency_key"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// IngestAck is the small acknowledgment returned to the webhook caller.
type IngestAck struct {
	AlertID  int64  `json:"alert_id"`
	Status   string `json:"status"`
	Accounts int    `json:"accounts,omitempty"` // >1 only in broadcast mode
}
