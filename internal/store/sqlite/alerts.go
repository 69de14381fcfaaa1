package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"alert-pipelinev1/internal/model"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// CreateAlert inserts the alert, relying on the UNIQUE idempotency-key
// index for at-most-once creation. When a concurrent or earlier delivery
// already created the row, the existing alert is returned with
// created=false and nothing is written.
func (s *Store) CreateAlert(a *model.Alert) (created bool, existing *model.Alert, err error) {
	res, err := s.db.Exec(`
		INSERT INTO alerts (account_id, strategy, source, raw_payload, idempotency_key, status, reason, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.Strategy, a.Source, a.RawPayload, a.IdempotencyKey, a.Status, a.Reason,
		a.ReceivedAt.UnixNano())
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
			prior, lookupErr := s.AlertByKey(a.IdempotencyKey)
			if lookupErr != nil {
				return false, nil, fmt.Errorf("duplicate alert lookup: %w", lookupErr)
			}
			return false, prior, nil
		}
		return false, nil, fmt.Errorf("insert alert: %w", err)
	}

	a.ID, err = res.LastInsertId()
	if err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// AlertByKey fetches an alert by idempotency key.
func (s *Store) AlertByKey(key string) (*model.Alert, error) {
	return s.alertBy("idempotency_key = ?", key)
}

// Alert fetches an alert by id.
func (s *Store) Alert(id int64) (*model.Alert, error) {
	return s.alertBy("id = ?", id)
}

// SetAlertStatus updates the alert's terminal status and audit reason.
func (s *Store) SetAlertStatus(id int64, status, reason string) error {
	_, err := s.db.Exec(`UPDATE alerts SET status = ?, reason = ?, processed_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC().UnixNano(), id)
	return err
}

// RecentAlerts returns the newest alerts, most recent first.
func (s *Store) RecentAlerts(limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, account_id, strategy, source, raw_payload, idempotency_key, status, reason, received_at, processed_at
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) alertBy(where string, arg any) (*model.Alert, error) {
	row := s.db.QueryRow(`
		SELECT id, account_id, strategy, source, raw_payload, idempotency_key, status, reason, received_at, processed_at
		FROM alerts WHERE `+where, arg)
	return scanAlert(row)
}

func scanAlert(r rowScanner) (*model.Alert, error) {
	var a model.Alert
	var receivedNs int64
	var processedNs sql.NullInt64
	err := r.Scan(&a.ID, &a.AccountID, &a.Strategy, &a.Source, &a.RawPayload,
		&a.IdempotencyKey, &a.Status, &a.Reason, &receivedNs, &processedNs)
	if err != nil {
		return nil, err
	}
	a.ReceivedAt = time.Unix(0, receivedNs).UTC()
	if processedNs.Valid {
		t := time.Unix(0, processedNs.Int64).UTC()
		a.ProcessedAt = &t
	}
	return &a, nil
}
