// Package sqlite persists the pipeline's relational state: accounts,
// alerts, orders, executions, positions, portfolios and symbol metadata.
//
// Uniqueness rules the rest of the pipeline relies on live here:
// the alert idempotency key is globally UNIQUE, positions are keyed by
// (account, symbol, mode) and portfolios by (account, mode).
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"alert-pipelinev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/pipeline.db"
}

// Store wraps a single-writer SQLite database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer keeps transactions serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT    NOT NULL UNIQUE,
			webhook_token TEXT    NOT NULL DEFAULT '',
			has_broker    INTEGER NOT NULL DEFAULT 0,
			starting_cash REAL    NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id      INTEGER NOT NULL,
			strategy        TEXT    NOT NULL DEFAULT '',
			source          TEXT    NOT NULL DEFAULT '',
			raw_payload     TEXT    NOT NULL,
			idempotency_key TEXT    NOT NULL UNIQUE,
			status          TEXT    NOT NULL,
			reason          TEXT    NOT NULL DEFAULT '',
			received_at     INTEGER NOT NULL,
			processed_at    INTEGER
		);

		CREATE TABLE IF NOT EXISTS orders (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id      INTEGER NOT NULL,
			alert_id        INTEGER NOT NULL DEFAULT 0,
			parent_id       INTEGER NOT NULL DEFAULT 0,
			strategy        TEXT    NOT NULL DEFAULT '',
			mode            TEXT    NOT NULL,
			side            INTEGER NOT NULL,
			kind            TEXT    NOT NULL,
			product         TEXT    NOT NULL,
			symbol          TEXT    NOT NULL,
			qty             INTEGER NOT NULL,
			limit_price     REAL    NOT NULL DEFAULT 0,
			stop_price      REAL    NOT NULL DEFAULT 0,
			stop_loss       REAL    NOT NULL DEFAULT 0,
			take_profit     REAL    NOT NULL DEFAULT 0,
			tag             TEXT    NOT NULL DEFAULT '',
			validity        TEXT    NOT NULL DEFAULT 'DAY',
			disclosed_qty   INTEGER NOT NULL DEFAULT 0,
			status          TEXT    NOT NULL,
			reason          TEXT    NOT NULL DEFAULT '',
			broker_order_id TEXT    NOT NULL DEFAULT '',
			fill_price      REAL    NOT NULL DEFAULT 0,
			filled_at       INTEGER,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (mode, status, created_at);

		CREATE TABLE IF NOT EXISTS executions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id   INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			symbol     TEXT    NOT NULL,
			side       INTEGER NOT NULL,
			qty        INTEGER NOT NULL,
			price      REAL    NOT NULL,
			mode       TEXT    NOT NULL,
			filled_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			account_id INTEGER NOT NULL,
			symbol     TEXT    NOT NULL,
			mode       TEXT    NOT NULL,
			qty        INTEGER NOT NULL,
			avg_price  REAL    NOT NULL,
			mtm        REAL    NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, symbol, mode)
		);

		CREATE TABLE IF NOT EXISTS portfolios (
			account_id       INTEGER NOT NULL,
			mode             TEXT    NOT NULL,
			cash             REAL    NOT NULL,
			day_pnl          REAL    NOT NULL DEFAULT 0,
			total_pnl        REAL    NOT NULL DEFAULT 0,
			starting_cash    REAL    NOT NULL,
			day_start_equity REAL    NOT NULL,
			day_start        INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL,
			PRIMARY KEY (account_id, mode)
		);

		CREATE TABLE IF NOT EXISTS symbol_meta (
			symbol    TEXT PRIMARY KEY,
			exchange  TEXT NOT NULL,
			segment   TEXT NOT NULL,
			tick_size REAL NOT NULL,
			lot_size  INTEGER NOT NULL
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- accounts ----

// EnsureAccount inserts the account if no account with the same name
// exists and returns the stored row either way.
func (s *Store) EnsureAccount(a model.Account) (model.Account, error) {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO accounts (name, webhook_token, has_broker, starting_cash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.Name, a.WebhookToken, boolInt(a.HasBroker), a.StartingCash, time.Now().UTC().UnixNano())
	if err != nil {
		return model.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	return s.accountBy("name = ?", a.Name)
}

// AccountByToken resolves a routing token to its account.
func (s *Store) AccountByToken(token string) (model.Account, bool, error) {
	a, err := s.accountBy("webhook_token = ?", token)
	if err == sql.ErrNoRows {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, err
	}
	return a, true, nil
}

// SubscribedAccounts returns every account holding a broker credential.
// These are the broadcast destinations for unrouted signals.
func (s *Store) SubscribedAccounts() ([]model.Account, error) {
	rows, err := s.db.Query(`SELECT id, name, webhook_token, has_broker, starting_cash, created_at
		FROM accounts WHERE has_broker = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) accountBy(where string, arg any) (model.Account, error) {
	row := s.db.QueryRow(`SELECT id, name, webhook_token, has_broker, starting_cash, created_at
		FROM accounts WHERE `+where, arg)
	return scanAccount(row)
}

type rowScanner interface{ Scan(...any) error }

func scanAccount(r rowScanner) (model.Account, error) {
	var a model.Account
	var hasBroker int
	var createdNs int64
	if err := r.Scan(&a.ID, &a.Name, &a.WebhookToken, &hasBroker, &a.StartingCash, &createdNs); err != nil {
		return model.Account{}, err
	}
	a.HasBroker = hasBroker != 0
	a.CreatedAt = time.Unix(0, createdNs).UTC()
	return a, nil
}

// ---- symbol metadata ----

// SymbolMeta returns the authoritative metadata row for symbol, if any.
func (s *Store) SymbolMeta(symbol string) (model.SymbolMeta, bool, error) {
	var m model.SymbolMeta
	err := s.db.QueryRow(`SELECT symbol, exchange, segment, tick_size, lot_size
		FROM symbol_meta WHERE symbol = ?`, symbol).
		Scan(&m.Symbol, &m.Exchange, &m.Segment, &m.TickSize, &m.LotSize)
	if err == sql.ErrNoRows {
		return model.SymbolMeta{}, false, nil
	}
	if err != nil {
		return model.SymbolMeta{}, false, err
	}
	return m, true, nil
}

// UpsertSymbolMeta stores or replaces a metadata row.
func (s *Store) UpsertSymbolMeta(m model.SymbolMeta) error {
	_, err := s.db.Exec(`
		INSERT INTO symbol_meta (symbol, exchange, segment, tick_size, lot_size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			exchange = excluded.exchange, segment = excluded.segment,
			tick_size = excluded.tick_size, lot_size = excluded.lot_size`,
		m.Symbol, m.Exchange, m.Segment, m.TickSize, m.LotSize)
	return err
}

// ---- reset ----

// ResetPaper wipes all paper-mode trading state. Alerts are kept for
// audit; portfolios are recreated from starting cash on the next order.
func (s *Store) ResetPaper() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM orders WHERE mode = 'PAPER'`,
		`DELETE FROM executions WHERE mode = 'PAPER'`,
		`DELETE FROM positions WHERE mode = 'PAPER'`,
		`DELETE FROM portfolios WHERE mode = 'PAPER'`,
	} {
		if _, err := tx.Exec(q); err != nil {
			tx.Rollback()
			return fmt.Errorf("reset paper: %w", err)
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
