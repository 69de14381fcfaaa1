package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"alert-pipelinev1/internal/model"
)

// Position fetches one position row. ok=false means flat.
func (s *Store) Position(accountID int64, symbol, mode string) (model.Position, bool, error) {
	var p model.Position
	var ns int64
	err := s.db.QueryRow(`SELECT account_id, symbol, mode, qty, avg_price, mtm, updated_at
		FROM positions WHERE account_id = ? AND symbol = ? AND mode = ?`,
		accountID, symbol, mode).
		Scan(&p.AccountID, &p.Symbol, &p.Mode, &p.Qty, &p.AvgPrice, &p.MTM, &ns)
	if err == sql.ErrNoRows {
		return model.Position{}, false, nil
	}
	if err != nil {
		return model.Position{}, false, err
	}
	p.UpdatedAt = time.Unix(0, ns).UTC()
	return p, true, nil
}

// Positions returns all open positions for one account and mode.
func (s *Store) Positions(accountID int64, mode string) ([]model.Position, error) {
	rows, err := s.db.Query(`SELECT account_id, symbol, mode, qty, avg_price, mtm, updated_at
		FROM positions WHERE account_id = ? AND mode = ? ORDER BY symbol`, accountID, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var ns int64
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Mode, &p.Qty, &p.AvgPrice, &p.MTM, &ns); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.Unix(0, ns).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePositionMTM stores a freshly computed mark-to-market value.
func (s *Store) UpdatePositionMTM(accountID int64, symbol, mode string, mtm float64) error {
	_, err := s.db.Exec(`UPDATE positions SET mtm = ?, updated_at = ?
		WHERE account_id = ? AND symbol = ? AND mode = ?`,
		mtm, time.Now().UTC().UnixNano(), accountID, symbol, mode)
	return err
}

// EnsurePortfolio creates the (account, mode) portfolio row if missing,
// seeded with the account's starting cash.
func (s *Store) EnsurePortfolio(accountID int64, mode string, startingCash float64) error {
	ns := time.Now().UTC().UnixNano()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO portfolios (account_id, mode, cash, day_pnl, total_pnl, starting_cash, day_start_equity, day_start, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		accountID, mode, startingCash, startingCash, startingCash, ns, ns)
	if err != nil {
		return fmt.Errorf("ensure portfolio: %w", err)
	}
	return nil
}

// Portfolio fetches the (account, mode) portfolio aggregate.
func (s *Store) Portfolio(accountID int64, mode string) (model.Portfolio, error) {
	var p model.Portfolio
	var dayStartNs, updatedNs int64
	err := s.db.QueryRow(`SELECT account_id, mode, cash, day_pnl, total_pnl, starting_cash, day_start_equity, day_start, updated_at
		FROM portfolios WHERE account_id = ? AND mode = ?`, accountID, mode).
		Scan(&p.AccountID, &p.Mode, &p.Cash, &p.DayPnL, &p.TotalPnL, &p.StartingCash,
			&p.DayStartEquity, &dayStartNs, &updatedNs)
	if err != nil {
		return model.Portfolio{}, err
	}
	p.DayStart = time.Unix(0, dayStartNs).UTC()
	p.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return p, nil
}

// SavePortfolioValuation stores the P&L figures computed by the engine's
// on-demand valuation, rolling the day-start equity on a new day.
func (s *Store) SavePortfolioValuation(p model.Portfolio) error {
	_, err := s.db.Exec(`UPDATE portfolios SET day_pnl = ?, total_pnl = ?, day_start_equity = ?, day_start = ?, updated_at = ?
		WHERE account_id = ? AND mode = ?`,
		p.DayPnL, p.TotalPnL, p.DayStartEquity, p.DayStart.UnixNano(), time.Now().UTC().UnixNano(),
		p.AccountID, p.Mode)
	return err
}
