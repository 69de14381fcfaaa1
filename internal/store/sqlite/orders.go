package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"alert-pipelinev1/internal/model"
)

// ErrOrderTerminal is returned when a state transition targets an order
// already in an absorbing state.
var ErrOrderTerminal = errors.New("order is in a terminal state")

const orderCols = `id, account_id, alert_id, parent_id, strategy, mode, side, kind, product, symbol, qty,
	limit_price, stop_price, stop_loss, take_profit, tag, validity, disclosed_qty,
	status, reason, broker_order_id, fill_price, filled_at, created_at, updated_at`

// CreateOrder persists a new order and assigns its id.
func (s *Store) CreateOrder(o *model.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	res, err := s.db.Exec(`
		INSERT INTO orders (account_id, alert_id, parent_id, strategy, mode, side, kind, product, symbol, qty,
			limit_price, stop_price, stop_loss, take_profit, tag, validity, disclosed_qty,
			status, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.AccountID, o.AlertID, o.ParentID, o.Strategy, o.Mode, o.Side, o.Kind, o.Product, o.Symbol, o.Qty,
		o.LimitPrice, o.StopPrice, o.StopLoss, o.TakeProfit, o.Tag, o.Validity, o.DisclosedQty,
		o.Status, o.Reason, o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

// Order fetches one order by id.
func (s *Store) Order(id int64) (*model.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// OpenOrders returns all NEW/WORKING orders for the given mode,
// oldest-first. This is the engine's per-cycle work list.
func (s *Store) OpenOrders(mode string) ([]*model.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderCols+` FROM orders
		WHERE mode = ? AND status IN (?, ?) ORDER BY created_at, id`,
		mode, model.StatusNew, model.StatusWorking)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentOrders returns the newest orders, most recent first.
func (s *Store) RecentOrders(limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+orderCols+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetBrokerOrderID records the broker-assigned id on a live order.
func (s *Store) SetBrokerOrderID(id int64, brokerID string) error {
	_, err := s.db.Exec(`UPDATE orders SET broker_order_id = ?, updated_at = ? WHERE id = ?`,
		brokerID, time.Now().UTC().UnixNano(), id)
	return err
}

// MarkWorking transitions NEW -> WORKING. A no-op for any other state.
func (s *Store) MarkWorking(id int64) error {
	_, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.StatusWorking, time.Now().UTC().UnixNano(), id, model.StatusNew)
	return err
}

// RejectOrder moves a non-terminal order to REJECTED with a reason.
// Terminal orders are left untouched (monotonic state machine).
func (s *Store) RejectOrder(id int64, reason string) error {
	res, err := s.db.Exec(`UPDATE orders SET status = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusRejected, reason, time.Now().UTC().UnixNano(),
		id, model.StatusNew, model.StatusWorking)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderTerminal
	}
	return nil
}

// CancelOrder moves a non-terminal order to CANCELLED. Returns false when
// the order was already terminal (a no-op, not an error).
func (s *Store) CancelOrder(id int64) (bool, error) {
	res, err := s.db.Exec(`UPDATE orders SET status = ?, reason = 'cancelled by user', updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusCancelled, time.Now().UTC().UnixNano(),
		id, model.StatusNew, model.StatusWorking)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FinalizeFill atomically records a full fill: the Execution row, the
// FILLED order transition, the position update (delete on zero), the
// portfolio cash movement, and any cover/bracket child orders. Everything
// rolls back together; on failure the order stays in its pre-fill state.
func (s *Store) FinalizeFill(o *model.Order, fillPrice float64, children []*model.Order) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ns := now.UnixNano()

	// Guard: only a non-terminal order can fill.
	res, err := tx.Exec(`UPDATE orders SET status = ?, fill_price = ?, filled_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.StatusFilled, fillPrice, ns, ns, o.ID, model.StatusNew, model.StatusWorking)
	if err != nil {
		return fmt.Errorf("fill order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderTerminal
	}

	if _, err := tx.Exec(`
		INSERT INTO executions (order_id, account_id, symbol, side, qty, price, mode, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.Symbol, o.Side, o.Qty, fillPrice, o.Mode, ns); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	// Position math inside the same transaction.
	var prevQty int64
	var prevAvg float64
	err = tx.QueryRow(`SELECT qty, avg_price FROM positions WHERE account_id = ? AND symbol = ? AND mode = ?`,
		o.AccountID, o.Symbol, o.Mode).Scan(&prevQty, &prevAvg)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read position: %w", err)
	}

	newQty, newAvg := model.ApplyFill(prevQty, prevAvg, o.Side, o.Qty, fillPrice)
	if newQty == 0 {
		if _, err := tx.Exec(`DELETE FROM positions WHERE account_id = ? AND symbol = ? AND mode = ?`,
			o.AccountID, o.Symbol, o.Mode); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	} else {
		if _, err := tx.Exec(`
			INSERT INTO positions (account_id, symbol, mode, qty, avg_price, mtm, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, symbol, mode) DO UPDATE SET
				qty = excluded.qty, avg_price = excluded.avg_price, updated_at = excluded.updated_at`,
			o.AccountID, o.Symbol, o.Mode, newQty, newAvg, float64(newQty)*fillPrice, ns); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	// Cash moves against the fill: buys spend, sells receive.
	cashDelta := -float64(o.Side) * float64(o.Qty) * fillPrice
	if _, err := tx.Exec(`UPDATE portfolios SET cash = cash + ?, updated_at = ?
		WHERE account_id = ? AND mode = ?`, cashDelta, ns, o.AccountID, o.Mode); err != nil {
		return fmt.Errorf("update portfolio cash: %w", err)
	}

	// Cover/bracket children spawn inside the parent's transaction so a
	// filled parent is never left unprotected.
	for _, c := range children {
		res, err := tx.Exec(`
			INSERT INTO orders (account_id, alert_id, parent_id, strategy, mode, side, kind, product, symbol, qty,
				limit_price, stop_price, stop_loss, take_profit, tag, validity, disclosed_qty,
				status, reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.AccountID, c.AlertID, c.ParentID, c.Strategy, c.Mode, c.Side, c.Kind, c.Product, c.Symbol, c.Qty,
			c.LimitPrice, c.StopPrice, c.StopLoss, c.TakeProfit, c.Tag, c.Validity, c.DisclosedQty,
			c.Status, c.Reason, ns, ns)
		if err != nil {
			return fmt.Errorf("insert child order: %w", err)
		}
		c.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	o.Status = model.StatusFilled
	o.FillPrice = fillPrice
	o.FilledAt = &now
	o.UpdatedAt = now
	return nil
}

// Executions returns fills for one order.
func (s *Store) Executions(orderID int64) ([]model.Execution, error) {
	rows, err := s.db.Query(`SELECT id, order_id, account_id, symbol, side, qty, price, mode, filled_at
		FROM executions WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		var e model.Execution
		var ns int64
		if err := rows.Scan(&e.ID, &e.OrderID, &e.AccountID, &e.Symbol, &e.Side, &e.Qty, &e.Price, &e.Mode, &ns); err != nil {
			return nil, err
		}
		e.FilledAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ChildOrders returns orders spawned by the given parent.
func (s *Store) ChildOrders(parentID int64) ([]*model.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderCols+` FROM orders WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(r rowScanner) (*model.Order, error) {
	var o model.Order
	var filledNs sql.NullInt64
	var createdNs, updatedNs int64
	err := r.Scan(&o.ID, &o.AccountID, &o.AlertID, &o.ParentID, &o.Strategy, &o.Mode, &o.Side,
		&o.Kind, &o.Product, &o.Symbol, &o.Qty,
		&o.LimitPrice, &o.StopPrice, &o.StopLoss, &o.TakeProfit, &o.Tag, &o.Validity, &o.DisclosedQty,
		&o.Status, &o.Reason, &o.BrokerOrderID, &o.FillPrice, &filledNs, &createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	if filledNs.Valid {
		t := time.Unix(0, filledNs.Int64).UTC()
		o.FilledAt = &t
	}
	o.CreatedAt = time.Unix(0, createdNs).UTC()
	o.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return &o, nil
}
