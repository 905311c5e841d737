package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// InsertOutcomeSQL is reused by the batch writer for asynchronous appends.
const InsertOutcomeSQL = `
	INSERT INTO outcomes (seq, id, intent_id, strategy_id, pair, side, price, qty, fill_price, state, reason, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertActivitySQL is reused by the batch writer for asynchronous appends.
const InsertActivitySQL = `
	INSERT INTO activity_log (seq, level, message, created_at)
	VALUES (?, ?, ?, ?)`

// InsertOutcome stores one settled ledger entry.
func (d *Database) InsertOutcome(ctx context.Context, o Outcome) error {
	_, err := d.DB.ExecContext(ctx, InsertOutcomeSQL,
		o.Seq, o.ID, o.IntentID, o.StrategyID, o.Pair, o.Side,
		o.Price, o.Qty, o.FillPrice, o.State, o.Reason, o.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest outcomes first.
func (d *Database) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, id, intent_id, strategy_id, pair, side, price, qty, fill_price, state, reason, completed_at
		FROM outcomes
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Seq, &o.ID, &o.IntentID, &o.StrategyID, &o.Pair, &o.Side,
			&o.Price, &o.Qty, &o.FillPrice, &o.State, &o.Reason, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// MaxOutcomeSeq returns the highest assigned ledger sequence, 0 when empty.
func (d *Database) MaxOutcomeSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := d.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outcomes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max outcome seq: %w", err)
	}
	return seq, nil
}

// InsertActivity stores one activity record.
func (d *Database) InsertActivity(ctx context.Context, r ActivityRecord) error {
	_, err := d.DB.ExecContext(ctx, InsertActivitySQL, r.Seq, r.Level, r.Message, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// RecentActivity returns the newest activity records first.
func (d *Database) RecentActivity(ctx context.Context, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, level, message, created_at
		FROM activity_log
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var r ActivityRecord
		if err := rows.Scan(&r.Seq, &r.Level, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MaxActivitySeq returns the highest assigned activity sequence, 0 when empty.
func (d *Database) MaxActivitySeq(ctx context.Context) (int64, error) {
	var seq int64
	err := d.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM activity_log`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max activity seq: %w", err)
	}
	return seq, nil
}

// UpsertStrategy creates or refreshes a strategy row, preserving run state
// and accumulated performance for existing strategies.
func (d *Database) UpsertStrategy(ctx context.Context, s Strategy) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (id, name, pair, venue, state, performance_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pair = excluded.pair,
			venue = excluded.venue,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Name, s.Pair, s.Venue, s.State)
	if err != nil {
		return fmt.Errorf("upsert strategy: %w", err)
	}
	return nil
}

// UpdateStrategyState persists a run-state change.
func (d *Database) UpdateStrategyState(ctx context.Context, id, state string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategies SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, state, id)
	if err != nil {
		return fmt.Errorf("update strategy state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStrategyPerformance persists the accumulated realized performance.
func (d *Database) UpdateStrategyPerformance(ctx context.Context, id string, performancePct float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE strategies SET performance_pct = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, performancePct, id)
	if err != nil {
		return fmt.Errorf("update strategy performance: %w", err)
	}
	return nil
}

// ListStrategies returns all strategies, oldest first.
func (d *Database) ListStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, pair, venue, state, performance_pct, created_at, updated_at
		FROM strategies
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var strategies []Strategy
	for rows.Next() {
		var s Strategy
		if err := rows.Scan(&s.ID, &s.Name, &s.Pair, &s.Venue, &s.State,
			&s.PerformancePct, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		strategies = append(strategies, s)
	}
	return strategies, rows.Err()
}

// CreateUser stores a new API user.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user or nil when not registered.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
