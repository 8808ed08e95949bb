package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zuohao/fund_dashboard/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS holdings (
			user_id INTEGER NOT NULL,
			fund_code TEXT NOT NULL,
			fund_name TEXT,
			units_held REAL NOT NULL DEFAULT 0,
			cost_per_unit REAL NOT NULL DEFAULT 1,
			shares REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, fund_code)
		);`,
		`CREATE TABLE IF NOT EXISTS position_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			fund_code TEXT NOT NULL,
			fund_name TEXT,
			op TEXT NOT NULL,
			amount REAL NOT NULL,
			trade_date TEXT NOT NULL,
			period TEXT,
			prev_units_held REAL NOT NULL,
			prev_cost_per_unit REAL NOT NULL,
			new_units_held REAL NOT NULL,
			new_cost_per_unit REAL NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_records_user_created ON position_records(user_id, created_at DESC);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: older databases tracked only the shares column.
	// We ignore the error if the columns already exist
	_, _ = s.db.Exec(`ALTER TABLE holdings ADD COLUMN units_held REAL NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE holdings ADD COLUMN cost_per_unit REAL NOT NULL DEFAULT 1`)
	_, _ = s.db.Exec(`UPDATE holdings SET units_held = shares, cost_per_unit = 1
		WHERE units_held = 0 AND shares > 0`)

	return nil
}

// HoldingRepository Implementation

func (s *SQLiteStore) GetHolding(ctx context.Context, userID int64, fundCode string) (*domain.Holding, error) {
	query := `SELECT user_id, fund_code, fund_name, units_held, cost_per_unit, shares, created_at
			  FROM holdings WHERE user_id = ? AND fund_code = ?`
	row := s.db.QueryRowContext(ctx, query, userID, fundCode)

	var h domain.Holding
	err := row.Scan(&h.UserID, &h.FundCode, &h.FundName, &h.UnitsHeld, &h.CostPerUnit, &h.Shares, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *SQLiteStore) ListHoldings(ctx context.Context, userID int64) ([]*domain.Holding, error) {
	query := `SELECT user_id, fund_code, fund_name, units_held, cost_per_unit, shares, created_at
			  FROM holdings WHERE user_id = ? ORDER BY fund_code`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.UserID, &h.FundCode, &h.FundName, &h.UnitsHeld, &h.CostPerUnit, &h.Shares, &h.CreatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

func (s *SQLiteStore) SaveHolding(ctx context.Context, h *domain.Holding) error {
	query := `INSERT OR REPLACE INTO holdings (user_id, fund_code, fund_name, units_held, cost_per_unit, shares, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		h.UserID, h.FundCode, h.FundName, h.UnitsHeld, h.CostPerUnit, h.UnitsHeld*h.CostPerUnit, h.CreatedAt)
	return err
}

func (s *SQLiteStore) SetHolding(ctx context.Context, userID int64, fundCode string, unitsHeld, costPerUnit float64) error {
	if unitsHeld < 0 || costPerUnit < 0 {
		return fmt.Errorf("%w: units_held and cost_per_unit must be non-negative", domain.ErrInvalidArgument)
	}
	query := `UPDATE holdings SET units_held = ?, cost_per_unit = ?, shares = ?
			  WHERE user_id = ? AND fund_code = ?`
	res, err := s.db.ExecContext(ctx, query, unitsHeld, costPerUnit, unitsHeld*costPerUnit, userID, fundCode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteHolding(ctx context.Context, userID int64, fundCode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND fund_code = ?`, userID, fundCode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordRepository Implementation

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec *domain.PositionRecord) (int64, error) {
	if rec.TradeDate == "" {
		return 0, fmt.Errorf("%w: trade_date is required", domain.ErrInvalidArgument)
	}
	query := `INSERT INTO position_records
			  (user_id, fund_code, fund_name, op, amount, trade_date, period,
			   prev_units_held, prev_cost_per_unit, new_units_held, new_cost_per_unit, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.FundCode, rec.FundName, rec.Op, rec.Amount, rec.TradeDate, rec.Period,
		rec.PrevUnitsHeld, rec.PrevCostPerUnit, rec.NewUnitsHeld, rec.NewCostPerUnit, rec.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListRecords(ctx context.Context, userID int64) ([]*domain.PositionRecord, error) {
	query := `SELECT id, user_id, fund_code, fund_name, op, amount, trade_date, period,
			  prev_units_held, prev_cost_per_unit, new_units_held, new_cost_per_unit, created_at
			  FROM position_records WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.PositionRecord
	for rows.Next() {
		var r domain.PositionRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.FundCode, &r.FundName, &r.Op, &r.Amount, &r.TradeDate, &r.Period,
			&r.PrevUnitsHeld, &r.PrevCostPerUnit, &r.NewUnitsHeld, &r.NewCostPerUnit, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, userID, recordID int64) (*domain.PositionRecord, error) {
	query := `SELECT id, user_id, fund_code, fund_name, op, amount, trade_date, period,
			  prev_units_held, prev_cost_per_unit, new_units_held, new_cost_per_unit, created_at
			  FROM position_records WHERE id = ? AND user_id = ?`
	row := s.db.QueryRowContext(ctx, query, recordID, userID)

	var r domain.PositionRecord
	err := row.Scan(&r.ID, &r.UserID, &r.FundCode, &r.FundName, &r.Op, &r.Amount, &r.TradeDate, &r.Period,
		&r.PrevUnitsHeld, &r.PrevCostPerUnit, &r.NewUnitsHeld, &r.NewCostPerUnit, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) RemoveRecord(ctx context.Context, recordID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM position_records WHERE id = ?`, recordID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
