package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

// SQLiteJournal is an append-only audit log of cycle results and closed
// positions. The position records themselves live in the FileStore.
type SQLiteJournal struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteJournal(dbPath string, logger *zap.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &SQLiteJournal{db: db, logger: logger}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cycle_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			state TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			price REAL,
			roe_pct REAL,
			floor_price REAL,
			tier_index INTEGER NOT NULL DEFAULT -1,
			phase INTEGER,
			breach_count INTEGER NOT NULL DEFAULT 0,
			closed BOOLEAN NOT NULL DEFAULT 0,
			summary TEXT,
			checked_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_results_position ON cycle_results(strategy_id, asset);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			wallet_id TEXT,
			asset TEXT NOT NULL,
			direction TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			leverage REAL NOT NULL,
			tier_index INTEGER NOT NULL,
			reason TEXT,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: journals created before close retries were tracked.
	// We ignore the error if the column already exists
	_, _ = j.db.Exec(`ALTER TABLE cycle_results ADD COLUMN close_failures INTEGER NOT NULL DEFAULT 0`)

	return nil
}

// ObserveCycle journals a cycle result. Journal failures are logged and
// never affect the cycle.
func (j *SQLiteJournal) ObserveCycle(ctx context.Context, state *domain.PositionState, result *domain.CycleResult) {
	if err := j.SaveCycleResult(ctx, result); err != nil {
		j.logger.Warn("Failed to journal cycle result",
			zap.String("run_id", result.RunID),
			zap.Error(err))
	}
}

func (j *SQLiteJournal) SaveCycleResult(ctx context.Context, r *domain.CycleResult) error {
	query := `INSERT INTO cycle_results (run_id, strategy_id, asset, state, status, error_kind, price, roe_pct, floor_price, tier_index, phase, breach_count, closed, close_failures, summary, checked_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		r.RunID, r.StrategyID, r.Asset, string(r.State), string(r.Status), string(r.ErrorKind),
		r.Price, r.ROEPct, r.FloorPrice, r.CurrentTierIndex, r.Phase, r.CurrentBreachCount,
		r.Closed, r.CloseFailures, r.Summary, r.CheckedAt)
	return err
}

// ListCycleResults returns the newest results first.
func (j *SQLiteJournal) ListCycleResults(ctx context.Context, limit int) ([]*domain.CycleResult, error) {
	query := `SELECT run_id, strategy_id, asset, state, status, error_kind, price, roe_pct, floor_price, tier_index, phase, breach_count, closed, close_failures, summary, checked_at
			  FROM cycle_results ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.CycleResult
	for rows.Next() {
		var (
			r                      domain.CycleResult
			state, status, errKind sql.NullString
			summary                sql.NullString
			price, roe, floor      sql.NullFloat64
			phase                  sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &r.StrategyID, &r.Asset, &state, &status, &errKind, &price, &roe, &floor,
			&r.CurrentTierIndex, &phase, &r.CurrentBreachCount, &r.Closed, &r.CloseFailures, &summary, &r.CheckedAt); err != nil {
			return nil, err
		}
		r.State = domain.LifecycleState(state.String)
		r.Status = domain.Status(status.String)
		r.ErrorKind = domain.ErrorKind(errKind.String)
		r.Price = price.Float64
		r.ROEPct = roe.Float64
		r.FloorPrice = floor.Float64
		r.Phase = int(phase.Int64)
		r.Summary = summary.String
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (j *SQLiteJournal) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	if h.ClosedAt.IsZero() {
		h.ClosedAt = time.Now().UTC()
	}
	query := `INSERT INTO position_history (strategy_id, wallet_id, asset, direction, size, entry_price, exit_price, realized_pnl, leverage, tier_index, reason, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := j.db.ExecContext(ctx, query,
		h.StrategyID, h.WalletID, h.Asset, string(h.Direction), h.Size, h.EntryPrice, h.ExitPrice,
		h.RealizedPnL, h.Leverage, h.TierIndex, h.Reason, h.ClosedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (j *SQLiteJournal) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, strategy_id, wallet_id, asset, direction, size, entry_price, exit_price, realized_pnl, leverage, tier_index, reason, closed_at
			  FROM position_history ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var (
			h              domain.PositionHistory
			wallet, reason sql.NullString
			direction      string
		)
		if err := rows.Scan(&h.ID, &h.StrategyID, &wallet, &h.Asset, &direction, &h.Size, &h.EntryPrice, &h.ExitPrice,
			&h.RealizedPnL, &h.Leverage, &h.TierIndex, &reason, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.WalletID = wallet.String
		h.Reason = reason.String
		h.Direction = domain.Direction(direction)
		history = append(history, &h)
	}
	return history, rows.Err()
}
