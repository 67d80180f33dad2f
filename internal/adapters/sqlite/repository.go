// Package sqlite persists positions and close history using SQLite.
// Monetary values are stored as TEXT and parsed back through
// shopspring/decimal so no precision is lost crossing the storage boundary.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.PositionRepository and ports.HistoryRepository
// interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the monitor and request paths.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		status TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		close_reason TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS position_history (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		trader_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		duration_ns INTEGER NOT NULL,
		close_reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_trader_status ON positions (trader_id, status);
	CREATE INDEX IF NOT EXISTS idx_history_trader_closed_at ON position_history (trader_id, closed_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// SavePosition inserts the position or overwrites the stored row when the ID
// already exists, so the same call covers create, price updates, and the
// final closed write.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (id, trader_id, symbol, side, quantity, entry_price, current_price,
	                       stop_loss, take_profit, leverage, status, opened_at, closed_at, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		quantity = excluded.quantity,
		current_price = excluded.current_price,
		stop_loss = excluded.stop_loss,
		take_profit = excluded.take_profit,
		status = excluded.status,
		closed_at = excluded.closed_at,
		close_reason = excluded.close_reason`

	var closedAt sql.NullTime
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}
	var closeReason sql.NullString
	if pos.CloseReason != "" {
		closeReason = sql.NullString{String: string(pos.CloseReason), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.TraderID, pos.Symbol, string(pos.Side),
		pos.Quantity.String(), pos.EntryPrice.String(), pos.CurrentPrice.String(),
		pos.StopLoss.String(), pos.TakeProfit.String(),
		pos.Leverage, string(pos.Status), pos.OpenedAt, closedAt, closeReason)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// LoadAllOpenPositions retrieves every position that was not closed, including
// those caught mid-close by a crash.
func (r *Repository) LoadAllOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, trader_id, symbol, side, quantity, entry_price, current_price,
	       stop_loss, take_profit, leverage, status, opened_at, closed_at, close_reason
	FROM positions
	WHERE status != ?
	ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during LoadAllOpenPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- HistoryRepository Implementation ---

// AppendHistory saves an immutable close record.
func (r *Repository) AppendHistory(ctx context.Context, rec *domain.PositionHistoryRecord) error {
	const query = `
	INSERT INTO position_history (id, position_id, trader_id, symbol, side, quantity, leverage,
	                              entry_price, exit_price, realized_pnl, opened_at, closed_at,
	                              duration_ns, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.PositionID, rec.TraderID, rec.Symbol, string(rec.Side),
		rec.Quantity.String(), rec.Leverage,
		rec.EntryPrice.String(), rec.ExitPrice.String(), rec.RealizedPnL.String(),
		rec.OpenedAt, rec.ClosedAt, rec.Duration.Nanoseconds(), string(rec.CloseReason))
	if err != nil {
		return fmt.Errorf("failed to insert history record for position %s: %w", rec.PositionID, err)
	}
	r.logger.Debug(ctx, "History record appended", map[string]interface{}{
		"recordID": rec.ID, "positionID": rec.PositionID, "realizedPnL": rec.RealizedPnL.String(),
	})
	return nil
}

// FindHistoryByTrader retrieves the most recent close records for a trader,
// up to a limit. A limit of zero or less means no limit.
func (r *Repository) FindHistoryByTrader(ctx context.Context, traderID string, limit int) ([]*domain.PositionHistoryRecord, error) {
	const query = `
	SELECT id, position_id, trader_id, symbol, side, quantity, leverage,
	       entry_price, exit_price, realized_pnl, opened_at, closed_at, duration_ns, close_reason
	FROM position_history
	WHERE trader_id = ? ORDER BY closed_at DESC LIMIT ?`

	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unlimited
	}
	rows, err := r.db.QueryContext(ctx, query, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for trader %s: %w", traderID, err)
	}
	defer rows.Close()

	records := make([]*domain.PositionHistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record during FindHistoryByTrader: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// FindHistoryByPosition retrieves the close record for a position, or nil
// when the position never produced one.
func (r *Repository) FindHistoryByPosition(ctx context.Context, positionID string) (*domain.PositionHistoryRecord, error) {
	const query = `
	SELECT id, position_id, trader_id, symbol, side, quantity, leverage,
	       entry_price, exit_price, realized_pnl, opened_at, closed_at, duration_ns, close_reason
	FROM position_history
	WHERE position_id = ? ORDER BY closed_at DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, positionID)
	rec, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query history for position %s: %w", positionID, err)
	}
	return rec, nil
}

// RealizedPnLSince sums realized P&L for close records at or after the cutoff.
// An empty traderID sums across all traders. The sum runs in Go because the
// amounts are stored as decimal strings.
func (r *Repository) RealizedPnLSince(ctx context.Context, traderID string, since time.Time) (decimal.Decimal, error) {
	const query = `
	SELECT realized_pnl FROM position_history
	WHERE (? = '' OR trader_id = ?) AND closed_at >= ?`

	rows, err := r.db.QueryContext(ctx, query, traderID, traderID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query realized pnl for trader %q: %w", traderID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan realized pnl: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt realized pnl value %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	if err = rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating realized pnl rows: %w", err)
	}
	return total, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var quantity, entryPrice, currentPrice, stopLoss, takeProfit string
	var closedAt sql.NullTime
	var closeReason sql.NullString

	err := s.Scan(
		&p.ID, &p.TraderID, &p.Symbol, &side, &quantity, &entryPrice, &currentPrice,
		&stopLoss, &takeProfit, &p.Leverage, &status, &p.OpenedAt, &closedAt, &closeReason)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{quantity, &p.Quantity},
		{entryPrice, &p.EntryPrice},
		{currentPrice, &p.CurrentPrice},
		{stopLoss, &p.StopLoss},
		{takeProfit, &p.TakeProfit},
	} {
		d, err := scanDecimal(field.raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal value %q for position %s: %w", field.raw, p.ID, err)
		}
		*field.dest = d
	}

	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	return p, nil
}

// scanHistory scans a row into a domain.PositionHistoryRecord struct.
func scanHistory(s scanner) (*domain.PositionHistoryRecord, error) {
	rec := &domain.PositionHistoryRecord{}
	var side, closeReason string
	var quantity, entryPrice, exitPrice, realizedPnL string
	var durationNs int64

	err := s.Scan(
		&rec.ID, &rec.PositionID, &rec.TraderID, &rec.Symbol, &side, &quantity, &rec.Leverage,
		&entryPrice, &exitPrice, &realizedPnL, &rec.OpenedAt, &rec.ClosedAt, &durationNs, &closeReason)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{quantity, &rec.Quantity},
		{entryPrice, &rec.EntryPrice},
		{exitPrice, &rec.ExitPrice},
		{realizedPnL, &rec.RealizedPnL},
	} {
		d, err := scanDecimal(field.raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal value %q for history record %s: %w", field.raw, rec.ID, err)
		}
		*field.dest = d
	}

	rec.Side = domain.Side(side)
	rec.Duration = time.Duration(durationNs)
	rec.CloseReason = domain.CloseReason(closeReason)
	return rec, nil
}
