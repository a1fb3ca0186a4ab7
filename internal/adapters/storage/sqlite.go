package storage

// sqlite.go — durable history of closed positions plus the read-only
// reporting queries (win rate, profit factor) consumed by external
// analytics collaborators. The engine only ever inserts here; aggregates
// are computed in SQL, never in the engine.

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_positions (
    id            TEXT PRIMARY KEY,
    market_id     TEXT     NOT NULL,
    side          TEXT     NOT NULL,
    entry_price   REAL     NOT NULL,
    stake         TEXT     NOT NULL,
    realized_pnl  TEXT     NOT NULL,
    close_reason  TEXT     NOT NULL,
    additions     INTEGER  NOT NULL DEFAULT 0,
    entry_edge    REAL     NOT NULL DEFAULT 0,
    last_edge     REAL     NOT NULL DEFAULT 0,
    opened_at     INTEGER  NOT NULL, -- unix seconds, keeps SQL date math driver-independent
    closed_at     INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_market ON closed_positions(market_id);
CREATE INDEX IF NOT EXISTS idx_closed_at     ON closed_positions(closed_at DESC);
`

// SQLiteStorage implements ports.PositionStorage using SQLite (pure Go).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at the given DSN and
// applies the schema.
func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveClosedPosition inserts a terminal position. Closed positions are
// immutable, so there is no upsert path.
func (s *SQLiteStorage) SaveClosedPosition(ctx context.Context, pos domain.Position) error {
	if pos.Status != domain.StatusClosed {
		return fmt.Errorf("storage.SaveClosedPosition: position %s is %s, not CLOSED", pos.ID, pos.Status)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_positions
			(id, market_id, side, entry_price, stake, realized_pnl,
			 close_reason, additions, entry_edge, last_edge, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.MarketID, string(pos.Side), pos.EntryPrice,
		pos.Stake.String(), pos.RealizedPnL.String(),
		pos.CloseReason, pos.Additions, pos.EntryEdge, pos.LastEdge,
		pos.OpenedAt.UTC().Unix(), pos.ClosedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveClosedPosition: insert %s: %w", pos.ID, err)
	}
	return nil
}

// GetClosedPositions returns positions closed within [from, to], newest
// first.
func (s *SQLiteStorage) GetClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, side, entry_price, stake, realized_pnl,
		       close_reason, additions, entry_edge, last_edge, opened_at, closed_at
		FROM closed_positions
		WHERE closed_at BETWEEN ? AND ?
		ORDER BY closed_at DESC`,
		from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("storage.GetClosedPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			pos                domain.Position
			side, reason       string
			stake, pnl         string
			openedAt, closedAt int64
		)
		if err := rows.Scan(
			&pos.ID, &pos.MarketID, &side, &pos.EntryPrice, &stake, &pnl,
			&reason, &pos.Additions, &pos.EntryEdge, &pos.LastEdge,
			&openedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.GetClosedPositions: scan row: %w", err)
		}

		pos.Side = domain.Side(side)
		pos.Status = domain.StatusClosed
		pos.CloseReason = reason
		pos.OpenedAt = time.Unix(openedAt, 0).UTC()
		pos.ClosedAt = time.Unix(closedAt, 0).UTC()
		if pos.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, fmt.Errorf("storage.GetClosedPositions: bad stake %q: %w", stake, err)
		}
		if pos.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("storage.GetClosedPositions: bad pnl %q: %w", pnl, err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// GetClosedStats computes the aggregate reporting surface: counts, win
// rate, gross profit/loss, profit factor and average holding time.
func (s *SQLiteStorage) GetClosedStats(ctx context.Context) (domain.ClosedStats, error) {
	var stats domain.ClosedStats
	var grossProfit, grossLoss, netPnL sql.NullFloat64
	var avgHours sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN CAST(realized_pnl AS REAL) >  0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN CAST(realized_pnl AS REAL) <= 0 THEN 1 ELSE 0 END), 0),
		       SUM(CASE WHEN CAST(realized_pnl AS REAL) > 0 THEN CAST(realized_pnl AS REAL) ELSE 0 END),
		       SUM(CASE WHEN CAST(realized_pnl AS REAL) < 0 THEN -CAST(realized_pnl AS REAL) ELSE 0 END),
		       SUM(CAST(realized_pnl AS REAL)),
		       AVG((closed_at - opened_at) / 3600.0)
		FROM closed_positions`).Scan(
		&stats.Positions, &stats.Wins, &stats.Losses,
		&grossProfit, &grossLoss, &netPnL, &avgHours,
	)
	if err != nil {
		return domain.ClosedStats{}, fmt.Errorf("storage.GetClosedStats: query: %w", err)
	}

	stats.GrossProfit = decimal.NewFromFloat(grossProfit.Float64).Round(2)
	stats.GrossLoss = decimal.NewFromFloat(grossLoss.Float64).Round(2)
	stats.NetPnL = decimal.NewFromFloat(netPnL.Float64).Round(2)
	stats.AvgHoursHeld = avgHours.Float64

	if stats.Positions > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Positions)
	}
	switch {
	case grossLoss.Float64 > 0:
		stats.ProfitFactor = grossProfit.Float64 / grossLoss.Float64
	case grossProfit.Float64 > 0:
		stats.ProfitFactor = math.Inf(1)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
