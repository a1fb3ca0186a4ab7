// Package journal is the append-only durable record of every capital
// reservation, release and lifecycle transition. Replaying it from empty
// reconstructs the ledger and the set of open positions exactly; it is the
// ground truth the live ledger is reconciled against.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	_ "modernc.org/sqlite"
)

// Kind classifies a journal record.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindReserve    Kind = "reserve"
	KindRelease    Kind = "release"
	KindTransition Kind = "transition"
	KindHalt       Kind = "halt"
	KindResume     Kind = "resume"
)

// Record is one journal entry. Seq is assigned by the database and totally
// orders all records; ID is a ULID for external correlation.
type Record struct {
	Seq          int64
	ID           string
	Kind         Kind
	PositionID   string
	MarketID     string
	Side         domain.Side
	Amount       decimal.Decimal // reserved/released/deposited USDC
	PnL          decimal.Decimal // realized PnL, release records only
	Price        float64         // fill price, reserve records only
	EntryEdge    float64         // edge at open, reserve(open) records only
	Reason       string          // open | average_down | close reason | status label
	ResolutionAt time.Time
	RecordedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS journal (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT     NOT NULL,
    kind          TEXT     NOT NULL,
    position_id   TEXT     NOT NULL DEFAULT '',
    market_id     TEXT     NOT NULL DEFAULT '',
    side          TEXT     NOT NULL DEFAULT '',
    amount        TEXT     NOT NULL DEFAULT '0',
    pnl           TEXT     NOT NULL DEFAULT '0',
    price         REAL     NOT NULL DEFAULT 0,
    entry_edge    REAL     NOT NULL DEFAULT 0,
    reason        TEXT     NOT NULL DEFAULT '',
    resolution_at DATETIME,
    recorded_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_position ON journal(position_id);
CREATE INDEX IF NOT EXISTS idx_journal_kind     ON journal(kind);
`

const (
	appendRetries   = 3
	appendRetryWait = 100 * time.Millisecond
)

// Journal appends records to SQLite. Writes are synchronous: a record is
// durable before Append returns, which in turn happens before the caller
// drops its per-market lock.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at the given DSN and applies
// the schema.
func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal.Open: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append durably writes one record and returns its sequence number.
// Transient failures are retried with bounded backoff; persistent failure
// wraps ErrJournalWrite so the engine can escalate to halt.
func (j *Journal) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	var resolutionAt *time.Time
	if !rec.ResolutionAt.IsZero() {
		t := rec.ResolutionAt.UTC()
		resolutionAt = &t
	}

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("journal.Append: %w: %w", domain.ErrJournalWrite, ctx.Err())
			case <-time.After(appendRetryWait << attempt):
			}
		}

		res, err := j.db.ExecContext(ctx, `
			INSERT INTO journal
				(id, kind, position_id, market_id, side, amount, pnl,
				 price, entry_edge, reason, resolution_at, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(rec.Kind), rec.PositionID, rec.MarketID, string(rec.Side),
			rec.Amount.String(), rec.PnL.String(),
			rec.Price, rec.EntryEdge, rec.Reason, resolutionAt, rec.RecordedAt.UTC(),
		)
		if err != nil {
			lastErr = err
			continue
		}
		seq, err := res.LastInsertId()
		if err != nil {
			lastErr = err
			continue
		}
		return seq, nil
	}

	return 0, fmt.Errorf("journal.Append: %w after %d attempts: %w",
		domain.ErrJournalWrite, appendRetries, lastErr)
}

// Replay streams every record in sequence order through fn. Any error from
// fn aborts the replay.
func (j *Journal) Replay(ctx context.Context, fn func(Record) error) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, id, kind, position_id, market_id, side, amount, pnl,
		       price, entry_edge, reason, resolution_at, recorded_at
		FROM journal ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("journal.Replay: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec          Record
			kind, side   string
			amount, pnl  string
			resolutionAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.Seq, &rec.ID, &kind, &rec.PositionID, &rec.MarketID, &side,
			&amount, &pnl, &rec.Price, &rec.EntryEdge, &rec.Reason,
			&resolutionAt, &rec.RecordedAt,
		); err != nil {
			return fmt.Errorf("journal.Replay: scan row: %w", err)
		}

		rec.Kind = Kind(kind)
		rec.Side = domain.Side(side)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("journal.Replay: seq %d: bad amount %q: %w", rec.Seq, amount, err)
		}
		if rec.PnL, err = decimal.NewFromString(pnl); err != nil {
			return fmt.Errorf("journal.Replay: seq %d: bad pnl %q: %w", rec.Seq, pnl, err)
		}
		if resolutionAt.Valid {
			rec.ResolutionAt = resolutionAt.Time
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSeq returns the highest sequence number, 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM journal`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("journal.LastSeq: %w", err)
	}
	return seq.Int64, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
