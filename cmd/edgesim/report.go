package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/quantfarm/edgesim/config"
	"github.com/quantfarm/edgesim/internal/adapters/notify"
	"github.com/quantfarm/edgesim/internal/adapters/storage"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/ports"
)

// runReport prints the closed-positions report from historical storage.
func runReport(ctx context.Context, cfg *config.Config, compact bool) {
	history, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open position storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer history.Close()

	positions, err := history.GetClosedPositions(ctx, time.Time{}, time.Now().UTC())
	if err != nil {
		slog.Error("failed to load closed positions", "err", err)
		os.Exit(1)
	}
	stats, err := history.GetClosedStats(ctx)
	if err != nil {
		slog.Error("failed to load stats", "err", err)
		os.Exit(1)
	}

	var reporter ports.Reporter = notify.NewConsole(compact)
	if err := reporter.Report(ctx, positions, stats); err != nil {
		slog.Error("report failed", "err", err)
		os.Exit(1)
	}
}

// runReplayCheck folds the whole journal and verifies it against the
// capital snapshot checkpoint.
func runReplayCheck(ctx context.Context, cfg *config.Config) {
	jrnl, err := journal.Open(cfg.Storage.JournalDSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.JournalDSN)
		os.Exit(1)
	}
	defer jrnl.Close()

	fold, err := jrnl.Fold(ctx)
	if err != nil {
		slog.Error("journal replay failed", "err", err)
		os.Exit(1)
	}

	snap, ok, err := journal.ReadSnapshot(cfg.Storage.SnapshotPath)
	if err != nil {
		slog.Error("failed to read capital snapshot", "err", err)
		os.Exit(1)
	}

	slog.Info("journal replay",
		"last_seq", fold.LastSeq,
		"total", fold.Total.String(),
		"available", fold.Available.String(),
		"allocated", fold.Allocated.String(),
		"open_positions", len(fold.Open),
		"reserves", fold.Reserves,
		"releases", fold.Releases,
	)

	if !ok {
		slog.Warn("no capital snapshot found — nothing to compare against")
		return
	}
	if snap.LastSeq != fold.LastSeq {
		slog.Warn("snapshot lags the journal (expected after a crash)",
			"snapshot_seq", snap.LastSeq, "journal_seq", fold.LastSeq)
		return
	}
	if !snap.Total.Equal(fold.Total) || !snap.Available.Equal(fold.Available) || !snap.Allocated.Equal(fold.Allocated) {
		slog.Error("snapshot diverges from journal replay — ledger corruption",
			"snapshot_total", snap.Total.String(), "replay_total", fold.Total.String())
		os.Exit(1)
	}
	slog.Info("snapshot matches journal replay exactly")
}
