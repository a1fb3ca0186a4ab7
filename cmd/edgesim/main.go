package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/config"
	"github.com/quantfarm/edgesim/internal/adapters/feed"
	"github.com/quantfarm/edgesim/internal/adapters/storage"
	"github.com/quantfarm/edgesim/internal/application/engine"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/position"
	"github.com/quantfarm/edgesim/internal/risk"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	signalsPath := flag.String("signals", "-", "JSONL signal feed path, - for stdin")
	report := flag.Bool("report", false, "print the closed-positions report and exit")
	compact := flag.Bool("compact", false, "compact one-line report")
	replayCheck := flag.Bool("replay-check", false, "verify journal replay against the capital snapshot and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, cfg, *compact)
		return
	}
	if *replayCheck {
		runReplayCheck(ctx, cfg)
		return
	}

	slog.Info("edgesim starting",
		"config", *configPath,
		"signals", *signalsPath,
		"workers", cfg.Engine.Workers,
		"evaluate_interval", cfg.EvaluateInterval(),
		"initial_capital", cfg.Engine.InitialCapital,
	)

	history, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open position storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer history.Close()

	jrnl, err := journal.Open(cfg.Storage.JournalDSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.JournalDSN)
		os.Exit(1)
	}
	defer jrnl.Close()

	store := position.NewStore(history)

	sup := risk.NewSupervisor(risk.Config{
		StopLossPct:   cfg.Risk.StopLossPct,
		TakeProfitPct: cfg.Risk.TakeProfitPct,
		Drawdown: risk.DrawdownConfig{
			Threshold:         cfg.Risk.DrawdownThreshold,
			RecoveryThreshold: cfg.Risk.DrawdownRecovery,
			Cooldown:          cfg.DrawdownCooldown(),
		},
		Averaging: risk.AveragingConfig{
			TriggerPct:        cfg.Risk.AveragingTriggerPct,
			MaxAdditions:      cfg.Risk.MaxAveragingAdditions,
			MaxMarketExposure: cfg.Risk.MaxMarketExposure,
		},
		EdgeReversalConfirmations: cfg.Risk.EdgeReversalConfirmations,
	})

	led, fold, err := engine.Recover(ctx, jrnl, store, sup,
		cfg.Storage.SnapshotPath, decimal.NewFromFloat(cfg.Engine.InitialCapital))
	if err != nil {
		slog.Error("crash recovery failed", "err", err)
		os.Exit(1)
	}

	eng := engine.New(cfg, led, store, jrnl, sup)
	eng.RebindTokens(fold.Open)

	source := feed.NewJSONL(*signalsPath)
	if err := eng.Run(ctx, source); err != nil && ctx.Err() == nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("edgesim stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
