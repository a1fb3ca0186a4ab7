package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/ports"
)

// Run consumes signals from the source with a pool of workers and runs the
// periodic re-evaluation sweep until the context ends or the source is
// exhausted. Signals for distinct markets are processed in parallel; the
// per-market locks inside Submit provide the ordering guarantee.
func (e *Engine) Run(ctx context.Context, source ports.SignalSource) error {
	signals, err := source.Signals(ctx)
	if err != nil {
		return fmt.Errorf("engine.Run: open signal source: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Engine.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sig := range signals {
				if err := e.limiter.Wait(ctx); err != nil {
					return
				}
				e.handleSignal(ctx, sig)
			}
		}()
	}

	sweepDone := make(chan struct{})
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	go func() {
		defer close(sweepDone)
		e.evaluateLoop(sweepCtx)
	}()

	wg.Wait()

	// Source exhausted: run one final sweep so expiries land, then stop.
	if _, err := e.EvaluateOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("engine: final sweep error", "err", err)
	}
	cancelSweep()
	<-sweepDone

	return ctx.Err()
}

// handleSignal runs Submit and logs the outcome at a severity matching the
// error kind. Recoverable rejections are part of normal operation.
func (e *Engine) handleSignal(ctx context.Context, sig domain.Signal) {
	err := e.Submit(ctx, sig)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoEdge),
		errors.Is(err, domain.ErrDuplicatePosition):
		slog.Debug("engine: signal declined", "market", sig.MarketID, "err", err)
	case errors.Is(err, domain.ErrInvalidSignal),
		errors.Is(err, domain.ErrInsufficientCapital),
		errors.Is(err, domain.ErrTradingHalted):
		slog.Warn("engine: signal rejected", "market", sig.MarketID, "err", err)
	default:
		slog.Error("engine: signal failed", "market", sig.MarketID, "err", err)
	}
}

// evaluateLoop ticks the sweep at the configured interval.
func (e *Engine) evaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvaluateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := e.EvaluateOnce(ctx)
			if err != nil {
				slog.Warn("engine: sweep error", "err", err)
				continue
			}
			if result.Closed > 0 || result.Halted {
				slog.Info("engine: sweep",
					"evaluated", result.Evaluated,
					"closed", result.Closed,
					"stop_losses", result.StopLosses,
					"take_profits", result.TakeProfits,
					"expired", result.Expired,
					"reversals", result.Reversals,
					"net_pnl", fmt.Sprintf("$%s", result.NetPnL),
					"halted", result.Halted,
				)
			}
		}
	}
}
