// Package engine orchestrates the paper-trading pipeline: signal intake,
// sizing, capital reservation, position lifecycle and closure with exact
// capital release.
//
// Concurrency model: operations touching one market are serialized through
// a per-market mutex; operations on distinct markets interleave freely. The
// per-market lock is always acquired before the ledger lock, never the
// reverse. Journal writes are durable before the per-market lock is
// dropped, so a crash can always be replayed to a consistent state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfarm/edgesim/config"
	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/ledger"
	"github.com/quantfarm/edgesim/internal/position"
	"github.com/quantfarm/edgesim/internal/risk"
)

// reconcileEverySweeps controls how often the live ledger total is checked
// against a full journal replay.
const reconcileEverySweeps = 10

// Engine runs the simulation. It is the only component allowed to call
// ledger.Reserve/Release.
type Engine struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	store   *position.Store
	journal *journal.Journal
	sup     *risk.Supervisor
	limiter *rate.Limiter
	now     func() time.Time

	snapshotPath string

	// Per-market exclusive sections. marketMu only guards the map itself.
	marketMu sync.Mutex
	markets  map[string]*sync.Mutex

	// Latest valid signal per market, used as the live quote during
	// re-evaluation. Updated even for deduplicated signals.
	quotesMu sync.RWMutex
	quotes   map[string]domain.Signal

	// Outstanding reservation tokens, keyed by position id.
	tokensMu sync.Mutex
	tokens   map[string]ledger.Token

	// fatal blocks all new Opening transitions once a ledger or journal
	// invariant breaks. Closes keep working so open positions can unwind.
	fatal       atomic.Bool
	fatalReason atomic.Value // string

	sweeps atomic.Int64
}

// New wires an engine from explicitly owned components. Nothing here is
// ambient global state; tests construct isolated instances per scenario.
func New(
	cfg *config.Config,
	led *ledger.Ledger,
	store *position.Store,
	jrnl *journal.Journal,
	sup *risk.Supervisor,
) *Engine {
	return &Engine{
		cfg:          cfg,
		ledger:       led,
		store:        store,
		journal:      jrnl,
		sup:          sup,
		limiter:      rate.NewLimiter(rate.Limit(cfg.Engine.IntakePerSecond), cfg.Engine.IntakeBurst),
		now:          time.Now,
		snapshotPath: cfg.Storage.SnapshotPath,
		markets:      make(map[string]*sync.Mutex),
		quotes:       make(map[string]domain.Signal),
		tokens:       make(map[string]ledger.Token),
	}
}

// marketLock returns the mutex serializing all lifecycle operations for one
// market id.
func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.marketMu.Lock()
	defer e.marketMu.Unlock()
	mu, ok := e.markets[marketID]
	if !ok {
		mu = &sync.Mutex{}
		e.markets[marketID] = mu
	}
	return mu
}

// rememberQuote stores the latest valid signal for a market.
func (e *Engine) rememberQuote(sig domain.Signal) {
	e.quotesMu.Lock()
	defer e.quotesMu.Unlock()
	e.quotes[sig.MarketID] = sig
}

// latestQuote returns the most recent signal seen for a market.
func (e *Engine) latestQuote(marketID string) (domain.Signal, bool) {
	e.quotesMu.RLock()
	defer e.quotesMu.RUnlock()
	sig, ok := e.quotes[marketID]
	return sig, ok
}

func (e *Engine) bindToken(positionID string, tok ledger.Token) {
	e.tokensMu.Lock()
	defer e.tokensMu.Unlock()
	e.tokens[positionID] = tok
}

func (e *Engine) takeToken(positionID string) (ledger.Token, bool) {
	e.tokensMu.Lock()
	defer e.tokensMu.Unlock()
	tok, ok := e.tokens[positionID]
	delete(e.tokens, positionID)
	return tok, ok
}

// escalate freezes new intake after a fatal accounting failure. Open
// positions stay visible and can still close; only Opening is blocked until
// operator intervention.
func (e *Engine) escalate(err error) {
	if e.fatal.CompareAndSwap(false, true) {
		e.fatalReason.Store(err.Error())
		slog.Error("engine: FATAL — halting new trade intake", "err", err)
	}
}

// Halted reports whether new entries are blocked, either by a fatal
// accounting failure or by the drawdown breaker.
func (e *Engine) Halted() bool {
	return e.fatal.Load() || !e.sup.AllowEntry()
}

// writeSnapshot rewrites the fast-recovery capital checkpoint after a
// committed ledger mutation. Snapshot failure is not fatal: the journal
// remains the ground truth and the next mutation retries.
func (e *Engine) writeSnapshot(ctx context.Context, seq int64) {
	snap := e.ledger.Snapshot()
	err := journal.WriteSnapshot(e.snapshotPath, journal.CapitalSnapshot{
		Total:     snap.Total,
		Available: snap.Available,
		Allocated: snap.Allocated,
		LastSeq:   seq,
	})
	if err != nil {
		slog.Warn("engine: error writing capital snapshot", "err", err)
	}
}

// observeDrawdown feeds the breaker and journals halt/resume flips.
func (e *Engine) observeDrawdown(ctx context.Context) {
	snap := e.ledger.Snapshot()
	halted, changed := e.sup.Drawdown.Observe(snap.Total)
	if !changed {
		return
	}

	kind := journal.KindResume
	msg := "engine: drawdown recovered, resuming entries"
	if halted {
		kind = journal.KindHalt
		msg = "engine: drawdown breaker tripped, blocking new entries"
	}
	slog.Warn(msg,
		"total", snap.Total.String(),
		"drawdown", fmt.Sprintf("%.1f%%", e.sup.Drawdown.Drawdown(snap.Total)*100),
	)

	if _, err := e.journal.Append(ctx, journal.Record{
		Kind:   kind,
		Reason: e.sup.Drawdown.State().Reason,
	}); err != nil {
		e.escalate(err)
	}
}
