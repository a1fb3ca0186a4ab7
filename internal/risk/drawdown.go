package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DrawdownConfig controls the drawdown circuit breaker.
//
// Recovery uses hysteresis: once tripped, the breaker re-opens either when
// drawdown falls below RecoveryThreshold (when > 0) or when Cooldown has
// elapsed (when > 0) — whichever the configuration enables. Setting both
// re-opens on the first of the two. The gap between Threshold and
// RecoveryThreshold prevents oscillation at the boundary.
type DrawdownConfig struct {
	Threshold         float64       // trip when (peak-total)/peak exceeds this
	RecoveryThreshold float64       // re-open below this drawdown; 0 = disabled
	Cooldown          time.Duration // re-open after this interval; 0 = disabled
}

// DrawdownState is the persistable breaker state, journaled on every
// halt/resume so restarts keep the same protection posture.
type DrawdownState struct {
	Peak      decimal.Decimal `json:"peak"`
	Halted    bool            `json:"halted"`
	TrippedAt time.Time       `json:"tripped_at"`
	Reason    string          `json:"reason"`
}

// DrawdownProtector tracks a rolling capital peak and blocks new entries
// while drawdown exceeds the configured threshold.
type DrawdownProtector struct {
	mu    sync.Mutex
	cfg   DrawdownConfig
	state DrawdownState
	now   func() time.Time
}

// NewDrawdownProtector creates a protector with the given config.
func NewDrawdownProtector(cfg DrawdownConfig) *DrawdownProtector {
	return &DrawdownProtector{cfg: cfg, now: time.Now}
}

// Restore loads previously journaled breaker state.
func (d *DrawdownProtector) Restore(state DrawdownState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

// Observe feeds the latest total capital into the breaker and returns
// (halted, changed). changed is true when this observation flipped the
// halted flag, so callers can journal the transition.
func (d *DrawdownProtector) Observe(total decimal.Decimal) (halted, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if total.GreaterThan(d.state.Peak) {
		d.state.Peak = total
	}

	dd := d.drawdownLocked(total)

	if !d.state.Halted {
		if d.cfg.Threshold > 0 && dd > d.cfg.Threshold {
			d.state.Halted = true
			d.state.TrippedAt = d.now()
			d.state.Reason = "drawdown threshold exceeded"
			return true, true
		}
		return false, false
	}

	if d.recoveredLocked(dd) {
		d.state.Halted = false
		d.state.Reason = ""
		return false, true
	}
	return true, false
}

// Halted reports whether new entries are currently blocked.
func (d *DrawdownProtector) Halted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Halted
}

// State returns a copy of the current breaker state for persistence.
func (d *DrawdownProtector) State() DrawdownState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Drawdown returns the current relative decline from the rolling peak.
func (d *DrawdownProtector) Drawdown(total decimal.Decimal) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drawdownLocked(total)
}

func (d *DrawdownProtector) drawdownLocked(total decimal.Decimal) float64 {
	if d.state.Peak.Sign() <= 0 {
		return 0
	}
	dd, _ := d.state.Peak.Sub(total).Div(d.state.Peak).Float64()
	return dd
}

func (d *DrawdownProtector) recoveredLocked(dd float64) bool {
	if d.cfg.RecoveryThreshold > 0 && dd < d.cfg.RecoveryThreshold {
		return true
	}
	if d.cfg.Cooldown > 0 && d.now().Sub(d.state.TrippedAt) >= d.cfg.Cooldown {
		return true
	}
	return false
}
