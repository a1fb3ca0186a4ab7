package config

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Sizing   SizingConfig   `yaml:"sizing"`
	Risk     RiskConfig     `yaml:"risk"`
	Slippage SlippageConfig `yaml:"slippage"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Bounds   BoundsConfig   `yaml:"bounds"`

	mu   sync.RWMutex
	path string
}

// EngineConfig controls the simulation loop.
type EngineConfig struct {
	InitialCapital      float64 `yaml:"initial_capital"`
	Workers             int     `yaml:"workers"`
	EvaluateSeconds     int     `yaml:"evaluate_seconds"`
	MaxMarkets          int     `yaml:"max_markets"`
	IntakePerSecond     float64 `yaml:"intake_per_second"`
	IntakeBurst         int     `yaml:"intake_burst"`
}

// SizingConfig holds the Kelly sizing knobs, all governance-bounded.
type SizingConfig struct {
	KellyFraction float64 `yaml:"kelly_fraction"`
	MaxExposure   float64 `yaml:"max_exposure"`
	MinEdge       float64 `yaml:"min_edge"`
}

// RiskConfig holds the supervisor thresholds.
type RiskConfig struct {
	StopLossPct               float64 `yaml:"stop_loss_pct"`
	TakeProfitPct             float64 `yaml:"take_profit_pct"`
	DrawdownThreshold         float64 `yaml:"drawdown_threshold"`
	DrawdownRecovery          float64 `yaml:"drawdown_recovery"`
	DrawdownCooldownMinutes   int     `yaml:"drawdown_cooldown_minutes"`
	EdgeReversalConfirmations int     `yaml:"edge_reversal_confirmations"`
	AveragingTriggerPct       float64 `yaml:"averaging_trigger_pct"`
	MaxAveragingAdditions     int     `yaml:"max_averaging_additions"`
	MaxMarketExposure         float64 `yaml:"max_market_exposure"`
}

// SlippageConfig controls the simulated fill model.
type SlippageConfig struct {
	Impact       float64 `yaml:"impact"`
	MinLiquidity float64 `yaml:"min_liquidity"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN          string `yaml:"dsn"`          // closed-position history, or ":memory:"
	JournalDSN   string `yaml:"journal_dsn"`  // append-only journal
	SnapshotPath string `yaml:"snapshot_path"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Bound is a governance-declared {min, max, step} range for one parameter.
// The engine never fails on an out-of-range value; it clamps.
type Bound struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// BoundsConfig maps parameter name → bound. Read at startup and on explicit
// reload only, never mid-transaction.
type BoundsConfig map[string]Bound

// Clamp snaps v into the declared range for name, quantized to the step
// grid. Unknown names pass through unchanged.
func (b BoundsConfig) Clamp(name string, v float64) float64 {
	bound, ok := b[name]
	if !ok {
		return v
	}
	if bound.Step > 0 {
		steps := math.Round((v - bound.Min) / bound.Step)
		v = bound.Min + steps*bound.Step
	}
	return math.Min(math.Max(v, bound.Min), bound.Max)
}

// Load reads the YAML config and the .env file if present. Environment
// variables override the YAML for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{path: path}
	if err := cfg.readFile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the config file in place. Callers snapshot derived values
// (SizingParams) per operation, so a reload never tears a running
// transaction.
func (c *Config) Reload() error {
	return c.readFile()
}

func (c *Config) readFile() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("config.Load: read %q: %w", c.path, err)
	}

	var next Config
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("config.Load: parse YAML: %w", err)
	}
	applyEnvOverrides(&next)
	setDefaults(&next)

	c.mu.Lock()
	c.Engine = next.Engine
	c.Sizing = next.Sizing
	c.Risk = next.Risk
	c.Slippage = next.Slippage
	c.Storage = next.Storage
	c.Log = next.Log
	c.Bounds = next.Bounds
	c.mu.Unlock()
	return nil
}

// SizingSnapshot returns the current sizing knobs clamped into governance
// bounds, as one consistent value. The engine calls this once at the start
// of each Size/Evaluate operation.
func (c *Config) SizingSnapshot() SizingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SizingConfig{
		KellyFraction: c.Bounds.Clamp("kelly_fraction", c.Sizing.KellyFraction),
		MaxExposure:   c.Bounds.Clamp("max_exposure", c.Sizing.MaxExposure),
		MinEdge:       c.Bounds.Clamp("min_edge", c.Sizing.MinEdge),
	}
}

// EvaluateInterval returns the re-evaluation sweep period.
func (c *Config) EvaluateInterval() time.Duration {
	return time.Duration(c.Engine.EvaluateSeconds) * time.Second
}

// DrawdownCooldown returns the breaker cooldown as a duration.
func (c *Config) DrawdownCooldown() time.Duration {
	return time.Duration(c.Risk.DrawdownCooldownMinutes) * time.Minute
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("EDGESIM_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("EDGESIM_JOURNAL_DSN"); v != "" {
		cfg.Storage.JournalDSN = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Engine.InitialCapital <= 0 {
		cfg.Engine.InitialCapital = 1000
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.EvaluateSeconds <= 0 {
		cfg.Engine.EvaluateSeconds = 30
	}
	if cfg.Engine.MaxMarkets <= 0 {
		cfg.Engine.MaxMarkets = 10
	}
	if cfg.Engine.IntakePerSecond <= 0 {
		cfg.Engine.IntakePerSecond = 50
	}
	if cfg.Engine.IntakeBurst <= 0 {
		cfg.Engine.IntakeBurst = 10
	}
	if cfg.Sizing.KellyFraction <= 0 {
		cfg.Sizing.KellyFraction = 0.25
	}
	if cfg.Sizing.MaxExposure <= 0 {
		cfg.Sizing.MaxExposure = 0.10
	}
	if cfg.Sizing.MinEdge <= 0 {
		cfg.Sizing.MinEdge = 0.02
	}
	if cfg.Risk.StopLossPct <= 0 {
		cfg.Risk.StopLossPct = 0.20
	}
	if cfg.Risk.TakeProfitPct <= 0 {
		cfg.Risk.TakeProfitPct = 0.40
	}
	if cfg.Risk.DrawdownThreshold <= 0 {
		cfg.Risk.DrawdownThreshold = 0.15
	}
	if cfg.Risk.DrawdownRecovery <= 0 && cfg.Risk.DrawdownCooldownMinutes <= 0 {
		cfg.Risk.DrawdownRecovery = 0.10
	}
	if cfg.Risk.EdgeReversalConfirmations <= 0 {
		cfg.Risk.EdgeReversalConfirmations = 3
	}
	if cfg.Risk.AveragingTriggerPct <= 0 {
		cfg.Risk.AveragingTriggerPct = 0.10
	}
	if cfg.Risk.MaxAveragingAdditions < 0 {
		cfg.Risk.MaxAveragingAdditions = 0
	}
	if cfg.Risk.MaxMarketExposure <= 0 {
		cfg.Risk.MaxMarketExposure = 0.15
	}
	if cfg.Slippage.Impact <= 0 {
		cfg.Slippage.Impact = 0.05
	}
	if cfg.Slippage.MinLiquidity <= 0 {
		cfg.Slippage.MinLiquidity = 100
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "edgesim.db"
	}
	if cfg.Storage.JournalDSN == "" {
		cfg.Storage.JournalDSN = "edgesim-journal.db"
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = "capital.json"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
