package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Contract prices live strictly inside (0,1); fills are clamped away from
// the bounds so PnL math never divides by zero.
const (
	minFillPrice = 0.01
	maxFillPrice = 0.99
)

// SlippageConfig controls the simulated market-impact model.
type SlippageConfig struct {
	Impact       float64 // price impact per unit of stake/liquidity ratio
	MinLiquidity float64 // floor applied to the liquidity proxy
}

// FillPrice maps a requested stake and a liquidity proxy to a simulated fill
// price around the quoted contract price. Impact grows with the stake
// relative to liquidity: buys fill above the quote, sells below. The same
// model is applied to opens, averaging-down additions and closes so PnL is
// internally consistent.
func FillPrice(buy bool, quote float64, stake decimal.Decimal, liquidity float64, cfg SlippageConfig) float64 {
	liq := math.Max(liquidity, cfg.MinLiquidity)
	if liq <= 0 {
		liq = 1 // last-resort floor when config is zeroed out
	}

	stakeF, _ := stake.Float64()
	impact := cfg.Impact * stakeF / liq

	price := quote * (1 + impact)
	if !buy {
		price = quote * (1 - impact)
	}
	return clampPrice(price)
}

func clampPrice(p float64) float64 {
	if p < minFillPrice {
		return minFillPrice
	}
	if p > maxFillPrice {
		return maxFillPrice
	}
	return p
}
