package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/quantfarm/edgesim/internal/domain"
)

// Console implements ports.Reporter by printing a closed-positions table to
// stdout.
type Console struct {
	out     io.Writer
	compact bool
}

// NewConsole creates a reporter that writes to stdout.
func NewConsole(compact bool) *Console {
	return &Console{out: os.Stdout, compact: compact}
}

// NewConsoleWriter creates a reporter for tests.
func NewConsoleWriter(w io.Writer, compact bool) *Console {
	return &Console{out: w, compact: compact}
}

// Report prints the closed positions and their aggregates.
func (c *Console) Report(_ context.Context, positions []domain.Position, stats domain.ClosedStats) error {
	if len(positions) == 0 {
		fmt.Fprintf(c.out, "[%s] no closed positions\n", time.Now().Format("15:04:05"))
		return nil
	}

	if c.compact {
		c.printCompact(stats)
		return nil
	}

	c.printTable(positions)
	c.printSummary(stats)
	return nil
}

// printCompact prints the essentials on a single line.
func (c *Console) printCompact(stats domain.ClosedStats) {
	fmt.Fprintf(c.out, "[%s] closed:%d win:%.0f%% pf:%s net:$%s\n",
		time.Now().Format("15:04:05"),
		stats.Positions, stats.WinRate*100,
		profitFactorLabel(stats.ProfitFactor), stats.NetPnL)
}

// printTable prints one row per closed position, newest first.
func (c *Console) printTable(positions []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Side", "Entry", "Stake", "PnL", "Reason", "Adds", "Held")

	for i, pos := range positions {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(pos.MarketID, 24),
			string(pos.Side),
			fmt.Sprintf("%.4f", pos.EntryPrice),
			fmt.Sprintf("$%s", pos.Stake),
			fmt.Sprintf("$%s", pos.RealizedPnL),
			pos.CloseReason,
			fmt.Sprintf("%d", pos.Additions),
			fmt.Sprintf("%.1fh", pos.HoursHeld(pos.ClosedAt)),
		)
	}

	table.Render()
}

// printSummary prints the aggregates computed by the storage layer.
func (c *Console) printSummary(stats domain.ClosedStats) {
	fmt.Fprintf(c.out, "\n  %d closed | %d W / %d L (%.1f%%) | net $%s | PF %s | avg hold %.1fh\n",
		stats.Positions, stats.Wins, stats.Losses, stats.WinRate*100,
		stats.NetPnL, profitFactorLabel(stats.ProfitFactor), stats.AvgHoursHeld)
}

func profitFactorLabel(pf float64) string {
	if math.IsInf(pf, 1) {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
