// Package feed adapts external signal producers to ports.SignalSource.
// The forecasting pipeline is an external collaborator; this adapter only
// decodes what it emits.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/quantfarm/edgesim/internal/domain"
)

// signalRecord is the wire shape of one signal line.
type signalRecord struct {
	MarketID     string    `json:"market_id"`
	Side         string    `json:"side"`
	Probability  float64   `json:"probability"`
	Odds         float64   `json:"odds"`
	Edge         float64   `json:"edge"`
	Confidence   string    `json:"confidence"`
	Liquidity    float64   `json:"liquidity"`
	IssuedAt     time.Time `json:"issued_at"`
	ResolutionAt time.Time `json:"resolution_at"`
}

// JSONL reads newline-delimited JSON signals from a file or stdin.
type JSONL struct {
	path string
}

// NewJSONL creates a source reading from the given path; "-" means stdin.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

// Signals starts decoding and returns the signal channel. Undecodable lines
// are logged and skipped; validation happens downstream in the engine so
// the journal of rejections stays in one place.
func (f *JSONL) Signals(ctx context.Context) (<-chan domain.Signal, error) {
	var r io.ReadCloser
	if f.path == "-" {
		r = os.Stdin
	} else {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("feed.Signals: open %q: %w", f.path, err)
		}
		r = file
	}

	out := make(chan domain.Signal)
	go func() {
		defer close(out)
		defer r.Close()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var rec signalRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				slog.Warn("feed: skipping undecodable signal line", "line", line, "err", err)
				continue
			}

			sig := domain.Signal{
				MarketID:     rec.MarketID,
				Side:         domain.Side(rec.Side),
				Probability:  rec.Probability,
				Odds:         rec.Odds,
				Edge:         rec.Edge,
				Confidence:   domain.Confidence(rec.Confidence),
				Liquidity:    rec.Liquidity,
				IssuedAt:     rec.IssuedAt,
				ResolutionAt: rec.ResolutionAt,
			}

			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("feed: signal stream ended with error", "err", err)
		}
	}()

	return out, nil
}
