package risk

import "sync"

// EdgeReversalMonitor watches for the edge sign flipping against an open
// position. A single flipped tick is noise; only after the flip persists for
// the configured number of consecutive evaluations does the monitor
// recommend a manual close.
type EdgeReversalMonitor struct {
	mu            sync.Mutex
	confirmations int
	flips         map[string]int // market id → consecutive reversed ticks
}

// NewEdgeReversalMonitor creates a monitor requiring the given number of
// consecutive reversed evaluations before recommending closure.
func NewEdgeReversalMonitor(confirmations int) *EdgeReversalMonitor {
	if confirmations <= 0 {
		confirmations = 3
	}
	return &EdgeReversalMonitor{
		confirmations: confirmations,
		flips:         make(map[string]int),
	}
}

// Observe records one evaluation tick for a market. entryEdge is the edge at
// open, latestEdge the edge of the newest signal from the position's
// perspective. It returns true once the reversal has persisted long enough.
func (m *EdgeReversalMonitor) Observe(marketID string, entryEdge, latestEdge float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	reversed := entryEdge > 0 && latestEdge < 0 || entryEdge < 0 && latestEdge > 0
	if !reversed {
		delete(m.flips, marketID)
		return false
	}

	m.flips[marketID]++
	return m.flips[marketID] >= m.confirmations
}

// Forget clears tracking state for a market, called when its position closes.
func (m *EdgeReversalMonitor) Forget(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flips, marketID)
}
