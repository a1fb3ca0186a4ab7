package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// CapitalSnapshot is the fast-recovery checkpoint written after every
// committed ledger mutation. Startup reads it ahead of the full replay and
// the replay result must agree with it.
type CapitalSnapshot struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Allocated decimal.Decimal `json:"allocated"`
	LastSeq   int64           `json:"last_seq"`
	WrittenAt time.Time       `json:"written_at"`
}

// WriteSnapshot atomically rewrites the snapshot file using
// write-temp-then-rename semantics, so readers never observe a torn file.
func WriteSnapshot(path string, snap CapitalSnapshot) error {
	snap.WrittenAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("journal.WriteSnapshot: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".capital-*.tmp")
	if err != nil {
		return fmt.Errorf("journal.WriteSnapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal.WriteSnapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal.WriteSnapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.WriteSnapshot: close: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal.WriteSnapshot: rename: %w", err)
	}
	return nil
}

// ReadSnapshot loads the checkpoint. A missing file is not an error: it
// returns (zero, false, nil) and the caller falls back to full replay.
func ReadSnapshot(path string) (CapitalSnapshot, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return CapitalSnapshot{}, false, nil
	}
	if err != nil {
		return CapitalSnapshot{}, false, fmt.Errorf("journal.ReadSnapshot: read %q: %w", path, err)
	}

	var snap CapitalSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return CapitalSnapshot{}, false, fmt.Errorf("journal.ReadSnapshot: parse %q: %w", path, err)
	}
	return snap, true, nil
}
