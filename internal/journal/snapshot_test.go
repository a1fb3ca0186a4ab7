package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capital.json")

	want := CapitalSnapshot{
		Total:     decimal.RequireFromString("984.50"),
		Available: decimal.RequireFromString("884.50"),
		Allocated: decimal.NewFromInt(100),
		LastSeq:   42,
	}
	require.NoError(t, WriteSnapshot(path, want))

	got, ok, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, got.Total.Equal(want.Total))
	assert.True(t, got.Available.Equal(want.Available))
	assert.True(t, got.Allocated.Equal(want.Allocated))
	assert.Equal(t, int64(42), got.LastSeq)
	assert.False(t, got.WrittenAt.IsZero())
}

func TestReadSnapshot_MissingFileIsNotAnError(t *testing.T) {
	_, ok, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReadSnapshot_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capital.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := ReadSnapshot(path)
	assert.Error(t, err)
}

func TestWriteSnapshot_OverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capital.json")

	require.NoError(t, WriteSnapshot(path, CapitalSnapshot{Total: decimal.NewFromInt(1), LastSeq: 1}))
	require.NoError(t, WriteSnapshot(path, CapitalSnapshot{Total: decimal.NewFromInt(2), LastSeq: 2}))

	got, ok, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.LastSeq)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(2)))

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
