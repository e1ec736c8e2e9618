package groupstate

import (
	"testing"

	"github.com/hysreader/hys/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSnapshotMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	snap, err := LoadSnapshot(dir, "tech", "2024-01-01")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
}

func TestSaveThenLoadSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := &Snapshot{
		Timestamp: 1700000000,
		Items: []feed.Item{
			{Title: "a", Link: "https://example.com/a", Timestamp: 1700000001},
		},
	}
	require.NoError(t, SaveSnapshot(dir, "tech", "2024-01-01", snap))

	loaded, err := LoadSnapshot(dir, "tech", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, snap.Timestamp, loaded.Timestamp)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "a", loaded.Items[0].Title)
}

func TestSnapshotExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, SnapshotExists(dir, "tech", "2024-01-01"))
	require.NoError(t, SaveSnapshot(dir, "tech", "2024-01-01", &Snapshot{}))
	assert.True(t, SnapshotExists(dir, "tech", "2024-01-01"))
}
