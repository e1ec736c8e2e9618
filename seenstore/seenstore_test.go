package seenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "seen_ids.bin")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(storePath(t), nil)
	set, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestAppendThenLoadRoundTrip(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)
	now := time.Now()

	hashes := []uint64{1, 2, 3, 42}
	require.NoError(t, s.Append(hashes, now))

	set, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, set, len(hashes))
	for _, h := range hashes {
		_, ok := set[h]
		assert.True(t, ok, "expected hash %d present", h)
	}
}

func TestAppendIsCumulative(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)
	now := time.Now()

	require.NoError(t, s.Append([]uint64{1, 2}, now))
	require.NoError(t, s.Append([]uint64{3}, now))

	set, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, set, 3)
}

func TestCorruptionHeals(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)
	require.NoError(t, s.Append([]uint64{7}, time.Now()))

	// Corrupt: append a single stray byte so the size is no longer a multiple of 12.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF})
	require.NoError(t, f.Close())
	require.NoError(t, err)

	set, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, set)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file should have been deleted")
}

func TestPruneBoundary(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)

	now := time.Now()
	retentionDays := uint(5)
	horizon := int64(retentionDays) * 86400

	keptTs := now.Add(-time.Duration(horizon) * time.Second)
	droppedTs := keptTs.Add(-time.Second)

	require.NoError(t, s.Append([]uint64{100}, keptTs))
	require.NoError(t, s.Append([]uint64{200}, droppedTs))

	require.NoError(t, s.Prune(retentionDays, now))

	set, err := s.Load()
	require.NoError(t, err)
	_, hasKept := set[100]
	_, hasDropped := set[200]
	assert.True(t, hasKept, "entry exactly at the retention boundary must survive")
	assert.False(t, hasDropped, "entry one second past the retention boundary must be dropped")
}

func TestPruneNoOpWhenNothingDropped(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)
	now := time.Now()
	require.NoError(t, s.Append([]uint64{1, 2}, now))

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Prune(365, now))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())
}

func TestPruneRetentionExceedingNowKeepsAll(t *testing.T) {
	path := storePath(t)
	s := New(path, nil)
	now := time.Now()
	require.NoError(t, s.Append([]uint64{1}, time.Unix(0, 0)))

	require.NoError(t, s.Prune(1000000, now))

	set, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, set, 1)
}
