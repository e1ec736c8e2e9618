// Package seenstore implements the append-only binary log of
// content-address hashes used to deduplicate articles across runs.
//
// The on-disk format is a flat sequence of 12-byte records: a
// little-endian uint32 truncated Unix timestamp followed by a
// little-endian uint64 hash. The file is never sorted; ordering is
// insertion order. Corruption (any size not a multiple of 12) causes the
// store to self-heal by deleting the file and starting empty.
package seenstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"
)

const recordSize = 12

// Store manages one seen-hashes file.
type Store struct {
	path   string
	logger *slog.Logger
}

// New returns a Store backed by the given file path. logger defaults to
// slog.Default() if nil.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// record is one (timestamp, hash) pair as read from disk.
type record struct {
	timestamp uint32
	hash      uint64
}

// Load returns the set of hashes currently recorded. A missing file or a
// zero-length file yields an empty set silently. A file whose size is not
// a multiple of 12 is treated as corrupt: it is deleted and an empty set
// is returned.
func (s *Store) Load() (map[uint64]struct{}, error) {
	records, err := s.readRecords()
	if err != nil {
		return nil, err
	}
	set := make(map[uint64]struct{}, len(records))
	for _, r := range records {
		set[r.hash] = struct{}{}
	}
	return set, nil
}

// readRecords reads every record in the file, self-healing on corruption.
// It returns (nil, nil) if the file does not exist.
func (s *Store) readRecords() ([]record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("seenstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%recordSize != 0 {
		s.logger.Warn("seen-hashes file corrupt, deleting", "path", s.path, "size", len(data))
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("seenstore: remove corrupt file %s: %w", s.path, rmErr)
		}
		return nil, nil
	}

	n := len(data) / recordSize
	records := make([]record, n)
	for i := 0; i < n; i++ {
		off := i * recordSize
		records[i] = record{
			timestamp: binary.LittleEndian.Uint32(data[off : off+4]),
			hash:      binary.LittleEndian.Uint64(data[off+4 : off+12]),
		}
	}
	return records, nil
}

// Append writes one record per hash in newHashes, stamped with now.
// Failures here are meant to be non-fatal to the caller's overall read:
// a skipped append only risks a duplicate appearing in a future run.
func (s *Store) Append(newHashes []uint64, now time.Time) error {
	if len(newHashes) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("seenstore: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seenstore: seek %s: %w", s.path, err)
	}

	ts := saturatingUnixU32(now)
	buf := make([]byte, recordSize*len(newHashes))
	for i, h := range newHashes {
		off := i * recordSize
		binary.LittleEndian.PutUint32(buf[off:off+4], ts)
		binary.LittleEndian.PutUint64(buf[off+4:off+12], h)
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("seenstore: write %s: %w", s.path, err)
	}
	return nil
}

// Prune rewrites the file keeping only records with timestamp >=
// now - retentionDays*86400. If retention exceeds now (nothing would be
// dropped) or nothing was actually pruned, the file is left untouched.
func (s *Store) Prune(retentionDays uint, now time.Time) error {
	records, err := s.readRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	cutoff := cutoffU32(retentionDays, now)
	kept := records[:0:0]
	for _, r := range records {
		if r.timestamp >= cutoff {
			kept = append(kept, r)
		}
	}

	if len(kept) == len(records) {
		return nil
	}

	buf := make([]byte, 0, recordSize*len(kept))
	tmp := make([]byte, recordSize)
	for _, r := range kept {
		binary.LittleEndian.PutUint32(tmp[0:4], r.timestamp)
		binary.LittleEndian.PutUint64(tmp[4:12], r.hash)
		buf = append(buf, tmp...)
	}

	if err := os.WriteFile(s.path, buf, 0o644); err != nil {
		return fmt.Errorf("seenstore: rewrite %s: %w", s.path, err)
	}
	s.logger.Debug("seen-hashes pruned", "path", s.path, "kept", len(kept), "dropped", len(records)-len(kept))
	return nil
}

// cutoffU32 computes now - retentionDays*86400 as a saturating uint32,
// matching the truncated-timestamp domain the records live in. If the
// horizon would be negative (retention exceeds now), it returns 0 so
// every record (whose timestamp is >= 0) is kept.
func cutoffU32(retentionDays uint, now time.Time) uint32 {
	horizon := int64(retentionDays) * 86400
	cutoff := now.Unix() - horizon
	if cutoff < 0 {
		return 0
	}
	if cutoff > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(cutoff)
}

func saturatingUnixU32(t time.Time) uint32 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	if sec > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(sec)
}
