package groupstate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hysreader/hys/feed"
)

// Snapshot is the JSON shape persisted to history/<group>_<date>.json.
type Snapshot struct {
	Timestamp int64       `json:"timestamp"`
	Items     []feed.Item `json:"items"`
}

// LoadSnapshot reads a group's snapshot for one logical date. A missing
// file is treated as "first run": an empty snapshot, no error.
func LoadSnapshot(historyDir, group, date string) (*Snapshot, error) {
	path := SnapshotPath(historyDir, group, date)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("groupstate: read %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("groupstate: parse %s: %w", path, err)
	}
	return &snap, nil
}

// SaveSnapshot writes a group's snapshot for one logical date, creating
// the history directory if needed.
func SaveSnapshot(historyDir, group, date string, snap *Snapshot) error {
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return fmt.Errorf("groupstate: mkdir %s: %w", historyDir, err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("groupstate: encode snapshot: %w", err)
	}
	path := SnapshotPath(historyDir, group, date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("groupstate: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("groupstate: rename %s: %w", tmp, err)
	}
	return nil
}

// SnapshotExists reports whether a group already has a snapshot for date,
// used to decide whether an empty-items day still needs a "read happened"
// marker written.
func SnapshotExists(historyDir, group, date string) bool {
	_, err := os.Stat(SnapshotPath(historyDir, group, date))
	return err == nil
}
