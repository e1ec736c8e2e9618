// Package groupstate implements the per-group logical-date arithmetic and
// the history directory's filename convention: <group>_<YYYY-MM-DD>.json,
// one snapshot per group per logical day.
package groupstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogicalDate returns the YYYY-MM-DD calendar date that t belongs to once
// dayStartHour is taken into account: local hours before dayStartHour
// count toward the previous logical day.
func LogicalDate(t time.Time, dayStartHour int) string {
	shifted := t.Add(-time.Duration(dayStartHour) * time.Hour)
	return shifted.Format("2006-01-02")
}

// daysFromCivil converts a proleptic-Gregorian calendar date into a day
// count with no dependency on month lengths, so subtracting two counts
// gives an exact elapsed-day figure without manual calendar math. This is
// Howard Hinnant's well-known civil_from_days/days_from_civil algorithm,
// in the same family as the classical Rata Die day count.
func daysFromCivil(y, m, d int) int64 {
	if m <= 2 {
		y--
	}
	era := y
	if era < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400
	var mp int
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return int64(era)*146097 + int64(doe) - 719468
}

// ParseLogicalDate parses a YYYY-MM-DD string into its day count.
func ParseLogicalDate(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("groupstate: invalid logical date %q: %w", s, err)
	}
	return daysFromCivil(t.Year(), int(t.Month()), t.Day()), nil
}

// DaysBetween returns later-minus-earlier as a whole number of days.
func DaysBetween(earlier, later string) (int64, error) {
	e, err := ParseLogicalDate(earlier)
	if err != nil {
		return 0, err
	}
	l, err := ParseLogicalDate(later)
	if err != nil {
		return 0, err
	}
	return l - e, nil
}

// SnapshotFilename builds the history filename for a group's snapshot on
// the given logical date.
func SnapshotFilename(group, date string) string {
	return group + "_" + date + ".json"
}

// ParseSnapshotFilename extracts the logical date from a history filename,
// requiring an exact length match and a digit immediately after the
// "<group>_" prefix, so "tech_news_2024-01-01.json" is never mistaken for
// a file belonging to group "tech".
func ParseSnapshotFilename(group, filename string) (date string, ok bool) {
	prefix := group + "_"
	if !strings.HasPrefix(filename, prefix) {
		return "", false
	}
	wantLen := len(prefix) + len("2024-01-01") + len(".json")
	if len(filename) != wantLen {
		return "", false
	}
	rest := filename[len(prefix):]
	if !strings.HasSuffix(rest, ".json") {
		return "", false
	}
	if rest[0] < '0' || rest[0] > '9' {
		return "", false
	}
	datePart := strings.TrimSuffix(rest, ".json")
	if _, err := time.Parse("2006-01-02", datePart); err != nil {
		return "", false
	}
	return datePart, true
}

// ListRuns returns every logical date for which group has a snapshot in
// historyDir, sorted descending (most recent first). A missing directory
// yields an empty, non-error result.
func ListRuns(historyDir, group string) ([]string, error) {
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("groupstate: read %s: %w", historyDir, err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if date, ok := ParseSnapshotFilename(group, e.Name()); ok {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// LatestRun returns the most recent logical date with a snapshot, which is
// lexicographically the greatest filename because dates are ISO-formatted.
func LatestRun(historyDir, group string) (date string, ok bool, err error) {
	dates, err := ListRuns(historyDir, group)
	if err != nil {
		return "", false, err
	}
	if len(dates) == 0 {
		return "", false, nil
	}
	return dates[0], true, nil
}

// RunAtOffset returns the logical date at the given offset in the
// descending-sorted run list: 0 is the most recent, -1 the one before
// that, and so on. ok is false when the offset is out of range.
func RunAtOffset(historyDir, group string, offset int) (date string, ok bool, err error) {
	dates, err := ListRuns(historyDir, group)
	if err != nil {
		return "", false, err
	}
	idx := offset
	if idx < 0 {
		idx = -idx
	}
	if idx >= len(dates) {
		return "", false, nil
	}
	return dates[idx], true, nil
}

// SnapshotPath builds the full path to a group's snapshot file for date.
func SnapshotPath(historyDir, group, date string) string {
	return filepath.Join(historyDir, SnapshotFilename(group, date))
}

// PruneHistory removes every snapshot for group older than retentionDays
// relative to todayLogical. Failures removing an individual file are
// collected but do not stop the sweep.
func PruneHistory(historyDir, group string, retentionDays uint, todayLogical string) error {
	dates, err := ListRuns(historyDir, group)
	if err != nil {
		return err
	}
	var firstErr error
	for _, d := range dates {
		age, err := DaysBetween(d, todayLogical)
		if err != nil {
			continue
		}
		if age > int64(retentionDays) {
			if rmErr := os.Remove(SnapshotPath(historyDir, group, d)); rmErr != nil && !os.IsNotExist(rmErr) && firstErr == nil {
				firstErr = rmErr
			}
		}
	}
	return firstErr
}
