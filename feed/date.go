package feed

import (
	"fmt"
	"strings"
	"time"
)

// namedZoneOffsets covers the US zone abbreviations RSS feeds still emit in
// RFC 822 dates. Go's time.Parse accepts any three-or-four letter token in
// an "MST" slot without checking it against a real zone database, so named
// zones have to be rewritten to a numeric offset before parsing or they
// silently parse as UTC.
var namedZoneOffsets = map[string]int{
	"UT": 0, "GMT": 0, "UTC": 0,
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var rfcLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

var offsetLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// ParseDate converts a pubDate/published/updated/dc:date value into a Unix
// timestamp. It never returns an error: any unrecognized format yields 0,
// which callers treat as "unknown, sort last".
func ParseDate(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	if rewritten, ok := rewriteNamedZone(s); ok {
		for _, layout := range offsetLayouts {
			if t, err := time.Parse(layout, rewritten); err == nil {
				return t.Unix()
			}
		}
	}
	for _, layout := range rfcLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// rewriteNamedZone replaces a trailing named timezone abbreviation with its
// numeric "+HHMM"/"-HHMM" equivalent.
func rewriteNamedZone(s string) (string, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s, false
	}
	last := strings.ToUpper(fields[len(fields)-1])
	offset, ok := namedZoneOffsets[last]
	if !ok {
		return s, false
	}
	fields[len(fields)-1] = formatOffset(offset)
	return strings.Join(fields, " "), true
}

func formatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
