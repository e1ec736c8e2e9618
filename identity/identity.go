// Package identity canonicalizes feed-item identifiers (GUID or link) into
// a stable byte form suitable for content-addressed deduplication, and
// hashes that form with a fixed-seed, portable, non-cryptographic hash.
package identity

import (
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

// trackingPrefixes are raw-query prefixes that mark a query string as
// tracking-only; the entire query is dropped when it begins with one of
// these (exact prefix, not substring — "page=2&utm_source=x" is kept).
var trackingPrefixes = []string{"utm_", "fbclid=", "ref="}

// Normalize canonicalizes a raw identifier (a GUID or a link) into a
// stable form for hashing. It never fails: URI parse errors fall back to
// "https://" followed by the lowercased input.
func Normalize(raw string) string {
	sl := strings.ToLower(raw)
	if strings.HasPrefix(sl, "http://") || strings.HasPrefix(sl, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return entityReplacer.Replace("https://" + strings.ToLower(raw))
		}
		return entityReplacer.Replace(normalizeURL(u))
	}
	return entityReplacer.Replace(strings.ToLower(raw))
}

func normalizeURL(u *url.URL) string {
	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" && hasTrackingPrefix(u.RawQuery) {
		u.RawQuery = ""
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

func hasTrackingPrefix(rawQuery string) bool {
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(rawQuery, p) {
			return true
		}
	}
	return false
}

// Hash returns the 64-bit content-address hash of a normalized identifier.
// The underlying algorithm (xxhash) is fixed and portable across process
// restarts and machine architectures; changing it invalidates every
// existing seen-hashes file.
func Hash(normalized string) uint64 {
	return xxhash.Sum64String(normalized)
}

// Key produces the canonical identity key for an item: guid if non-empty,
// else link if non-empty, else the empty string (meaning "no identity",
// always treated as fresh by the dedup layer). ok is false in that case.
func Key(guid, link string) (key string, ok bool) {
	if guid != "" {
		return guid, true
	}
	if link != "" {
		return link, true
	}
	return "", false
}
