// Package digest implements the per-group interval gate, the fetch→parse→
// dedup→persist pipeline, and the final sort that together produce one
// read's worth of output.
package digest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hysreader/hys/feed"
	"github.com/hysreader/hys/feedconfig"
	"github.com/hysreader/hys/fetch"
	"github.com/hysreader/hys/groupstate"
	"github.com/hysreader/hys/identity"
	"github.com/hysreader/hys/metrics"
	"github.com/hysreader/hys/pipeline"
	"github.com/hysreader/hys/seenstore"
)

// Request is one read invocation's parameters.
type Request struct {
	Groups    []string // explicit group list, in command-line order
	All       bool     // process every group under feeds/, ignoring Groups
	AdHocURLs []string // ad-hoc feed URLs (cmd_line_feeds); group tag "main", no dedup, no save-back
	Reset     bool     // bypass the interval gate and force a fresh fetch for every group
}

// FailedFeed records one feed's fetch/parse failure for user-visible
// reporting; it never aborts the overall read.
type FailedFeed struct {
	URL    string
	Group  string
	Reason string
	Err    error
}

// Result is the outcome of one read.
type Result struct {
	Items       []feed.Item
	FailedFeeds []FailedFeed
}

// Config carries the global knobs (see config.Config) down into the
// engine, plus the resolved filesystem roots.
type Config struct {
	HysHome           string
	Net               fetch.Config
	MaxItemsPerFeed   uint
	FetchIntervalDays uint
	DayStartHour      int
	RetentionDays     uint
	Logger            *slog.Logger
}

// Engine owns the seen-hash store across reads.
type Engine struct {
	cfg    Config
	seen   *seenstore.Store
	logger *slog.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		seen:   seenstore.New(filepath.Join(cfg.HysHome, "seen_ids.bin"), logger),
		logger: logger,
	}
}

func (e *Engine) feedsDir() string   { return filepath.Join(e.cfg.HysHome, "feeds") }
func (e *Engine) historyDir() string { return filepath.Join(e.cfg.HysHome, "history") }

// Read executes one full read: partition, fetch, dedup, merge, sort, and
// (unless AdHocURLs was used) persist.
func (e *Engine) Read(ctx context.Context, req Request) (*Result, error) {
	if len(req.AdHocURLs) > 0 {
		return e.readAdHoc(ctx, req.AdHocURLs)
	}

	groups := req.Groups
	if req.All {
		groups = e.listAllGroups()
	}

	start := time.Now()
	now := start
	todayLogical := groupstate.LogicalDate(now, e.cfg.DayStartHour)

	plans := e.partition(groups, req.Reset, todayLogical)
	cachedCount, freshCount := 0, 0
	for _, p := range plans {
		if p.cached {
			cachedCount++
		} else {
			freshCount++
		}
	}
	defer func() { metrics.ObserveDigest(time.Since(start), cachedCount, freshCount) }()

	taggedReqs := assembleFreshRequests(plans)

	var newHashes []uint64
	var allItems []feed.Item
	var failedFeeds []FailedFeed
	fetchedHeadersByGroup := map[string][]feedconfig.FeedConfig{}

	if len(taggedReqs) > 0 {
		seenSet, err := e.seen.Load()
		if err != nil {
			e.logger.Warn("seen-hash store load failed, proceeding without dedup", "error", err)
			seenSet = map[uint64]struct{}{}
		}
		seenFn := func(h uint64) bool { _, ok := seenSet[h]; return ok }

		batch := fetch.NewBatch(e.cfg.Net)
		reqs := make([]fetch.Request, len(taggedReqs))
		for i, tr := range taggedReqs {
			reqs[i] = tr.request
		}
		results := pipeline.Run(ctx, batch, reqs, seenFn)

		for i, res := range results {
			tr := taggedReqs[i]
			switch res.Fetch.Kind {
			case fetch.Success:
				metrics.ObserveFetch("success", time.Since(start))
				fetchedHeadersByGroup[tr.groupName] = append(fetchedHeadersByGroup[tr.groupName], feedconfig.FeedConfig{
					XMLURL: tr.request.URL, ETag: res.Fetch.ETag, LastModified: res.Fetch.LastModified,
				})
				if res.Err != nil || res.Feed == nil {
					failedFeeds = append(failedFeeds, FailedFeed{URL: tr.request.URL, Group: tr.groupName, Reason: "ParseError", Err: res.Err})
					continue
				}
				count := uint(0)
				for _, item := range res.Feed.Items {
					if e.cfg.MaxItemsPerFeed > 0 && count >= e.cfg.MaxItemsPerFeed {
						break
					}
					if key, ok := identity.Key(item.GUID, item.Link); ok {
						h := identity.Hash(identity.Normalize(key))
						if _, dup := seenSet[h]; dup {
							metrics.ObserveItem(tr.groupName, false)
							continue
						}
						seenSet[h] = struct{}{}
						newHashes = append(newHashes, h)
						metrics.ObserveItem(tr.groupName, true)
					}
					item.FeedName = tr.feedName
					item.GroupName = tr.groupName
					item.GroupDisplayName = tr.groupDisplay
					allItems = append(allItems, item)
					count++
				}
			case fetch.NotModified:
				metrics.ObserveFetch("not_modified", time.Since(start))
				fetchedHeadersByGroup[tr.groupName] = append(fetchedHeadersByGroup[tr.groupName], feedconfig.FeedConfig{
					XMLURL: tr.request.URL, ETag: res.Fetch.ETag, LastModified: res.Fetch.LastModified,
				})
			default:
				metrics.ObserveFetch("failed", time.Since(start))
				reason := res.Fetch.Reason.String()
				failedFeeds = append(failedFeeds, FailedFeed{URL: tr.request.URL, Group: tr.groupName, Reason: reason, Err: res.Fetch.Err})
			}
		}
	}

	for _, p := range plans {
		if !p.cached {
			continue
		}
		latest, ok, err := groupstate.LatestRun(e.historyDir(), p.name)
		if err != nil || !ok {
			continue
		}
		snap, err := groupstate.LoadSnapshot(e.historyDir(), p.name, latest)
		if err != nil {
			e.logger.Warn("snapshot load failed for cached group", "group", p.name, "error", err)
			continue
		}
		allItems = append(allItems, snap.Items...)
	}

	sortItems(allItems, groups)

	for _, p := range plans {
		if p.cached {
			continue
		}
		if fetched := fetchedHeadersByGroup[p.name]; len(fetched) > 0 {
			if err := feedconfig.MergeFetchedHeaders(feedconfig.GroupPath(e.feedsDir(), p.name), fetched); err != nil {
				e.logger.Warn("group save-back failed", "group", p.name, "error", err)
			}
		}
		groupItems := filterByGroup(allItems, p.name)
		if len(groupItems) > 0 || !groupstate.SnapshotExists(e.historyDir(), p.name, todayLogical) {
			if err := groupstate.SaveSnapshot(e.historyDir(), p.name, todayLogical, &groupstate.Snapshot{Timestamp: now.Unix(), Items: groupItems}); err != nil {
				e.logger.Warn("snapshot save failed", "group", p.name, "error", err)
			}
		}
	}

	if len(newHashes) > 0 {
		if err := e.seen.Append(newHashes, now); err != nil {
			e.logger.Warn("seen-hash append failed", "error", err)
		}
	}
	if set, err := e.seen.Load(); err == nil {
		metrics.SeenStoreSize.Set(float64(len(set)))
	}
	for _, p := range plans {
		if err := groupstate.PruneHistory(e.historyDir(), p.name, e.cfg.RetentionDays, todayLogical); err != nil {
			e.logger.Warn("history prune failed", "group", p.name, "error", err)
		}
	}
	if err := e.seen.Prune(e.cfg.RetentionDays, now); err != nil {
		e.logger.Warn("seen-hash prune failed", "error", err)
	}

	return &Result{Items: allItems, FailedFeeds: failedFeeds}, nil
}

// Replay loads historical snapshots without fetching anything: offset 0
// is today's (or the most recent cached) snapshot, 1 is the run before
// that, and so on. It never mutates any on-disk state. An empty groups
// list replays every known group.
func (e *Engine) Replay(ctx context.Context, groups []string, dayOffset int) (*Result, error) {
	if len(groups) == 0 {
		groups = e.listAllGroups()
	}
	var allItems []feed.Item
	for _, name := range groups {
		date, ok, err := groupstate.RunAtOffset(e.historyDir(), name, dayOffset)
		if err != nil {
			e.logger.Warn("replay lookup failed", "group", name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		snap, err := groupstate.LoadSnapshot(e.historyDir(), name, date)
		if err != nil {
			e.logger.Warn("replay snapshot load failed", "group", name, "error", err)
			continue
		}
		allItems = append(allItems, snap.Items...)
	}
	sortItems(allItems, groups)
	return &Result{Items: allItems}, nil
}

type groupPlan struct {
	name   string
	group  *feedconfig.Group
	cached bool
}

func (e *Engine) partition(groups []string, reset bool, todayLogical string) []groupPlan {
	plans := make([]groupPlan, 0, len(groups))
	for _, name := range groups {
		g, err := feedconfig.Load(feedconfig.GroupPath(e.feedsDir(), name))
		if err != nil {
			e.logger.Warn("group definition load failed, treating as empty", "group", name, "error", err)
			g = &feedconfig.Group{}
		}
		cached := false
		if !reset {
			if latest, ok, err := groupstate.LatestRun(e.historyDir(), name); err == nil && ok {
				if age, err := groupstate.DaysBetween(latest, todayLogical); err == nil && age < int64(e.cfg.FetchIntervalDays) {
					cached = true
				}
			}
		}
		plans = append(plans, groupPlan{name: name, group: g, cached: cached})
	}
	return plans
}

type taggedRequest struct {
	request      fetch.Request
	groupName    string
	groupDisplay string
	feedName     string
}

func assembleFreshRequests(plans []groupPlan) []taggedRequest {
	var out []taggedRequest
	for _, p := range plans {
		if p.cached {
			continue
		}
		for _, f := range p.group.Feeds {
			if !f.Enabled {
				continue
			}
			out = append(out, taggedRequest{
				request:      fetch.Request{URL: f.XMLURL, ETag: f.ETag, LastModified: f.LastModified},
				groupName:    p.name,
				groupDisplay: p.group.Text,
				feedName:     feedDisplayName(f),
			})
		}
	}
	return out
}

func feedDisplayName(f feedconfig.FeedConfig) string {
	if f.Text != "" {
		return f.Text
	}
	return f.XMLURL
}

func (e *Engine) listAllGroups() []string {
	entries, err := os.ReadDir(e.feedsDir())
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}

func filterByGroup(items []feed.Item, group string) []feed.Item {
	var out []feed.Item
	for _, it := range items {
		if it.GroupName == group {
			out = append(out, it)
		}
	}
	return out
}

// sortItems implements the group -> feed -> timestamp-desc ordering.
// Group order follows explicitGroups' command-line order when the caller
// named more than one group; otherwise groups sort alphabetically.
func sortItems(items []feed.Item, explicitGroups []string) {
	useExplicitOrder := len(explicitGroups) > 1
	rank := make(map[string]int, len(explicitGroups))
	if useExplicitOrder {
		for i, g := range explicitGroups {
			rank[g] = i
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if useExplicitOrder {
			if ra, rb := rank[a.GroupName], rank[b.GroupName]; ra != rb {
				return ra < rb
			}
		} else if a.GroupName != b.GroupName {
			return a.GroupName < b.GroupName
		}
		if a.FeedName != b.FeedName {
			return a.FeedName < b.FeedName
		}
		return a.Timestamp > b.Timestamp
	})
}

// readAdHoc implements Step 2's cmd_line_feeds branch: a single "main"
// group assembled from caller-supplied URLs, dedup disabled, no
// persistence of any kind.
func (e *Engine) readAdHoc(ctx context.Context, urls []string) (*Result, error) {
	reqs := make([]fetch.Request, len(urls))
	for i, u := range urls {
		reqs[i] = fetch.Request{URL: u}
	}
	batch := fetch.NewBatch(e.cfg.Net)
	results := pipeline.Run(ctx, batch, reqs, nil)

	var items []feed.Item
	var failed []FailedFeed
	for i, res := range results {
		switch res.Fetch.Kind {
		case fetch.Success:
			if res.Err != nil || res.Feed == nil {
				failed = append(failed, FailedFeed{URL: urls[i], Group: "main", Reason: "ParseError", Err: res.Err})
				continue
			}
			count := uint(0)
			for _, item := range res.Feed.Items {
				if e.cfg.MaxItemsPerFeed > 0 && count >= e.cfg.MaxItemsPerFeed {
					break
				}
				item.GroupName = "main"
				item.FeedName = urls[i]
				items = append(items, item)
				count++
			}
		case fetch.NotModified:
			// no body, nothing to add
		default:
			failed = append(failed, FailedFeed{URL: urls[i], Group: "main", Reason: res.Fetch.Reason.String(), Err: res.Fetch.Err})
		}
	}
	sortItems(items, nil)
	return &Result{Items: items, FailedFeeds: failed}, nil
}
