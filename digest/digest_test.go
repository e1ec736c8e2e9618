package digest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hysreader/hys/feed"
	"github.com/hysreader/hys/feedconfig"
	"github.com/hysreader/hys/fetch"
	"github.com/hysreader/hys/groupstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Feed %s</title>
<item><title>Item One</title><link>https://example.com/%s/one</link><guid>guid-%s-1</guid><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
</channel></rss>`

func writeGroup(t *testing.T, feedsDir, name string, g *feedconfig.Group) {
	t.Helper()
	require.NoError(t, feedconfig.Save(feedconfig.GroupPath(feedsDir, name), g))
}

func newEngine(t *testing.T, home string) *Engine {
	t.Helper()
	return New(Config{
		HysHome:           home,
		Net:               fetch.DefaultConfig(),
		MaxItemsPerFeed:   0,
		FetchIntervalDays: 1,
		DayStartHour:      0,
		RetentionDays:     30,
	})
}

func TestReadFreshGroupFetchesAndPersists(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprintf(w, sampleRSS, "tech", "tech", "tech")
	}))
	defer server.Close()

	writeGroup(t, feedsDir, "tech", &feedconfig.Group{
		Text:  "Tech",
		Feeds: []feedconfig.FeedConfig{{XMLURL: server.URL, Enabled: true}},
	})

	eng := newEngine(t, home)
	res, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Item One", res.Items[0].Title)
	assert.Equal(t, "tech", res.Items[0].GroupName)
	assert.Empty(t, res.FailedFeeds)

	g, err := feedconfig.Load(feedconfig.GroupPath(feedsDir, "tech"))
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, g.Feeds[0].ETag)

	runs, err := groupstate.ListRuns(filepath.Join(home, "history"), "tech")
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestReadSkipsFetchWithinIntervalAndUsesCachedSnapshot(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")
	historyDir := filepath.Join(home, "history")

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "tech", "tech", "tech")
	}))
	defer server.Close()

	writeGroup(t, feedsDir, "tech", &feedconfig.Group{
		Feeds: []feedconfig.FeedConfig{{XMLURL: server.URL, Enabled: true}},
	})

	eng := newEngine(t, home)
	today := groupstate.LogicalDate(time.Now(), 0)
	require.NoError(t, groupstate.SaveSnapshot(historyDir, "tech", today, &groupstate.Snapshot{
		Timestamp: 1,
		Items:     []feed.Item{{Title: "Cached Item", GroupName: "tech"}},
	}))

	res, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}})
	require.NoError(t, err)
	assert.Equal(t, 0, hits, "fetch must not happen within the interval window")
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Cached Item", res.Items[0].Title)
}

func TestReadResetForcesFetchEvenWhenCached(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")
	historyDir := filepath.Join(home, "history")

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "tech", "tech", "tech")
	}))
	defer server.Close()

	writeGroup(t, feedsDir, "tech", &feedconfig.Group{
		Feeds: []feedconfig.FeedConfig{{XMLURL: server.URL, Enabled: true}},
	})
	eng := newEngine(t, home)
	today := groupstate.LogicalDate(time.Now(), 0)
	require.NoError(t, groupstate.SaveSnapshot(historyDir, "tech", today, &groupstate.Snapshot{Timestamp: 1}))

	_, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}, Reset: true})
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestReadDisabledFeedSurvivesMerge(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "tech", "tech", "tech")
	}))
	defer server.Close()

	writeGroup(t, feedsDir, "tech", &feedconfig.Group{
		Feeds: []feedconfig.FeedConfig{
			{XMLURL: server.URL, Enabled: true},
			{XMLURL: "https://disabled.example.com/feed", Enabled: false, Title: "Off"},
		},
	})

	eng := newEngine(t, home)
	_, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}})
	require.NoError(t, err)

	g, err := feedconfig.Load(feedconfig.GroupPath(feedsDir, "tech"))
	require.NoError(t, err)
	require.Len(t, g.Feeds, 2)
	assert.Equal(t, "Off", g.Feeds[1].Title)
	assert.False(t, g.Feeds[1].Enabled)
}

func TestReadDedupSkipsSeenHash(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "tech", "tech", "tech")
	}))
	defer server.Close()

	writeGroup(t, feedsDir, "tech", &feedconfig.Group{
		Feeds: []feedconfig.FeedConfig{{XMLURL: server.URL, Enabled: true}},
	})

	eng := newEngine(t, home)
	_, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}, Reset: true})
	require.NoError(t, err)

	res2, err := eng.Read(context.Background(), Request{Groups: []string{"tech"}, Reset: true})
	require.NoError(t, err)
	assert.Empty(t, res2.Items, "second fetch of the same item must be deduped")
}

func TestReadAdHocURLsBypassDedupAndPersistence(t *testing.T) {
	home := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "adhoc", "adhoc", "adhoc")
	}))
	defer server.Close()

	eng := newEngine(t, home)
	res, err := eng.Read(context.Background(), Request{AdHocURLs: []string{server.URL}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "main", res.Items[0].GroupName)

	_, statErr := os.Stat(filepath.Join(home, "feeds"))
	assert.True(t, os.IsNotExist(statErr), "ad-hoc reads must not write a feeds dir")
}

func TestReadPartialFailureStillReturnsOtherFeeds(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "good", "good", "good")
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	writeGroup(t, feedsDir, "mix", &feedconfig.Group{
		Feeds: []feedconfig.FeedConfig{
			{XMLURL: good.URL, Enabled: true},
			{XMLURL: bad.URL, Enabled: true},
		},
	})

	eng := newEngine(t, home)
	res, err := eng.Read(context.Background(), Request{Groups: []string{"mix"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Len(t, res.FailedFeeds, 1)
	assert.Equal(t, bad.URL, res.FailedFeeds[0].URL)
}

func TestReadMultiGroupOrderingFollowsExplicitGroupOrder(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")

	serverA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "alpha", "alpha", "alpha")
	}))
	defer serverA.Close()
	serverB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, sampleRSS, "beta", "beta", "beta")
	}))
	defer serverB.Close()

	writeGroup(t, feedsDir, "zzz-group", &feedconfig.Group{Feeds: []feedconfig.FeedConfig{{XMLURL: serverA.URL, Enabled: true}}})
	writeGroup(t, feedsDir, "aaa-group", &feedconfig.Group{Feeds: []feedconfig.FeedConfig{{XMLURL: serverB.URL, Enabled: true}}})

	eng := newEngine(t, home)
	res, err := eng.Read(context.Background(), Request{Groups: []string{"zzz-group", "aaa-group"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "zzz-group", res.Items[0].GroupName)
	assert.Equal(t, "aaa-group", res.Items[1].GroupName)
}

func TestReplayLoadsHistoricalSnapshotWithoutFetching(t *testing.T) {
	home := t.TempDir()
	historyDir := filepath.Join(home, "history")

	today := groupstate.LogicalDate(time.Now(), 0)
	require.NoError(t, groupstate.SaveSnapshot(historyDir, "tech", today, &groupstate.Snapshot{
		Items: []feed.Item{{Title: "Today", GroupName: "tech"}},
	}))

	eng := newEngine(t, home)
	res, err := eng.Replay(context.Background(), []string{"tech"}, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Today", res.Items[0].Title)
}

func TestListAllGroupsFindsGroupFiles(t *testing.T) {
	home := t.TempDir()
	feedsDir := filepath.Join(home, "feeds")
	writeGroup(t, feedsDir, "bravo", &feedconfig.Group{})
	writeGroup(t, feedsDir, "alpha", &feedconfig.Group{})

	eng := newEngine(t, home)
	names := eng.listAllGroups()
	assert.Equal(t, []string{"alpha", "bravo"}, names)
}

