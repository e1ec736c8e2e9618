// Command hys is the thin CLI adapter around the read pipeline: it
// parses arguments, loads configuration, drives one digest read or a
// repeating watch loop, and prints the resulting items as
// line-oriented plain text. Terminal rendering, paging, and OPML
// import/export are out of scope here; they belong to an external
// formatter that consumes this same digest.Result shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hysreader/hys/config"
	"github.com/hysreader/hys/daemon"
	"github.com/hysreader/hys/digest"
	"github.com/hysreader/hys/feed"
	"github.com/hysreader/hys/fetch"
	"github.com/hysreader/hys/httpstatus"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "read":
		runRead(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hys read <groups...> [--reset] [--all] [--day-offset N] [--url URL]...")
	fmt.Fprintln(os.Stderr, "       hys watch <groups...>")
}

type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }
func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func runRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	reset := fs.Bool("reset", false, "bypass the interval gate and force a fresh fetch")
	all := fs.Bool("all", false, "process every known group")
	dayOffset := fs.Int("day-offset", 0, "replay the snapshot N runs before the most recent instead of fetching (0 = normal read)")
	var urls urlList
	fs.Var(&urls, "url", "ad-hoc feed URL, repeatable; bypasses groups entirely")
	_ = fs.Parse(args)
	groups := fs.Args()

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	logger := newLogger()
	eng := buildEngine(cfg, logger)

	ctx := context.Background()
	var result *digest.Result
	if *dayOffset != 0 && len(urls) == 0 {
		result, err = eng.Replay(ctx, groups, *dayOffset)
	} else {
		result, err = eng.Read(ctx, digest.Request{
			Groups:    groups,
			All:       *all,
			Reset:     *reset,
			AdHocURLs: urls,
		})
	}
	if err != nil {
		fatal(err)
	}
	printItems(result.Items)
	for _, f := range result.FailedFeeds {
		fmt.Fprintf(os.Stderr, "warning: %s (group %s): %s\n", f.URL, f.Group, f.Reason)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	_ = fs.Parse(args)
	groups := fs.Args()

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	logger := newLogger()
	eng := buildEngine(cfg, logger)

	schedule := fmt.Sprintf("@every %dh", cfg.FetchIntervalDays*24)
	d, err := daemon.New(eng, digest.Request{Groups: groups, All: len(groups) == 0}, schedule, logger)
	if err != nil {
		fatal(err)
	}

	if cfg.Status.Enabled {
		srv := httpstatus.New(cfg.Status, d.Health, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	d.Start()
	defer d.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}

func loadConfig() (*config.Config, error) {
	if path := config.FindConfig(); path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func buildEngine(cfg *config.Config, logger *slog.Logger) *digest.Engine {
	home, err := config.HomeDir()
	if err != nil {
		fatal(err)
	}
	netCfg := fetch.DefaultConfig()
	netCfg.MaxFeedSizeBytes = int64(cfg.MaxFeedSizeMB * 1024 * 1024)
	return digest.New(digest.Config{
		HysHome:           home,
		Net:               netCfg,
		MaxItemsPerFeed:   cfg.MaxItemsPerFeed,
		FetchIntervalDays: cfg.FetchIntervalDays,
		DayStartHour:      cfg.DayStartHour,
		RetentionDays:     cfg.RetentionDays,
		Logger:            logger,
	})
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func printItems(items []feed.Item) {
	for _, item := range items {
		ts := time.Unix(item.Timestamp, 0).UTC().Format(time.RFC3339)
		fmt.Printf("[%s] %s - %s\n%s\n\n", item.GroupName, ts, item.Title, item.Link)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
