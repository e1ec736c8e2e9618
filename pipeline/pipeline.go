// Package pipeline wires the batch fetcher to a bounded pool of feed
// parsers: parsing starts as soon as each transfer completes rather than
// waiting for the whole batch, and the dedup layer's seen-set drives the
// parser's early-abort hook.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/hysreader/hys/feed"
	"github.com/hysreader/hys/fetch"
	"github.com/hysreader/hys/identity"
)

// SeenChecker reports whether a content-address hash has already been
// recorded. It is read-only for the lifetime of a Run call.
type SeenChecker func(hash uint64) bool

// Result is the outcome for one input feed. Index always matches the
// input slice position regardless of completion order.
type Result struct {
	Index int
	Feed  *feed.ParsedFeed
	Fetch fetch.Result
	Err   error
}

// Run fetches every request through batch and parses each successful body
// on a worker pool sized to the host's hardware parallelism. seen may be
// nil, in which case no early-abort ever fires.
//
// Every results[i] write happens on some goroutine; the final wg.Wait()
// below is the acquire barrier that makes all of them visible to the
// caller once Run returns, matching the release writes performed inside
// each worker goroutine.
func Run(ctx context.Context, batch *fetch.Batch, requests []fetch.Request, seen SeenChecker) []Result {
	results := make([]Result, len(requests))
	for i := range results {
		results[i] = Result{
			Index: i,
			Err:   errors.New("pipeline: feed was not fetched"),
			Fetch: fetch.Result{Index: i, Kind: fetch.Failed, Reason: fetch.ReasonNetworkError},
		}
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	batch.Run(ctx, requests, func(fr fetch.Result) {
		results[fr.Index].Fetch = fr

		switch fr.Kind {
		case fetch.Success:
			wg.Add(1)
			sem <- struct{}{}
			go func(fr fetch.Result) {
				defer wg.Done()
				defer func() { <-sem }()
				parsed, err := feed.Parse(fr.Body, feed.Options{
					OnItem: earlyAbort(seen),
				})
				results[fr.Index].Feed = parsed
				results[fr.Index].Err = err
			}(fr)
		case fetch.NotModified:
			results[fr.Index].Err = nil
		default:
			results[fr.Index].Err = fr.Err
		}
	})

	wg.Wait()
	return results
}

func earlyAbort(seen SeenChecker) func(feed.Item) bool {
	if seen == nil {
		return nil
	}
	return func(item feed.Item) bool {
		key, ok := identity.Key(item.GUID, item.Link)
		if !ok {
			return false
		}
		return seen(identity.Hash(identity.Normalize(key)))
	}
}
