// Package metrics exposes the counters and histograms that the status
// server publishes at /metrics. They are package-level (no unbounded
// label cardinality beyond group/reason) and registered eagerly; a
// process that never starts the status server simply never scrapes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hys_fetch_total",
		Help: "Total feed fetch attempts by outcome.",
	}, []string{"outcome"})

	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hys_fetch_duration_seconds",
		Help:    "Duration of a single feed fetch, from dial to body read completion.",
		Buckets: prometheus.DefBuckets,
	})

	ItemsSeenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hys_items_seen_total",
		Help: "Items observed across all fetched feeds, by whether they were new or already seen.",
	}, []string{"group", "status"})

	DigestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hys_digest_duration_seconds",
		Help:    "Duration of one full read (partition through persist).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	GroupsCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hys_groups_cached",
		Help: "Number of groups served from cache in the most recent read (interval gate not yet elapsed).",
	})

	GroupsFetched = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hys_groups_fetched",
		Help: "Number of groups fetched fresh in the most recent read.",
	})

	SeenStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hys_seen_store_entries",
		Help: "Number of hashes currently held in the seen-hashes store.",
	})
)

func init() {
	prometheus.MustRegister(FetchTotal, FetchDuration, ItemsSeenTotal, DigestDuration, GroupsCached, GroupsFetched, SeenStoreSize)
}

// ObserveFetch records one fetch outcome and its wall-clock duration.
func ObserveFetch(outcome string, d time.Duration) {
	FetchTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(d.Seconds())
}

// ObserveItem records one item seen during a read, new or duplicate.
func ObserveItem(group string, isNew bool) {
	status := "duplicate"
	if isNew {
		status = "new"
	}
	ItemsSeenTotal.WithLabelValues(group, status).Inc()
}

// ObserveDigest records one full read's duration and group partition.
func ObserveDigest(d time.Duration, cached, fetched int) {
	DigestDuration.Observe(d.Seconds())
	GroupsCached.Set(float64(cached))
	GroupsFetched.Set(float64(fetched))
}
