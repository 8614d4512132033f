package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "labdnsd_queries_total", Help: "Client queries by handling path"},
		[]string{"path"}, // authoritative, cache, recursive
	)
	Replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "labdnsd_replies_total", Help: "Client replies by outcome"},
		[]string{"outcome"}, // answer, nxdomain, servfail
	)
	IterativeDatagrams = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_iterative_datagrams_total", Help: "Datagrams sent to upstream nameservers"},
	)
	Retransmits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_retransmits_total", Help: "Iterative requests resent after timeout"},
	)
	Malformed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_malformed_total", Help: "Datagrams dropped as malformed"},
	)
	UnknownIDs = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_unknown_ids_total", Help: "Responses dropped for unknown transaction ids"},
	)
	OutstandingQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "labdnsd_outstanding_queries", Help: "Recursive queries currently in flight"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "labdnsd_cache_entries", Help: "Unexpired cache entries after the last sweep"},
	)
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_cache_hits_total", Help: "Cache lookups that returned an unexpired entry"},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "labdnsd_cache_misses_total", Help: "Cache lookups that missed or hit an expired entry"},
	)
)

func init() {
	prometheus.MustRegister(
		Queries, Replies,
		IterativeDatagrams, Retransmits,
		Malformed, UnknownIDs,
		OutstandingQueries,
		CacheEntries, CacheHits, CacheMisses,
	)
}
