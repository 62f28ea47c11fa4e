package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlscan",
		Name:      "verdicts_total",
		Help:      "Scan verdicts by status and outcome.",
	}, []string{"status", "malicious"})

	confidenceHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "urlscan",
		Name:      "confidence",
		Help:      "Classifier probability for analyzed URLs.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	dnsCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlscan",
		Name:      "dns_cache_lookups_total",
		Help:      "DNS presence lookups by cache outcome.",
	}, []string{"result"})

	dnsQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "urlscan",
		Name:      "dns_query_duration_seconds",
		Help:      "Duration of single DNS record queries.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
	}, []string{"type", "outcome"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "urlscan",
		Name:      "batch_size",
		Help:      "Number of URLs per batch request.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100},
	})

	whitelistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "urlscan",
		Name:      "whitelist_domains",
		Help:      "Domains in the active whitelist.",
	})

	dnsCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "urlscan",
		Name:      "dns_cache_entries",
		Help:      "Entries in the in-process DNS cache.",
	})
)
