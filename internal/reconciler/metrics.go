package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipnotify",
			Subsystem: "reconciler",
			Name:      "syncs_total",
			Help:      "Total number of sync attempts by result.",
		},
		[]string{"result"}, // cached | fetched | error
	)
	fetchDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shipnotify",
			Subsystem: "reconciler",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of remote record fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	recordsMergedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shipnotify",
			Subsystem: "reconciler",
			Name:      "records_merged",
			Help:      "Number of records in the most recent merged set.",
		},
	)
)
