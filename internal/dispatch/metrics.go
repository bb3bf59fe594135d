package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipnotify",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Total number of dispatch runs by outcome.",
		},
		[]string{"outcome"}, // completed | cancelled
	)
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipnotify",
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Total number of per-recipient delivery attempts by status.",
		},
		[]string{"status"}, // sent | failed | cancelled
	)
	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shipnotify",
			Subsystem: "dispatch",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of individual channel deliveries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"channel"},
	)
)
