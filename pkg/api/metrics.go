package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricTurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "forgesight_turn_duration_seconds",
	Help:    "Wall-clock duration of one agent turn, slot acquisition to final event.",
	Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
})
