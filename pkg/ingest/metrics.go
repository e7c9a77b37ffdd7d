package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesight_ingest_events_received_total",
		Help: "Events accepted onto the ingestion queue, by source.",
	}, []string{"source"})

	metricDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgesight_ingest_events_deduplicated_total",
		Help: "Events skipped because their event_id was already logged.",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgesight_ingest_events_dropped_total",
		Help: "Events dropped by the normaliser (invalid or unsupported).",
	})

	metricDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgesight_ingest_events_dead_lettered_total",
		Help: "Events written to the dead-letter sink after retry exhaustion.",
	})

	metricEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forgesight_ingest_events_embedded_total",
		Help: "Events whose durable text was embedded into the vector index.",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgesight_ingest_queue_depth",
		Help: "Events waiting on the ingestion queue.",
	})
)
