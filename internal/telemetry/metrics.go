package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FeedRequests counts upstream feed requests by outcome.
	FeedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "feed_requests_total",
			Help:      "Total number of feed page requests issued",
		},
		[]string{"source", "outcome"},
	)

	// RecordsFetched counts raw entries returned by the feed before normalization.
	RecordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "records_fetched_total",
			Help:      "Total number of raw feed entries received",
		},
		[]string{"source"},
	)

	// RecordsDropped counts entries discarded during normalization.
	RecordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "records_dropped_total",
			Help:      "Total number of feed entries dropped during normalization",
		},
		[]string{"source", "reason"},
	)

	// Analyses counts completed per-description analyses by reported tier.
	Analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "analyses_total",
			Help:      "Total number of completed risk analyses",
		},
		[]string{"tier"},
	)

	// Anomalies counts analyses flagged anomalous, by reported tier.
	Anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "anomalies_total",
			Help:      "Total number of analyses flagged as anomalous",
		},
		[]string{"tier"},
	)

	// RecordErrors counts isolated per-record batch failures by stage.
	RecordErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "record_errors_total",
			Help:      "Total number of isolated per-record failures",
		},
		[]string{"stage"},
	)

	// ModelsLoaded reports whether the artifact bundle is loaded (1) or not (0).
	ModelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Name:      "models_loaded",
			Help:      "Whether all three model artifacts are currently loaded",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// This function is idempotent and can be called multiple times safely.
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		prometheus.DefaultRegisterer.Register(FeedRequests)
		prometheus.DefaultRegisterer.Register(RecordsFetched)
		prometheus.DefaultRegisterer.Register(RecordsDropped)
		prometheus.DefaultRegisterer.Register(Analyses)
		prometheus.DefaultRegisterer.Register(Anomalies)
		prometheus.DefaultRegisterer.Register(RecordErrors)
		prometheus.DefaultRegisterer.Register(ModelsLoaded)
	})
}
