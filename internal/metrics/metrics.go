// Package metrics exposes Prometheus collectors for the key sweep service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keysweep_items_skipped_total",
			Help: "Search result items skipped before processing, labeled by reason.",
		},
		[]string{"reason"},
	)

	itemsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keysweep_items_processed_total",
			Help: "Search result items fully processed.",
		},
	)

	searchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keysweep_search_requests_total",
			Help: "Outbound code-search requests, labeled by result.",
		},
		[]string{"result"},
	)

	searchBackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keysweep_search_backoff_seconds",
			Help:    "Histogram of backoff waits taken by the search client.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	keysClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keysweep_keys_classified_total",
			Help: "Validated key candidates, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keysweep_deliveries_total",
			Help: "Downstream delivery batches, labeled by service and result.",
		},
		[]string{"service", "result"},
	)

	checkpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keysweep_checkpoint_saves_total",
			Help: "Checkpoint persistence attempts, labeled by result.",
		},
		[]string{"result"},
	)

	syncQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keysweep_sync_queue_depth",
			Help: "Keys currently queued for downstream delivery, per service.",
		},
		[]string{"service"},
	)

	passesCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keysweep_passes_completed_total",
			Help: "Full passes over the configured query list.",
		},
	)

	contentFetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keysweep_content_fetch_failures_total",
			Help: "Items whose file content could not be fetched.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSkip increments the skip counter for the given reason.
func ObserveSkip(reason string) {
	itemsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveItemProcessed increments the processed item counter.
func ObserveItemProcessed() {
	itemsProcessedTotal.Inc()
}

// ObserveSearchRequest increments the search request counter.
func ObserveSearchRequest(result string) {
	searchRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveSearchBackoff records the duration of a search backoff wait.
func ObserveSearchBackoff(d time.Duration) {
	searchBackoffSeconds.Observe(d.Seconds())
}

// ObserveKeyOutcome increments the validated key counter for an outcome.
func ObserveKeyOutcome(outcome string) {
	keysClassifiedTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelivery increments the delivery counter for a service/result pair.
func ObserveDelivery(service, result string) {
	deliveriesTotal.WithLabelValues(service, result).Inc()
}

// ObserveCheckpointSave increments the checkpoint save counter.
func ObserveCheckpointSave(result string) {
	checkpointSavesTotal.WithLabelValues(result).Inc()
}

// SetSyncQueueDepth records the current queue depth for a service.
func SetSyncQueueDepth(service string, depth int) {
	syncQueueDepth.WithLabelValues(service).Set(float64(depth))
}

// ObservePassCompleted increments the completed pass counter.
func ObservePassCompleted() {
	passesCompletedTotal.Inc()
}

// ObserveContentFetchFailure increments the content fetch failure counter.
func ObserveContentFetchFailure() {
	contentFetchFailuresTotal.Inc()
}
