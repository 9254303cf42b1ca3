// Package metrics provides Prometheus metrics for feedradar.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNotModified = "not_modified"
	OutcomeError       = "error"
)

var (
	// FetchTotal counts feed downloads by outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedradar",
			Name:      "fetch_total",
			Help:      "Total number of feed downloads",
		},
		[]string{"outcome"},
	)

	// FetchDuration measures feed download duration.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "feedradar",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of feed downloads in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// FetchInFlight tracks downloads currently running.
	FetchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "feedradar",
			Name:      "fetch_in_flight",
			Help:      "Number of feed downloads in flight",
		},
	)

	// MergeWrites counts rows written by datastore merges.
	MergeWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "feedradar",
			Name:      "merge_writes_total",
			Help:      "Total number of feed, item and attachment rows written by feed merges",
		},
	)

	// ParseFailures counts downloaded feed bodies that could not be normalized.
	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "feedradar",
			Name:      "parse_failures_total",
			Help:      "Total number of feed documents that failed to parse",
		},
	)

	// SyncOutcomes counts sent-record outcomes by class.
	SyncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedradar",
			Name:      "sync_record_outcomes_total",
			Help:      "Total number of pushed record outcomes by class",
		},
		[]string{"class"},
	)

	// BatchSize observes Update Batcher flush sizes.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "feedradar",
			Name:      "update_batch_size",
			Help:      "Distribution of coalesced item update batch sizes",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 128},
		},
	)
)

// RecordFetch records a completed feed download.
func RecordFetch(outcome string, seconds float64) {
	FetchTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(seconds)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
