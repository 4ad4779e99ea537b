// Package metrics exposes Prometheus collectors for the certpull engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	backoffSeconds             prometheus.Histogram
	batchesTotal               prometheus.Counter
	persistCyclesTotal         *prometheus.CounterVec
	activeFetches              prometheus.Gauge
	datasetRecords             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certpull_fetches_total",
				Help: "Total number of identifier fetches resolved, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "certpull_retries_total",
				Help: "Total number of retry attempts across all identifiers.",
			},
		)

		backoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "certpull_backoff_seconds",
				Help:    "Histogram of backoff waits before retry attempts.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
			},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "certpull_batches_total",
				Help: "Total number of batches fully resolved.",
			},
		)

		persistCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certpull_persist_cycles_total",
				Help: "Total number of persist cycles, labeled by result.",
			},
			[]string{"result"},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "certpull_active_fetches",
				Help: "Number of fetch workers currently holding a concurrency slot.",
			},
		)

		datasetRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "certpull_dataset_records",
				Help: "Number of records in the working dataset.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of ops-server HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops-server request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one resolved identifier fetch.
func ObserveFetch(outcome string) {
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry attempt and the backoff that preceded it.
func ObserveRetry(backoff time.Duration) {
	retriesTotal.Inc()
	backoffSeconds.Observe(backoff.Seconds())
}

// ObserveBatch counts one fully resolved batch.
func ObserveBatch() {
	batchesTotal.Inc()
}

// ObservePersist records the result of a persist cycle
// ("written", "skipped", or "failed").
func ObservePersist(result string) {
	persistCyclesTotal.WithLabelValues(result).Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}

// SetDatasetRecords reports the current working record-set size.
func SetDatasetRecords(n int) {
	datasetRecords.Set(float64(n))
}

// ObserveHTTPRequest increments the ops-server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
