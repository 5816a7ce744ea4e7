// Package metrics exposes Prometheus collectors for the ingestion pipeline.
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

// Fetch outcomes used as label values.
const (
	OutcomeFetched        = "fetched"
	OutcomePermanent      = "permanent_failure"
	OutcomeRetryExhausted = "retry_exhausted"
	OutcomeSkipped        = "skipped_existing"
	OutcomeStoreFailed    = "store_failed"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchRetriesTotal          prometheus.Counter
	fetchDurationSeconds       prometheus.Histogram
	fetchBytesTotal            prometheus.Counter
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      prometheus.Histogram
	recordsTotal               *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	pipelineStage              *prometheus.GaugeVec
	embeddingRequestsTotal     *prometheus.CounterVec
	embeddingTokensTotal       prometheus.Counter
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
				Name: "writeups_fetches_total",
				Help: "Total number of identifiers processed by the fetch stage, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "writeups_fetch_retries_total",
				Help: "Total number of retried fetch attempts after a transient failure.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "writeups_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "writeups_fetch_bytes_total",
				Help: "Total number of payload bytes persisted.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "writeups_fetch_active_workers",
				Help: "Number of fetch workers currently processing an identifier.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "writeups_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writeups_records_total",
				Help: "Total number of payloads processed by the extractor, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writeups_index_batches_total",
				Help: "Total number of batches submitted to the index, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writeups_index_documents_total",
				Help: "Total number of documents submitted to the index, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pipelineStage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "writeups_pipeline_stage",
				Help: "Current pipeline stage; the active stage reports 1.",
			},
			[]string{"stage"},
		)

		embeddingRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writeups_embedding_requests_total",
				Help: "Total number of embedding API requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embeddingTokensTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "writeups_embedding_tokens_total",
				Help: "Total number of tokens billed by the embedding API.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
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

// ObserveFetch records the final outcome for one identifier.
func ObserveFetch(outcome string, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt records the latency of one fetch attempt.
func ObserveFetchAttempt(duration time.Duration) {
	Init()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveRecord records an extraction outcome (extracted, skipped, failed).
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records a batch outcome and its accepted/rejected documents.
func ObserveBatch(outcome string, accepted, rejected int) {
	Init()
	batchesTotal.WithLabelValues(outcome).Inc()
	if accepted > 0 {
		documentsTotal.WithLabelValues("accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		documentsTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
}

// SetStage marks stage as active and every other known stage as inactive.
func SetStage(stage string, all []string) {
	Init()
	for _, s := range all {
		v := 0.0
		if s == stage {
			v = 1
		}
		pipelineStage.WithLabelValues(s).Set(v)
	}
}

// ObserveEmbedding records one embedding request and the tokens it consumed.
func ObserveEmbedding(outcome string, tokens int) {
	Init()
	embeddingRequestsTotal.WithLabelValues(outcome).Inc()
	if tokens > 0 {
		embeddingTokensTotal.Add(float64(tokens))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
