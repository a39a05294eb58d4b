// Package metrics provides Prometheus metrics for the ledger fetcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger fetch statuses.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// Metrics holds all Prometheus metrics for the ledger fetcher.
type Metrics struct {
	// Ledger metrics
	LedgersFetched      *prometheus.CounterVec
	LedgerFetchDuration prometheus.Histogram
	InFlightLedgers     prometheus.Gauge

	// Attempt metrics
	FetchAttempts prometheus.Counter
	RetryAttempts *prometheus.CounterVec

	// Chunk metrics
	ChunksExecuted     prometheus.Counter
	ChunkQueryDuration prometheus.Histogram
	RowsFetched        prometheus.Counter

	// Template metrics
	TemplateSkips *prometheus.CounterVec

	// Run metrics
	Runs        prometheus.Counter
	RunDuration prometheus.Histogram

	// Downstream errors (export, catalog, notify)
	SinkErrors *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics registered on the
// default registry. Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// New builds a Metrics registered on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ledger_fetcher"
	}
	factory := promauto.With(reg)

	return &Metrics{
		LedgersFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledgers_fetched_total",
				Help:      "Ledger fetches by final status (ok, empty, failed)",
			},
			[]string{"status"},
		),
		LedgerFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_fetch_duration_seconds",
				Help:      "Wall time of one ledger fetch including retries",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
		),
		InFlightLedgers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_ledgers",
				Help:      "Number of ledger fetches currently running",
			},
		),
		FetchAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Total number of per-ledger connection attempts",
			},
		),
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		ChunksExecuted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_executed_total",
				Help:      "Total number of month chunks executed",
			},
		),
		ChunkQueryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_query_duration_seconds",
				Help:      "Time to execute one chunk query and read its result sets",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
		),
		RowsFetched: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_fetched_total",
				Help:      "Total number of rows kept from chunk queries",
			},
		),
		TemplateSkips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_substitutions_skipped_total",
				Help:      "Template parameters not found during rewrite",
			},
			[]string{"param"},
		),
		Runs: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of orchestration runs",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of one orchestration run",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
		),
		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Errors from downstream sinks",
			},
			[]string{"sink"},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// ObserveLedger records the final status and duration of one ledger fetch.
func (m *Metrics) ObserveLedger(status string, seconds float64) {
	m.LedgersFetched.WithLabelValues(status).Inc()
	m.LedgerFetchDuration.Observe(seconds)
}

// IncFetchAttempts increments the attempt counter.
func (m *Metrics) IncFetchAttempts() {
	m.FetchAttempts.Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// ObserveChunk records one executed chunk.
func (m *Metrics) ObserveChunk(seconds float64, rows int) {
	m.ChunksExecuted.Inc()
	m.ChunkQueryDuration.Observe(seconds)
	m.RowsFetched.Add(float64(rows))
}

// IncTemplateSkip counts a parameter missing from the template.
func (m *Metrics) IncTemplateSkip(param string) {
	m.TemplateSkips.WithLabelValues(param).Inc()
}

// AddInFlightLedgers adjusts the in-flight gauge.
func (m *Metrics) AddInFlightLedgers(delta float64) {
	m.InFlightLedgers.Add(delta)
}

// ObserveRun records a completed orchestration run.
func (m *Metrics) ObserveRun(seconds float64) {
	m.Runs.Inc()
	m.RunDuration.Observe(seconds)
}

// IncSinkErrors increments the sink error counter.
func (m *Metrics) IncSinkErrors(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
