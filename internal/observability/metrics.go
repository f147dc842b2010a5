package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for catalog synchronization.
type Metrics struct {
	Runs        *prometheus.CounterVec // labels: category, outcome={ok,partial,failed}
	Entries     *prometheus.CounterVec // labels: category, action={added,removed,skipped,failed}
	ParseErrors *prometheus.CounterVec // labels: category
	RunState    *prometheus.GaugeVec   // labels: category; value is domain.State
	SyncRunning prometheus.Gauge

	BytesDownloaded prometheus.Counter
	FetchDuration   prometheus.Histogram
	RunDuration     *prometheus.HistogramVec // labels: category

	// Remote source metrics.
	RemoteRequests *prometheus.CounterVec // labels: kind={listing,file}, outcome={success,error,not_modified}
	BreakerState   prometheus.Gauge
}

// NewMetrics creates and registers all synchronizer metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Runs,
		m.Entries,
		m.ParseErrors,
		m.RunState,
		m.SyncRunning,
		m.BytesDownloaded,
		m.FetchDuration,
		m.RunDuration,
		m.RemoteRequests,
		m.BreakerState,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_sync",
			Name:      "runs_total",
			Help:      "Synchronization runs by category and outcome.",
		}, []string{"category", "outcome"}),
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_sync",
			Name:      "entries_total",
			Help:      "Catalog entries by category and reconciliation action.",
		}, []string{"category", "action"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_sync",
			Name:      "listing_parse_errors_total",
			Help:      "Listing rows that could not be parsed into entries.",
		}, []string{"category"}),
		RunState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "weather_sync",
			Name:      "run_state",
			Help:      "Current state of the category's run (0=idle .. 5=done, 6=failed).",
		}, []string{"category"}),
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_sync",
			Name:      "runs_in_progress",
			Help:      "Number of synchronization runs currently executing.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_sync",
			Name:      "bytes_downloaded_total",
			Help:      "Total payload bytes written to the mirror.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_sync",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single file fetch, including skips.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weather_sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete synchronization run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}, []string{"category"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_sync",
			Name:      "remote_requests_total",
			Help:      "Requests to the remote source by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_sync",
			Name:      "remote_breaker_state",
			Help:      "Circuit breaker state for the remote source (0=closed, 1=half-open, 2=open).",
		}),
	}
}
