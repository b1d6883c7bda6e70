// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build results
const (
	BuildSuccess = "success"
	BuildFailure = "failure"
)

// Metrics holds the Prometheus metrics for the engine pool and scan runs.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	EngineLocks        prometheus.Gauge
	EngineLoaded       prometheus.Gauge
	EngineBuilds       *prometheus.CounterVec
	EngineDisposals    prometheus.Counter
	ScansTotal         *prometheus.CounterVec
	FilesTotal         *prometheus.CounterVec
	BytesScanned       prometheus.Counter
	UnmappedHeuristics prometheus.Counter
	ListingErrors      prometheus.Counter
	ScanDuration       prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metrics and registers them with a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		EngineLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultscan_engine_locks",
			Help: "Outstanding locks on the shared scan engine",
		}),
		EngineLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultscan_engine_loaded",
			Help: "1 while a compiled scan engine is resident",
		}),
		EngineBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultscan_engine_builds_total",
				Help: "Scan engine constructions by result",
			},
			[]string{"result"},
		),
		EngineDisposals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultscan_engine_disposals_total",
			Help: "Scan engines destroyed",
		}),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultscan_scans_total",
				Help: "Finished scan runs by outcome",
			},
			[]string{"outcome"},
		),
		FilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultscan_files_total",
				Help: "Files classified by verdict",
			},
			[]string{"verdict"},
		),
		BytesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultscan_bytes_scanned_total",
			Help: "Bytes read by the scan engine",
		}),
		UnmappedHeuristics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultscan_unmapped_heuristics_total",
			Help: "Heuristic matches whose name has no known category",
		}),
		ListingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultscan_listing_errors_total",
			Help: "Directories that could not be listed during a walk",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultscan_scan_duration_seconds",
			Help:    "Wall time of scan runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.EngineLocks,
		m.EngineLoaded,
		m.EngineBuilds,
		m.EngineDisposals,
		m.ScansTotal,
		m.FilesTotal,
		m.BytesScanned,
		m.UnmappedHeuristics,
		m.ListingErrors,
		m.ScanDuration,
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetEngineLocks records the current lock count
func (m *Metrics) SetEngineLocks(n uint) {
	if m == nil {
		return
	}
	m.EngineLocks.Set(float64(n))
}

// SetEngineLoaded records whether an engine is resident
func (m *Metrics) SetEngineLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.EngineLoaded.Set(1)
	} else {
		m.EngineLoaded.Set(0)
	}
}

// RecordBuild records an engine construction attempt
func (m *Metrics) RecordBuild(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EngineBuilds.WithLabelValues(BuildFailure).Inc()
		return
	}
	m.EngineBuilds.WithLabelValues(BuildSuccess).Inc()
}

// RecordDisposal records an engine teardown
func (m *Metrics) RecordDisposal() {
	if m == nil {
		return
	}
	m.EngineDisposals.Inc()
}

// RecordFile records one classified file
func (m *Metrics) RecordFile(verdict string, bytes int64) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(verdict).Inc()
	if bytes > 0 {
		m.BytesScanned.Add(float64(bytes))
	}
}

// RecordUnmappedHeuristic records a heuristic name with no category
func (m *Metrics) RecordUnmappedHeuristic() {
	if m == nil {
		return
	}
	m.UnmappedHeuristics.Inc()
}

// RecordListingError records a directory that could not be read
func (m *Metrics) RecordListingError() {
	if m == nil {
		return
	}
	m.ListingErrors.Inc()
}

// RecordScan records a finished run
func (m *Metrics) RecordScan(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}
