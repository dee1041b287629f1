// Package metrics provides Prometheus-based metrics collection for netnmap.
// Collectors live in a private registry which the CLI can dump to a
// node_exporter textfile after each run.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netnmap metrics
	namespace = "netnmap"

	// Subsystems
	subsystemScan   = "scan"
	subsystemParse  = "parse"
	subsystemSystem = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scanErrors      *prometheus.CounterVec
	failedToResolve prometheus.Counter

	// Parse metrics
	parsesTotal   *prometheus.CounterVec
	parseDuration prometheus.Histogram
	hostsParsed   *prometheus.CounterVec
	servicesFound prometheus.Counter

	lastRun prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
	}

	pm.initScanMetrics()
	pm.initParseMetrics()

	pm.lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed scan or parse",
		},
	)

	pm.registerMetrics()

	// Register standard Go collector for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan binary executions by status",
		},
		[]string{"status"},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall time of scan binary executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by error code",
		},
		[]string{"error_type"},
	)

	pm.failedToResolve = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "unresolved_targets_total",
			Help:      "Targets the scan binary reported as impossible to resolve",
		},
	)
}

// initParseMetrics initializes report parsing metrics
func (pm *PrometheusMetrics) initParseMetrics() {
	pm.parsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParse,
			Name:      "total",
			Help:      "Total number of report parses by status",
		},
		[]string{"status"},
	)

	pm.parseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemParse,
			Name:      "duration_seconds",
			Help:      "Duration of report parsing in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	pm.hostsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParse,
			Name:      "hosts_total",
			Help:      "Hosts read from scan reports by status",
		},
		[]string{"host_status"},
	)

	pm.servicesFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParse,
			Name:      "services_total",
			Help:      "Services read from scan reports",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.scanErrors)
	pm.registry.MustRegister(pm.failedToResolve)

	pm.registry.MustRegister(pm.parsesTotal)
	pm.registry.MustRegister(pm.parseDuration)
	pm.registry.MustRegister(pm.hostsParsed)
	pm.registry.MustRegister(pm.servicesFound)

	pm.registry.MustRegister(pm.lastRun)
}

// GetRegistry returns the Prometheus registry backing these collectors
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan Metrics Methods

// IncrementScansTotal increments the total scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(status string) {
	pm.scansTotal.WithLabelValues(status).Inc()
	pm.lastRun.SetToCurrentTime()
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(duration time.Duration) {
	pm.scanDuration.Observe(duration.Seconds())
}

// IncrementScanErrors increments scan error counter
func (pm *PrometheusMetrics) IncrementScanErrors(errorType string) {
	pm.scanErrors.WithLabelValues(errorType).Inc()
}

// AddFailedToResolve counts targets that did not resolve
func (pm *PrometheusMetrics) AddFailedToResolve(count int) {
	pm.failedToResolve.Add(float64(count))
}

// Parse Metrics Methods

// IncrementParsesTotal increments the report parse counter
func (pm *PrometheusMetrics) IncrementParsesTotal(status string) {
	pm.parsesTotal.WithLabelValues(status).Inc()
	pm.lastRun.SetToCurrentTime()
}

// RecordParseDuration records how long a report took to parse
func (pm *PrometheusMetrics) RecordParseDuration(duration time.Duration) {
	pm.parseDuration.Observe(duration.Seconds())
}

// IncrementHostsParsed adds parsed hosts for a host status
func (pm *PrometheusMetrics) IncrementHostsParsed(status string, count int) {
	if status == "" {
		status = "unknown"
	}
	pm.hostsParsed.WithLabelValues(status).Add(float64(count))
}

// IncrementServicesFound adds parsed services
func (pm *PrometheusMetrics) IncrementServicesFound(count int) {
	pm.servicesFound.Add(float64(count))
}

// WriteTextfile writes the current metric values in the Prometheus text
// exposition format, for pickup by node_exporter's textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, pm.registry)
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
