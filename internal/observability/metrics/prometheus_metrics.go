// Package metrics provides Prometheus-compatible metrics collection for the
// segment downloader.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the Metrics interface using Prometheus client library.
// All metric names are prefixed with the sanitized component name.
type PrometheusMetrics struct {
	serviceName string

	// processedTotal tracks the total number of processed items by status and type
	processedTotal *prometheus.CounterVec
	// errorsTotal tracks the total number of errors by error type and operation
	errorsTotal *prometheus.CounterVec
	// durationSeconds tracks operation duration
	durationSeconds *prometheus.HistogramVec
	// fileSizeBytes tracks segment and artifact sizes
	fileSizeBytes *prometheus.HistogramVec
	// inProgress tracks the number of operations currently in progress
	inProgress *prometheus.GaugeVec
}

// New creates a new PrometheusMetrics instance registered with
// prometheus.DefaultRegisterer.
//
// Pre-configured metrics:
//   - {name}_processed_total: Counter for successful and failed operations
//   - {name}_errors_total: Counter for errors by type and operation
//   - {name}_duration_seconds: Histogram for operation durations
//   - {name}_file_size_bytes: Histogram for file sizes with exponential buckets
//   - {name}_in_progress: Gauge for concurrent operations
//
// Panics if registration fails (e.g., duplicate metric names).
func New(serviceName string) *PrometheusMetrics {
	prefix := SanitizeName(serviceName)
	m := &PrometheusMetrics{
		serviceName: serviceName,
	}

	m.processedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_processed_total", prefix),
			Help: fmt.Sprintf("Total processed items by %s", serviceName),
		},
		[]string{"status", "type"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_errors_total", prefix),
			Help: fmt.Sprintf("Total errors in %s", serviceName),
		},
		[]string{"error_type", "operation"},
	)

	// Whole-asset downloads run for minutes, so the default buckets are
	// extended past 10s.
	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_duration_seconds", prefix),
			Help:    fmt.Sprintf("Operation duration in %s", serviceName),
			Buckets: append(prometheus.DefBuckets, 30, 60, 300, 900, 1800),
		},
		[]string{"operation"},
	)

	// Buckets: 1KB, 10KB, 100KB, 1MB, 10MB, 100MB, 1GB, 10GB
	m.fileSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_file_size_bytes", prefix),
			Help:    fmt.Sprintf("File sizes processed by %s", serviceName),
			Buckets: prometheus.ExponentialBuckets(1024, 10, 8),
		},
		[]string{"file_type"},
	)

	m.inProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_in_progress", prefix),
			Help: fmt.Sprintf("Operations in progress in %s", serviceName),
		},
		[]string{"operation"},
	)

	prometheus.MustRegister(
		m.processedTotal,
		m.errorsTotal,
		m.durationSeconds,
		m.fileSizeBytes,
		m.inProgress,
	)

	return m
}

// SanitizeName maps a component name such as "service.fetcher" to a valid
// Prometheus metric prefix ("service_fetcher").
func SanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}

// RecordSuccess increments the success counter for a specific operation type.
//
// Example:
//
//	metrics.RecordSuccess("segment")
func (m *PrometheusMetrics) RecordSuccess(operationType string) {
	m.processedTotal.WithLabelValues("success", operationType).Inc()
}

// RecordError increments both the processed counter (with status="error") and
// the detailed error counter.
//
// Example:
//
//	metrics.RecordError("segment", "transient")
func (m *PrometheusMetrics) RecordError(operationType string, errorType string) {
	m.processedTotal.WithLabelValues("error", operationType).Inc()
	m.errorsTotal.WithLabelValues(errorType, operationType).Inc()
}

// RecordDuration records the duration of an operation in seconds.
func (m *PrometheusMetrics) RecordDuration(operation string, duration float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(duration)
}

// RecordFileSize records the size of a file in bytes.
func (m *PrometheusMetrics) RecordFileSize(fileType string, bytes int64) {
	m.fileSizeBytes.WithLabelValues(fileType).Observe(float64(bytes))
}

// StartOperation increments the in-progress gauge for an operation.
//
// Example:
//
//	metrics.StartOperation("schedule")
//	defer metrics.EndOperation("schedule")
func (m *PrometheusMetrics) StartOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Inc()
}

// EndOperation decrements the in-progress gauge for an operation.
func (m *PrometheusMetrics) EndOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Dec()
}
