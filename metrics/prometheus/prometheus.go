// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sheetbatch/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Batching metrics
	opsSubmittedTotal *prometheus.CounterVec
	batchesTotal      *prometheus.CounterVec
	batchFailedTotal  *prometheus.CounterVec
	batchSize         *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	windowSeconds     prometheus.Gauge

	// Transaction metrics
	txBegunTotal      *prometheus.CounterVec
	txCommittedTotal  *prometheus.CounterVec
	txFailedTotal     *prometheus.CounterVec
	txRolledBackTotal *prometheus.CounterVec
	txCancelledTotal  *prometheus.CounterVec
	txOps             *prometheus.HistogramVec
	txDuration        *prometheus.HistogramVec

	// Snapshot metrics
	snapshotCapturedTotal prometheus.Counter
	snapshotBytes         prometheus.Histogram
	snapshotReapedTotal   prometheus.Counter

	// Lock metrics
	lockAcquiredTotal   prometheus.Counter
	lockFailedTotal     *prometheus.CounterVec
	lockAcquireDuration prometheus.Histogram
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "sheetbatch")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "sheetbatch",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		opsSubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ops_submitted_total",
			Help:      "Total number of operations submitted for batching",
		}, []string{"kind"}),

		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batches_total",
			Help:      "Total number of batches flushed",
		}, []string{"kind"}),

		batchFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_failed_total",
			Help:      "Total number of batches whose physical call failed",
		}, []string{"kind", "reason"}),

		batchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_size",
			Help:      "Number of operations merged into one physical call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		}, []string{"kind"}),

		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Batch execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"kind"}),

		windowSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "collection_window_seconds",
			Help:      "Current adaptive collection window in seconds",
		}),

		txBegunTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_begun_total",
			Help:      "Total number of transactions begun",
		}, []string{"target"}),

		txCommittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_committed_total",
			Help:      "Total number of transactions committed",
		}, []string{"target"}),

		txFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_failed_total",
			Help:      "Total number of transactions failed",
		}, []string{"target", "reason"}),

		txRolledBackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_rolled_back_total",
			Help:      "Total number of rollback attempts",
		}, []string{"target"}),

		txCancelledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_cancelled_total",
			Help:      "Total number of transactions cancelled",
		}, []string{"target"}),

		txOps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_operations",
			Help:      "Number of operations per committed transaction",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"target"}),

		txDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tx_duration_seconds",
			Help:      "Transaction duration from begin to terminal state in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"target"}),

		snapshotCapturedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "snapshot_captured_total",
			Help:      "Total number of snapshots captured",
		}),

		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "snapshot_bytes",
			Help:      "Serialized snapshot size in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
		}),

		snapshotReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "snapshot_reaped_total",
			Help:      "Total number of snapshots reaped by the sweeper",
		}),

		lockAcquiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquired_total",
			Help:      "Total number of commit locks acquired",
		}),

		lockFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_failed_total",
			Help:      "Total number of commit lock acquisition failures",
		}, []string{"reason"}),

		lockAcquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_duration_seconds",
			Help:      "Time taken to acquire commit locks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
	}
}

// Batching metrics

func (p *PrometheusMetrics) OpSubmitted(kind string) {
	p.opsSubmittedTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetrics) BatchFlushed(kind string, size int, duration time.Duration) {
	p.batchesTotal.WithLabelValues(kind).Inc()
	p.batchSize.WithLabelValues(kind).Observe(float64(size))
	p.batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) BatchFailed(kind string, reason string) {
	p.batchFailedTotal.WithLabelValues(kind, reason).Inc()
}

func (p *PrometheusMetrics) WindowAdjusted(window time.Duration) {
	p.windowSeconds.Set(window.Seconds())
}

// Transaction metrics

func (p *PrometheusMetrics) TxBegun(target string) {
	p.txBegunTotal.WithLabelValues(target).Inc()
}

func (p *PrometheusMetrics) TxCommitted(target string, ops int, duration time.Duration) {
	p.txCommittedTotal.WithLabelValues(target).Inc()
	p.txOps.WithLabelValues(target).Observe(float64(ops))
	p.txDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) TxFailed(target string, reason string) {
	p.txFailedTotal.WithLabelValues(target, reason).Inc()
}

func (p *PrometheusMetrics) TxRolledBack(target string) {
	p.txRolledBackTotal.WithLabelValues(target).Inc()
}

func (p *PrometheusMetrics) TxCancelled(target string) {
	p.txCancelledTotal.WithLabelValues(target).Inc()
}

// Snapshot metrics

func (p *PrometheusMetrics) SnapshotCaptured(bytes int64) {
	p.snapshotCapturedTotal.Inc()
	p.snapshotBytes.Observe(float64(bytes))
}

func (p *PrometheusMetrics) SnapshotReaped(count int) {
	p.snapshotReapedTotal.Add(float64(count))
}

// Lock metrics

func (p *PrometheusMetrics) LockAcquired(duration time.Duration) {
	p.lockAcquiredTotal.Inc()
	p.lockAcquireDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) LockFailed(reason string) {
	p.lockFailedTotal.WithLabelValues(reason).Inc()
}
