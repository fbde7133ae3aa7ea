// Package metrics provides the metrics interface for the batching and
// transaction engines.
package metrics

import (
	"time"
)

// Metrics defines the interface for collecting observability metrics.
// Implementations can use Prometheus, StatsD, or other metrics backends.
// Metrics are purely observational and never influence dispatch decisions.
type Metrics interface {
	// Batching metrics
	OpSubmitted(kind string)
	BatchFlushed(kind string, size int, duration time.Duration)
	BatchFailed(kind string, reason string)
	WindowAdjusted(window time.Duration)

	// Transaction metrics
	TxBegun(target string)
	TxCommitted(target string, ops int, duration time.Duration)
	TxFailed(target string, reason string)
	TxRolledBack(target string)
	TxCancelled(target string)

	// Snapshot metrics
	SnapshotCaptured(bytes int64)
	SnapshotReaped(count int)

	// Lock metrics
	LockAcquired(duration time.Duration)
	LockFailed(reason string)
}

// NoopMetrics is a no-op implementation of Metrics for testing or when
// metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) OpSubmitted(kind string)                                       {}
func (n *NoopMetrics) BatchFlushed(kind string, size int, duration time.Duration)    {}
func (n *NoopMetrics) BatchFailed(kind string, reason string)                        {}
func (n *NoopMetrics) WindowAdjusted(window time.Duration)                           {}
func (n *NoopMetrics) TxBegun(target string)                                         {}
func (n *NoopMetrics) TxCommitted(target string, ops int, duration time.Duration)    {}
func (n *NoopMetrics) TxFailed(target string, reason string)                         {}
func (n *NoopMetrics) TxRolledBack(target string)                                    {}
func (n *NoopMetrics) TxCancelled(target string)                                     {}
func (n *NoopMetrics) SnapshotCaptured(bytes int64)                                  {}
func (n *NoopMetrics) SnapshotReaped(count int)                                      {}
func (n *NoopMetrics) LockAcquired(duration time.Duration)                           {}
func (n *NoopMetrics) LockFailed(reason string)                                      {}
