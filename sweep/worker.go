// Package sweep provides the background worker that reaps expired
// snapshots and cancels idle transactions.
package sweep

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sheetbatch/event"
	"sheetbatch/metrics"
)

// SnapshotStore defines the storage interface needed by the sweeper.
// This is a narrowed view of the root snapshot store to avoid circular
// imports.
type SnapshotStore interface {
	DeleteExpiredSnapshots(ctx context.Context, now time.Time) (int64, error)
}

// TxExpirer defines the interface for cancelling idle transactions.
type TxExpirer interface {
	ExpireIdle(ctx context.Context, idleFor time.Duration) []string
}

// Config holds the configuration for the sweeper.
type Config struct {
	// Interval is the time between sweep scans.
	Interval time.Duration
	// TxIdleTimeout is how long an uncommitted transaction may sit without
	// activity before it is cancelled. Zero disables idle expiry.
	TxIdleTimeout time.Duration
}

// DefaultConfig returns the default configuration for the sweeper.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		TxIdleTimeout: 10 * time.Minute,
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Sweeper] "+format, v...)
}

// Worker is the sweeper. It periodically deletes snapshots past their
// TTL and expires transactions that were begun and then abandoned.
type Worker struct {
	store   SnapshotStore
	expirer TxExpirer
	events  event.EventBus
	metrics metrics.Metrics
	config  Config
	logger  Logger

	// State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	// Counters
	reapedCount  int64
	expiredCount int64
	errorCount   int64
	countersMu   sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithStore sets the snapshot store for the worker.
func WithStore(s SnapshotStore) WorkerOption {
	return func(w *Worker) {
		w.store = s
	}
}

// WithExpirer sets the transaction expirer for the worker.
func WithExpirer(e TxExpirer) WorkerOption {
	return func(w *Worker) {
		w.expirer = e
	}
}

// WithEventBus sets the event bus for the worker.
func WithEventBus(e event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = e
	}
}

// WithMetrics sets the metrics sink for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a new sweeper with the given options.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		config:  DefaultConfig(),
		logger:  &defaultLogger{},
		metrics: &metrics.NoopMetrics{},
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start starts the sweeper. It runs in the background and periodically
// scans until Stop is called or the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Printf("started with interval=%v, txIdleTimeout=%v", w.config.Interval, w.config.TxIdleTimeout)
	return nil
}

// Stop stops the sweeper gracefully.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the sweeper is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the main loop of the sweeper.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run initial scan immediately
	w.scan(ctx)

	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scan performs a single sweep.
func (w *Worker) scan(ctx context.Context) {
	w.publishEvent(ctx, event.NewEvent(event.EventSweepStart))

	if w.store != nil {
		reaped, err := w.store.DeleteExpiredSnapshots(ctx, time.Now())
		if err != nil {
			w.logger.Printf("failed to delete expired snapshots: %v", err)
			w.incrementErrors()
			w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
				WithData("message", fmt.Sprintf("snapshot reap failed: %v", err)).
				WithError(err))
		} else if reaped > 0 {
			w.logger.Printf("reaped %d expired snapshots", reaped)
			w.addReaped(reaped)
			w.metrics.SnapshotReaped(int(reaped))
			w.publishEvent(ctx, event.NewEvent(event.EventSnapshotReaped).
				WithData("count", reaped))
		}
	}

	if w.expirer != nil && w.config.TxIdleTimeout > 0 {
		expired := w.expirer.ExpireIdle(ctx, w.config.TxIdleTimeout)
		if len(expired) > 0 {
			w.logger.Printf("expired %d idle transactions: %v", len(expired), expired)
			w.addExpired(int64(len(expired)))
		}
	}
}

// ScanOnce performs a single sweep synchronously.
// This is useful for testing.
func (w *Worker) ScanOnce(ctx context.Context) {
	w.scan(ctx)
}

// publishEvent publishes an event to the event bus.
func (w *Worker) publishEvent(ctx context.Context, e event.Event) {
	if w.events != nil {
		w.events.Publish(ctx, e)
	}
}

func (w *Worker) addReaped(count int64) {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	w.reapedCount += count
}

func (w *Worker) addExpired(count int64) {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	w.expiredCount += count
}

func (w *Worker) incrementErrors() {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	w.errorCount++
}

// Stats holds the current statistics of the sweeper.
type Stats struct {
	ReapedCount  int64
	ExpiredCount int64
	ErrorCount   int64
	IsRunning    bool
}

// Stats returns the current statistics of the sweeper.
func (w *Worker) Stats() Stats {
	w.countersMu.RLock()
	defer w.countersMu.RUnlock()
	return Stats{
		ReapedCount:  w.reapedCount,
		ExpiredCount: w.expiredCount,
		ErrorCount:   w.errorCount,
		IsRunning:    w.IsRunning(),
	}
}

// ResetStats resets the statistics counters.
func (w *Worker) ResetStats() {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	w.reapedCount = 0
	w.expiredCount = 0
	w.errorCount = 0
}
