package sheetbatch

import (
	"context"

	"sheetbatch/event"
	"sheetbatch/lock"
	"sheetbatch/metrics"
	"sheetbatch/sweep"
	"sheetbatch/tracing"
)

// Engine is the main entry point. It owns the batcher for coalesced
// fire-and-forget mutations, the transaction manager for atomic
// multi-operation commits, and the sweeper that cleans up after both.
// The two paths share one client, one configuration and one set of
// observability sinks.
type Engine struct {
	batcher *Batcher
	txs     *TxManager
	sweeper *sweep.Worker

	// Dependencies
	client  RemoteClient
	store   SnapshotStore
	locker  lock.Locker
	events  event.EventBus
	metrics metrics.Metrics
	tracer  tracing.Tracer

	// Configuration
	config Config
}

// EngineOption is a function that configures the Engine.
type EngineOption func(*Engine)

// WithEngineClient sets the remote client for the engine.
func WithEngineClient(c RemoteClient) EngineOption {
	return func(e *Engine) {
		e.client = c
	}
}

// WithEngineSnapshotStore sets the snapshot store for the engine.
func WithEngineSnapshotStore(s SnapshotStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEngineLocker sets the distributed locker for the engine.
func WithEngineLocker(l lock.Locker) EngineOption {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithEngineEventBus sets the event bus for the engine.
func WithEngineEventBus(eb event.EventBus) EngineOption {
	return func(e *Engine) {
		e.events = eb
	}
}

// WithEngineMetrics sets the metrics sink for the engine.
func WithEngineMetrics(m metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineTracer sets the tracer for the engine.
func WithEngineTracer(t tracing.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithEngineConfig sets the configuration for the engine.
func WithEngineConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates a new Engine with the given options. The engine
// must be configured with a remote client before submitting operations
// or beginning transactions. It returns an error when the configuration
// is invalid.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		config:  DefaultConfig(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	e.batcher = NewBatcher(
		WithBatcherClient(e.client),
		WithBatcherEventBus(e.events),
		WithBatcherMetrics(e.metrics),
		WithBatcherTracer(e.tracer),
		WithBatcherConfig(e.config),
	)
	e.txs = NewTxManager(
		WithManagerClient(e.client),
		WithManagerSnapshotStore(e.store),
		WithManagerLocker(e.locker),
		WithManagerEventBus(e.events),
		WithManagerMetrics(e.metrics),
		WithManagerTracer(e.tracer),
		WithManagerConfig(e.config),
	)
	e.sweeper = sweep.NewWorker(
		sweep.WithStore(sweepStore(e.store)),
		sweep.WithExpirer(e.txs),
		sweep.WithEventBus(e.events),
		sweep.WithMetrics(e.metrics),
		sweep.WithConfig(sweep.Config{
			Interval:      e.config.SweepInterval,
			TxIdleTimeout: e.config.TxIdleTimeout,
		}),
	)

	return e, nil
}

// sweepStore narrows the snapshot store for the sweeper, keeping a
// typed nil from sneaking through the interface.
func sweepStore(s SnapshotStore) sweep.SnapshotStore {
	if s == nil {
		return nil
	}
	return s
}

// Start starts the background sweeper. The batching and transaction
// paths work without it; without Start, expired snapshots and idle
// transactions are only cleaned up on demand.
func (e *Engine) Start(ctx context.Context) error {
	return e.sweeper.Start(ctx)
}

// Stop flushes pending batches and stops the engine. Operations
// submitted after Stop are rejected with ErrBatcherClosed.
func (e *Engine) Stop(ctx context.Context) error {
	err := e.batcher.FlushAll(ctx)
	e.batcher.Shutdown()
	e.sweeper.Stop()
	return err
}

// Submit enqueues one operation for batched execution.
func (e *Engine) Submit(ctx context.Context, op Operation) (*Promise, error) {
	return e.batcher.Submit(ctx, op)
}

// FlushAll force-drains every pending batch.
func (e *Engine) FlushAll(ctx context.Context) error {
	return e.batcher.FlushAll(ctx)
}

// Begin starts a new transaction against the target.
func (e *Engine) Begin(ctx context.Context, target string, opts ...TxOption) (*Tx, error) {
	return e.txs.Begin(ctx, target, opts...)
}

// Queue buffers one operation in a live transaction.
func (e *Engine) Queue(ctx context.Context, txID string, op Operation, dependsOn ...int) (int, error) {
	return e.txs.Queue(ctx, txID, op, dependsOn...)
}

// Commit applies a transaction's queued operations in one physical call.
func (e *Engine) Commit(ctx context.Context, txID string) (*TransactionResult, error) {
	return e.txs.Commit(ctx, txID)
}

// Rollback attempts to undo a failed transaction.
func (e *Engine) Rollback(ctx context.Context, txID string) (*RollbackResult, error) {
	return e.txs.Rollback(ctx, txID)
}

// Cancel discards an uncommitted transaction.
func (e *Engine) Cancel(ctx context.Context, txID string) error {
	return e.txs.Cancel(ctx, txID)
}

// Subscribe subscribes a handler to a specific event type.
// Multiple handlers can be registered for the same event type.
func (e *Engine) Subscribe(eventType event.EventType, handler event.EventHandler) error {
	if e.events == nil {
		return nil
	}
	return e.events.Subscribe(eventType, handler)
}

// SubscribeAll subscribes a handler to all events.
func (e *Engine) SubscribeAll(handler event.EventHandler) error {
	if e.events == nil {
		return nil
	}
	return e.events.SubscribeAll(handler)
}

// Batcher returns the underlying batcher.
func (e *Engine) Batcher() *Batcher {
	return e.batcher
}

// Transactions returns the underlying transaction manager.
func (e *Engine) Transactions() *TxManager {
	return e.txs
}

// Sweeper returns the underlying sweeper.
// This is useful for on-demand scans.
func (e *Engine) Sweeper() *sweep.Worker {
	return e.sweeper
}

// Store returns the underlying snapshot store.
func (e *Engine) Store() SnapshotStore {
	return e.store
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}
