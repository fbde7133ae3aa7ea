package sheetbatch

import (
	"context"
	"sync"
	"time"

	"sheetbatch/event"
	"sheetbatch/metrics"
	"sheetbatch/tracing"
)

// Batcher coalesces concurrently submitted mutations into batched
// physical calls. Operations are routed by BatchKey into keyed FIFO
// queues; each queue owns one timer armed with the adaptive collection
// window, and drains either when the timer fires or when the queue
// reaches the size threshold, whichever comes first.
type Batcher struct {
	// Dependencies
	client  RemoteClient
	events  event.EventBus
	metrics metrics.Metrics
	tracer  tracing.Tracer

	window *WindowController
	config Config

	mu     sync.Mutex
	queues map[BatchKey]*opQueue
	closed bool

	statsMu sync.Mutex
	stats   batcherCounters
}

// opQueue holds the pending operations for one BatchKey. A queue has an
// active timer iff it is registered in the queues map; drains claim a
// queue by deleting its map entry under the batcher mutex, which is
// what makes timer-triggered and size-triggered drains on the same key
// mutually exclusive.
type opQueue struct {
	ops   []*pendingOp
	timer *time.Timer
}

type batcherCounters struct {
	totalOps     int64
	totalBatches int64
	totalCalls   int64
	sizeSum      int64
	sizeMin      int
	sizeMax      int
	durationSum  time.Duration
}

// BatcherStats is the observational snapshot exposed by Stats. It never
// influences dispatch decisions.
type BatcherStats struct {
	TotalOperations  int64
	TotalBatches     int64
	TotalCalls       int64
	CallsSaved       int64
	AvgBatchSize     float64
	MinBatchSize     int
	MaxBatchSize     int
	AvgBatchDuration time.Duration
	CurrentWindow    time.Duration
	AverageWindow    time.Duration
}

// BatcherOption is a function that configures the Batcher.
type BatcherOption func(*Batcher)

// WithBatcherClient sets the remote client for the batcher.
func WithBatcherClient(c RemoteClient) BatcherOption {
	return func(b *Batcher) {
		b.client = c
	}
}

// WithBatcherEventBus sets the event bus for the batcher.
func WithBatcherEventBus(e event.EventBus) BatcherOption {
	return func(b *Batcher) {
		b.events = e
	}
}

// WithBatcherMetrics sets the metrics sink for the batcher.
func WithBatcherMetrics(m metrics.Metrics) BatcherOption {
	return func(b *Batcher) {
		b.metrics = m
	}
}

// WithBatcherTracer sets the tracer for the batcher.
func WithBatcherTracer(t tracing.Tracer) BatcherOption {
	return func(b *Batcher) {
		b.tracer = t
	}
}

// WithBatcherConfig sets the configuration for the batcher.
func WithBatcherConfig(cfg Config) BatcherOption {
	return func(b *Batcher) {
		b.config = cfg
	}
}

// NewBatcher creates a new Batcher with the given options. A remote
// client must be configured before submitting operations.
func NewBatcher(opts ...BatcherOption) *Batcher {
	b := &Batcher{
		queues:  make(map[BatchKey]*opQueue),
		config:  DefaultConfig(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
	}

	for _, opt := range opts {
		opt(b)
	}

	b.window = NewWindowController(b.config)
	return b
}

// Window returns the batcher's window controller.
func (b *Batcher) Window() *WindowController {
	return b.window
}

// Submit enqueues one operation for batched execution and returns its
// completion handle. When batching is disabled the operation executes
// immediately as a single-operation physical call. The first operation
// in a queue arms the queue's timer; reaching MaxBatchSize drains the
// queue immediately, taking priority over the timer.
func (b *Batcher) Submit(ctx context.Context, op Operation) (*Promise, error) {
	po := newPendingOp(op)
	key := BatchKey{Target: op.Target, Kind: op.Kind}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBatcherClosed
	}

	b.metrics.OpSubmitted(string(op.Kind))
	b.statsMu.Lock()
	b.stats.totalOps++
	b.statsMu.Unlock()

	if !b.config.BatchingEnabled {
		b.mu.Unlock()
		b.runBatch(ctx, key, []*pendingOp{po})
		return po.promise, nil
	}

	q, ok := b.queues[key]
	if !ok {
		q = &opQueue{}
		b.queues[key] = q
		d := b.config.FixedWindow
		if b.config.AdaptiveWindow {
			d = b.window.Current()
		}
		queue := q
		q.timer = time.AfterFunc(d, func() {
			b.drainOnTimer(key, queue)
		})
	}
	q.ops = append(q.ops, po)

	var drained []*pendingOp
	if len(q.ops) >= b.config.MaxBatchSize {
		q.timer.Stop()
		delete(b.queues, key)
		drained = q.ops
	}
	b.mu.Unlock()

	if drained != nil {
		go b.runBatch(context.Background(), key, drained)
	}

	return po.promise, nil
}

// drainOnTimer is the timer callback. The identity check against the
// registered queue makes a late-firing timer a no-op when a size
// trigger or FlushAll already claimed the queue.
func (b *Batcher) drainOnTimer(key BatchKey, q *opQueue) {
	b.mu.Lock()
	cur, ok := b.queues[key]
	if !ok || cur != q {
		b.mu.Unlock()
		return
	}
	delete(b.queues, key)
	ops := q.ops
	b.mu.Unlock()

	b.runBatch(context.Background(), key, ops)
}

// FlushAll force-drains every non-empty queue and waits for the drains
// to finish or the context to expire. Used before shutdown to avoid
// dropping pending work.
func (b *Batcher) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	drains := make(map[BatchKey][]*pendingOp, len(b.queues))
	for key, q := range b.queues {
		q.timer.Stop()
		drains[key] = q.ops
		delete(b.queues, key)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for key, ops := range drains {
		wg.Add(1)
		go func(key BatchKey, ops []*pendingOp) {
			defer wg.Done()
			b.runBatch(ctx, key, ops)
		}(key, ops)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all timers and discards all queues. Outstanding
// promises are never resolved: callers needing a bounded wait across
// shutdown must use Wait with a deadline context. This trades
// completion guarantees for fast shutdown; call FlushAll first when
// pending work must not be dropped.
func (b *Batcher) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, q := range b.queues {
		q.timer.Stop()
		delete(b.queues, key)
	}
}

// runBatch executes one drained batch: the window controller observes
// the batch size, the merge strategy turns the operations into one
// physical call, and the response is fanned back out positionally. Any
// physical-call failure rejects every operation in the batch with the
// same error.
func (b *Batcher) runBatch(ctx context.Context, key BatchKey, ops []*pendingOp) {
	if len(ops) == 0 {
		return
	}

	if b.config.AdaptiveWindow {
		b.window.Adjust(len(ops))
		b.metrics.WindowAdjusted(b.window.Current())
	}

	ctx, span := b.tracer.StartDrain(ctx, key.Target, string(key.Kind), len(ops))
	start := time.Now()
	results, err := b.executeBatch(ctx, key, ops)
	duration := time.Since(start)

	b.statsMu.Lock()
	b.stats.totalBatches++
	b.stats.totalCalls++
	b.stats.sizeSum += int64(len(ops))
	if b.stats.sizeMin == 0 || len(ops) < b.stats.sizeMin {
		b.stats.sizeMin = len(ops)
	}
	if len(ops) > b.stats.sizeMax {
		b.stats.sizeMax = len(ops)
	}
	b.stats.durationSum += duration
	b.statsMu.Unlock()

	if err != nil {
		span.SetError(err)
		span.End()
		for _, po := range ops {
			po.promise.reject(err)
		}
		b.metrics.BatchFailed(string(key.Kind), err.Error())
		b.publishEvent(ctx, event.NewEvent(event.EventBatchFailed).
			WithTarget(key.Target).
			WithOpKind(string(key.Kind)).
			WithData("size", len(ops)).
			WithError(err))
		return
	}

	span.End()
	for i, po := range ops {
		po.promise.resolve(results[i])
	}
	b.metrics.BatchFlushed(string(key.Kind), len(ops), duration)
	b.publishEvent(ctx, event.NewEvent(event.EventBatchFlushed).
		WithTarget(key.Target).
		WithOpKind(string(key.Kind)).
		WithData("size", len(ops)).
		WithData("duration", duration))
}

// Stats returns the current batching statistics.
func (b *Batcher) Stats() BatcherStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	s := BatcherStats{
		TotalOperations: b.stats.totalOps,
		TotalBatches:    b.stats.totalBatches,
		TotalCalls:      b.stats.totalCalls,
		MinBatchSize:    b.stats.sizeMin,
		MaxBatchSize:    b.stats.sizeMax,
		CurrentWindow:   b.window.Current(),
		AverageWindow:   b.window.Average(),
	}
	if s.TotalOperations > s.TotalCalls {
		s.CallsSaved = s.TotalOperations - s.TotalCalls
	}
	if b.stats.totalBatches > 0 {
		s.AvgBatchSize = float64(b.stats.sizeSum) / float64(b.stats.totalBatches)
		s.AvgBatchDuration = b.stats.durationSum / time.Duration(b.stats.totalBatches)
	}
	return s
}

// ResetStats resets the batching statistics and the window history.
func (b *Batcher) ResetStats() {
	b.statsMu.Lock()
	b.stats = batcherCounters{}
	b.statsMu.Unlock()
	b.window.Reset()
}

// publishEvent publishes an event to the event bus.
func (b *Batcher) publishEvent(ctx context.Context, e event.Event) {
	if b.events != nil {
		b.events.Publish(ctx, e)
	}
}
