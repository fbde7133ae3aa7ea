package sheetbatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheetbatch/event"
	"sheetbatch/lock"
	"sheetbatch/metrics"
	"sheetbatch/tracing"
)

// TxManager manages client-side transactions: it registers them,
// buffers their operations, captures pre-transaction snapshots and
// applies each transaction atomically in a single physical call at
// commit time.
type TxManager struct {
	// Dependencies
	client  RemoteClient
	store   SnapshotStore
	locker  lock.Locker
	events  event.EventBus
	metrics metrics.Metrics
	tracer  tracing.Tracer

	config Config

	mu     sync.RWMutex
	active map[string]*Tx

	statsMu sync.Mutex
	stats   txCounters
}

type txCounters struct {
	begun      int64
	committed  int64
	failed     int64
	rolledBack int64
	cancelled  int64
	expired    int64
	opsApplied int64
	callsUsed  int64
	callsSaved int64
}

// TxManagerStats is the observational snapshot exposed by Stats.
type TxManagerStats struct {
	Active     int
	Begun      int64
	Committed  int64
	Failed     int64
	RolledBack int64
	Cancelled  int64
	Expired    int64
	OpsApplied int64
	CallsUsed  int64
	CallsSaved int64
}

// TxManagerOption is a function that configures the TxManager.
type TxManagerOption func(*TxManager)

// WithManagerClient sets the remote client for the manager.
func WithManagerClient(c RemoteClient) TxManagerOption {
	return func(m *TxManager) {
		m.client = c
	}
}

// WithManagerSnapshotStore sets the snapshot store for the manager.
func WithManagerSnapshotStore(s SnapshotStore) TxManagerOption {
	return func(m *TxManager) {
		m.store = s
	}
}

// WithManagerLocker sets the distributed locker guarding commits.
func WithManagerLocker(l lock.Locker) TxManagerOption {
	return func(m *TxManager) {
		m.locker = l
	}
}

// WithManagerEventBus sets the event bus for the manager.
func WithManagerEventBus(e event.EventBus) TxManagerOption {
	return func(m *TxManager) {
		m.events = e
	}
}

// WithManagerMetrics sets the metrics sink for the manager.
func WithManagerMetrics(mt metrics.Metrics) TxManagerOption {
	return func(m *TxManager) {
		m.metrics = mt
	}
}

// WithManagerTracer sets the tracer for the manager.
func WithManagerTracer(t tracing.Tracer) TxManagerOption {
	return func(m *TxManager) {
		m.tracer = t
	}
}

// WithManagerConfig sets the configuration for the manager.
func WithManagerConfig(cfg Config) TxManagerOption {
	return func(m *TxManager) {
		m.config = cfg
	}
}

// NewTxManager creates a new TxManager with the given options. A remote
// client must be configured before beginning transactions.
func NewTxManager(opts ...TxManagerOption) *TxManager {
	m := &TxManager{
		active:  make(map[string]*Tx),
		config:  DefaultConfig(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin registers a new pending transaction against the target and
// captures its pre-transaction snapshot when auto-snapshot is enabled.
// The transaction is registered before capture is attempted: a capture
// or store failure returns the transaction alongside the error, left in
// pending with no snapshot, so the caller can still cancel it or commit
// without rollback protection.
func (m *TxManager) Begin(ctx context.Context, target string, opts ...TxOption) (*Tx, error) {
	if !m.config.TransactionsEnabled {
		return nil, ErrTransactionsDisabled
	}
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidConfig)
	}

	tx := newTx(target, m.config, opts...)

	m.mu.Lock()
	if m.config.MaxConcurrentTransactions > 0 && len(m.active) >= m.config.MaxConcurrentTransactions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyTransactions, m.config.MaxConcurrentTransactions)
	}
	m.active[tx.id] = tx
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.begun++
	m.statsMu.Unlock()
	m.metrics.TxBegun(target)
	m.publishEvent(ctx, event.NewEvent(event.EventTxBegun).
		WithTxID(tx.id).
		WithTarget(target).
		WithData("isolation", string(tx.isolation)))

	if !tx.autoSnapshot {
		return tx, nil
	}

	snap, err := captureSnapshot(ctx, m.client, tx.id, target, m.config)
	if err != nil {
		return tx, err
	}
	if m.store != nil {
		if err := m.store.PutSnapshot(ctx, snap); err != nil {
			return tx, fmt.Errorf("%w: %v", ErrStoreOperationFailed, err)
		}
	}
	tx.setSnapshot(snap)
	m.metrics.SnapshotCaptured(snap.SizeBytes)
	m.publishEvent(ctx, event.NewEvent(event.EventSnapshotCaptured).
		WithTxID(tx.id).
		WithTarget(target).
		WithData("snapshot_id", snap.ID).
		WithData("bytes", snap.SizeBytes))

	return tx, nil
}

// Queue buffers one operation in a live transaction and returns the
// operation's ID. No physical call happens. The first queued operation
// moves the transaction from PENDING to QUEUED. DependsOn may reference
// operations not queued yet; references are validated at commit time.
func (m *TxManager) Queue(ctx context.Context, txID string, op Operation, dependsOn ...int) (int, error) {
	tx, err := m.Get(txID)
	if err != nil {
		return 0, err
	}

	for _, d := range dependsOn {
		if d < 0 {
			return 0, fmt.Errorf("%w: %d", ErrUnknownDependency, d)
		}
	}

	qo, err := tx.queue(op, dependsOn, m.config.MaxOpsPerTransaction)
	if err != nil {
		return 0, err
	}
	m.publishEvent(ctx, event.NewEvent(event.EventTxQueued).
		WithTxID(tx.id).
		WithTarget(tx.target).
		WithOpKind(string(op.Kind)).
		WithData("op_id", qo.ID))
	return qo.ID, nil
}

// Commit applies every queued operation in one physical call. Nothing
// is sent unless dependency validation passes; validation failures
// leave the transaction queued. A failed physical call moves the
// transaction to FAILED and, when auto-rollback is enabled, triggers a
// rollback attempt whose outcome is reported via the event bus. A call
// that succeeds but does not acknowledge every operation fails the
// transaction the same way, with the unacknowledged operations marked
// FAILED and the acknowledged ones APPLIED.
func (m *TxManager) Commit(ctx context.Context, txID string) (*TransactionResult, error) {
	tx, err := m.Get(txID)
	if err != nil {
		return nil, err
	}

	ops := tx.Ops()
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTransaction, txID)
	}
	if err := validateDependencies(ops); err != nil {
		return nil, err
	}

	if err := tx.transition(TxStatusExecuting); err != nil {
		return nil, err
	}

	if m.config.CommitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.CommitTimeout)
		defer cancel()
	}
	ctx, span := m.tracer.StartCommit(ctx, tx.id, tx.target)
	defer span.End()

	if m.locker != nil {
		lockStart := time.Now()
		handle, err := m.locker.Acquire(ctx, []string{tx.target}, m.config.LockTTL)
		if err != nil {
			m.metrics.LockFailed(err.Error())
			wrapped := fmt.Errorf("%w: %v", ErrLockAcquisitionFailed, err)
			return nil, m.failCommit(ctx, tx, span, wrapped)
		}
		m.metrics.LockAcquired(time.Since(lockStart))
		defer handle.Release(context.WithoutCancel(ctx))
	}

	start := time.Now()
	requests, offsets, skipped, err := m.buildCommitRequests(ctx, tx.target, ops)
	if err != nil {
		return nil, m.failCommit(ctx, tx, span, fmt.Errorf("%w: %v", ErrCommitFailed, err))
	}
	if len(requests) == 0 {
		return nil, m.failCommit(ctx, tx, span, fmt.Errorf("%w: no applicable operations", ErrCommitFailed))
	}

	replies, err := m.client.ApplyStructural(ctx, tx.target, requests)
	duration := time.Since(start)
	if err != nil {
		return nil, m.failCommit(ctx, tx, span, fmt.Errorf("%w: %v", ErrCommitFailed, err))
	}

	results, unacked := fanOutReplies(ops, offsets, replies)
	if unacked > 0 {
		// Reply absent means that operation failed even though the call
		// itself came back clean. Acknowledged operations are marked
		// before failCommit moves the rest to FAILED.
		for i, qo := range ops {
			if results[i] != nil && results[i].Err == nil {
				tx.markOp(qo.ID, OpStatusApplied)
			}
		}
		cause := fmt.Errorf("%w: %d of %d operations unacknowledged",
			ErrMissingReply, unacked, len(ops)-skipped)
		return nil, m.failCommit(ctx, tx, span, cause)
	}

	if err := tx.transition(TxStatusCommitted); err != nil {
		return nil, err
	}
	tx.markOps(OpStatusQueued, OpStatusApplied)
	m.removeActive(tx.id)

	applied := len(ops) - skipped
	result := &TransactionResult{
		TxID:       tx.id,
		Target:     tx.target,
		OpsApplied: applied,
		OpsSkipped: skipped,
		CallsUsed:  1,
		Duration:   duration,
		Results:    results,
	}
	if applied > 1 {
		result.CallsSaved = applied - 1
	}

	m.statsMu.Lock()
	m.stats.committed++
	m.stats.opsApplied += int64(applied)
	m.stats.callsUsed += int64(result.CallsUsed)
	m.stats.callsSaved += int64(result.CallsSaved)
	m.statsMu.Unlock()

	m.metrics.TxCommitted(tx.target, applied, duration)
	m.publishEvent(ctx, event.NewEvent(event.EventTxCommitted).
		WithTxID(tx.id).
		WithTarget(tx.target).
		WithData("ops", applied).
		WithData("calls_saved", result.CallsSaved).
		WithData("duration", duration))
	return result, nil
}

// failCommit records a commit failure, marks the operations, publishes
// the failure and runs the auto-rollback policy. It returns the error
// the caller should surface.
func (m *TxManager) failCommit(ctx context.Context, tx *Tx, span tracing.Span, cause error) error {
	span.SetError(cause)
	if err := tx.fail(cause); err != nil {
		return err
	}
	tx.markOps(OpStatusQueued, OpStatusFailed)

	m.statsMu.Lock()
	m.stats.failed++
	m.statsMu.Unlock()
	m.metrics.TxFailed(tx.target, cause.Error())
	m.publishEvent(ctx, event.NewEvent(event.EventTxFailed).
		WithTxID(tx.id).
		WithTarget(tx.target).
		WithError(cause))

	if tx.autoRollback {
		if _, err := m.Rollback(ctx, tx.id); err != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", cause, err)
		}
	}
	return cause
}

// buildCommitRequests converts the buffered operations into one flat
// list of structural sub-requests, in queue order. Sheet names are
// resolved once per distinct sheet. Operations with no structural
// conversion are marked skipped and excluded. offsets[i] is the index
// of ops[i]'s first sub-request, or -1 when it contributed none.
func (m *TxManager) buildCommitRequests(ctx context.Context, target string, ops []*QueuedOp) (requests []map[string]any, offsets []int, skipped int, err error) {
	sheetIDs := make(map[string]int64)
	resolve := func(name string) (int64, error) {
		if id, ok := sheetIDs[name]; ok {
			return id, nil
		}
		id, err := m.client.ResolveSheetID(ctx, target, name)
		if err != nil {
			return 0, fmt.Errorf("resolve sheet %q: %w", name, err)
		}
		sheetIDs[name] = id
		return id, nil
	}

	offsets = make([]int, len(ops))
	for i, qo := range ops {
		offsets[i] = -1
		var converted []map[string]any

		switch qo.Op.Kind {
		case OpWriteValues:
			r, perr := parseA1Range(qo.Op.Range)
			if perr != nil {
				return nil, nil, 0, perr
			}
			id, rerr := resolve(r.Sheet)
			if rerr != nil {
				return nil, nil, 0, rerr
			}
			rows := make([]map[string]any, len(qo.Op.Values))
			for ri, row := range qo.Op.Values {
				cells := make([]map[string]any, len(row))
				for ci, v := range row {
					cells[ci] = inferCellValue(v)
				}
				rows[ri] = map[string]any{"values": cells}
			}
			converted = []map[string]any{{
				"updateCells": map[string]any{
					"range":  r.GridRange(id),
					"rows":   rows,
					"fields": "userEnteredValue",
				},
			}}

		case OpAppendValues:
			id, rerr := resolve(qo.Op.Sheet)
			if rerr != nil {
				return nil, nil, 0, rerr
			}
			rows := make([]map[string]any, len(qo.Op.Values))
			for ri, row := range qo.Op.Values {
				cells := make([]map[string]any, len(row))
				for ci, v := range row {
					cells[ci] = inferCellValue(v)
				}
				rows[ri] = map[string]any{"values": cells}
			}
			converted = []map[string]any{{
				"appendCells": map[string]any{
					"sheetId": id,
					"rows":    rows,
					"fields":  "userEnteredValue",
				},
			}}

		case OpClearRange:
			r, perr := parseA1Range(qo.Op.Range)
			if perr != nil {
				return nil, nil, 0, perr
			}
			id, rerr := resolve(r.Sheet)
			if rerr != nil {
				return nil, nil, 0, rerr
			}
			// updateCells with no rows clears the range.
			converted = []map[string]any{{
				"updateCells": map[string]any{
					"range":  r.GridRange(id),
					"fields": "userEnteredValue",
				},
			}}

		case OpStructural:
			converted = qo.Op.Requests

		default:
			qo.Status = OpStatusSkipped
			skipped++
			continue
		}

		if len(converted) > 0 {
			offsets[i] = len(requests)
			requests = append(requests, converted...)
		}
	}
	return requests, offsets, skipped, nil
}

// fanOutReplies distributes the commit call's replies back to the
// operations that contributed sub-requests. An operation whose
// sub-requests are not all covered by a reply is marked failed; the
// returned count says how many operations that hit.
func fanOutReplies(ops []*QueuedOp, offsets []int, replies []map[string]any) ([]*OperationResult, int) {
	results := make([]*OperationResult, len(ops))
	unacked := 0
	for i, qo := range ops {
		if offsets[i] < 0 {
			continue
		}
		res := &OperationResult{}
		n := 1
		if qo.Op.Kind == OpStructural {
			n = len(qo.Op.Requests)
		}
		start := offsets[i]
		end := start + n
		if end <= len(replies) {
			res.Replies = replies[start:end]
		} else {
			res.Err = fmt.Errorf("%w: operation %d", ErrMissingReply, qo.ID)
			unacked++
		}
		results[i] = res
	}
	return results, unacked
}

// Rollback attempts to undo a failed transaction. A snapshot must
// exist; snapshots record structure only, so remote cell values are
// never rewritten and the result says exactly what happened instead of
// pretending restoration occurred. The snapshot stays in the store
// until TTL expiry so recovery tooling can still reach it by id.
func (m *TxManager) Rollback(ctx context.Context, txID string) (*RollbackResult, error) {
	tx, err := m.Get(txID)
	if err != nil {
		return nil, err
	}

	snap := m.lookupSnapshot(ctx, tx)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, txID)
	}

	if err := tx.transition(TxStatusRolledBack); err != nil {
		return nil, err
	}
	m.removeActive(tx.id)

	result := rollbackReport(tx.id, snap)

	m.statsMu.Lock()
	m.stats.rolledBack++
	m.statsMu.Unlock()
	m.metrics.TxRolledBack(tx.target)
	m.publishEvent(ctx, event.NewEvent(event.EventTxRolledBack).
		WithTxID(tx.id).
		WithTarget(tx.target).
		WithData("restored", result.Restored).
		WithData("reason", result.Reason))
	return result, nil
}

// Cancel discards a live transaction without any physical call. When a
// snapshot exists the cancel inherits the rollback reporting contract:
// nothing is restored, and the snapshot is left in the store until TTL
// expiry because recovery tooling may still reference it by id. The
// transaction always leaves the active set.
func (m *TxManager) Cancel(ctx context.Context, txID string) error {
	tx, err := m.Get(txID)
	if err != nil {
		return err
	}

	if err := tx.transition(TxStatusCancelled); err != nil {
		return err
	}
	m.removeActive(tx.id)

	ev := event.NewEvent(event.EventTxCancelled).
		WithTxID(tx.id).
		WithTarget(tx.target)
	if snap := m.lookupSnapshot(ctx, tx); snap != nil {
		report := rollbackReport(tx.id, snap)
		ev = ev.WithData("snapshot_id", report.SnapshotID).
			WithData("restored", report.Restored).
			WithData("reason", report.Reason)
	}

	m.statsMu.Lock()
	m.stats.cancelled++
	m.statsMu.Unlock()
	m.metrics.TxCancelled(tx.target)
	m.publishEvent(ctx, ev)
	return nil
}

// lookupSnapshot finds the transaction's snapshot, falling back to the
// store for transactions whose in-memory reference was never set.
func (m *TxManager) lookupSnapshot(ctx context.Context, tx *Tx) *Snapshot {
	snap := tx.Snapshot()
	if snap == nil && m.store != nil {
		snap, _ = m.store.GetSnapshotByTx(ctx, tx.id)
	}
	return snap
}

// rollbackReport builds the non-restoration report for a rollback
// attempt. Restored is always false: snapshots hold structure only and
// writing them back could clobber concurrent external edits.
func rollbackReport(txID string, snap *Snapshot) *RollbackResult {
	return &RollbackResult{
		TxID:       txID,
		Attempted:  true,
		SnapshotID: snap.ID,
		Reason:     "snapshot holds structure only; cell values were not rewritten",
		RecoverySteps: []string{
			fmt.Sprintf("inspect snapshot %s for the pre-transaction sheet inventory", snap.ID),
			"compare current structure against the snapshot and undo structural changes manually",
			"re-apply lost values from the source of truth",
		},
	}
}

// ExpireIdle cancels every transaction still accepting operations that
// has been idle for longer than idleFor and returns the IDs it
// cancelled. Called by the sweeper.
func (m *TxManager) ExpireIdle(ctx context.Context, idleFor time.Duration) []string {
	if idleFor <= 0 {
		return nil
	}

	m.mu.RLock()
	candidates := make([]*Tx, 0, len(m.active))
	for _, tx := range m.active {
		candidates = append(candidates, tx)
	}
	m.mu.RUnlock()

	var expired []string
	for _, tx := range candidates {
		idle := tx.IdleFor()
		status := tx.Status()
		if (status != TxStatusPending && status != TxStatusQueued) || idle < idleFor {
			continue
		}
		if err := tx.transition(TxStatusCancelled); err != nil {
			continue
		}
		m.removeActive(tx.id)
		expired = append(expired, tx.id)

		m.statsMu.Lock()
		m.stats.expired++
		m.stats.cancelled++
		m.statsMu.Unlock()
		m.metrics.TxCancelled(tx.target)
		m.publishEvent(ctx, event.NewEvent(event.EventTxCancelled).
			WithTxID(tx.id).
			WithTarget(tx.target).
			WithError(ErrTransactionExpired).
			WithData("idle_for", idle.String()))
	}
	return expired
}

// Get returns a live transaction by ID.
func (m *TxManager) Get(txID string) (*Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.active[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	return tx, nil
}

// ActiveTransactions returns all live transactions.
func (m *TxManager) ActiveTransactions() []*Tx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Tx, 0, len(m.active))
	for _, tx := range m.active {
		result = append(result, tx)
	}
	return result
}

// Stats returns the current transaction statistics.
func (m *TxManager) Stats() TxManagerStats {
	m.mu.RLock()
	active := len(m.active)
	m.mu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return TxManagerStats{
		Active:     active,
		Begun:      m.stats.begun,
		Committed:  m.stats.committed,
		Failed:     m.stats.failed,
		RolledBack: m.stats.rolledBack,
		Cancelled:  m.stats.cancelled,
		Expired:    m.stats.expired,
		OpsApplied: m.stats.opsApplied,
		CallsUsed:  m.stats.callsUsed,
		CallsSaved: m.stats.callsSaved,
	}
}

// ResetStats resets the transaction statistics.
func (m *TxManager) ResetStats() {
	m.statsMu.Lock()
	m.stats = txCounters{}
	m.statsMu.Unlock()
}

func (m *TxManager) removeActive(txID string) {
	m.mu.Lock()
	delete(m.active, txID)
	m.mu.Unlock()
}

// publishEvent publishes an event to the event bus.
func (m *TxManager) publishEvent(ctx context.Context, e event.Event) {
	if m.events != nil {
		m.events.Publish(ctx, e)
	}
}

// validateDependencies checks the declared operation dependencies:
// every reference must name a queued operation and the dependency graph
// must be acyclic. Ordering within the commit call is by queue order
// regardless; the declaration exists so mistakes surface before any
// physical call.
func validateDependencies(ops []*QueuedOp) error {
	byID := make(map[int]*QueuedOp, len(ops))
	for _, qo := range ops {
		byID[qo.ID] = qo
	}
	for _, qo := range ops {
		for _, d := range qo.DependsOn {
			if _, ok := byID[d]; !ok {
				return fmt.Errorf("%w: operation %d depends on %d", ErrUnknownDependency, qo.ID, d)
			}
			if d == qo.ID {
				return fmt.Errorf("%w: operation %d depends on itself", ErrCircularDependency, qo.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[int]int, len(ops))

	var visit func(id int) bool
	visit = func(id int) bool {
		colors[id] = gray
		for _, d := range byID[id].DependsOn {
			switch colors[d] {
			case gray:
				return false
			case white:
				if !visit(d) {
					return false
				}
			}
		}
		colors[id] = black
		return true
	}

	for _, qo := range ops {
		if colors[qo.ID] == white {
			if !visit(qo.ID) {
				return fmt.Errorf("%w: involving operation %d", ErrCircularDependency, qo.ID)
			}
		}
	}
	return nil
}
