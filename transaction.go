package sheetbatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tx is one client-side transaction: a buffer of queued operations
// against a single target, applied atomically at commit time. A Tx is
// safe for concurrent use; the manager and the sweeper both touch it.
type Tx struct {
	mu sync.RWMutex

	// id is the unique transaction identifier
	id string

	// target is the spreadsheet the transaction mutates
	target string

	// isolation is advisory and recorded for observability
	isolation IsolationLevel

	// autoRollback triggers a rollback attempt on commit failure
	autoRollback bool

	// autoSnapshot captures a pre-transaction snapshot at begin
	autoSnapshot bool

	status TxStatus
	ops    []*QueuedOp

	// nextOrder is the id assigned to the next queued operation
	nextOrder int

	snapshot *Snapshot

	startTime    time.Time
	endTime      time.Time
	lastActivity time.Time

	// failure holds the error that moved the transaction to FAILED
	failure error
}

// QueuedOp is one operation buffered in a transaction. IDs are assigned
// monotonically per transaction and are what DependsOn references.
type QueuedOp struct {
	// ID is the per-transaction sequence number, starting at 0.
	ID int

	// Op is the buffered operation. Its Target is forced to the
	// transaction's target.
	Op Operation

	// DependsOn lists the IDs of previously queued operations this one
	// declares a dependency on. Checked for cycles and dangling
	// references before commit; ordering within the commit call is by
	// ID regardless.
	DependsOn []int

	// Status tracks the operation through the commit.
	Status OpStatus

	// QueuedAt records when the operation entered the buffer.
	QueuedAt time.Time
}

// TxOption is a function that configures a transaction at Begin.
type TxOption func(*Tx)

// WithTxIsolation sets the advisory isolation level for the transaction.
func WithTxIsolation(level IsolationLevel) TxOption {
	return func(t *Tx) {
		t.isolation = level
	}
}

// WithTxAutoRollback overrides the manager default for this transaction.
func WithTxAutoRollback(enabled bool) TxOption {
	return func(t *Tx) {
		t.autoRollback = enabled
	}
}

// WithTxAutoSnapshot overrides the manager default for this transaction.
func WithTxAutoSnapshot(enabled bool) TxOption {
	return func(t *Tx) {
		t.autoSnapshot = enabled
	}
}

// newTx creates a pending transaction with defaults from cfg, then
// applies per-transaction options.
func newTx(target string, cfg Config, opts ...TxOption) *Tx {
	now := time.Now()
	t := &Tx{
		id:           uuid.New().String(),
		target:       target,
		isolation:    cfg.DefaultIsolation,
		autoRollback: cfg.AutoRollback,
		autoSnapshot: cfg.AutoSnapshot,
		status:       TxStatusPending,
		startTime:    now,
		lastActivity: now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the transaction ID.
func (t *Tx) ID() string {
	return t.id
}

// Target returns the spreadsheet the transaction mutates.
func (t *Tx) Target() string {
	return t.target
}

// Status returns the current transaction status.
func (t *Tx) Status() TxStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Isolation returns the advisory isolation level.
func (t *Tx) Isolation() IsolationLevel {
	return t.isolation
}

// Ops returns a copy of the queued operations.
func (t *Tx) Ops() []*QueuedOp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]*QueuedOp, len(t.ops))
	copy(result, t.ops)
	return result
}

// OpCount returns the number of queued operations.
func (t *Tx) OpCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ops)
}

// Snapshot returns the pre-transaction snapshot, or nil when capture
// was disabled or has not succeeded.
func (t *Tx) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// StartTime returns when the transaction was begun.
func (t *Tx) StartTime() time.Time {
	return t.startTime
}

// EndTime returns when the transaction reached a terminal state, or the
// zero time while it is still live.
func (t *Tx) EndTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endTime
}

// Failure returns the error that failed the transaction, or nil.
func (t *Tx) Failure() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failure
}

// IdleFor returns how long ago the transaction last saw activity.
func (t *Tx) IdleFor() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.lastActivity)
}

// touch records activity on the transaction for idle accounting.
func (t *Tx) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// setSnapshot attaches the pre-transaction snapshot.
func (t *Tx) setSnapshot(s *Snapshot) {
	t.mu.Lock()
	t.snapshot = s
	t.mu.Unlock()
}

// queue appends an operation to the buffer and returns its ID. State
// and capacity are checked under the same lock as the append, so a
// concurrent commit cannot slip an operation into an executing
// transaction. The first queued operation moves the transaction from
// PENDING to QUEUED.
func (t *Tx) queue(op Operation, dependsOn []int, maxOps int) (*QueuedOp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TxStatusPending && t.status != TxStatusQueued {
		return nil, fmt.Errorf("%w: cannot queue in %s", ErrInvalidTransactionState, t.status)
	}
	if maxOps > 0 && len(t.ops) >= maxOps {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyOperations, maxOps)
	}
	if t.status == TxStatusPending {
		t.status = TxStatusQueued
	}

	op.Target = t.target
	qo := &QueuedOp{
		ID:        t.nextOrder,
		Op:        op,
		DependsOn: append([]int(nil), dependsOn...),
		Status:    OpStatusQueued,
		QueuedAt:  time.Now(),
	}
	t.nextOrder++
	t.ops = append(t.ops, qo)
	t.lastActivity = qo.QueuedAt
	return qo, nil
}

// transition moves the transaction to a new status, enforcing the
// transition table. Terminal statuses record the end time.
func (t *Tx) transition(to TxStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ValidateTxTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransactionState, t.status, to)
	}
	t.status = to
	t.lastActivity = time.Now()
	if IsTxTerminal(to) {
		t.endTime = t.lastActivity
	}
	return nil
}

// fail moves the transaction to FAILED and records the cause.
func (t *Tx) fail(cause error) error {
	if err := t.transition(TxStatusFailed); err != nil {
		return err
	}
	t.mu.Lock()
	t.failure = cause
	t.mu.Unlock()
	return nil
}

// markOp sets one operation's status, respecting the per-operation
// transition table.
func (t *Tx) markOp(id int, to OpStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, qo := range t.ops {
		if qo.ID == id && ValidateOpTransition(qo.Status, to) {
			qo.Status = to
		}
	}
}

// markOps sets every queued operation in the given status to a new one,
// respecting the per-operation transition table.
func (t *Tx) markOps(from, to OpStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, qo := range t.ops {
		if qo.Status == from && ValidateOpTransition(from, to) {
			qo.Status = to
		}
	}
}

// TransactionResult is the outcome of a successful commit.
type TransactionResult struct {
	// TxID identifies the committed transaction.
	TxID string

	// Target is the spreadsheet the transaction mutated.
	Target string

	// OpsApplied is the number of operations carried by the commit call.
	OpsApplied int

	// OpsSkipped is the number of queued operations excluded from the
	// commit call because no structural conversion exists for them.
	OpsSkipped int

	// CallsUsed is the number of physical calls the commit consumed.
	CallsUsed int

	// CallsSaved is the number of physical calls avoided versus
	// applying each operation individually.
	CallsSaved int

	// Duration is the time from commit start to remote acknowledgement.
	Duration time.Duration

	// Results holds the per-operation outcomes, indexed like the
	// transaction's queued operations.
	Results []*OperationResult
}

// RollbackResult reports what a rollback attempt did. Attempted and
// Restored are distinct on purpose: a rollback can run to completion
// without restoring anything when no snapshot exists or the snapshot
// carries only structure.
type RollbackResult struct {
	// TxID identifies the rolled-back transaction.
	TxID string

	// Attempted is true when a rollback was actually tried.
	Attempted bool

	// Restored is true when remote state was written back from the
	// snapshot. Metadata-only snapshots never set this.
	Restored bool

	// Reason explains why nothing was restored.
	Reason string

	// SnapshotID names the snapshot consulted, when one existed.
	SnapshotID string

	// RecoverySteps lists manual actions for the operator when
	// automatic restoration was not possible.
	RecoverySteps []string
}
