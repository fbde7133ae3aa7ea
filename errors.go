package sheetbatch

import "errors"

// Configuration errors
var (
	// ErrTransactionsDisabled indicates the transaction manager is disabled
	ErrTransactionsDisabled = errors.New("transactions disabled")

	// ErrTooManyTransactions indicates the concurrent transaction limit was reached
	ErrTooManyTransactions = errors.New("too many concurrent transactions")

	// ErrTooManyOperations indicates the per-transaction operation limit was reached
	ErrTooManyOperations = errors.New("too many operations in transaction")

	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Batching errors
var (
	// ErrBatcherClosed indicates the batcher has been shut down
	ErrBatcherClosed = errors.New("batcher closed")

	// ErrUnsupportedBatchType indicates no merge strategy exists for the operation kind
	ErrUnsupportedBatchType = errors.New("unsupported batch type")

	// ErrBatchFailed indicates the physical call for a batch failed
	ErrBatchFailed = errors.New("batch failed")
)

// Transaction errors
var (
	// ErrTransactionNotFound indicates the transaction does not exist
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransactionState indicates an invalid state transition
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrEmptyTransaction indicates commit was called with no queued operations
	ErrEmptyTransaction = errors.New("transaction has no operations")

	// ErrCircularDependency indicates the declared operation dependencies form a cycle
	ErrCircularDependency = errors.New("circular dependency")

	// ErrUnknownDependency indicates a declared dependency references no queued operation
	ErrUnknownDependency = errors.New("unknown operation dependency")

	// ErrCommitFailed indicates the commit physical call failed
	ErrCommitFailed = errors.New("commit failed")

	// ErrMissingReply indicates the commit call returned no reply for
	// one or more operations
	ErrMissingReply = errors.New("missing reply for operation")

	// ErrTransactionExpired indicates the transaction exceeded its idle timeout
	ErrTransactionExpired = errors.New("transaction expired")
)

// Snapshot errors
var (
	// ErrSnapshotTooLarge indicates the serialized snapshot exceeds the configured cap
	ErrSnapshotTooLarge = errors.New("snapshot too large")

	// ErrSnapshotMissing indicates rollback was requested without a snapshot
	ErrSnapshotMissing = errors.New("no snapshot for transaction")

	// ErrSnapshotNotFound indicates the snapshot does not exist in the store
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrStoreOperationFailed indicates a snapshot store operation failed
	ErrStoreOperationFailed = errors.New("snapshot store operation failed")
)

// Circuit breaker errors
var (
	// ErrCircuitOpen indicates the circuit breaker rejected the call
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Lock errors
var (
	// ErrLockAcquisitionFailed indicates lock acquisition failed
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrLockNotHeld indicates the lock is not held
	ErrLockNotHeld = errors.New("lock not held")
)
