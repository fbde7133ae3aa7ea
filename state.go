package sheetbatch

// TxStatus represents the status of a transaction
type TxStatus string

const (
	// TxStatusPending indicates the transaction has no operations yet
	TxStatusPending TxStatus = "PENDING"
	// TxStatusQueued indicates the transaction holds buffered operations
	TxStatusQueued TxStatus = "QUEUED"
	// TxStatusExecuting indicates the transaction is committing
	TxStatusExecuting TxStatus = "EXECUTING"
	// TxStatusCommitted indicates the transaction committed successfully
	TxStatusCommitted TxStatus = "COMMITTED"
	// TxStatusFailed indicates the commit failed
	TxStatusFailed TxStatus = "FAILED"
	// TxStatusRolledBack indicates a rollback was attempted after failure
	TxStatusRolledBack TxStatus = "ROLLED_BACK"
	// TxStatusCancelled indicates the transaction was discarded before commit
	TxStatusCancelled TxStatus = "CANCELLED"
)

// OpStatus represents the status of a queued operation
type OpStatus string

const (
	// OpStatusQueued indicates the operation is buffered in its transaction
	OpStatusQueued OpStatus = "QUEUED"
	// OpStatusApplied indicates the operation was applied by the commit call
	OpStatusApplied OpStatus = "APPLIED"
	// OpStatusFailed indicates the commit call carrying the operation failed
	OpStatusFailed OpStatus = "FAILED"
	// OpStatusSkipped indicates the operation was excluded from the commit call
	OpStatusSkipped OpStatus = "SKIPPED"
)

// validTxTransitions defines valid state transitions for transactions
var validTxTransitions = map[TxStatus][]TxStatus{
	TxStatusPending: {
		TxStatusQueued,
		TxStatusCancelled,
	},
	TxStatusQueued: {
		TxStatusExecuting,
		TxStatusCancelled,
	},
	TxStatusExecuting: {
		TxStatusCommitted,
		TxStatusFailed,
	},
	TxStatusFailed: {
		TxStatusRolledBack,
	},
	TxStatusCommitted:  {},
	TxStatusRolledBack: {},
	TxStatusCancelled:  {},
}

// ValidateTxTransition checks if a transaction state transition is valid
func ValidateTxTransition(from, to TxStatus) bool {
	validTargets, ok := validTxTransitions[from]
	if !ok {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// IsTxTerminal returns true if the transaction status is terminal (no further transitions)
func IsTxTerminal(status TxStatus) bool {
	switch status {
	case TxStatusCommitted, TxStatusRolledBack, TxStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTxFailed returns true if the transaction ended in failure
func IsTxFailed(status TxStatus) bool {
	switch status {
	case TxStatusFailed, TxStatusRolledBack:
		return true
	default:
		return false
	}
}

// validOpTransitions defines valid state transitions for queued operations
var validOpTransitions = map[OpStatus][]OpStatus{
	OpStatusQueued: {
		OpStatusApplied,
		OpStatusFailed,
		OpStatusSkipped,
	},
	OpStatusApplied: {},
	OpStatusFailed:  {},
	OpStatusSkipped: {},
}

// ValidateOpTransition checks if a queued-operation state transition is valid
func ValidateOpTransition(from, to OpStatus) bool {
	validTargets, ok := validOpTransitions[from]
	if !ok {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// IsOpTerminal returns true if the operation status is terminal
func IsOpTerminal(status OpStatus) bool {
	switch status {
	case OpStatusApplied, OpStatusFailed, OpStatusSkipped:
		return true
	default:
		return false
	}
}
