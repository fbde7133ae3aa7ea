package sheetbatch

import (
	"testing"

	"pgregory.net/rapid"
)

// ============================================================================
// Unit Tests for state.go
// Tests ValidateTxTransition, IsTxTerminal, IsTxFailed and the
// queued-operation transition table
// ============================================================================

// All valid transaction statuses
var allTxStatuses = []TxStatus{
	TxStatusPending,
	TxStatusQueued,
	TxStatusExecuting,
	TxStatusCommitted,
	TxStatusFailed,
	TxStatusRolledBack,
	TxStatusCancelled,
}

// All valid operation statuses
var allOpStatuses = []OpStatus{
	OpStatusQueued,
	OpStatusApplied,
	OpStatusFailed,
	OpStatusSkipped,
}

func TestValidateTxTransition_ValidTransitions(t *testing.T) {
	// Test all valid transitions from the state machine
	validTransitions := []struct {
		from TxStatus
		to   TxStatus
	}{
		// From PENDING
		{TxStatusPending, TxStatusQueued},
		{TxStatusPending, TxStatusCancelled},
		// From QUEUED
		{TxStatusQueued, TxStatusExecuting},
		{TxStatusQueued, TxStatusCancelled},
		// From EXECUTING
		{TxStatusExecuting, TxStatusCommitted},
		{TxStatusExecuting, TxStatusFailed},
		// From FAILED
		{TxStatusFailed, TxStatusRolledBack},
	}

	for _, tt := range validTransitions {
		if !ValidateTxTransition(tt.from, tt.to) {
			t.Errorf("transition from %s to %s should be valid", tt.from, tt.to)
		}
	}
}

func TestValidateTxTransition_InvalidTransitions(t *testing.T) {
	invalidTransitions := []struct {
		from TxStatus
		to   TxStatus
	}{
		// Cannot skip QUEUED or EXECUTING
		{TxStatusPending, TxStatusExecuting},
		{TxStatusPending, TxStatusCommitted},
		{TxStatusPending, TxStatusFailed},
		{TxStatusPending, TxStatusRolledBack},
		{TxStatusQueued, TxStatusCommitted},
		{TxStatusQueued, TxStatusFailed},
		{TxStatusQueued, TxStatusRolledBack},
		// Executing transactions cannot be cancelled mid-flight
		{TxStatusExecuting, TxStatusCancelled},
		{TxStatusExecuting, TxStatusPending},
		// Rollback only applies to failures
		{TxStatusCommitted, TxStatusRolledBack},
		{TxStatusCancelled, TxStatusRolledBack},
		// Terminal states have no exits
		{TxStatusCommitted, TxStatusPending},
		{TxStatusRolledBack, TxStatusPending},
		{TxStatusCancelled, TxStatusExecuting},
		// Unknown source status
		{TxStatus("BOGUS"), TxStatusPending},
	}

	for _, tt := range invalidTransitions {
		if ValidateTxTransition(tt.from, tt.to) {
			t.Errorf("transition from %s to %s should be invalid", tt.from, tt.to)
		}
	}
}

func TestIsTxTerminal(t *testing.T) {
	terminal := []TxStatus{TxStatusCommitted, TxStatusRolledBack, TxStatusCancelled}
	for _, status := range terminal {
		if !IsTxTerminal(status) {
			t.Errorf("%s should be terminal", status)
		}
	}

	nonTerminal := []TxStatus{TxStatusPending, TxStatusQueued, TxStatusExecuting, TxStatusFailed}
	for _, status := range nonTerminal {
		if IsTxTerminal(status) {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestIsTxFailed(t *testing.T) {
	failed := []TxStatus{TxStatusFailed, TxStatusRolledBack}
	for _, status := range failed {
		if !IsTxFailed(status) {
			t.Errorf("%s should count as failed", status)
		}
	}

	notFailed := []TxStatus{TxStatusPending, TxStatusQueued, TxStatusExecuting, TxStatusCommitted, TxStatusCancelled}
	for _, status := range notFailed {
		if IsTxFailed(status) {
			t.Errorf("%s should not count as failed", status)
		}
	}
}

func TestValidateOpTransition(t *testing.T) {
	for _, to := range []OpStatus{OpStatusApplied, OpStatusFailed, OpStatusSkipped} {
		if !ValidateOpTransition(OpStatusQueued, to) {
			t.Errorf("transition from %s to %s should be valid", OpStatusQueued, to)
		}
	}

	// Terminal operation statuses have no exits
	for _, from := range []OpStatus{OpStatusApplied, OpStatusFailed, OpStatusSkipped} {
		for _, to := range allOpStatuses {
			if ValidateOpTransition(from, to) {
				t.Errorf("transition from %s to %s should be invalid", from, to)
			}
		}
	}
}

func TestIsOpTerminal(t *testing.T) {
	if IsOpTerminal(OpStatusQueued) {
		t.Error("QUEUED should not be terminal")
	}
	for _, status := range []OpStatus{OpStatusApplied, OpStatusFailed, OpStatusSkipped} {
		if !IsOpTerminal(status) {
			t.Errorf("%s should be terminal", status)
		}
	}
}

// Property: no transition ever leaves a terminal status.
func TestTxTransition_TerminalHasNoExits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allTxStatuses).Draw(t, "from")
		to := rapid.SampledFrom(allTxStatuses).Draw(t, "to")

		if IsTxTerminal(from) && ValidateTxTransition(from, to) {
			t.Fatalf("terminal status %s allows transition to %s", from, to)
		}
	})
}

// Property: every valid transition target is itself a known status.
func TestTxTransition_TargetsAreKnown(t *testing.T) {
	known := make(map[TxStatus]bool)
	for _, s := range allTxStatuses {
		known[s] = true
	}
	for from, targets := range validTxTransitions {
		if !known[from] {
			t.Errorf("transition table contains unknown source %s", from)
		}
		for _, to := range targets {
			if !known[to] {
				t.Errorf("transition table contains unknown target %s", to)
			}
		}
	}
}
