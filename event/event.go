// Package event provides event definitions and the event bus for the
// batching and transaction engines.
package event

import (
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	// Transaction lifecycle events
	EventTxBegun      EventType = "tx.begun"
	EventTxQueued     EventType = "tx.queued"
	EventTxCommitted  EventType = "tx.committed"
	EventTxFailed     EventType = "tx.failed"
	EventTxRolledBack EventType = "tx.rolled_back"
	EventTxCancelled  EventType = "tx.cancelled"

	// Snapshot lifecycle events
	EventSnapshotCaptured EventType = "snapshot.captured"
	EventSnapshotReaped   EventType = "snapshot.reaped"

	// Batch lifecycle events
	EventBatchFlushed EventType = "batch.flushed"
	EventBatchFailed  EventType = "batch.failed"

	// Sweep events
	EventSweepStart EventType = "sweep.start"

	// Alert events
	EventAlertWarning  EventType = "alert.warning"
	EventAlertCritical EventType = "alert.critical"
)

// Event carries the details of one lifecycle event.
type Event struct {
	Type      EventType
	TxID      string         // transaction id, when transaction-scoped
	Target    string         // target spreadsheet, when known
	OpKind    string         // operation kind, for batch events
	Timestamp time.Time
	Data      map[string]any
	Error     error
}

// NewEvent creates a new event with the given type and sets the timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithTxID sets the transaction ID on the event.
func (e Event) WithTxID(txID string) Event {
	e.TxID = txID
	return e
}

// WithTarget sets the target on the event.
func (e Event) WithTarget(target string) Event {
	e.Target = target
	return e
}

// WithOpKind sets the operation kind on the event.
func (e Event) WithOpKind(kind string) Event {
	e.OpKind = kind
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}
