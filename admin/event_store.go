// Package admin provides a small operational console for the engine:
// a rolling in-memory event log plus an HTTP API exposing batcher,
// transaction and sweeper statistics.
package admin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sheetbatch/event"
)

// EventStore is an in-memory rolling log of engine events. It keeps at
// most maxEvents entries and drops the oldest when full.
type EventStore struct {
	events    []StoredEvent
	maxEvents int
	mu        sync.RWMutex
	nextID    int64
}

// StoredEvent is the JSON-friendly form of an engine event.
type StoredEvent struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	TxID      string         `json:"tx_id,omitempty"`
	Target    string         `json:"target,omitempty"`
	OpKind    string         `json:"op_kind,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EventFilter selects events from the log.
type EventFilter struct {
	Type   string
	TxID   string
	Target string
	Limit  int
	Offset int
}

// NewEventStore creates an event store holding at most maxEvents
// entries. Non-positive maxEvents falls back to 1000.
func NewEventStore(maxEvents int) *EventStore {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventStore{
		events:    make([]StoredEvent, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Store converts and appends one event, evicting the oldest entries
// when the log is full.
func (s *EventStore) Store(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := atomic.AddInt64(&s.nextID, 1)

	var errorMsg string
	if e.Error != nil {
		errorMsg = e.Error.Error()
	}

	s.events = append(s.events, StoredEvent{
		ID:        id,
		Type:      string(e.Type),
		TxID:      e.TxID,
		Target:    e.Target,
		OpKind:    e.OpKind,
		Timestamp: e.Timestamp,
		Data:      e.Data,
		Error:     errorMsg,
	})

	if len(s.events) > s.maxEvents {
		excess := len(s.events) - s.maxEvents
		s.events = s.events[excess:]
	}
}

// List returns events matching the filter, newest first.
func (s *EventStore) List(filter EventFilter) []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var filtered []StoredEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.TxID != "" && e.TxID != filter.TxID {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		filtered = append(filtered, e)
	}

	if filter.Offset >= len(filtered) {
		return []StoredEvent{}
	}
	start := filter.Offset
	end := start + filter.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end]
}

// Count returns the number of events matching the filter.
func (s *EventStore) Count(filter EventFilter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Type == "" && filter.TxID == "" && filter.Target == "" {
		return len(s.events)
	}

	count := 0
	for _, e := range s.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.TxID != "" && e.TxID != filter.TxID {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		count++
	}
	return count
}

// EventHandler returns a handler suitable for EventBus.SubscribeAll.
func (s *EventStore) EventHandler() event.EventHandler {
	return func(ctx context.Context, e event.Event) error {
		s.Store(e)
		return nil
	}
}

// Clear empties the log.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]StoredEvent, 0, s.maxEvents)
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// EventTypes returns the distinct event types seen so far.
func (s *EventStore) EventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[string]struct{})
	for _, e := range s.events {
		typeSet[e.Type] = struct{}{}
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	return types
}
