// Package snapstore provides snapshot storage backends.
package snapstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"sheetbatch"
)

// MemoryStore is an in-memory implementation of sheetbatch.SnapshotStore.
// It is the default backend and suitable for single-process deployments;
// snapshots do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*sheetbatch.Snapshot
	byTx map[string]string
}

// Ensure MemoryStore implements sheetbatch.SnapshotStore.
var _ sheetbatch.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*sheetbatch.Snapshot),
		byTx: make(map[string]string),
	}
}

// PutSnapshot stores a snapshot record, replacing any previous record
// with the same ID.
func (s *MemoryStore) PutSnapshot(ctx context.Context, snap *sheetbatch.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.byID[snap.ID] = &cp
	s.byTx[snap.TxID] = snap.ID
	return nil
}

// GetSnapshot retrieves a snapshot by its ID.
func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*sheetbatch.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	if !ok {
		return nil, sheetbatch.ErrSnapshotNotFound
	}
	cp := *snap
	return &cp, nil
}

// GetSnapshotByTx retrieves the snapshot captured for a transaction.
func (s *MemoryStore) GetSnapshotByTx(ctx context.Context, txID string) (*sheetbatch.Snapshot, error) {
	s.mu.RLock()
	id, ok := s.byTx[txID]
	s.mu.RUnlock()
	if !ok {
		return nil, sheetbatch.ErrSnapshotNotFound
	}
	return s.GetSnapshot(ctx, id)
}

// DeleteSnapshot removes a snapshot by its ID. Deleting a snapshot that
// does not exist is not an error.
func (s *MemoryStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if s.byTx[snap.TxID] == id {
		delete(s.byTx, snap.TxID)
	}
	return nil
}

// DeleteExpiredSnapshots removes every snapshot whose TTL passed before
// now and returns the number removed.
func (s *MemoryStore) DeleteExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, snap := range s.byID {
		if snap.Expired(now) {
			delete(s.byID, id)
			if s.byTx[snap.TxID] == id {
				delete(s.byTx, snap.TxID)
			}
			count++
		}
	}
	return count, nil
}

// ListSnapshots lists snapshots for a target, newest first. A zero
// limit means no limit.
func (s *MemoryStore) ListSnapshots(ctx context.Context, target string, limit int) ([]*sheetbatch.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*sheetbatch.Snapshot
	for _, snap := range s.byID {
		if target != "" && snap.Target != target {
			continue
		}
		cp := *snap
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CapturedAt.After(result[j].CapturedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
