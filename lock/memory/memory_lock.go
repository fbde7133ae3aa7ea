// Package memory provides an in-process implementation of the
// lock.Locker interface. It serializes commits within one process;
// deployments with multiple workers should use the redis locker.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetbatch"
	"sheetbatch/lock"
)

// Ensure MemoryLocker implements lock.Locker
var _ lock.Locker = (*MemoryLocker)(nil)

// MemoryLocker implements locking with an in-process table. Expired
// entries are treated as free and overwritten on the next acquire.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*lockEntry),
	}
}

// Acquire acquires locks on the given keys. All keys are checked before
// any is taken, so a partial failure never leaves locks behind.
func (l *MemoryLocker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (lock.LockHandle, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys provided")
	}

	sortedKeys := make([]string, len(keys))
	copy(sortedKeys, keys)
	sort.Strings(sortedKeys)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, key := range sortedKeys {
		if entry, exists := l.locks[key]; exists && now.Before(entry.expiresAt) {
			return nil, fmt.Errorf("%w: key %s held by another holder", sheetbatch.ErrLockAcquisitionFailed, key)
		}
	}

	holder := uuid.New().String()
	expiresAt := now.Add(ttl)
	for _, key := range sortedKeys {
		l.locks[key] = &lockEntry{
			holder:    holder,
			expiresAt: expiresAt,
		}
	}

	return &memoryLockHandle{
		locker: l,
		keys:   sortedKeys,
		holder: holder,
	}, nil
}

type memoryLockHandle struct {
	locker *MemoryLocker
	keys   []string
	holder string
}

// Extend extends the TTL of all held locks.
func (h *memoryLockHandle) Extend(ctx context.Context, ttl time.Duration) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	for _, key := range h.keys {
		entry, exists := h.locker.locks[key]
		if !exists || entry.holder != h.holder {
			return fmt.Errorf("%w: key %s", sheetbatch.ErrLockNotHeld, key)
		}
		entry.expiresAt = expiresAt
	}
	return nil
}

// Release releases all held locks. Only entries still owned by this
// holder are removed; an expired-and-retaken lock stays with its new
// owner.
func (h *memoryLockHandle) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	for _, key := range h.keys {
		if entry, exists := h.locker.locks[key]; exists && entry.holder == h.holder {
			delete(h.locker.locks, key)
		}
	}
	return nil
}

// Keys returns the keys that are locked.
func (h *memoryLockHandle) Keys() []string {
	keys := make([]string, len(h.keys))
	copy(keys, h.keys)
	return keys
}
