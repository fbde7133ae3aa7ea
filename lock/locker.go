// Package lock provides distributed locking for commit coordination.
package lock

import (
	"context"
	"time"
)

// Locker is the distributed lock interface guarding commits. Keys are
// target identifiers; holding a target's lock means no other worker is
// committing against it.
type Locker interface {
	// Acquire acquires locks on the given keys.
	// Keys are sorted alphabetically before acquisition to prevent deadlocks.
	// Returns a LockHandle for extending and releasing the locks.
	// Acquisition fails fast when any key is held by another holder.
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (LockHandle, error)
}

// LockHandle represents a handle to acquired locks.
// It provides methods to extend the TTL and release the locks.
type LockHandle interface {
	// Extend extends the TTL of all held locks.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release releases all held locks.
	// Attempts to release all locks even if some releases fail.
	Release(ctx context.Context) error

	// Keys returns the keys that are locked.
	Keys() []string
}
