package sheetbatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a pre-transaction capture of a target's metadata. It
// records structure (sheet inventory, dimensions, properties), not cell
// contents: capturing full cell data for an arbitrarily large target
// would burn the very quota budget transactions exist to protect.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string

	// TxID is the transaction the snapshot was captured for.
	TxID string

	// Target is the spreadsheet the snapshot describes.
	Target string

	// Payload is the serialized target metadata.
	Payload []byte

	// SizeBytes is the serialized payload size.
	SizeBytes int64

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time

	// ExpiresAt is when the sweeper may reap the snapshot.
	ExpiresAt time.Time
}

// Metadata decodes the snapshot payload.
func (s *Snapshot) Metadata() (*TargetMetadata, error) {
	var meta TargetMetadata
	if err := json.Unmarshal(s.Payload, &meta); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.ID, err)
	}
	return &meta, nil
}

// Expired reports whether the snapshot's TTL has passed.
func (s *Snapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SnapshotStore defines the storage interface for snapshots.
// This interface is implemented by snapstore and snapstore/mysql.
type SnapshotStore interface {
	// PutSnapshot stores a snapshot record.
	PutSnapshot(ctx context.Context, s *Snapshot) error

	// GetSnapshot retrieves a snapshot by its ID.
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)

	// GetSnapshotByTx retrieves the snapshot captured for a transaction.
	GetSnapshotByTx(ctx context.Context, txID string) (*Snapshot, error)

	// DeleteSnapshot removes a snapshot by its ID.
	DeleteSnapshot(ctx context.Context, id string) error

	// DeleteExpiredSnapshots removes every snapshot whose TTL passed
	// before now and returns the number removed.
	DeleteExpiredSnapshots(ctx context.Context, now time.Time) (int64, error)

	// ListSnapshots lists snapshots for a target, newest first. A zero
	// limit means no limit.
	ListSnapshots(ctx context.Context, target string, limit int) ([]*Snapshot, error)
}

// captureSnapshot fetches the target's structural metadata and wraps it
// into a snapshot. An oversized payload is rejected with
// ErrSnapshotTooLarge and nothing is stored.
func captureSnapshot(ctx context.Context, client RemoteClient, txID, target string, cfg Config) (*Snapshot, error) {
	meta, err := client.GetMetadata(ctx, target, true)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot for %s: %w", target, err)
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot for %s: %w", target, err)
	}

	size := int64(len(payload))
	if cfg.MaxSnapshotSize > 0 && size > cfg.MaxSnapshotSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrSnapshotTooLarge, size, cfg.MaxSnapshotSize)
	}

	now := time.Now()
	return &Snapshot{
		ID:         uuid.New().String(),
		TxID:       txID,
		Target:     target,
		Payload:    payload,
		SizeBytes:  size,
		CapturedAt: now,
		ExpiresAt:  now.Add(cfg.SnapshotTTL),
	}, nil
}
