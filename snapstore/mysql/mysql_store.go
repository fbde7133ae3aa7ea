// Package mysql provides a MySQL implementation of the snapshot store.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sheetbatch"
)

// MySQLStore implements sheetbatch.SnapshotStore using MySQL. Use it
// when snapshots must survive process restarts or be shared between
// workers committing against the same targets.
//
// Expected schema:
//
//	CREATE TABLE sheetbatch_snapshots (
//	    id          VARCHAR(64)  NOT NULL PRIMARY KEY,
//	    tx_id       VARCHAR(64)  NOT NULL,
//	    target      VARCHAR(255) NOT NULL,
//	    payload     MEDIUMBLOB   NOT NULL,
//	    size_bytes  BIGINT       NOT NULL,
//	    captured_at DATETIME(6)  NOT NULL,
//	    expires_at  DATETIME(6)  NOT NULL,
//	    UNIQUE KEY uk_tx_id (tx_id),
//	    KEY idx_target_captured (target, captured_at),
//	    KEY idx_expires (expires_at)
//	);
type MySQLStore struct {
	db *sql.DB
}

// New creates a new MySQLStore with the given database connection.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// PutSnapshot stores a snapshot record. Re-capturing for the same
// transaction replaces the previous record.
func (s *MySQLStore) PutSnapshot(ctx context.Context, snap *sheetbatch.Snapshot) error {
	query := `
		INSERT INTO sheetbatch_snapshots (
			id, tx_id, target, payload, size_bytes, captured_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload = VALUES(payload), size_bytes = VALUES(size_bytes),
			captured_at = VALUES(captured_at), expires_at = VALUES(expires_at)
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.TxID, snap.Target, snap.Payload, snap.SizeBytes,
		snap.CapturedAt, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: put snapshot: %v", sheetbatch.ErrStoreOperationFailed, err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by its ID.
func (s *MySQLStore) GetSnapshot(ctx context.Context, id string) (*sheetbatch.Snapshot, error) {
	query := `
		SELECT id, tx_id, target, payload, size_bytes, captured_at, expires_at
		FROM sheetbatch_snapshots
		WHERE id = ?
	`
	return s.queryOne(ctx, query, id)
}

// GetSnapshotByTx retrieves the snapshot captured for a transaction.
func (s *MySQLStore) GetSnapshotByTx(ctx context.Context, txID string) (*sheetbatch.Snapshot, error) {
	query := `
		SELECT id, tx_id, target, payload, size_bytes, captured_at, expires_at
		FROM sheetbatch_snapshots
		WHERE tx_id = ?
	`
	return s.queryOne(ctx, query, txID)
}

func (s *MySQLStore) queryOne(ctx context.Context, query string, arg any) (*sheetbatch.Snapshot, error) {
	snap := &sheetbatch.Snapshot{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&snap.ID, &snap.TxID, &snap.Target, &snap.Payload, &snap.SizeBytes,
		&snap.CapturedAt, &snap.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sheetbatch.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("%w: get snapshot: %v", sheetbatch.ErrStoreOperationFailed, err)
	}
	return snap, nil
}

// DeleteSnapshot removes a snapshot by its ID. Deleting a snapshot that
// does not exist is not an error.
func (s *MySQLStore) DeleteSnapshot(ctx context.Context, id string) error {
	query := `DELETE FROM sheetbatch_snapshots WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: delete snapshot: %v", sheetbatch.ErrStoreOperationFailed, err)
	}
	return nil
}

// DeleteExpiredSnapshots removes every snapshot whose TTL passed before
// now and returns the number removed.
func (s *MySQLStore) DeleteExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sheetbatch_snapshots WHERE expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired snapshots: %v", sheetbatch.ErrStoreOperationFailed, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// ListSnapshots lists snapshots for a target, newest first. A zero
// limit means no limit; an empty target lists every snapshot.
func (s *MySQLStore) ListSnapshots(ctx context.Context, target string, limit int) ([]*sheetbatch.Snapshot, error) {
	var conditions []string
	var args []any
	if target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, target)
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, tx_id, target, payload, size_bytes, captured_at, expires_at
		FROM sheetbatch_snapshots
		%s
		ORDER BY captured_at DESC
	`, whereClause)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %v", sheetbatch.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var result []*sheetbatch.Snapshot
	for rows.Next() {
		snap := &sheetbatch.Snapshot{}
		if err := rows.Scan(
			&snap.ID, &snap.TxID, &snap.Target, &snap.Payload, &snap.SizeBytes,
			&snap.CapturedAt, &snap.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot: %v", sheetbatch.ErrStoreOperationFailed, err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %v", sheetbatch.ErrStoreOperationFailed, err)
	}
	return result, nil
}

// Ensure MySQLStore implements sheetbatch.SnapshotStore.
var _ sheetbatch.SnapshotStore = (*MySQLStore)(nil)
