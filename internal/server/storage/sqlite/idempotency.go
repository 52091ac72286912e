package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/growlog/internal/server/storage"
)

// ClaimKey atomically takes the exclusive in-flight claim for (userID, key).
// Один SQL statement: вставка нового ключа или перехват записи с истекшим
// expiresAt. RowsAffected решает исход — никакого check-then-act окна.
func (s *Storage) ClaimKey(ctx context.Context, entry *storage.IdempotencyEntry, nowMs int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (
			user_id, key, payload_hash, status, response, status_code, created_at, expires_at
		) VALUES (?, ?, ?, ?, NULL, 0, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET
			payload_hash = excluded.payload_hash,
			status = excluded.status,
			response = NULL,
			status_code = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at <= ?`,
		entry.UserID, entry.Key, entry.PayloadHash, storage.IdempotencyProcessing,
		entry.CreatedAt, entry.ExpiresAt, nowMs,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count claimed rows: %w", err)
	}
	return affected == 1, nil
}

// GetKey retrieves the idempotency entry for (userID, key)
func (s *Storage) GetKey(ctx context.Context, userID, key string) (*storage.IdempotencyEntry, error) {
	var entry storage.IdempotencyEntry

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, key, payload_hash, status, response, status_code, created_at, expires_at
		 FROM idempotency_keys
		 WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(
		&entry.UserID,
		&entry.Key,
		&entry.PayloadHash,
		&entry.Status,
		&entry.Response,
		&entry.StatusCode,
		&entry.CreatedAt,
		&entry.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	return &entry, nil
}

// CompleteKey stores the cached response and marks the entry completed
func (s *Storage) CompleteKey(ctx context.Context, entry *storage.IdempotencyEntry) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys
		 SET status = ?, response = ?, status_code = ?, expires_at = ?
		 WHERE user_id = ? AND key = ?`,
		storage.IdempotencyCompleted, entry.Response, entry.StatusCode,
		entry.ExpiresAt, entry.UserID, entry.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count completed rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrKeyNotFound
	}
	return nil
}

// ReleaseKey drops an in-flight claim; completed entries stay cached
func (s *Storage) ReleaseKey(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		 WHERE user_id = ? AND key = ? AND status = ?`,
		userID, key, storage.IdempotencyProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpiredKeys removes entries past their TTL
func (s *Storage) DeleteExpiredKeys(ctx context.Context, nowMs int64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < ?`, nowMs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return int(deleted), nil
}
