package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/server/storage"
)

// ApplyChange applies one push mutation and assigns the next revision
func (s *Storage) ApplyChange(ctx context.Context, userID string, record *models.Record, operation string, baseRevision, nowMs int64) (*storage.Applied, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentRev, currentDeletedAt, currentServerMs int64
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT server_rev, deleted_at, server_updated_at_ms
		 FROM records WHERE user_id = ? AND table_name = ? AND id = ?`,
		userID, record.Table, record.ID,
	).Scan(&currentRev, &currentDeletedAt, &currentServerMs)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, fmt.Errorf("failed to check current revision: %w", err)
	}

	if exists {
		// tombstone не воскрешает никакая мутация
		if currentDeletedAt != 0 {
			if operation == models.OperationDelete {
				// повторное удаление идемпотентно
				if err := tx.Commit(); err != nil {
					return nil, fmt.Errorf("failed to commit: %w", err)
				}
				return &storage.Applied{ServerRevision: currentRev, ServerUpdatedAtMs: currentServerMs}, nil
			}
			return nil, storage.ErrRevisionConflict
		}
		// мутация основана на устаревшей ревизии
		if baseRevision < currentRev {
			return nil, storage.ErrRevisionConflict
		}
	}

	var nextRev int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_rev), 0) + 1 FROM records WHERE user_id = ?`,
		userID,
	).Scan(&nextRev)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate revision: %w", err)
	}

	deletedAt := record.DeletedAt
	if operation == models.OperationDelete && deletedAt == 0 {
		deletedAt = nowMs
	}

	payload := string(record.Payload)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (
			user_id, table_name, id, payload, updated_at,
			server_rev, created_rev, server_updated_at_ms, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, table_name, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			server_rev = excluded.server_rev,
			server_updated_at_ms = excluded.server_updated_at_ms,
			deleted_at = excluded.deleted_at`,
		userID, record.Table, record.ID, payload, record.UpdatedAt,
		nextRev, nextRev, nowMs, deletedAt, record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &storage.Applied{ServerRevision: nextRev, ServerUpdatedAtMs: nowMs}, nil
}

// ChangesSince returns a page of changes with revision greater than sinceRev
func (s *Storage) ChangesSince(ctx context.Context, userID string, sinceRev int64, limit int) ([]*storage.ServerRecord, int64, bool, error) {
	if limit <= 0 {
		limit = 500
	}

	// limit+1 чтобы узнать о следующей странице без отдельного COUNT
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, id, payload, updated_at, server_rev, created_rev,
		        server_updated_at_ms, deleted_at, created_at
		 FROM records
		 WHERE user_id = ? AND server_rev > ?
		 ORDER BY server_rev
		 LIMIT ?`,
		userID, sinceRev, limit+1,
	)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var records []*storage.ServerRecord
	for rows.Next() {
		record, err := scanServerRecord(rows, userID)
		if err != nil {
			return nil, 0, false, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("failed to iterate changes: %w", err)
	}

	hasMore := false
	if len(records) > limit {
		hasMore = true
		records = records[:limit]
	}

	var maxRev int64 = sinceRev
	if len(records) > 0 {
		maxRev = records[len(records)-1].ServerRevision
	}

	return records, maxRev, hasMore, nil
}

// GetRecord retrieves a single record scoped to the user
func (s *Storage) GetRecord(ctx context.Context, userID, table, id string) (*storage.ServerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT table_name, id, payload, updated_at, server_rev, created_rev,
		        server_updated_at_ms, deleted_at, created_at
		 FROM records
		 WHERE user_id = ? AND table_name = ? AND id = ?`,
		userID, table, id,
	)

	record, err := scanServerRecord(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// PurgeTombstones permanently deletes tombstones older than cutoffMs
func (s *Storage) PurgeTombstones(ctx context.Context, userID string, cutoffMs int64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE user_id = ? AND deleted_at > 0 AND deleted_at < ?`,
		userID, cutoffMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return int(purged), nil
}

// scanner объединяет *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanServerRecord(row scanner, userID string) (*storage.ServerRecord, error) {
	var record storage.ServerRecord
	var payload sql.NullString

	err := row.Scan(
		&record.Table,
		&record.ID,
		&payload,
		&record.UpdatedAt,
		&record.ServerRevision,
		&record.CreatedRev,
		&record.ServerUpdatedAtMs,
		&record.DeletedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.OwnerID = userID
	if payload.Valid && payload.String != "" {
		record.Payload = json.RawMessage(payload.String)
	}
	return &record, nil
}
