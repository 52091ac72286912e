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

// EnqueueTask appends a new task to the queue
func (s *Storage) EnqueueTask(ctx context.Context, task *models.QueuedTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (
			id, kind, payload, claim_id, last_error, processed,
			attempt_count, claimed_at, claim_expires_at, next_attempt_at,
			created_at, updated_at
		) VALUES (?, ?, ?, '', '', 0, 0, 0, 0, ?, ?, ?)`,
		task.ID, task.Kind, string(task.Payload),
		task.NextAttemptAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ClaimBatch atomically claims up to limit due tasks for claimID.
// Один UPDATE с подзапросом: конкурентные диспетчеры не могут получить
// одну и ту же задачу, пока claim жив.
func (s *Storage) ClaimBatch(ctx context.Context, claimID string, limit int, nowMs, leaseMs int64) ([]*models.QueuedTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE tasks
		 SET claim_id = ?, claimed_at = ?, claim_expires_at = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM tasks
			WHERE processed = 0
			  AND next_attempt_at <= ?
			  AND (claim_id = '' OR claim_expires_at <= ?)
			ORDER BY created_at
			LIMIT ?
		 )
		 RETURNING id, kind, payload, claim_id, last_error, processed,
		           attempt_count, claimed_at, claim_expires_at, next_attempt_at,
		           created_at, updated_at`,
		claimID, nowMs, nowMs+leaseMs, nowMs,
		nowMs, nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	var tasks []*models.QueuedTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed tasks: %w", err)
	}

	return tasks, nil
}

// AckTask marks a claimed task as processed and releases the claim
func (s *Storage) AckTask(ctx context.Context, taskID, claimID string, nowMs int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET processed = 1, claim_id = '', claimed_at = 0, claim_expires_at = 0,
		     last_error = '', updated_at = ?
		 WHERE id = ? AND claim_id = ?`,
		nowMs, taskID, claimID,
	)
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return s.requireClaimed(result)
}

// ReleaseTask returns a claimed task to the queue for a later attempt
func (s *Storage) ReleaseTask(ctx context.Context, taskID, claimID string, nextAttemptAt int64, attemptCount int, lastError string, nowMs int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET claim_id = '', claimed_at = 0, claim_expires_at = 0,
		     next_attempt_at = ?, attempt_count = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND claim_id = ?`,
		nextAttemptAt, attemptCount, lastError, nowMs, taskID, claimID,
	)
	if err != nil {
		return fmt.Errorf("failed to release task: %w", err)
	}
	return s.requireClaimed(result)
}

// FailTaskTerminally marks a claimed task as processed with an error
func (s *Storage) FailTaskTerminally(ctx context.Context, taskID, claimID, lastError string, nowMs int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET processed = 1, claim_id = '', claimed_at = 0, claim_expires_at = 0,
		     last_error = ?, updated_at = ?
		 WHERE id = ? AND claim_id = ?`,
		lastError, nowMs, taskID, claimID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return s.requireClaimed(result)
}

// GetTask retrieves a task by id
func (s *Storage) GetTask(ctx context.Context, taskID string) (*models.QueuedTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, claim_id, last_error, processed,
		        attempt_count, claimed_at, claim_expires_at, next_attempt_at,
		        created_at, updated_at
		 FROM tasks WHERE id = ?`,
		taskID,
	)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DueTaskCount returns the number of unprocessed tasks ready at nowMs
func (s *Storage) DueTaskCount(ctx context.Context, nowMs int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE processed = 0 AND next_attempt_at <= ?
		   AND (claim_id = '' OR claim_expires_at <= ?)`,
		nowMs, nowMs,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due tasks: %w", err)
	}
	return count, nil
}

// requireClaimed converts a zero-row update into ErrClaimMismatch
func (s *Storage) requireClaimed(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrClaimMismatch
	}
	return nil
}

func scanTask(row scanner) (*models.QueuedTask, error) {
	var task models.QueuedTask
	var payload sql.NullString
	var processed int

	err := row.Scan(
		&task.ID,
		&task.Kind,
		&payload,
		&task.ClaimID,
		&task.LastError,
		&processed,
		&task.AttemptCount,
		&task.ClaimedAt,
		&task.ClaimExpiresAt,
		&task.NextAttemptAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Processed = processed != 0
	if payload.Valid && payload.String != "" {
		task.Payload = json.RawMessage(payload.String)
	}
	return &task, nil
}
