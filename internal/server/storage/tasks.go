package storage

import (
	"context"

	"github.com/iudanet/growlog/internal/models"
)

//go:generate moq -out taskstorage_mock.go . TaskStorage

// TaskStorage defines interface for the claim-based task queue
type TaskStorage interface {
	// EnqueueTask appends a new task to the queue
	EnqueueTask(ctx context.Context, task *models.QueuedTask) error

	// ClaimBatch atomically claims up to limit due tasks for claimID.
	// Забирает pending задачи и задачи с истёкшим claim; выполняется
	// одним UPDATE, поэтому конкурентные вызовы не пересекаются.
	ClaimBatch(ctx context.Context, claimID string, limit int, nowMs, leaseMs int64) ([]*models.QueuedTask, error)

	// AckTask marks a claimed task as processed and releases the claim.
	// Returns ErrClaimMismatch if the task is not held by claimID.
	AckTask(ctx context.Context, taskID, claimID string, nowMs int64) error

	// ReleaseTask returns a claimed task to the queue for a later attempt
	ReleaseTask(ctx context.Context, taskID, claimID string, nextAttemptAt int64, attemptCount int, lastError string, nowMs int64) error

	// FailTaskTerminally marks a claimed task as processed with an error.
	// Задача не удаляется: processed + last_error остаются для разбора.
	FailTaskTerminally(ctx context.Context, taskID, claimID, lastError string, nowMs int64) error

	// GetTask retrieves a task by id
	GetTask(ctx context.Context, taskID string) (*models.QueuedTask, error)

	// DueTaskCount returns the number of unprocessed tasks ready at nowMs
	DueTaskCount(ctx context.Context, nowMs int64) (int, error)
}
