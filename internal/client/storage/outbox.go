package storage

import (
	"context"

	"github.com/iudanet/growlog/internal/models"
)

//go:generate moq -out outboxstorage_mock.go . OutboxStorage

// OutboxStorage defines interface for the durable outbox queue
type OutboxStorage interface {
	// Enqueue appends a new entry and assigns its sequence number
	Enqueue(ctx context.Context, entry *models.OutboxEntry) error

	// GetEntry retrieves an entry by id
	// Returns ErrEntryNotFound if entry doesn't exist
	GetEntry(ctx context.Context, id string) (*models.OutboxEntry, error)

	// DueEntries returns up to limit pending entries ready for processing
	// at nowMs, oldest-created-first (порядок постановки в очередь).
	DueEntries(ctx context.Context, nowMs int64, limit int) ([]*models.OutboxEntry, error)

	// UpdateEntry persists status/retry changes of an entry
	UpdateEntry(ctx context.Context, entry *models.OutboxEntry) error

	// RequeueProcessing returns processing entries back to pending.
	// Processing вне активного drain — след упавшего процесса: запись
	// должна снова стать видимой для отправки, а не зависнуть навсегда.
	RequeueProcessing(ctx context.Context, nowMs int64) (int, error)

	// EntriesByStatus returns all entries with the given status.
	// Failed записи остаются инспектируемыми для ручного разбора.
	EntriesByStatus(ctx context.Context, status models.OutboxStatus) ([]*models.OutboxEntry, error)
}
