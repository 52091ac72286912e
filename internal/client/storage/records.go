package storage

import (
	"context"

	"github.com/iudanet/growlog/internal/models"
)

//go:generate moq -out recordstorage_mock.go . RecordStorage

// RecordStorage defines interface for the local record store.
// Это всегда доступная для записи локальная реплика: point lookup,
// range scan по updatedAt и атомарные batch записи.
type RecordStorage interface {
	// SaveRecord stores or updates a single record
	SaveRecord(ctx context.Context, record *models.Record) error

	// SaveRecordWithOutbox atomically writes the record and enqueues the
	// outbox entry in one transaction. Основной путь локальной мутации.
	SaveRecordWithOutbox(ctx context.Context, record *models.Record, entry *models.OutboxEntry) error

	// GetRecord retrieves a record by table and id
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, table, id string) (*models.Record, error)

	// ListRecords returns all non-tombstoned records of a table
	ListRecords(ctx context.Context, table string) ([]*models.Record, error)

	// RecordsUpdatedSince returns records of a table (including tombstones)
	// with updatedAt strictly greater than sinceMs. Used for sync.
	RecordsUpdatedSince(ctx context.Context, table string, sinceMs int64) ([]*models.Record, error)

	// ApplyRemote atomically writes a batch of merged records.
	// Результат pull-merge применяется одной транзакцией.
	ApplyRemote(ctx context.Context, records []*models.Record) error

	// ClaimOwnership atomically reassigns all unowned non-tombstoned records
	// to ownerID, bumps their updatedAt and enqueues the outbox entry built
	// by makeEntry for each of them. Returns the number of claimed records.
	ClaimOwnership(ctx context.Context, ownerID string, nowMs int64, makeEntry func(*models.Record) (*models.OutboxEntry, error)) (int, error)

	// PurgeTombstones permanently deletes records tombstoned before cutoffMs,
	// scoped to ownerID (plus unowned records). Idempotent.
	PurgeTombstones(ctx context.Context, ownerID string, cutoffMs int64) (int, error)
}
