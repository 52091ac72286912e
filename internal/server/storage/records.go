package storage

import (
	"context"

	"github.com/iudanet/growlog/internal/models"
)

// ServerRecord — запись авторитетного хранилища вместе с ревизией её
// создания. CreatedRev позволяет pull разделять created и updated.
type ServerRecord struct {
	models.Record
	CreatedRev int64
}

// Applied — результат применения одной push мутации
type Applied struct {
	ServerRevision    int64
	ServerUpdatedAtMs int64
}

//go:generate moq -out recordstorage_mock.go . RecordStorage

// RecordStorage defines interface for the authoritative server record store.
// Ревизии назначаются монотонно в рамках пользователя.
type RecordStorage interface {
	// ApplyChange applies one push mutation and assigns the next revision.
	// Returns ErrRevisionConflict when baseRevision is older than the
	// current revision of the record.
	ApplyChange(ctx context.Context, userID string, record *models.Record, operation string, baseRevision, nowMs int64) (*Applied, error)

	// ChangesSince returns up to limit records of the user with
	// server revision strictly greater than sinceRev, ordered by revision.
	// Returns the records, the highest revision in the page and whether
	// more pages remain.
	ChangesSince(ctx context.Context, userID string, sinceRev int64, limit int) ([]*ServerRecord, int64, bool, error)

	// GetRecord retrieves a single record scoped to the user
	GetRecord(ctx context.Context, userID, table, id string) (*ServerRecord, error)

	// PurgeTombstones permanently deletes tombstones older than cutoffMs.
	// Idempotent.
	PurgeTombstones(ctx context.Context, userID string, cutoffMs int64) (int, error)
}
