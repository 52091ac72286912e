package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/growlog/internal/client/outbox"
	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/models"
)

// Service реализует локальный путь записи: мутация всегда применяется
// к локальному store немедленно, без ожидания сети. Запись и outbox
// entry пишутся одной транзакцией.
type Service struct {
	records storage.RecordStorage
	log     *slog.Logger
	nowMs   func() int64
}

// New creates a new local data service
func New(records storage.RecordStorage, log *slog.Logger) *Service {
	return &Service{
		records: records,
		log:     log,
		nowMs: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// Create inserts a new record into the given table
func (s *Service) Create(ctx context.Context, table, ownerID string, payload json.RawMessage) (*models.Record, error) {
	if !models.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	now := s.nowMs()
	record := &models.Record{
		ID:        uuid.NewString(),
		Table:     table,
		OwnerID:   ownerID,
		Payload:   payload,
		UpdatedAt: now,
		CreatedAt: now,
	}

	entry, err := outbox.NewEntry(record, models.OperationCreate, now)
	if err != nil {
		return nil, err
	}

	if err := s.records.SaveRecordWithOutbox(ctx, record, entry); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	s.log.Debug("record created", "table", table, "record_id", record.ID)
	return record, nil
}

// Update replaces the payload of an existing record
func (s *Service) Update(ctx context.Context, table, id string, payload json.RawMessage) (*models.Record, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	record, err := s.records.GetRecord(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if record.IsTombstoned() {
		return nil, storage.ErrTombstoned
	}

	now := s.nowMs()
	record.Payload = payload
	record.Touch(now)

	entry, err := outbox.NewEntry(record, models.OperationUpdate, now)
	if err != nil {
		return nil, err
	}

	if err := s.records.SaveRecordWithOutbox(ctx, record, entry); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	s.log.Debug("record updated", "table", table, "record_id", id)
	return record, nil
}

// Delete tombstones a record. Повторное удаление — no-op.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	record, err := s.records.GetRecord(ctx, table, id)
	if err != nil {
		return err
	}
	if record.IsTombstoned() {
		return nil
	}

	now := s.nowMs()
	record.DeletedAt = now
	record.Touch(now)

	entry, err := outbox.NewEntry(record, models.OperationDelete, now)
	if err != nil {
		return err
	}

	if err := s.records.SaveRecordWithOutbox(ctx, record, entry); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.log.Debug("record tombstoned", "table", table, "record_id", id)
	return nil
}

// Get retrieves a record by table and id
func (s *Service) Get(ctx context.Context, table, id string) (*models.Record, error) {
	return s.records.GetRecord(ctx, table, id)
}

// List returns all live records of a table
func (s *Service) List(ctx context.Context, table string) ([]*models.Record, error) {
	if !models.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return s.records.ListRecords(ctx, table)
}
