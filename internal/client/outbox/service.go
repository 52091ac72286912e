package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/internal/idempotency"
	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/retry"
)

// Service управляет очередью исходящих мутаций. Каждая локальная запись
// проходит через outbox: durable FIFO переживает перезапуск приложения.
type Service struct {
	storage storage.OutboxStorage
	log     *slog.Logger
}

// New creates a new outbox service
func New(outboxStorage storage.OutboxStorage, log *slog.Logger) *Service {
	return &Service{
		storage: outboxStorage,
		log:     log,
	}
}

// NewEntry builds an outbox entry from a record snapshot.
// Payload фиксируется на момент постановки: последующие локальные правки
// записи не меняют уже поставленную в очередь мутацию.
func NewEntry(record *models.Record, operation string, nowMs int64) (*models.OutboxEntry, error) {
	snapshot, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot record: %w", err)
	}

	clientTxID := uuid.NewString()
	key, err := idempotency.DeriveKey("sync.push/"+clientTxID, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to derive idempotency key: %w", err)
	}

	return &models.OutboxEntry{
		ID:                 uuid.NewString(),
		Table:              record.Table,
		Operation:          operation,
		RecordID:           record.ID,
		ClientTxID:         clientTxID,
		IdempotencyKey:     key,
		Payload:            snapshot,
		Status:             models.OutboxStatusPending,
		BaseServerRevision: record.ServerRevision,
		CreatedAt:          nowMs,
	}, nil
}

// Resnapshot replaces the entry payload with a fresh record snapshot and
// derives a new idempotency key. Используется после conflict: повторная
// отправка несёт новую мутацию, а не реплей старой.
func Resnapshot(entry *models.OutboxEntry, record *models.Record) error {
	snapshot, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to snapshot record: %w", err)
	}

	clientTxID := uuid.NewString()
	key, err := idempotency.DeriveKey("sync.push/"+clientTxID, snapshot)
	if err != nil {
		return fmt.Errorf("failed to derive idempotency key: %w", err)
	}

	entry.Payload = snapshot
	entry.ClientTxID = clientTxID
	entry.IdempotencyKey = key
	entry.BaseServerRevision = record.ServerRevision
	return nil
}

// Enqueue builds an entry from the record snapshot and stores it
func (s *Service) Enqueue(ctx context.Context, record *models.Record, operation string, nowMs int64) (*models.OutboxEntry, error) {
	entry, err := NewEntry(record, operation, nowMs)
	if err != nil {
		return nil, err
	}

	if err := s.storage.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}

	s.log.Debug("outbox entry enqueued",
		"entry_id", entry.ID,
		"table", entry.Table,
		"operation", entry.Operation,
		"record_id", entry.RecordID,
	)
	return entry, nil
}

// Due returns pending entries ready for processing at nowMs
func (s *Service) Due(ctx context.Context, nowMs int64, limit int) ([]*models.OutboxEntry, error) {
	return s.storage.DueEntries(ctx, nowMs, limit)
}

// RequeueStale returns entries stuck in processing back to pending.
// Вызывается в начале каждого drain: клиент — единственный писатель,
// так что processing на этом этапе означает прерванную прошлую попытку.
func (s *Service) RequeueStale(ctx context.Context, nowMs int64) (int, error) {
	requeued, err := s.storage.RequeueProcessing(ctx, nowMs)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale entries: %w", err)
	}
	if requeued > 0 {
		s.log.Warn("requeued interrupted outbox entries", "count", requeued)
	}
	return requeued, nil
}

// Failed returns entries that exhausted their retry budget.
// Они никогда не удаляются молча и остаются для инспекции.
func (s *Service) Failed(ctx context.Context) ([]*models.OutboxEntry, error) {
	return s.storage.EntriesByStatus(ctx, models.OutboxStatusFailed)
}

// MarkProcessing transitions an entry to processing
func (s *Service) MarkProcessing(ctx context.Context, entry *models.OutboxEntry) error {
	entry.Status = models.OutboxStatusProcessing
	return s.storage.UpdateEntry(ctx, entry)
}

// MarkCompleted transitions an entry to completed after server ack
func (s *Service) MarkCompleted(ctx context.Context, entry *models.OutboxEntry) error {
	entry.Status = models.OutboxStatusCompleted
	entry.LastError = ""
	return s.storage.UpdateEntry(ctx, entry)
}

// MarkFailedAttempt records an unsuccessful attempt. Transient ошибки
// возвращают запись в pending с экспоненциальной задержкой; terminal
// ошибки и исчерпанный бюджет переводят в failed.
func (s *Service) MarkFailedAttempt(ctx context.Context, entry *models.OutboxEntry, attemptErr error, nowMs int64) error {
	entry.Retries++
	entry.LastError = attemptErr.Error()

	switch {
	case !faults.IsRetryable(attemptErr):
		entry.Status = models.OutboxStatusFailed
		s.log.Warn("outbox entry failed permanently",
			"entry_id", entry.ID,
			"record_id", entry.RecordID,
			"error", attemptErr,
		)
	case entry.Retries >= retry.OutboxMaxRetries:
		entry.Status = models.OutboxStatusFailed
		s.log.Warn("outbox entry exhausted retries",
			"entry_id", entry.ID,
			"record_id", entry.RecordID,
			"retries", entry.Retries,
		)
	default:
		entry.Status = models.OutboxStatusPending
		entry.NextRetryAt = nowMs + retry.OutboxDelay(entry.Retries).Milliseconds()
		s.log.Debug("outbox entry scheduled for retry",
			"entry_id", entry.ID,
			"retries", entry.Retries,
			"next_retry_at", entry.NextRetryAt,
		)
	}

	return s.storage.UpdateEntry(ctx, entry)
}

// Update persists arbitrary entry changes (e.g. after Resnapshot)
func (s *Service) Update(ctx context.Context, entry *models.OutboxEntry) error {
	return s.storage.UpdateEntry(ctx, entry)
}
