package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/growlog/internal/client/outbox"
	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/internal/idempotency"
	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/retry"
	"github.com/iudanet/growlog/pkg/api"
)

// defaultPushBatchSize ограничивает размер одного push запроса
const defaultPushBatchSize = 100

// DefaultTombstoneRetention — окно хранения tombstone перед purge.
// Устройство, не синхронизировавшееся дольше этого окна, может получить
// полный re-sync вместо инкрементального.
const DefaultTombstoneRetention = 30 * 24 * time.Hour

//go:generate moq -out apiclient_mock.go . APIClient

// APIClient defines the server API surface used by the reconciler
type APIClient interface {
	Pull(ctx context.Context, cursor string, sinceMs int64) (*api.PullResponse, error)
	Push(ctx context.Context, req *api.PushRequest, idempotencyKey string) (*api.PushResponse, error)
}

// Report сводка одного цикла синхронизации
type Report struct {
	Pulled    int // записей применено из pull
	Pushed    int // мутаций подтверждено сервером
	Conflicts int // мутаций отклонено как conflict
	Failed    int // мутаций отклонено как invalid
}

// Service реализует цикл reconciliation: pull серверных изменений,
// merge в локальный store, push локального outbox. Вызывается при
// восстановлении связи, по таймеру или вручную.
type Service struct {
	api      APIClient
	records  storage.RecordStorage
	outbox   *outbox.Service
	metadata storage.MetadataStorage
	log      *slog.Logger

	nowMs         func() int64
	pushBatchSize int
}

// New creates a new sync service
func New(
	apiClient APIClient,
	records storage.RecordStorage,
	outboxSvc *outbox.Service,
	metadata storage.MetadataStorage,
	log *slog.Logger,
) *Service {
	return &Service{
		api:           apiClient,
		records:       records,
		outbox:        outboxSvc,
		metadata:      metadata,
		log:           log,
		nowMs:         func() int64 { return time.Now().UnixMilli() },
		pushBatchSize: defaultPushBatchSize,
	}
}

// Sync performs a full reconciliation cycle: pull, merge, push
func (s *Service) Sync(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := s.pull(ctx, report); err != nil {
		return report, err
	}
	if err := s.push(ctx, report); err != nil {
		return report, err
	}

	s.log.Info("sync completed",
		"pulled", report.Pulled,
		"pushed", report.Pushed,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
	)
	return report, nil
}

// Pull fetches and merges server-side changes without pushing
func (s *Service) Pull(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := s.pull(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) pull(ctx context.Context, report *Report) error {
	cursor, err := s.metadata.GetCursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	sinceMs, err := s.metadata.GetLastPulledAt(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last pulled at: %w", err)
	}

	for {
		resp, err := s.api.Pull(ctx, cursor, sinceMs)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}

		applied, err := s.mergeChanges(ctx, resp)
		if err != nil {
			return err
		}
		report.Pulled += applied

		// cursor сохраняется только после успешного применения batch:
		// прерванный pull продолжится с того же места
		if resp.NextCursor != "" {
			cursor = resp.NextCursor
			if err := s.metadata.SaveCursor(ctx, cursor); err != nil {
				return fmt.Errorf("failed to save cursor: %w", err)
			}
		}
		if err := s.metadata.SaveLastPulledAt(ctx, resp.ServerTimestamp); err != nil {
			return fmt.Errorf("failed to save last pulled at: %w", err)
		}

		if !resp.HasMore {
			return nil
		}
	}
}

// mergeChanges merges one pull batch into the local store atomically
func (s *Service) mergeChanges(ctx context.Context, resp *api.PullResponse) (int, error) {
	var toApply []*models.Record

	for table, changes := range resp.Changes {
		if !models.KnownTable(table) {
			// неизвестная таблица: старый клиент против новой схемы сервера
			s.log.Warn("skipping unknown table in pull response", "table", table)
			continue
		}
		schema, err := models.SchemaFor(table)
		if err != nil {
			return 0, err
		}

		// дедупликация batch: последняя версия записи с данным id побеждает
		latest := make(map[string]api.Record)
		for _, rec := range changes.Created {
			latest[rec.ID] = rec
		}
		for _, rec := range changes.Updated {
			latest[rec.ID] = rec
		}
		deleted := make(map[string]bool, len(changes.Deleted))
		for _, id := range changes.Deleted {
			deleted[id] = true
		}

		for id, remote := range latest {
			if deleted[id] {
				continue
			}
			merged, err := s.mergeRecord(ctx, schema, table, remote)
			if err != nil {
				return 0, err
			}
			if merged != nil {
				toApply = append(toApply, merged)
			}
		}

		for id := range deleted {
			tombstone, err := s.mergeDeletion(ctx, table, id, resp.ServerTimestamp)
			if err != nil {
				return 0, err
			}
			if tombstone != nil {
				toApply = append(toApply, tombstone)
			}
		}
	}

	if len(toApply) == 0 {
		return 0, nil
	}
	if err := s.records.ApplyRemote(ctx, toApply); err != nil {
		return 0, fmt.Errorf("failed to apply pulled records: %w", err)
	}
	return len(toApply), nil
}

// mergeRecord resolves one remote record against its local counterpart.
// Возвращает запись для сохранения или nil, если изменений нет.
func (s *Service) mergeRecord(ctx context.Context, schema models.TableSchema, table string, remote api.Record) (*models.Record, error) {
	local, err := s.records.GetRecord(ctx, table, remote.ID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		// записи нет локально — вставляем как есть
		return fromWireRecord(remote), nil
	}
	if err != nil {
		return nil, err
	}

	// tombstone проверяется до LWW: удалённая версия не воскрешает запись
	if local.IsTombstoned() {
		local.ServerRevision = remote.ServerRevision
		local.ServerUpdatedAtMs = remote.ServerUpdatedAtMs
		return local, nil
	}

	remoteMs := wireRemoteMs(remote)
	if !local.SupersededBy(remoteMs) {
		// локальная версия новее (или тот же timestamp) — она победит
		// при следующем push, но серверное состояние запоминаем
		local.ServerRevision = remote.ServerRevision
		local.ServerUpdatedAtMs = remote.ServerUpdatedAtMs
		return local, nil
	}

	mergedPayload, err := models.MergePayloads(schema, local.Payload, remote.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payloads for %s/%s: %w", table, remote.ID, err)
	}

	merged := fromWireRecord(remote)
	merged.Payload = mergedPayload
	merged.UpdatedAt = remoteMs
	if local.CreatedAt != 0 {
		merged.CreatedAt = local.CreatedAt
	}
	return merged, nil
}

// mergeDeletion applies a server-side deletion as a local tombstone
func (s *Service) mergeDeletion(ctx context.Context, table, id string, serverTs int64) (*models.Record, error) {
	local, err := s.records.GetRecord(ctx, table, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		// tombstone вставляется даже для неизвестной записи: защита от
		// воскрешения при out-of-order доставке
		return &models.Record{
			ID:                id,
			Table:             table,
			DeletedAt:         serverTs,
			UpdatedAt:         serverTs,
			CreatedAt:         serverTs,
			ServerUpdatedAtMs: serverTs,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if local.IsTombstoned() {
		return nil, nil
	}

	// tombstone пришёл с сервера: запись уже не новее серверной версии
	local.DeletedAt = serverTs
	local.ServerUpdatedAtMs = serverTs
	local.Touch(serverTs)
	return local, nil
}

// push drains due outbox entries in one batch request
func (s *Service) push(ctx context.Context, report *Report) error {
	// записи, зависшие в processing после падения прошлого drain,
	// возвращаются в очередь перед выборкой
	if _, err := s.outbox.RequeueStale(ctx, s.nowMs()); err != nil {
		return err
	}

	due, err := s.outbox.Due(ctx, s.nowMs(), s.pushBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load due entries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	for _, entry := range due {
		if err := s.outbox.MarkProcessing(ctx, entry); err != nil {
			return fmt.Errorf("failed to mark entry processing: %w", err)
		}
	}

	changes := make([]api.PushChange, 0, len(due))
	for _, entry := range due {
		var rec api.Record
		if err := json.Unmarshal(entry.Payload, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal entry snapshot: %w", err)
		}
		changes = append(changes, api.PushChange{
			Record:             rec,
			Operation:          entry.Operation,
			ClientTxID:         entry.ClientTxID,
			IdempotencyKey:     entry.IdempotencyKey,
			BaseServerRevision: entry.BaseServerRevision,
		})
	}

	lastPulled, err := s.metadata.GetLastPulledAt(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last pulled at: %w", err)
	}
	req := &api.PushRequest{Changes: changes, LastPulledAtMs: lastPulled}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}
	batchKey, err := idempotency.DeriveKey("sync.push", body)
	if err != nil {
		return fmt.Errorf("failed to derive batch key: %w", err)
	}

	resp, err := s.api.Push(ctx, req, batchKey)
	if err != nil {
		// весь batch не дошёл: каждая entry получает неудачную попытку
		now := s.nowMs()
		for _, entry := range due {
			if markErr := s.outbox.MarkFailedAttempt(ctx, entry, err, now); markErr != nil {
				s.log.Error("failed to record push attempt", "entry_id", entry.ID, "error", markErr)
			}
		}
		return fmt.Errorf("push failed: %w", err)
	}

	byTx := make(map[string]*models.OutboxEntry, len(due))
	for _, entry := range due {
		byTx[entry.ClientTxID] = entry
	}

	for _, result := range resp.Results {
		entry, ok := byTx[result.ClientTxID]
		if !ok {
			s.log.Warn("push result for unknown client tx", "client_tx_id", result.ClientTxID)
			continue
		}
		delete(byTx, result.ClientTxID)

		switch result.Status {
		case api.PushStatusOK:
			if err := s.confirmEntry(ctx, entry, result); err != nil {
				return err
			}
			report.Pushed++
		case api.PushStatusConflict:
			report.Conflicts++
			if err := s.resolveConflict(ctx, entry); err != nil {
				return err
			}
		default:
			report.Failed++
			invalid := fmt.Errorf("%w: %s", faults.ErrValidation, result.Message)
			if err := s.outbox.MarkFailedAttempt(ctx, entry, invalid, s.nowMs()); err != nil {
				return err
			}
		}
	}

	// entries без результата считаем временной ошибкой сервера
	for _, entry := range byTx {
		missing := fmt.Errorf("%w: no result for entry", faults.ErrTransient)
		if err := s.outbox.MarkFailedAttempt(ctx, entry, missing, s.nowMs()); err != nil {
			return err
		}
	}
	return nil
}

// confirmEntry completes an acked entry and records server bookkeeping
// on the local record
func (s *Service) confirmEntry(ctx context.Context, entry *models.OutboxEntry, result api.PushResult) error {
	if err := s.outbox.MarkCompleted(ctx, entry); err != nil {
		return fmt.Errorf("failed to complete entry: %w", err)
	}

	record, err := s.records.GetRecord(ctx, entry.Table, entry.RecordID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	record.ServerRevision = result.ServerRevision
	record.ServerUpdatedAtMs = result.ServerUpdatedAtMs
	if err := s.records.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to confirm record: %w", err)
	}
	return nil
}

// resolveConflict handles a server conflict: re-pull, re-snapshot the
// entry from the merged local record and retry under a new key.
func (s *Service) resolveConflict(ctx context.Context, entry *models.OutboxEntry) error {
	if err := s.pull(ctx, &Report{}); err != nil {
		// re-pull не удался — откладываем entry как transient
		return s.outbox.MarkFailedAttempt(ctx, entry,
			fmt.Errorf("%w: re-pull after conflict: %v", faults.ErrTransient, err), s.nowMs())
	}

	record, err := s.records.GetRecord(ctx, entry.Table, entry.RecordID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		// запись исчезла после merge — мутация больше неактуальна
		return s.outbox.MarkCompleted(ctx, entry)
	}
	if err != nil {
		return err
	}

	entry.Retries++
	if entry.Retries >= retry.OutboxMaxRetries {
		entry.Status = models.OutboxStatusFailed
		entry.LastError = "conflict: retry budget exhausted"
		s.log.Warn("outbox entry failed after repeated conflicts",
			"entry_id", entry.ID, "record_id", entry.RecordID)
		return s.outbox.Update(ctx, entry)
	}

	// повторная отправка несёт слитую версию и новый ключ идемпотентности
	if err := outbox.Resnapshot(entry, record); err != nil {
		return err
	}
	if record.IsTombstoned() {
		entry.Operation = models.OperationDelete
	}
	entry.Status = models.OutboxStatusPending
	entry.NextRetryAt = s.nowMs() + retry.OutboxDelay(entry.Retries).Milliseconds()
	entry.LastError = "conflict"
	return s.outbox.Update(ctx, entry)
}

// ClaimOwnership assigns all unowned local records to ownerID and queues
// them for upload. Вызывается после первого логина на устройстве.
func (s *Service) ClaimOwnership(ctx context.Context, ownerID string) (int, error) {
	now := s.nowMs()
	claimed, err := s.records.ClaimOwnership(ctx, ownerID, now, func(r *models.Record) (*models.OutboxEntry, error) {
		return outbox.NewEntry(r, models.OperationUpdate, now)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to claim ownership: %w", err)
	}
	if claimed > 0 {
		s.log.Info("claimed ownership of local records", "owner_id", ownerID, "count", claimed)
	}
	return claimed, nil
}

// PurgeTombstones deletes tombstones older than the retention window
func (s *Service) PurgeTombstones(ctx context.Context, ownerID string, retention time.Duration) (int, error) {
	cutoff := s.nowMs() - retention.Milliseconds()
	purged, err := s.records.PurgeTombstones(ctx, ownerID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	if purged > 0 {
		s.log.Info("purged tombstones", "count", purged)
	}
	return purged, nil
}

// fromWireRecord converts a wire record to the storage model
func fromWireRecord(rec api.Record) *models.Record {
	return &models.Record{
		ID:                rec.ID,
		Table:             rec.Table,
		OwnerID:           rec.OwnerID,
		Payload:           rec.Payload,
		UpdatedAt:         rec.UpdatedAt,
		ServerRevision:    rec.ServerRevision,
		ServerUpdatedAtMs: rec.ServerUpdatedAtMs,
		DeletedAt:         rec.DeletedAt,
		CreatedAt:         rec.CreatedAt,
	}
}

// wireRemoteMs returns the LWW timestamp of a wire record
func wireRemoteMs(rec api.Record) int64 {
	if rec.ServerUpdatedAtMs != 0 {
		return rec.ServerUpdatedAtMs
	}
	return rec.UpdatedAt
}
