package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	idemkey "github.com/iudanet/growlog/internal/idempotency"
	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/server/idempotency"
	"github.com/iudanet/growlog/internal/server/storage"
	"github.com/iudanet/growlog/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
	// UsernameKey ключ для хранения username в контексте
	UsernameKey contextKey = "username"
)

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsername извлекает username из контекста запроса
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// defaultPullLimit — максимум записей на одну страницу pull
const defaultPullLimit = 500

// maxPushBody ограничивает размер push запроса (защита от раздутых batch'ей)
const maxPushBody = 4 << 20

// TaskEnqueuer ставит фоновую задачу в очередь доставки
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*models.QueuedTask, error)
}

// SyncHandler обрабатывает pull/push синхронизацию
type SyncHandler struct {
	logger   *slog.Logger
	records  storage.RecordStorage
	ledger   *idempotency.Ledger
	enqueuer TaskEnqueuer

	nowMs     func() int64
	pullLimit int
}

// NewSyncHandler creates a new sync handler.
// enqueuer может быть nil — тогда уведомления не ставятся в очередь.
func NewSyncHandler(logger *slog.Logger, records storage.RecordStorage, ledger *idempotency.Ledger, enqueuer TaskEnqueuer) *SyncHandler {
	return &SyncHandler{
		logger:    logger,
		records:   records,
		ledger:    ledger,
		enqueuer:  enqueuer,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		pullLimit: defaultPullLimit,
	}
}

// Pull обрабатывает GET /api/v1/sync/pull?cursor=...&since=...
// Возвращает страницу изменений после курсора, разделённую на
// created/updated/deleted по таблицам. Единственный watermark пагинации —
// курсор ревизий: since валидируется, но на выборку не влияет (клиент
// без since получит superset изменений — это безопасно).
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("user id not found in context")
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sinceRev, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid cursor", slog.Any("error", err))
		h.sendError(w, "invalid cursor", http.StatusBadRequest)
		return
	}

	// since (epoch-ms последнего pull) принимаем для диагностики;
	// границей страницы служит только курсор ревизий
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if _, err := strconv.ParseInt(sinceStr, 10, 64); err != nil {
			h.sendError(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
	}

	records, maxRev, hasMore, err := h.records.ChangesSince(ctx, userID, sinceRev, h.pullLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read changes", slog.Any("error", err), slog.String("user_id", userID))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	changes := make(map[string]api.TableChanges)
	for _, rec := range records {
		tc := changes[rec.Table]
		switch {
		case rec.IsTombstoned():
			tc.Deleted = append(tc.Deleted, rec.ID)
		case rec.CreatedRev > sinceRev:
			tc.Created = append(tc.Created, toWireRecord(&rec.Record))
		default:
			tc.Updated = append(tc.Updated, toWireRecord(&rec.Record))
		}
		changes[rec.Table] = tc
	}

	// курсор выдаётся всегда: клиент сохраняет его как durable watermark
	nextCursor := encodeCursor(maxRev)
	if maxRev == 0 {
		nextCursor = encodeCursor(sinceRev)
	}

	resp := api.PullResponse{
		Changes:         changes,
		NextCursor:      nextCursor,
		ServerTimestamp: h.nowMs(),
		HasMore:         hasMore,
	}

	h.logger.InfoContext(ctx, "pull completed",
		slog.String("user_id", userID),
		slog.Int64("since_rev", sinceRev),
		slog.Int("records", len(records)),
		slog.Bool("has_more", hasMore))

	h.sendJSON(w, resp, http.StatusOK)
}

// Push обрабатывает POST /api/v1/sync/push
// Применяет batch мутаций клиента. Заголовок X-Idempotency-Key делает
// повтор идентичного batch безопасным: закешированный ответ отдаётся
// без повторного применения.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("user id not found in context")
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		h.sendError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	// Захват ключа атомарен: конкурентный запрос с тем же ключом либо
	// получает replay, либо ErrInFlight — эффект выполняется один раз
	key := strings.TrimSpace(r.Header.Get(api.IdempotencyKeyHeader))
	var payloadHash string
	if key != "" {
		payloadHash, err = idemkey.HashPayload(body)
		if err != nil {
			h.sendError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		cached, err := h.ledger.Claim(ctx, userID, key, payloadHash)
		if err != nil {
			switch {
			case errors.Is(err, idempotency.ErrKeyPayloadMismatch):
				h.sendError(w, "idempotency key reused with different payload", http.StatusUnprocessableEntity)
			case errors.Is(err, idempotency.ErrInFlight):
				h.sendError(w, "push with this idempotency key is already in progress", http.StatusTooManyRequests)
			default:
				h.logger.ErrorContext(ctx, "idempotency claim failed", slog.Any("error", err))
				h.sendError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}
		if cached != nil {
			h.logger.InfoContext(ctx, "push replayed from idempotency ledger",
				slog.String("user_id", userID), slog.String("key", key))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Response)
			return
		}
	}

	var req api.PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode push request", slog.Any("error", err))
		if key != "" {
			h.ledger.Release(ctx, userID, key)
		}
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	now := h.nowMs()
	results := make([]api.PushResult, 0, len(req.Changes))
	applied := 0

	for _, change := range req.Changes {
		result := h.applyChange(ctx, userID, &change, now)
		if result.Status == api.PushStatusOK {
			applied++
		}
		results = append(results, result)
	}

	resp := api.PushResponse{
		Results:         results,
		ServerTimestamp: now,
	}

	respBody, err := json.Marshal(resp)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal push response", slog.Any("error", err))
		if key != "" {
			h.ledger.Release(ctx, userID, key)
		}
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// ответ фиксируется в реестре до отправки клиенту
	if key != "" {
		if err := h.ledger.Record(ctx, userID, key, payloadHash, http.StatusOK, respBody); err != nil {
			h.logger.ErrorContext(ctx, "failed to record idempotency entry", slog.Any("error", err))
		}
	}

	if applied > 0 {
		h.notifySyncApplied(ctx, userID, applied)
	}

	h.logger.InfoContext(ctx, "push completed",
		slog.String("user_id", userID),
		slog.Int("changes", len(req.Changes)),
		slog.Int("applied", applied))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

// applyChange применяет одну мутацию и классифицирует результат
func (h *SyncHandler) applyChange(ctx context.Context, userID string, change *api.PushChange, nowMs int64) api.PushResult {
	result := api.PushResult{
		RecordID:   change.Record.ID,
		ClientTxID: change.ClientTxID,
	}

	if change.Record.ID == "" {
		result.Status = api.PushStatusInvalid
		result.Message = "record id is required"
		return result
	}
	if !models.KnownTable(change.Record.Table) {
		result.Status = api.PushStatusInvalid
		result.Message = fmt.Sprintf("unknown table %q", change.Record.Table)
		return result
	}
	switch change.Operation {
	case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
	default:
		result.Status = api.PushStatusInvalid
		result.Message = fmt.Sprintf("unknown operation %q", change.Operation)
		return result
	}

	record := fromWireRecord(&change.Record)
	record.OwnerID = userID

	applied, err := h.records.ApplyChange(ctx, userID, record, change.Operation, change.BaseServerRevision, nowMs)
	if err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			result.Status = api.PushStatusConflict
			result.Message = "base revision is stale"
			return result
		}
		h.logger.ErrorContext(ctx, "failed to apply change",
			slog.Any("error", err),
			slog.String("record_id", change.Record.ID))
		result.Status = api.PushStatusInvalid
		result.Message = "failed to apply change"
		return result
	}

	result.Status = api.PushStatusOK
	result.ServerRevision = applied.ServerRevision
	result.ServerUpdatedAtMs = applied.ServerUpdatedAtMs
	return result
}

// notifySyncApplied ставит в очередь push-уведомление о применённых
// изменениях. Отказ очереди не ломает push: уведомление best-effort.
func (h *SyncHandler) notifySyncApplied(ctx context.Context, userID string, applied int) {
	if h.enqueuer == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"user_id": userID,
		"title":   "Data synced",
		"body":    fmt.Sprintf("%d change(s) applied", applied),
	})
	if err != nil {
		return
	}

	if _, err := h.enqueuer.Enqueue(ctx, models.TaskKindPushNotification, payload); err != nil {
		h.logger.WarnContext(ctx, "failed to enqueue sync notification",
			slog.Any("error", err), slog.String("user_id", userID))
	}
}

// cursorPrefix — внутренний формат курсора: номер последней выданной ревизии
const cursorPrefix = "rev:"

// encodeCursor упаковывает ревизию в opaque строку для клиента
func encodeCursor(rev int64) string {
	return base64.URLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(rev, 10)))
}

// decodeCursor распаковывает курсор; пустая строка означает начало истории
func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to decode cursor: %w", err)
	}

	value, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("malformed cursor")
	}

	rev, err := strconv.ParseInt(value, 10, 64)
	if err != nil || rev < 0 {
		return 0, fmt.Errorf("malformed cursor revision")
	}
	return rev, nil
}

// toWireRecord конвертирует модель в wire-формат
func toWireRecord(rec *models.Record) api.Record {
	return api.Record{
		Payload:           rec.Payload,
		ID:                rec.ID,
		Table:             rec.Table,
		OwnerID:           rec.OwnerID,
		UpdatedAt:         rec.UpdatedAt,
		ServerRevision:    rec.ServerRevision,
		ServerUpdatedAtMs: rec.ServerUpdatedAtMs,
		DeletedAt:         rec.DeletedAt,
		CreatedAt:         rec.CreatedAt,
	}
}

// fromWireRecord конвертирует wire-формат в модель
func fromWireRecord(rec *api.Record) *models.Record {
	return &models.Record{
		Payload:           rec.Payload,
		ID:                rec.ID,
		Table:             rec.Table,
		OwnerID:           rec.OwnerID,
		UpdatedAt:         rec.UpdatedAt,
		ServerRevision:    rec.ServerRevision,
		ServerUpdatedAtMs: rec.ServerUpdatedAtMs,
		DeletedAt:         rec.DeletedAt,
		CreatedAt:         rec.CreatedAt,
	}
}

// sendJSON отправляет JSON ответ
func (h *SyncHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *SyncHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}
