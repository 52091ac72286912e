package storage

import "context"

// Статусы записи реестра идемпотентности
const (
	// IdempotencyProcessing — ключ захвачен, запрос выполняется.
	// Конкурентный запрос с тем же ключом должен ждать и повторить.
	IdempotencyProcessing = "processing"
	// IdempotencyCompleted — запрос обработан, ответ закеширован
	IdempotencyCompleted = "completed"
)

// IdempotencyEntry — запись реестра идемпотентности: ключ привязан к
// хешу payload; после завершения кеширует ответ первой обработки.
type IdempotencyEntry struct {
	UserID      string
	Key         string
	PayloadHash string
	Status      string
	Response    []byte
	StatusCode  int
	CreatedAt   int64 // epoch-ms
	ExpiresAt   int64 // epoch-ms
}

//go:generate moq -out idempotencystorage_mock.go . IdempotencyStorage

// IdempotencyStorage defines interface for the idempotency ledger
type IdempotencyStorage interface {
	// ClaimKey atomically inserts the entry as the exclusive in-flight
	// claim for (userID, key). Возвращает true если claim захвачен;
	// false — если живая запись уже существует. Записи с истекшим
	// expiresAt перехватываются как отсутствующие.
	ClaimKey(ctx context.Context, entry *IdempotencyEntry, nowMs int64) (bool, error)

	// GetKey retrieves the entry for (userID, key)
	// Returns ErrKeyNotFound if no entry exists
	GetKey(ctx context.Context, userID, key string) (*IdempotencyEntry, error)

	// CompleteKey stores the response and marks the entry completed
	CompleteKey(ctx context.Context, entry *IdempotencyEntry) error

	// ReleaseKey drops an in-flight claim so the request can be retried.
	// Завершённые записи не трогает.
	ReleaseKey(ctx context.Context, userID, key string) error

	// DeleteExpiredKeys removes entries with expiresAt before nowMs
	DeleteExpiredKeys(ctx context.Context, nowMs int64) (int, error)
}
