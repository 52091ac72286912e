package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/growlog/internal/server/storage"
)

// DefaultTTL — срок жизни завершённой записи реестра. После истечения
// ключ считается отсутствующим, повторный запрос обрабатывается заново.
const DefaultTTL = 24 * time.Hour

// DefaultInFlightLease — срок аренды in-flight claim. Если обработчик
// упал не завершив запрос, ключ снова станет захватываемым после
// истечения аренды.
const DefaultInFlightLease = time.Minute

// ErrKeyPayloadMismatch indicates that an idempotency key was reused
// with a different payload. Это ошибка клиента, а не replay.
var ErrKeyPayloadMismatch = errors.New("idempotency key reused with different payload")

// ErrInFlight indicates that another request holding the same key is
// currently executing. Клиент должен повторить позже и получит replay.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Ledger реализует реестр идемпотентности: (userID, key) → кешированный
// ответ первой успешной обработки, с привязкой ключа к хешу payload.
// Захват ключа атомарен: из двух конкурентных запросов с одним ключом
// эффект выполняет ровно один.
type Ledger struct {
	storage storage.IdempotencyStorage
	log     *slog.Logger
	ttl     time.Duration
	lease   time.Duration
	nowMs   func() int64
}

// New creates a new idempotency ledger
func New(idempotencyStorage storage.IdempotencyStorage, log *slog.Logger) *Ledger {
	return &Ledger{
		storage: idempotencyStorage,
		log:     log,
		ttl:     DefaultTTL,
		lease:   DefaultInFlightLease,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Claim acquires the key before processing a request.
// Возвращает (nil, nil) когда claim захвачен и запрос нужно обработать,
// либо закешированную запись для replay. ErrInFlight — ключ держит
// конкурентный запрос; ErrKeyPayloadMismatch — ключ переиспользован с
// другим payload. Отсутствие ключа никогда не short-circuit'ит обработку.
func (l *Ledger) Claim(ctx context.Context, userID, key, payloadHash string) (*storage.IdempotencyEntry, error) {
	now := l.nowMs()
	claim := &storage.IdempotencyEntry{
		UserID:      userID,
		Key:         key,
		PayloadHash: payloadHash,
		Status:      storage.IdempotencyProcessing,
		CreatedAt:   now,
		ExpiresAt:   now + l.lease.Milliseconds(),
	}

	acquired, err := l.storage.ClaimKey(ctx, claim, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if acquired {
		return nil, nil
	}

	// ключ занят живой записью: replay, in-flight или reuse с чужим payload
	entry, err := l.storage.GetKey(ctx, userID, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		// запись исчезла между claim и чтением — конкурент её освободил
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	if entry.PayloadHash != payloadHash {
		l.log.Warn("idempotency key reused with different payload",
			"user_id", userID, "key", key)
		return nil, ErrKeyPayloadMismatch
	}

	if entry.Status == storage.IdempotencyProcessing {
		l.log.Debug("idempotency key in flight", "user_id", userID, "key", key)
		return nil, ErrInFlight
	}

	l.log.Debug("idempotency replay", "user_id", userID, "key", key)
	return entry, nil
}

// Record stores the response and completes the claimed key
func (l *Ledger) Record(ctx context.Context, userID, key, payloadHash string, statusCode int, response []byte) error {
	entry := &storage.IdempotencyEntry{
		UserID:      userID,
		Key:         key,
		PayloadHash: payloadHash,
		Status:      storage.IdempotencyCompleted,
		Response:    response,
		StatusCode:  statusCode,
		ExpiresAt:   l.nowMs() + l.ttl.Milliseconds(),
	}
	if err := l.storage.CompleteKey(ctx, entry); err != nil {
		return fmt.Errorf("failed to record idempotency entry: %w", err)
	}
	return nil
}

// Release drops the in-flight claim after a failed attempt so the
// client's retry can execute instead of waiting out the lease
func (l *Ledger) Release(ctx context.Context, userID, key string) {
	if err := l.storage.ReleaseKey(ctx, userID, key); err != nil {
		l.log.Error("failed to release idempotency key",
			"user_id", userID, "key", key, "error", err)
	}
}

// Sweep removes expired entries
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	deleted, err := l.storage.DeleteExpiredKeys(ctx, l.nowMs())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep idempotency ledger: %w", err)
	}
	if deleted > 0 {
		l.log.Debug("swept expired idempotency keys", "count", deleted)
	}
	return deleted, nil
}
