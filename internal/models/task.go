package models

import "encoding/json"

// Виды асинхронных задач
const (
	// TaskKindPushNotification доставка push-уведомления через внешний провайдер
	TaskKindPushNotification = "push_notification"
)

// QueuedTask представляет асинхронную side-effect задачу в claim-based очереди.
// Жизненный цикл: pending → claimed → {completed | released-for-retry | terminal-failed}.
// Claim — эксклюзивная аренда с истечением: после claim_expires_at задачу может
// перехватить другой вызов диспетчера (at-least-once).
type QueuedTask struct {
	Payload        json.RawMessage `json:"payload"`
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	ClaimID        string          `json:"claim_id,omitempty"`   // opaque токен владения; пустой = не заявлена
	LastError      string          `json:"last_error,omitempty"` // сохраняется для observability, не стирается
	Processed      bool            `json:"processed"`            // терминальный маркер (успех или terminal failure)
	AttemptCount   int             `json:"attempt_count"`
	ClaimedAt      int64           `json:"claimed_at,omitempty"`       // epoch-ms
	ClaimExpiresAt int64           `json:"claim_expires_at,omitempty"` // epoch-ms
	NextAttemptAt  int64           `json:"next_attempt_at,omitempty"`  // epoch-ms; 0 = готова сразу
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// HasLiveClaim сообщает, удерживается ли задача живым claim на момент nowMs.
// Инвариант: processed=true и живой claim несовместимы.
func (t *QueuedTask) HasLiveClaim(nowMs int64) bool {
	return t.ClaimID != "" && t.ClaimExpiresAt > nowMs
}
