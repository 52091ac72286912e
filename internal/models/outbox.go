package models

import "encoding/json"

// OutboxStatus статус записи в outbox
type OutboxStatus string

const (
	// OutboxStatusPending запись ожидает отправки на сервер
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusProcessing запись в процессе отправки
	OutboxStatusProcessing OutboxStatus = "processing"
	// OutboxStatusCompleted сервер подтвердил применение мутации
	OutboxStatusCompleted OutboxStatus = "completed"
	// OutboxStatusFailed бюджет ретраев исчерпан или ошибка не retryable;
	// запись остаётся для ручного разбора, никогда не удаляется молча
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxEntry представляет одну локальную мутацию, ожидающую применения
// на сервере. Payload — снапшот записи на момент постановки в очередь.
type OutboxEntry struct {
	Payload            json.RawMessage `json:"payload,omitempty"`
	ID                 string          `json:"id"`
	Table              string          `json:"table"`
	Operation          string          `json:"operation"` // create, update, delete
	RecordID           string          `json:"record_id"`
	ClientTxID         string          `json:"client_tx_id"`
	IdempotencyKey     string          `json:"idempotency_key"`
	LastError          string          `json:"last_error,omitempty"`
	Status             OutboxStatus    `json:"status"`
	Retries            int             `json:"retries"`
	NextRetryAt        int64           `json:"next_retry_at,omitempty"` // epoch-ms; 0 = готова сразу
	BaseServerRevision int64           `json:"base_server_revision"`    // ревизия, на которой основана мутация
	CreatedAt          int64           `json:"created_at"`
	Seq                uint64          `json:"seq"` // порядковый номер постановки (порядок отправки)
}

// IsTerminal сообщает, находится ли запись в финальном статусе.
// Из completed/failed переходов больше нет.
func (e *OutboxEntry) IsTerminal() bool {
	return e.Status == OutboxStatusCompleted || e.Status == OutboxStatusFailed
}
