package api

import "encoding/json"

// Record представляет одну синхронизируемую запись в wire-формате.
// Payload содержит типизированные поля таблицы (см. internal/models/schema.go).
type Record struct {
	Payload           json.RawMessage `json:"payload,omitempty"`
	ID                string          `json:"id"`
	Table             string          `json:"table"`
	OwnerID           string          `json:"owner_id,omitempty"`
	UpdatedAt         int64           `json:"updated_at"`
	ServerRevision    int64           `json:"server_revision,omitempty"`
	ServerUpdatedAtMs int64           `json:"server_updated_at_ms,omitempty"`
	DeletedAt         int64           `json:"deleted_at,omitempty"`
	CreatedAt         int64           `json:"created_at"`
}

// TableChanges группирует изменения одной таблицы в pull ответе
type TableChanges struct {
	Created []Record `json:"created"`
	Updated []Record `json:"updated"`
	Deleted []string `json:"deleted"`
}

// PullResponse представляет ответ сервера на pull запрос
type PullResponse struct {
	Changes         map[string]TableChanges `json:"changes"`
	NextCursor      string                  `json:"next_cursor,omitempty"`
	ServerTimestamp int64                   `json:"server_timestamp"`
	HasMore         bool                    `json:"has_more"`
}

// PushChange представляет одну мутацию в push запросе
type PushChange struct {
	Record             Record `json:"record"`
	Operation          string `json:"operation"` // create, update, delete
	ClientTxID         string `json:"client_tx_id"`
	IdempotencyKey     string `json:"idempotency_key"`
	BaseServerRevision int64  `json:"base_server_revision"`
}

// PushRequest представляет запрос на применение локальных мутаций
type PushRequest struct {
	Changes        []PushChange `json:"changes"`
	LastPulledAtMs int64        `json:"last_pulled_at_ms"`
}

// Per-record push statuses
const (
	PushStatusOK       = "ok"
	PushStatusConflict = "conflict"
	PushStatusInvalid  = "invalid"
)

// PushResult представляет результат применения одной мутации
type PushResult struct {
	RecordID          string `json:"record_id"`
	ClientTxID        string `json:"client_tx_id"`
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	ServerRevision    int64  `json:"server_revision,omitempty"`
	ServerUpdatedAtMs int64  `json:"server_updated_at_ms,omitempty"`
}

// PushResponse представляет ответ сервера на push запрос
type PushResponse struct {
	Results         []PushResult `json:"results"`
	ServerTimestamp int64        `json:"server_timestamp"`
}

// IdempotencyKeyHeader имя HTTP заголовка с явным ключом идемпотентности
const IdempotencyKeyHeader = "X-Idempotency-Key"
