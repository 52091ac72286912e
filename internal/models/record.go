package models

import "encoding/json"

// Record представляет синхронизируемую запись (envelope + типизированный payload).
// Используется и локальным хранилищем клиента, и авторитетным хранилищем сервера.
// Разрешение конфликтов: LWW на уровне записи, при равных timestamp побеждает
// локальная версия.
type Record struct {
	Payload           json.RawMessage `json:"payload,omitempty"`   // типизированные поля таблицы (JSON объект)
	ID                string          `json:"id"`                  // стабильный идентификатор, неизменяемый
	Table             string          `json:"table"`               // имя таблицы из schema registry
	OwnerID           string          `json:"owner_id,omitempty"`  // владелец; пустая строка = запись без владельца
	UpdatedAt         int64           `json:"updated_at"`          // epoch-ms локального изменения, монотонно неубывающий
	ServerRevision    int64           `json:"server_revision"`     // ревизия, назначенная сервером; 0 = не назначена
	ServerUpdatedAtMs int64           `json:"server_updated_at_ms"` // последний подтверждённый сервером timestamp; 0 = нет
	DeletedAt         int64           `json:"deleted_at,omitempty"` // tombstone; 0 = запись живая
	CreatedAt         int64           `json:"created_at"`          // epoch-ms создания
}

// Мутации записи
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// IsTombstoned сообщает, помечена ли запись как удалённая.
// Запись с tombstone больше не мутирует свои поля — только purge.
func (r *Record) IsTombstoned() bool {
	return r.DeletedAt != 0
}

// RemoteMs возвращает timestamp удалённой версии записи для LWW сравнения:
// serverUpdatedAtMs, либо updatedAt если сервер его не заполнил.
func (r *Record) RemoteMs() int64 {
	if r.ServerUpdatedAtMs != 0 {
		return r.ServerUpdatedAtMs
	}
	return r.UpdatedAt
}

// SupersededBy сообщает, побеждает ли удалённая версия с данным timestamp
// локальную запись. Правило LWW: строго больший timestamp выигрывает,
// при равенстве остаётся локальная версия.
func (r *Record) SupersededBy(remoteMs int64) bool {
	return remoteMs > r.UpdatedAt
}

// Touch продвигает UpdatedAt до nowMs, сохраняя монотонность:
// если локальные часы отстали или не сдвинулись, timestamp всё равно растёт.
func (r *Record) Touch(nowMs int64) {
	if nowMs <= r.UpdatedAt {
		nowMs = r.UpdatedAt + 1
	}
	r.UpdatedAt = nowMs
}

// Clone создает глубокую копию записи
func (r *Record) Clone() *Record {
	clone := *r
	if r.Payload != nil {
		clone.Payload = make(json.RawMessage, len(r.Payload))
		copy(clone.Payload, r.Payload)
	}
	return &clone
}
