// Package idempotency содержит детерминированный вывод ключей идемпотентности.
// Ключ используется клиентом при push и сервером в idempotency ledger:
// один и тот же (endpoint, payload) всегда даёт один и тот же ключ,
// поэтому повтор мутации после таймаута не порождает второй side effect.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DeriveKey выводит ключ идемпотентности из endpoint и канонизированного
// payload. Используется, когда вызывающий не передал явный ключ.
func DeriveKey(endpoint string, payload []byte) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{0}) // разделитель, чтобы (a,bc) и (ab,c) не совпадали
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashPayload возвращает SHA256 хеш канонизированного payload.
// Ledger привязывает ключ к хешу: повторное использование ключа
// с другим содержимым - ошибка, а не cache hit.
func HashPayload(payload []byte) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:]), nil
}

// canonicalize приводит JSON payload к каноническому виду:
// decode + encode сортирует ключи объектов и убирает незначащие пробелы.
// Не-JSON payload хешируется как есть.
func canonicalize(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte{}, nil
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		// Не JSON - используем байты как есть
		return payload, nil //nolint:nilerr // намеренный fallback
	}

	canonical, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode payload: %w", err)
	}
	return canonical, nil
}
