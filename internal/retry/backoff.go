// Package retry содержит политики backoff, общие для outbox клиента
// и серверного диспетчера задач. Формулы детерминированы: вычисленные
// задержки сохраняются в персистентные поля next_retry_at/next_attempt_at.
package retry

import (
	"hash/fnv"
	"strconv"
	"time"
)

const (
	// OutboxBaseDelay базовая задержка между ретраями outbox
	OutboxBaseDelay = 1000 * time.Millisecond
	// OutboxMaxDelay потолок задержки outbox
	OutboxMaxDelay = 32000 * time.Millisecond
	// OutboxMaxRetries бюджет ретраев outbox; после исчерпания запись
	// переходит в failed и ждёт ручного разбора
	OutboxMaxRetries = 5

	// TaskBaseDelay базовая задержка release повторов задач диспетчера
	TaskBaseDelay = 10 * time.Second
	// TaskMaxDelay потолок задержки задач
	TaskMaxDelay = time.Hour
	// TaskMaxAttempts бюджет попыток задачи; после исчерпания задача терминальна
	TaskMaxAttempts = 5
)

// OutboxDelay возвращает задержку перед следующим ретраем outbox записи:
// min(base * 2^retries, max). Бинарный экспоненциальный backoff с потолком.
func OutboxDelay(retries int) time.Duration {
	return capped(OutboxBaseDelay, retries, OutboxMaxDelay)
}

// TaskDelay возвращает базовую задержку перед следующей попыткой задачи
// после release: min(base * 2^(attempt-1), max). Attempt считается с 1.
func TaskDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capped(TaskBaseDelay, attempt-1, TaskMaxDelay)
}

// TaskDelayWithJitter добавляет к TaskDelay детерминированный jitter,
// выведенный из (taskID, attempt), чтобы повторы разных задач не
// выстраивались в одну волну. Jitter ограничен половиной базовой задержки,
// суммарная задержка не превышает TaskMaxDelay.
func TaskDelayWithJitter(taskID string, attempt int) time.Duration {
	base := TaskDelay(attempt)

	jitterMax := base / 2
	if jitterMax <= 0 {
		jitterMax = time.Millisecond
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(taskID + ":" + strconv.Itoa(attempt)))
	jitter := time.Duration(int64(h.Sum64() % uint64(jitterMax))) //nolint:gosec // не криптографический источник

	delay := base + jitter
	if delay > TaskMaxDelay {
		delay = TaskMaxDelay
	}
	return delay
}

// capped вычисляет min(base * 2^exp, max) без переполнения
func capped(base time.Duration, exp int, maxDelay time.Duration) time.Duration {
	delay := base
	for i := 0; i < exp; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
