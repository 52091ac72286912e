// Package faults определяет таксономию ошибок sync-ядра и правила их
// классификации. Ошибки оборачиваются через fmt.Errorf("%w") и проверяются
// через errors.Is — классификация переживает любое число обёрток.
package faults

import "errors"

var (
	// ErrTransient временная сетевая ошибка; повторяется по backoff политике
	ErrTransient = errors.New("transient network error")

	// ErrValidation невалидный запрос; не повторяется, сразу отдаётся вызывающему
	ErrValidation = errors.New("validation error")

	// ErrConflict сервер видел более новую ревизию; перед повтором обязателен
	// re-pull, слепой повтор того же payload запрещён
	ErrConflict = errors.New("conflict: newer revision on server")

	// ErrPermanentDestination получатель side-effect задачи постоянно
	// недоступен/невалиден; задача терминальна, не повторяется
	ErrPermanentDestination = errors.New("permanent destination error")
)

// IsRetryable сообщает, имеет ли смысл повторять операцию с тем же payload.
// Conflict не retryable в этом смысле: сначала нужен re-pull.
// Неклассифицированные ошибки считаются transient - лучше лишний повтор,
// чем потерянная мутация.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPermanentDestination):
		return false
	default:
		return true
	}
}

// IsConflict сообщает, требует ли ошибка re-pull перед повтором
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTerminal сообщает, является ли исход терминальным для side-effect задачи
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPermanentDestination)
}
