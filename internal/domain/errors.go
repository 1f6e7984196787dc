package domain

import (
	"context"
	"errors"
)

var (
	// ErrValidation — нарушены границы или схема документа. Автоматически не повторяется.
	ErrValidation = errors.New("validation error")
	// ErrConflict — транзакция прервана конфликтом записи; безопасно повторить вызов целиком.
	ErrConflict = errors.New("write conflict")
	// ErrUnavailable — хранилище недоступно или истёк бюджет времени.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrCacheMiss — в кэше отчётов нет записи.
	ErrCacheMiss = errors.New("cache miss")
	// ErrResumeTokenLost — журнал изменений больше не хранит токен возобновления.
	ErrResumeTokenLost = errors.New("resume token lost")
	// ErrNotSent сопровождает ErrUnavailable, когда запрос не дошёл до сервера.
	ErrNotSent = errors.New("request not sent")
)

// Classify возвращает вид ошибки для метрик и отчётов о пакетных операциях.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCacheMiss):
		return "not_found"
	case errors.Is(err, ErrResumeTokenLost):
		return "resume_token_lost"
	}
	return "internal"
}
