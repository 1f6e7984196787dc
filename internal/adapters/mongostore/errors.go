package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"news-aggregator/internal/domain"
)

// Коды ошибок сервера MongoDB.
const (
	codeExceededTimeLimit       = 50
	codeWriteConflict           = 112
	codeDocumentValidation      = 121
	codeCappedPositionLost      = 136
	codeNoSuchTransaction       = 251
	codeChangeStreamFatal       = 280
	codeChangeStreamHistoryLost = 286
	codeDuplicateKey            = 11000
)

const labelTransientTransaction = "TransientTransactionError"

// classify приводит ошибку драйвера к доменным видам.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, mongo.ErrClientDisconnected), isServerSelection(err):
		return fmt.Errorf("%s: %w: %w: %w", op, domain.ErrUnavailable, domain.ErrNotSent, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: дубликат ключа: %w", op, domain.ErrValidation, err)
	case hasCode(err, codeChangeStreamHistoryLost, codeChangeStreamFatal, codeCappedPositionLost):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrResumeTokenLost, err)
	// Драйвер помечает сетевые сбои внутри транзакции ещё и TransientTransactionError.
	case hasCode(err, codeExceededTimeLimit),
		mongo.IsNetworkError(err),
		mongo.IsTimeout(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
	case hasCode(err, codeWriteConflict, codeNoSuchTransaction), hasLabel(err, labelTransientTransaction):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
	case hasCode(err, codeDocumentValidation):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrValidation, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isServerSelection(err error) bool {
	var sse topology.ServerSelectionError
	return errors.As(err, &sse)
}

func hasCode(err error, codes ...int) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.HasErrorCode(code) {
			return true
		}
	}
	return false
}

func hasLabel(err error, label string) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorLabel(label)
}

// writeErrorCause переводит ошибку одной операции bulkWrite в доменную.
func writeErrorCause(we mongo.WriteError) error {
	switch we.Code {
	case codeDuplicateKey, 11001, 12582:
		return fmt.Errorf("%w: дубликат ключа: %s", domain.ErrValidation, we.Message)
	case codeDocumentValidation:
		return fmt.Errorf("%w: документ не прошёл проверку схемы: %s", domain.ErrValidation, we.Message)
	case codeWriteConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, we.Message)
	}
	return fmt.Errorf("код %d: %s", we.Code, we.Message)
}
