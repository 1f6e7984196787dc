package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// outcomeNotAttempted помечает операции упорядоченного пакета после первой ошибки.
const outcomeNotAttempted = "not_attempted"

// Executor применяет пакеты операций над постами.
type Executor struct {
	writer    domain.BulkWriter
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	now       func() time.Time
}

// NewExecutor создаёт исполнитель пакетов. analytics может быть nil.
func NewExecutor(writer domain.BulkWriter, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Executor {
	return &Executor{
		writer:    writer,
		analytics: analytics,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply проверяет операции и отправляет допустимые в хранилище одним пакетом.
//
// Без ordered операции независимы, ошибки собираются по исходным индексам и
// Applied+len(Errors) == len(ops). С ordered выполнение останавливается на
// первой ошибке, остальные операции попадают в NotAttempted.
// Ошибка возвращается только при отказе всего пакета.
func (e *Executor) Apply(ctx context.Context, ops []domain.BatchOp, ordered bool) (domain.BatchResult, error) {
	if len(ops) == 0 {
		return domain.BatchResult{}, nil
	}

	var invalid []domain.OperationError
	valid := make([]domain.BatchOp, 0, len(ops))
	origin := make([]int, 0, len(ops))
	for i, op := range ops {
		if err := validateOp(op); err != nil {
			invalid = append(invalid, domain.NewOperationError(i, kindOf(op), err))
			if ordered {
				break
			}
			continue
		}
		valid = append(valid, op)
		origin = append(origin, i)
	}

	stored, err := e.write(ctx, valid, ordered)
	if err != nil {
		e.log.Error().Err(err).Int("ops", len(ops)).Bool("ordered", ordered).Msg("batch: пакет не применён")
		return domain.BatchResult{}, err
	}

	result := merge(len(ops), ordered, origin, stored, invalid)
	e.observe(ops, result)
	e.log.Info().
		Int("ops", len(ops)).
		Bool("ordered", ordered).
		Int("applied", result.Applied).
		Int("failed", len(result.Errors)).
		Int("not_attempted", result.NotAttempted).
		Msg("batch: пакет применён")
	e.record(ctx, domain.BusinessMetricEventBatchApplied, len(ops), ordered, result)
	return result, nil
}

func (e *Executor) write(ctx context.Context, ops []domain.BatchOp, ordered bool) (domain.BatchResult, error) {
	if len(ops) == 0 {
		return domain.BatchResult{}, nil
	}
	res, err := e.writer.BulkWrite(ctx, ops, ordered)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("применение пакета: %w", err)
	}
	return res, nil
}

// merge переводит индексы ошибок хранилища в исходные и объединяет их с ошибками проверки.
func merge(total int, ordered bool, origin []int, stored domain.BatchResult, invalid []domain.OperationError) domain.BatchResult {
	result := domain.BatchResult{
		InsertedCount: stored.InsertedCount,
		MatchedCount:  stored.MatchedCount,
		ModifiedCount: stored.ModifiedCount,
		DeletedCount:  stored.DeletedCount,
		UpsertedCount: stored.UpsertedCount,
	}
	for _, opErr := range stored.Errors {
		if opErr.Index < 0 || opErr.Index >= len(origin) {
			continue
		}
		opErr.Index = origin[opErr.Index]
		result.Errors = append(result.Errors, opErr)
	}

	if ordered {
		// Хранилище остановилось раньше первой невалидной операции, она не исполнялась.
		if len(result.Errors) == 0 && len(invalid) > 0 {
			result.Errors = invalid[:1]
		}
		if len(result.Errors) > 0 {
			first := result.Errors[0].Index
			result.Errors = result.Errors[:1]
			result.Applied = first
			result.NotAttempted = total - first - 1
			return result
		}
		result.Applied = total
		return result
	}

	result.Errors = append(result.Errors, invalid...)
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Index < result.Errors[j].Index })
	result.Applied = total - len(result.Errors)
	return result
}

func (e *Executor) observe(ops []domain.BatchOp, result domain.BatchResult) {
	failed := make(map[int]string, len(result.Errors))
	for _, opErr := range result.Errors {
		failed[opErr.Index] = opErr.Kind
	}
	notAttemptedFrom := len(ops) - result.NotAttempted
	type key struct{ op, outcome string }
	counts := make(map[key]int)
	for i, op := range ops {
		outcome := "ok"
		switch kind, ok := failed[i]; {
		case ok:
			outcome = kind
		case i >= notAttemptedFrom:
			outcome = outcomeNotAttempted
		}
		counts[key{string(kindOf(op)), outcome}]++
	}
	for k, n := range counts {
		metrics.AddBatchOperations(k.op, k.outcome, n)
	}
}

func (e *Executor) record(ctx context.Context, event string, ops int, ordered bool, result domain.BatchResult) {
	if e.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{
		Event: event,
		Metadata: map[string]any{
			"ops":            ops,
			"ordered":        ordered,
			"applied":        result.Applied,
			"failed":         len(result.Errors),
			"not_attempted":  result.NotAttempted,
			"inserted_count": result.InsertedCount,
			"modified_count": result.ModifiedCount,
			"deleted_count":  result.DeletedCount,
			"upserted_count": result.UpsertedCount,
		},
		OccurredAt: e.now(),
	}
	if err := e.analytics.RecordBusinessMetric(context.WithoutCancel(ctx), metric); err != nil {
		e.log.Error().Err(err).Str("event", event).Msg("batch: не удалось сохранить бизнес-метрику")
	}
}

func validateOp(op domain.BatchOp) error {
	if op == nil {
		return fmt.Errorf("%w: пустая операция", domain.ErrValidation)
	}
	return op.Validate()
}

func kindOf(op domain.BatchOp) domain.BatchOpKind {
	if op == nil {
		return ""
	}
	return op.Kind()
}
