package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

// DefaultMaxAttempts ограничивает число доставок одной задачи.
const DefaultMaxAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

// NewJob формирует задачу с новым идентификатором.
func NewJob(ops []domain.BatchOp, ordered bool, cause domain.BatchJobCause, now time.Time) domain.BatchJob {
	return domain.BatchJob{
		ID:          uuid.NewString(),
		Ordered:     ordered,
		Operations:  domain.BatchOps(ops),
		RequestedAt: now,
		Cause:       cause,
	}
}

// Submit проверяет, что пакет непустой, и ставит его в очередь.
func Submit(ctx context.Context, queue domain.BatchQueue, ops []domain.BatchOp, ordered bool, cause domain.BatchJobCause) (domain.BatchJob, error) {
	if len(ops) == 0 {
		return domain.BatchJob{}, fmt.Errorf("%w: пустой пакет", domain.ErrValidation)
	}
	job := NewJob(ops, ordered, cause, time.Now().UTC())
	if err := queue.Enqueue(ctx, job); err != nil {
		return domain.BatchJob{}, fmt.Errorf("постановка пакета в очередь: %w", err)
	}
	return job, nil
}

// Worker читает пакетные задачи из очереди и применяет их.
type Worker struct {
	log         zerolog.Logger
	queue       domain.BatchQueue
	statuses    domain.BatchJobStatusRepo
	exec        *Executor
	maxAttempts int
	pause       time.Duration
}

// NewWorker создаёт обработчик очереди пакетов.
func NewWorker(queue domain.BatchQueue, statuses domain.BatchJobStatusRepo, exec *Executor, maxAttempts int, logger zerolog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		log:         logger,
		queue:       queue,
		statuses:    statuses,
		exec:        exec,
		maxAttempts: maxAttempts,
		pause:       time.Second,
	}
}

// Run обрабатывает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("batcher: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.BatchJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("cause", string(job.Cause)).
		Int("ops", len(job.Operations)).
		Bool("ordered", job.Ordered).
		Logger()

	if job.ID == "" {
		jobLog.Error().Msg("batcher: получена задача без идентификатора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("batcher: не удалось подтвердить задачу без идентификатора")
		}
		return
	}

	done, attempt, err := w.statuses.EnsureBatchJob(ctx, job.ID)
	if err != nil {
		jobLog.Error().Err(err).Msg("batcher: не удалось зарегистрировать задачу")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("batcher: не удалось вернуть задачу в очередь")
		}
		w.sleep(ctx)
		return
	}
	jobLog = jobLog.With().Int("attempt", attempt).Logger()

	if done {
		jobLog.Info().Msg("batcher: задача уже применена, подтверждаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("batcher: не удалось подтвердить ранее применённую задачу")
		}
		return
	}

	result, outcome := w.apply(ctx, job, jobLog)
	if outcome == jobOutcomeRetry && attempt < w.maxAttempts {
		jobLog.Warn().Msg("batcher: хранилище недоступно, повторим позже")
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("batcher: не удалось вернуть задачу после ошибки")
		}
		return
	}
	if outcome == jobOutcomeRetry {
		jobLog.Error().Msg("batcher: достигнут предел попыток, помечаем задачу завершённой")
	}

	if err := w.statuses.MarkBatchJobDone(ctx, job.ID, result); err != nil {
		jobLog.Error().Err(err).Msg("batcher: не удалось пометить задачу завершённой")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("batcher: не удалось вернуть задачу после ошибки статуса")
		}
		w.sleep(ctx)
		return
	}
	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("batcher: не удалось подтвердить задачу")
	}
}

func (w *Worker) apply(ctx context.Context, job domain.BatchJob, jobLog zerolog.Logger) (domain.BatchResult, jobOutcome) {
	result, err := w.exec.Apply(ctx, job.Operations, job.Ordered)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, domain.ErrConflict) {
			if domain.Replayable(job.Operations) || errors.Is(err, domain.ErrNotSent) {
				return result, jobOutcomeRetry
			}
			jobLog.Error().Err(err).Msg("batcher: пакет с инкрементами мог примениться частично, повтор не выполняется")
			return result, jobOutcomeCompleted
		}
		jobLog.Error().Err(err).Msg("batcher: пакет отклонён")
		return result, jobOutcomeCompleted
	}
	if result.Partial() {
		jobLog.Warn().
			Int("failed", len(result.Errors)).
			Int("not_attempted", result.NotAttempted).
			Msg("batcher: пакет применён частично")
	}
	if job.Cause == domain.BatchCauseRetention {
		w.exec.record(ctx, domain.BusinessMetricEventRetentionApplied, len(job.Operations), job.Ordered, result)
	}
	return result, jobOutcomeCompleted
}

func (w *Worker) sleep(ctx context.Context) {
	if w.pause <= 0 {
		return
	}
	t := time.NewTimer(w.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
