package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

// Retention периодически удаляет старые посты с низкими просмотрами.
type Retention struct {
	exec       *Executor
	queue      domain.BatchQueue
	window     time.Duration
	viewsFloor int64
	log        zerolog.Logger
	now        func() time.Time
}

// NewRetention создаёт задачу очистки. Если queue задана, пакет уходит в очередь,
// иначе применяется сразу.
func NewRetention(exec *Executor, queue domain.BatchQueue, window time.Duration, viewsFloor int64, logger zerolog.Logger) *Retention {
	return &Retention{
		exec:       exec,
		queue:      queue,
		window:     window,
		viewsFloor: viewsFloor,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce выполняет одну очистку.
func (r *Retention) RunOnce(ctx context.Context) error {
	op := domain.ExpireLowEngagement(r.now(), r.window, r.viewsFloor)
	ops := []domain.BatchOp{op}

	if r.queue != nil {
		job, err := Submit(ctx, r.queue, ops, false, domain.BatchCauseRetention)
		if err != nil {
			return err
		}
		r.log.Info().Str("job_id", job.ID).Time("created_before", op.CreatedBefore).Msg("retention: задача очистки поставлена в очередь")
		return nil
	}

	result, err := r.exec.Apply(ctx, ops, false)
	if err != nil {
		return err
	}
	r.exec.record(ctx, domain.BusinessMetricEventRetentionApplied, len(ops), false, result)
	r.log.Info().
		Time("created_before", op.CreatedBefore).
		Int64("views_below", op.ViewsBelow).
		Int64("deleted", result.DeletedCount).
		Msg("retention: очистка выполнена")
	return nil
}

// Run запускает очистку сразу и затем каждые interval до отмены контекста.
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error().Err(err).Msg("retention: очистка не выполнена")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("retention: очистка не выполнена")
			}
		}
	}
}
