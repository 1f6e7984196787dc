package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// Postgres хранит журнал бизнес-событий и статусы пакетных задач.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
	_ domain.BatchJobStatusRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var channelID sql.NullInt64
	if metric.ChannelID != nil {
		channelID = sql.NullInt64{Int64: *metric.ChannelID, Valid: true}
	}
	var postID sql.NullInt64
	if metric.PostID != nil {
		postID = sql.NullInt64{Int64: *metric.PostID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, channel_id, post_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, channelID, postID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	if err != nil {
		return fmt.Errorf("insert business metric: %w", err)
	}
	return nil
}

// EnsureBatchJob регистрирует попытку обработки пакетной задачи.
func (p *Postgres) EnsureBatchJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO batch_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = batch_job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "batch_job_statuses_upsert", "batch_job_statuses", start, err)
	if err != nil {
		return false, 0, fmt.Errorf("ensure batch job: %w", err)
	}

	return done.Valid, attempts, nil
}

// MarkBatchJobDone помечает задачу завершённой и сохраняет итог пакета.
func (p *Postgres) MarkBatchJobDone(ctx context.Context, jobID string, result domain.BatchResult) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal batch result: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
UPDATE batch_job_statuses
SET done_at = COALESCE(done_at, now()),
    result = $2,
    updated_at = now()
WHERE job_id = $1
`, jobID, payload)
	metrics.ObserveNetworkRequest("postgres", "batch_job_statuses_mark_done", "batch_job_statuses", start, err)
	if err != nil {
		return fmt.Errorf("mark batch job done: %w", err)
	}
	return nil
}
