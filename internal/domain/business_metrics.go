package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	ChannelID  *int64
	PostID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventPostCreated фиксирует транзакционное создание поста.
	BusinessMetricEventPostCreated = "post_created"
	// BusinessMetricEventBatchApplied фиксирует применение пакета операций.
	BusinessMetricEventBatchApplied = "batch_applied"
	// BusinessMetricEventRollupRebuilt фиксирует пересборку отчётов по каналам.
	BusinessMetricEventRollupRebuilt = "rollup_rebuilt"
	// BusinessMetricEventReportsExpired фиксирует удаление устаревших отчётов.
	BusinessMetricEventReportsExpired = "reports_expired"
	// BusinessMetricEventRetentionApplied фиксирует очистку старых постов с низкими просмотрами.
	BusinessMetricEventRetentionApplied = "retention_applied"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
